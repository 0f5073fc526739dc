// Package config loads the launcher configuration.
//
// Values come from, in increasing priority: built-in defaults, the YAML
// config file, ANTARES_LAUNCHER_* environment variables and explicit
// overrides (command-line flags). The result is a plain value handed to
// constructors; nothing in the core reads global configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/discovery"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
)

// AppName is used for the binary, the env prefix and config locations.
const AppName = "antares-launcher"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ANTARES_LAUNCHER"

// StoreFileName is the record store file created in the log directory
// unless store_file says otherwise.
const StoreFileName = "antares_launcher.db"

// Config is the complete launcher configuration.
type Config struct {
	StudiesIn string   `mapstructure:"studies_in"`
	OutputDir string   `mapstructure:"output_dir"`
	LogDir    string   `mapstructure:"log_dir"`
	StoreFile string   `mapstructure:"store_file"`
	StateDir  string   `mapstructure:"state_dir"`
	Excludes  []string `mapstructure:"excludes"`

	Run     RunConfig     `mapstructure:"run"`
	Wait    WaitConfig    `mapstructure:"wait"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Results ResultsConfig `mapstructure:"results"`
	Server  ServerConfig  `mapstructure:"server"`
}

// RunConfig holds the defaults given to newly registered studies.
type RunConfig struct {
	CPUs           int           `mapstructure:"cpus"`
	TimeLimit      time.Duration `mapstructure:"time_limit"`
	Mode           string        `mapstructure:"mode"`
	OtherOptions   string        `mapstructure:"other_options"`
	PostProcessing bool          `mapstructure:"post_processing"`
	SolverVersion  string        `mapstructure:"solver_version"`
}

// WaitConfig controls wait mode and concurrency.
type WaitConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Workers  int           `mapstructure:"workers"`
}

// RemoteConfig describes the cluster and the scheduler conventions.
type RemoteConfig struct {
	// Transport is "ssh" or "local".
	Transport string `mapstructure:"transport"`

	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	KeyFile        string        `mapstructure:"key_file"`
	KeyPassphrase  string        `mapstructure:"key_passphrase"`
	Password       string        `mapstructure:"password"`
	KnownHostsFile string        `mapstructure:"known_hosts_file"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`

	// LocalHome plays the remote home with the local transport.
	LocalHome string `mapstructure:"local_home"`

	LaunchScript      string        `mapstructure:"launch_script"`
	Partition         string        `mapstructure:"partition"`
	QoS               string        `mapstructure:"qos"`
	QueueUser         string        `mapstructure:"queue_user"`
	SupportedVersions []string      `mapstructure:"supported_versions"`
	PollAttempts      int           `mapstructure:"poll_attempts"`
	PollDelay         time.Duration `mapstructure:"poll_delay"`

	// PollRate caps status queries per second across workers. 0 = unlimited.
	PollRate float64 `mapstructure:"poll_rate"`
}

// ResultsConfig configures optional result publication.
type ResultsConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

// S3Config is the S3 result sink. Publication is off while Bucket is empty.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// Enabled reports whether results are published.
func (c S3Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks semantic constraints the schema cannot express.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StudiesIn) == "" {
		errs = append(errs, errors.New("studies_in is required"))
	}
	if c.Run.CPUs < 1 {
		errs = append(errs, fmt.Errorf("run.cpus must be >= 1 (got %d)", c.Run.CPUs))
	}
	if c.Run.TimeLimit < time.Minute {
		errs = append(errs, fmt.Errorf("run.time_limit must be at least 1m (got %s)", c.Run.TimeLimit))
	}
	if _, err := study.ParseMode(c.Run.Mode); err != nil {
		errs = append(errs, fmt.Errorf("run.mode: %w", err))
	}
	if c.Run.SolverVersion != "" {
		if _, err := discovery.NormalizeVersion(c.Run.SolverVersion); err != nil {
			errs = append(errs, fmt.Errorf("run.solver_version: %w", err))
		}
	}
	if c.Wait.Workers < 1 {
		errs = append(errs, fmt.Errorf("wait.workers must be >= 1 (got %d)", c.Wait.Workers))
	}
	if c.Wait.Interval <= 0 {
		errs = append(errs, errors.New("wait.interval must be positive"))
	}
	switch c.Remote.Transport {
	case "ssh", "local":
	default:
		errs = append(errs, fmt.Errorf("remote.transport must be ssh or local (got %q)", c.Remote.Transport))
	}
	if len(c.Remote.SupportedVersions) == 0 {
		errs = append(errs, errors.New("remote.supported_versions must not be empty"))
	} else if _, err := discovery.NewVersionSet(c.Remote.SupportedVersions); err != nil {
		errs = append(errs, fmt.Errorf("remote.supported_versions: %w", err))
	}
	if c.Remote.PollRate < 0 {
		errs = append(errs, errors.New("remote.poll_rate must be >= 0"))
	}
	return errors.Join(errs...)
}

// Mode returns the parsed default run mode. Call after Validate.
func (c Config) Mode() study.Mode {
	m, _ := study.ParseMode(c.Run.Mode)
	return m
}

// StorePath is the record store file.
func (c Config) StorePath() string {
	if c.StoreFile != "" {
		return c.StoreFile
	}
	return filepath.Join(c.LogDir, StoreFileName)
}

// ResolveStateDir returns the directory holding background driver state:
// state_dir, else $XDG_STATE_HOME/antares-launcher, else
// ~/.local/state/antares-launcher.
func (c Config) ResolveStateDir() (string, error) {
	if c.StateDir != "" {
		return c.StateDir, nil
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve state dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", AppName), nil
}

// DriversDir is where background driver records live.
func (c Config) DriversDir() (string, error) {
	dir, err := c.ResolveStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "drivers"), nil
}

// DiscoveryDefaults maps the run section to discovery defaults.
func (c Config) DiscoveryDefaults() discovery.Defaults {
	return discovery.Defaults{
		CPUs:           c.Run.CPUs,
		TimeLimit:      c.Run.TimeLimit,
		Mode:           c.Mode(),
		OtherOptions:   c.Run.OtherOptions,
		PostProcessing: c.Run.PostProcessing,
		SolverVersion:  c.Run.SolverVersion,
	}
}
