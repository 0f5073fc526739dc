// Package discovery finds study directories and decides which of them are
// eligible units of work.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/ini.v1"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/studystore"
)

// ManifestFile declares the study format version.
const ManifestFile = "study.antares"

// ExpansionDir must exist in studies run in an xpansion mode.
var ExpansionDir = filepath.Join("user", "expansion")

// ErrNotAStudy marks a directory without a readable manifest.
var ErrNotAStudy = errors.New("not a study directory")

// Defaults is the run configuration given to newly registered studies.
type Defaults struct {
	CPUs           int
	TimeLimit      time.Duration
	Mode           study.Mode
	OtherOptions   string
	PostProcessing bool

	// SolverVersion overrides the version declared by each study.
	SolverVersion string
}

// Options configures a Discoverer.
type Options struct {
	InputDir          string
	OutputDir         string
	LogDir            string
	SupportedVersions []string
	Defaults          Defaults

	// LocalUser suffixes the input package name.
	LocalUser string

	Fs     afero.Fs
	Logger *zap.Logger
}

// Candidate is one directory found under the input directory.
type Candidate struct {
	Name     string
	Path     string
	Version  string
	Eligible bool
	Reason   string
}

// Discoverer scans the input directory.
type Discoverer struct {
	opts     Options
	versions VersionSet
	logger   *zap.Logger
}

// New validates opts.
func New(opts Options) (*Discoverer, error) {
	if strings.TrimSpace(opts.InputDir) == "" {
		return nil, errors.New("input directory is required")
	}
	if len(opts.SupportedVersions) == 0 {
		return nil, errors.New("at least one supported solver version is required")
	}
	versions, err := NewVersionSet(opts.SupportedVersions)
	if err != nil {
		return nil, err
	}
	if opts.Defaults.SolverVersion != "" {
		if _, err := NormalizeVersion(opts.Defaults.SolverVersion); err != nil {
			return nil, fmt.Errorf("solver version override: %w", err)
		}
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Defaults.Mode == "" {
		opts.Defaults.Mode = study.ModeDefault
	}
	if opts.Defaults.CPUs <= 0 {
		opts.Defaults.CPUs = 1
	}
	return &Discoverer{opts: opts, versions: versions, logger: opts.Logger}, nil
}

// ReadVersion returns the version declared by the study manifest in dir.
func ReadVersion(fs afero.Fs, dir string) (string, error) {
	data, err := afero.ReadFile(fs, filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s missing", ErrNotAStudy, ManifestFile)
		}
		return "", err
	}
	cfg, err := ini.Load(data)
	if err != nil {
		return "", fmt.Errorf("%w: parse %s: %v", ErrNotAStudy, ManifestFile, err)
	}
	version := strings.TrimSpace(cfg.Section("antares").Key("version").String())
	if version == "" {
		return "", fmt.Errorf("%w: %s declares no version", ErrNotAStudy, ManifestFile)
	}
	return version, nil
}

// Candidates lists the sub-directories of the input directory with their
// eligibility, sorted by name.
func (d *Discoverer) Candidates() ([]Candidate, error) {
	entries, err := afero.ReadDir(d.opts.Fs, d.opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	var out []Candidate
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		out = append(out, d.inspect(filepath.Join(d.opts.InputDir, entry.Name())))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *Discoverer) inspect(dir string) Candidate {
	c := Candidate{Name: filepath.Base(dir), Path: dir}

	declared, err := ReadVersion(d.opts.Fs, dir)
	if err != nil {
		c.Reason = err.Error()
		return c
	}
	declared, err = NormalizeVersion(declared)
	if err != nil {
		c.Reason = err.Error()
		return c
	}

	c.Version = declared
	if d.opts.Defaults.SolverVersion != "" {
		c.Version, _ = NormalizeVersion(d.opts.Defaults.SolverVersion)
	}
	if !d.versions.Contains(c.Version) {
		c.Reason = fmt.Sprintf("solver version %s is not available on the remote server", c.Version)
		return c
	}

	if d.opts.Defaults.Mode.IsXpansion() {
		ok, err := afero.DirExists(d.opts.Fs, filepath.Join(dir, ExpansionDir))
		if err != nil || !ok {
			c.Reason = fmt.Sprintf("mode %s requires %s", d.opts.Defaults.Mode, ExpansionDir)
			return c
		}
	}

	c.Eligible = true
	return c
}

// NewStudy builds the initial record for an eligible candidate.
func (d *Discoverer) NewStudy(c Candidate) study.Study {
	def := d.opts.Defaults
	pkgName := c.Name + ".zip"
	if d.opts.LocalUser != "" {
		pkgName = fmt.Sprintf("%s-%s.zip", c.Name, d.opts.LocalUser)
	}
	s := study.Study{
		Name:           c.Name,
		Path:           c.Path,
		PackagePath:    filepath.Join(filepath.Dir(c.Path), pkgName),
		LogDir:         d.opts.LogDir,
		OutputDir:      d.opts.OutputDir,
		CPUs:           def.CPUs,
		TimeLimit:      def.TimeLimit,
		SolverVersion:  c.Version,
		Mode:           def.Mode,
		OtherOptions:   def.OtherOptions,
		PostProcessing: def.PostProcessing,
	}
	return s.RecomputeStatus()
}

// Register saves a record for every new eligible candidate and returns the
// registered studies. Known names are skipped; ineligible candidates are
// logged and never saved.
func (d *Discoverer) Register(ctx context.Context, store studystore.Store) ([]study.Study, []Candidate, error) {
	candidates, err := d.Candidates()
	if err != nil {
		return nil, nil, err
	}

	var registered []study.Study
	for _, c := range candidates {
		exists, err := store.Exists(ctx, c.Name)
		if err != nil {
			return registered, candidates, err
		}
		if exists {
			continue
		}
		if !c.Eligible {
			d.logger.Warn("Skipping directory", zap.String("study", c.Name), zap.String("reason", c.Reason))
			continue
		}

		s := d.NewStudy(c)
		if err := store.Save(ctx, s); err != nil {
			return registered, candidates, err
		}
		d.logger.Info("Registered new study",
			zap.String("study", s.Name), zap.String("version", s.SolverVersion), zap.String("mode", s.Mode.Tag()))
		registered = append(registered, s)
	}
	return registered, candidates, nil
}
