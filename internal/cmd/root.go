package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/internal/config"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/internal/observability"
)

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Launch and follow Antares studies on a SLURM cluster",
	Long: `antares-launcher packages study directories, submits them to a remote
SLURM cluster and brings the results back.

Every study is tracked in a local record store so a run can be interrupted
and resumed at any point without submitting the same study twice.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger(config.AppName, verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./antares-launcher.yaml, then user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
}

// SetVersionInfo is called from main with ldflags values.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// Execute runs the root command and exits with the foundry code carried by
// the returned error.
func Execute() {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.CLILogger.Error("Command failed", zap.Error(err))
		if !jsonOutput {
			_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(exitCode(err))
	}
}

// ExitError carries a process exit code alongside the cause.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

func exitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// loadConfig merges the config file, the environment and the flags that
// were explicitly set on cmd.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (config.Config, error) {
	overrides := map[string]any{}
	for flag, key := range bindings {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		overrides[key] = f.Value.String()
	}

	cfg, err := config.Load(config.LoadOptions{File: cfgFile, Overrides: overrides})
	if err != nil {
		return config.Config{}, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	observability.CLILogger.Debug("Loaded configuration",
		zap.String("file", config.UsedFile(cfgFile)),
		zap.String("studies_in", cfg.StudiesIn))
	return cfg, nil
}
