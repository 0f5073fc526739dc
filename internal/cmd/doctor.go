package cmd

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/internal/config"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/internal/observability"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/discovery"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/remote"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/studystore"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run the checks a launch depends on and report each one.

The remote checks are the same startup preconditions 'run' enforces: the
cluster is reachable, the remote working directory exists (it is created
if needed) and the launch script is present and non-empty.

Examples:
  antares-launcher doctor
  antares-launcher doctor --config cluster.yaml`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().String("studies-in", "", "Directory holding the study directories")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := observability.CLILogger

	log.Info("=== " + config.AppName + " doctor ===")
	log.Info("")

	const totalChecks = 7
	checkNum := 1
	failed := 0
	fail := func(msg string, err error) {
		log.Error(fmt.Sprintf("[%d/%d] %s... ❌", checkNum, totalChecks, msg), zap.Error(err))
		failed++
	}
	pass := func(msg, detail string, fields ...zap.Field) {
		log.Info(fmt.Sprintf("[%d/%d] %s... ✅ %s", checkNum, totalChecks, msg, detail), fields...)
	}

	// 1: runtime
	pass("Checking environment", fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
		zap.String("go_version", runtime.Version()))
	checkNum++

	// 2: configuration
	cfg, err := loadConfig(cmd, map[string]string{"studies-in": "studies_in"})
	if err != nil {
		fail("Checking configuration", err)
		return exitError(foundry.ExitInvalidArgument, "Doctor cannot continue", err)
	}
	file := config.UsedFile(cfgFile)
	if file == "" {
		file = "(defaults and environment only)"
	}
	pass("Checking configuration", file)
	checkNum++

	// 3: input directory
	if disc, err := discovery.New(discovery.Options{
		InputDir:          cfg.StudiesIn,
		SupportedVersions: cfg.Remote.SupportedVersions,
		Fs:                afero.NewOsFs(),
	}); err != nil {
		fail("Checking input directory", err)
	} else if candidates, err := disc.Candidates(); err != nil {
		fail("Checking input directory", err)
	} else {
		eligible := 0
		for _, c := range candidates {
			if c.Eligible {
				eligible++
			}
		}
		pass("Checking input directory", fmt.Sprintf("%s (%d eligible of %d)", cfg.StudiesIn, eligible, len(candidates)),
			zap.Int("eligible", eligible), zap.Int("candidates", len(candidates)))
	}
	checkNum++

	// 4: record store
	if _, statErr := os.Stat(cfg.StorePath()); errors.Is(statErr, os.ErrNotExist) {
		pass("Checking record store", "will be created at "+cfg.StorePath())
	} else if store, err := studystore.Open(ctx, studystore.Config{Path: cfg.StorePath()}); err != nil {
		fail("Checking record store", err)
	} else {
		all, err := store.List(ctx)
		_ = store.Close()
		if err != nil {
			fail("Checking record store", err)
		} else {
			pass("Checking record store", fmt.Sprintf("%s (%d records)", cfg.StorePath(), len(all)))
		}
	}
	checkNum++

	// 5: result sink
	if !cfg.Results.S3.Enabled() {
		pass("Checking result sink", "disabled")
	} else if _, err := openPublisher(ctx, cfg.Results.S3, afero.NewOsFs()); err != nil {
		fail("Checking result sink", err)
	} else {
		pass("Checking result sink", "s3://"+cfg.Results.S3.Bucket)
	}
	checkNum++

	// 6: cluster connection
	tr, err := openTransport(ctx, cfg.Remote, log)
	if err != nil {
		fail("Checking cluster connection", err)
		checkNum++
		log.Warn(fmt.Sprintf("[%d/%d] Checking remote environment... skipped", checkNum, totalChecks))
		return doctorResult(failed)
	}
	defer func() { _ = tr.Close() }()
	pass("Checking cluster connection", fmt.Sprintf("%s (home %s)", cfg.Remote.Transport, tr.HomeDir()))
	checkNum++

	// 7: remote working directory and launch script
	env, err := remote.New(ctx, tr, remoteSettings(cfg.Remote, log))
	if err != nil {
		fail("Checking remote environment", err)
	} else {
		pass("Checking remote environment", env.WorkDir(),
			zap.String("work_dir", env.WorkDir()), zap.String("launch_script", env.LaunchScript()))
	}

	return doctorResult(failed)
}

func doctorResult(failed int) error {
	log := observability.CLILogger
	log.Info("")
	if failed > 0 {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
		log.Info("")
		return exitError(foundry.ExitExternalServiceUnavailable, "Doctor found problems", fmt.Errorf("%d check(s) failed", failed))
	}
	log.Info("✅ All checks passed! The launcher is ready.")
	log.Info("")
	return nil
}
