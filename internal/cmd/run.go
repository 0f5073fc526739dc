package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/internal/config"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/internal/observability"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/archive"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/discovery"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/jobregistry"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/orchestrator"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/pipeline"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/studystore"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit new studies and retrieve finished ones",
	Long: `Scan the input directory, submit every new study to the cluster and
bring back the results of the finished ones.

Without --wait a single pass is made. With --wait the command keeps polling
until every known study is done.

Examples:
  antares-launcher run --studies-in STUDIES_IN
  antares-launcher run --wait --wait-time 5m --workers 4
  antares-launcher run --wait --background
  antares-launcher run --kill 123456
  antares-launcher run --show-queue`,
	RunE: runRun,
}

var (
	runWait       bool
	runKill       int64
	runShowQueue  bool
	runBackground bool
	runManagedID  string
)

// runBindings maps run flags to config keys.
var runBindings = map[string]string{
	"studies-in":      "studies_in",
	"output-dir":      "output_dir",
	"log-dir":         "log_dir",
	"time-limit":      "run.time_limit",
	"n-cpu":           "run.cpus",
	"mode":            "run.mode",
	"other-options":   "run.other_options",
	"post-processing": "run.post_processing",
	"version":         "run.solver_version",
	"wait-time":       "wait.interval",
	"workers":         "wait.workers",
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.BoolVarP(&runWait, "wait", "w", false, "Keep polling until every study is done")
	f.Int64Var(&runKill, "kill", 0, "Cancel the given scheduler job id and exit")
	f.BoolVar(&runShowQueue, "show-queue", false, "Print the scheduler queue and exit")
	f.BoolVar(&runBackground, "background", false, "Run as a detached managed driver (implies --wait)")

	f.String("studies-in", "", "Directory holding the study directories")
	f.String("output-dir", "", "Directory receiving the results")
	f.String("log-dir", "", "Directory receiving the job logs and the record store")
	f.String("time-limit", "", "Wall-clock limit per job (e.g. 240h)")
	f.Int("n-cpu", 0, "CPUs per job")
	f.String("mode", "", "Run mode: default, xpansion_r or xpansion_cpp")
	f.String("other-options", "", "Extra solver options")
	f.Bool("post-processing", false, "Run the post-processing script after the solver")
	f.String("version", "", "Solver version overriding each study's own")
	f.String("wait-time", "", "Sleep between polls in wait mode (e.g. 15m)")
	f.Int("workers", 0, "Studies processed at once")

	f.StringVar(&runManagedID, strings.TrimPrefix(jobregistry.ManagedFlag, "--"), "", "")
	_ = f.MarkHidden(strings.TrimPrefix(jobregistry.ManagedFlag, "--"))
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, runBindings)
	if err != nil {
		return err
	}

	if runBackground {
		return startBackgroundDriver(cmd, cfg)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runManagedID == "" {
		return executeRun(ctx, cfg, observability.CLILogger, nil)
	}
	return executeManagedRun(ctx, cfg)
}

// executeManagedRun is the body of a background driver: file logging,
// heartbeats and a final state on the driver record.
func executeManagedRun(ctx context.Context, cfg config.Config) error {
	root, err := cfg.DriversDir()
	if err != nil {
		return err
	}
	executor := jobregistry.NewExecutor(root)
	drivers := executor.Store()

	logger := observability.NewFileLogger(config.AppName, observability.FileLogConfig{
		Path:    executor.LogPath(runManagedID),
		Verbose: verbose,
	}).With(zap.String("driver_id", runManagedID))
	defer func() { _ = logger.Sync() }()

	runErr := executeRun(ctx, cfg, logger, drivers)

	state := jobregistry.DriverStateSuccess
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		state = jobregistry.DriverStateStopped
		runErr = nil
	case runErr != nil:
		state = jobregistry.DriverStateFailed
	}
	if err := drivers.Finish(runManagedID, state, runErr); err != nil {
		logger.Warn("Failed to record driver outcome", zap.Error(err))
	}
	return runErr
}

func executeRun(ctx context.Context, cfg config.Config, logger *zap.Logger, drivers *jobregistry.Store) error {
	env, closeEnv, err := openEnvironment(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeEnv()

	switch {
	case runKill != 0:
		if runKill < 0 {
			return exitError(foundry.ExitInvalidArgument, "Invalid --kill value", fmt.Errorf("job id must be positive (got %d)", runKill))
		}
		if _, statErr := os.Stat(cfg.StorePath()); statErr == nil {
			if store, err := openStore(ctx, cfg); err == nil {
				warnUnknownJob(ctx, store, runKill, logger)
				_ = store.Close()
			}
		}
		if err := env.Kill(ctx, runKill); err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Kill failed", err)
		}
		logger.Info("Job cancelled", zap.Int64("job_id", runKill))
		return nil
	case runShowQueue:
		out, err := env.Queue(ctx)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Queue listing failed", err)
		}
		_, _ = fmt.Fprint(os.Stdout, out)
		return nil
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	fs := afero.NewOsFs()
	disc, err := discovery.New(discovery.Options{
		InputDir:          cfg.StudiesIn,
		OutputDir:         cfg.OutputDir,
		LogDir:            cfg.LogDir,
		SupportedVersions: cfg.Remote.SupportedVersions,
		Defaults:          cfg.DiscoveryDefaults(),
		LocalUser:         env.LocalUser(),
		Fs:                fs,
		Logger:            logger,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid discovery settings", err)
	}

	publisher, err := openPublisher(ctx, cfg.Results.S3, fs)
	if err != nil {
		return err
	}

	runID := runManagedID
	if runID == "" {
		runID = uuid.New().String()
	}
	disp := newDisplay(os.Stdout, os.Stderr, runID)
	archiver := archive.New(fs)

	launcher, err := pipeline.NewLauncher(pipeline.LauncherOptions{
		Env:      env,
		Store:    store,
		Archiver: archiver,
		Display:  disp,
		Logger:   logger,
		Excludes: cfg.Excludes,
	})
	if err != nil {
		return err
	}
	retriever, err := pipeline.NewRetriever(pipeline.RetrieverOptions{
		Env:       env,
		Store:     store,
		Archiver:  archiver,
		Display:   disp,
		Logger:    logger,
		Publisher: publisher,
	})
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Registrar: disc,
		Store:     store,
		Launcher:  launcher,
		Retriever: retriever,
		Display:   disp,
		Logger:    logger,
		Workers:   cfg.Wait.Workers,
		Interval:  cfg.Wait.Interval,
		RunID:     runID,
	})
	if err != nil {
		return err
	}

	if drivers != nil {
		stopHeartbeat := startDriverHeartbeat(ctx, drivers, runManagedID, runID, store)
		defer stopHeartbeat()
	}

	var sum orchestrator.Summary
	if runWait || drivers != nil {
		sum, err = orch.Wait(ctx)
	} else {
		sum, err = orch.RunOnce(ctx)
	}
	logger.Info("Run finished",
		zap.String("run_id", sum.RunID),
		zap.Int("total", sum.Total),
		zap.Int("done", sum.Done),
		zap.Int("failed", sum.Failed),
		zap.Int("pending", sum.Pending),
		zap.Int("passes", sum.Passes))
	if drivers != nil {
		_ = drivers.Heartbeat(runManagedID, runID, progressOf(sum))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return exitError(foundry.ExitSignalInt, "Interrupted", err)
		}
		return exitError(foundry.ExitFileReadError, "Run aborted", err)
	}
	return nil
}

// warnUnknownJob logs a warning when no record carries jobID and reports
// whether the job belongs to this launcher.
func warnUnknownJob(ctx context.Context, store studystore.Store, jobID int64, logger *zap.Logger) bool {
	known, err := store.ExistsByJobID(ctx, jobID)
	if err != nil {
		logger.Debug("Record lookup failed", zap.Int64("job_id", jobID), zap.Error(err))
		return false
	}
	if !known {
		logger.Warn("Job id is not one of the launcher's studies, cancelling anyway", zap.Int64("job_id", jobID))
	}
	return known
}

func progressOf(sum orchestrator.Summary) jobregistry.Progress {
	return jobregistry.Progress{
		Total:   sum.Total,
		Done:    sum.Done,
		Failed:  sum.Failed,
		Pending: sum.Pending,
		Passes:  sum.Passes,
	}
}

const driverHeartbeatInterval = 30 * time.Second

// startDriverHeartbeat periodically copies store counts onto the driver
// record until ctx ends or the returned stop function is called.
func startDriverHeartbeat(ctx context.Context, drivers *jobregistry.Store, driverID, runID string, store studystore.Store) func() {
	t := time.NewTicker(driverHeartbeatInterval)
	stopped := make(chan struct{})
	done := make(chan struct{})

	beat := func() {
		all, err := store.List(ctx)
		if err != nil {
			return
		}
		var p jobregistry.Progress
		p.Total = len(all)
		for _, s := range all {
			if s.WithError {
				p.Failed++
			}
			if s.Done {
				p.Done++
			} else {
				p.Pending++
			}
		}
		_ = drivers.Heartbeat(driverID, runID, p)
	}

	go func() {
		defer close(stopped)
		beat()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				beat()
			}
		}
	}()

	return func() {
		t.Stop()
		close(done)
		<-stopped
	}
}

// startBackgroundDriver re-executes this binary as a detached managed driver
// with the same effective flags.
func startBackgroundDriver(cmd *cobra.Command, cfg config.Config) error {
	if runKill != 0 || runShowQueue {
		return exitError(foundry.ExitInvalidArgument, "Invalid flags", errors.New("--background cannot be combined with --kill or --show-queue"))
	}
	root, err := cfg.DriversDir()
	if err != nil {
		return err
	}
	executor := jobregistry.NewExecutor(root)

	rec, err := executor.Start(jobregistry.StartOptions{
		Name:      "run",
		InputDir:  cfg.StudiesIn,
		StoreFile: cfg.StorePath(),
		Args:      forwardedArgs(cmd),
		Dedupe:    true,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to start background driver", err)
	}

	if jsonOutput {
		return writeJSON(os.Stdout, rec)
	}
	_, _ = fmt.Fprintf(os.Stdout, "driver_id=%s pid=%d\n", rec.DriverID, rec.PID)
	_, _ = fmt.Fprintf(os.Stdout, "logs: %s drivers logs %s\n", config.AppName, rec.DriverID)
	return nil
}

// forwardedArgs rebuilds the explicitly set flags, minus the ones that
// only make sense in the parent process.
func forwardedArgs(cmd *cobra.Command) []string {
	skip := map[string]bool{"background": true, "wait": true, "json": true}
	var args []string
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if skip[f.Name] {
			return
		}
		args = append(args, fmt.Sprintf("--%s=%s", f.Name, f.Value.String()))
	})
	sort.Strings(args)
	return args
}
