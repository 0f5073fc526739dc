package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/internal/observability"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/internal/server"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/internal/server/handlers"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/studystore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a read-only status API over the record store",
	Long: `Start an HTTP server exposing the record store.

Routes:
  GET /health               store reachability
  GET /version              build information
  GET /v1/studies           every record (?status=done|pending|failed)
  GET /v1/studies/{name}    one record`,
	RunE: runServe,
}

var serveBindings = map[string]string{
	"host":       "server.host",
	"port":       "server.port",
	"log-dir":    "log_dir",
	"store-file": "store_file",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host")
	serveCmd.Flags().Int("port", 0, "Listen port")
	serveCmd.Flags().String("log-dir", "", "Directory holding the record store")
	serveCmd.Flags().String("store-file", "", "Record store file (overrides --log-dir)")
}

// storeHealthChecker pings the record store.
type storeHealthChecker struct {
	store studystore.Store
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	_, err := c.store.Exists(ctx, "")
	return err
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, serveBindings)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithStore(store),
		server.WithLogger(observability.CLILogger),
		server.WithVersion(handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithHealthChecker("store", storeHealthChecker{store: store}),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout, cfg.Server.ShutdownTimeout),
	)

	observability.CLILogger.Info("Starting status API",
		zap.String("addr", srv.Addr()),
		zap.String("store", cfg.StorePath()))
	if err := srv.Start(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Status API failed", err)
	}
	return nil
}
