package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/internal/config"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/display"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/pipeline"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/remote"
	s3sink "github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/resultsink/s3"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/studystore"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/transport"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/transport/local"
	sshtransport "github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/transport/ssh"
)

// openTransport connects to the cluster as configured.
func openTransport(ctx context.Context, cfg config.RemoteConfig, logger *zap.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case "local":
		home := cfg.LocalHome
		if home == "" {
			var err error
			if home, err = os.UserHomeDir(); err != nil {
				return nil, fmt.Errorf("resolve local home: %w", err)
			}
		}
		tr, err := local.New(home)
		if err != nil {
			return nil, err
		}
		return tr, nil
	default:
		tr, err := sshtransport.Dial(ctx, sshtransport.Config{
			Host:           cfg.Host,
			Port:           cfg.Port,
			User:           cfg.User,
			PrivateKeyFile: cfg.KeyFile,
			KeyPassphrase:  cfg.KeyPassphrase,
			Password:       cfg.Password,
			KnownHostsFile: cfg.KnownHostsFile,
			DialTimeout:    cfg.DialTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return tr, nil
	}
}

func remoteSettings(cfg config.RemoteConfig, logger *zap.Logger) remote.Settings {
	s := remote.Settings{
		LaunchScript: cfg.LaunchScript,
		Partition:    cfg.Partition,
		QoS:          cfg.QoS,
		QueueUser:    cfg.QueueUser,
		PollAttempts: cfg.PollAttempts,
		PollDelay:    cfg.PollDelay,
		Logger:       logger,
	}
	if cfg.PollRate > 0 {
		s.PollLimiter = rate.NewLimiter(rate.Limit(cfg.PollRate), 1)
	}
	return s
}

// openEnvironment dials the cluster and checks the startup preconditions.
// The returned close function is always safe to call.
func openEnvironment(ctx context.Context, cfg config.Config, logger *zap.Logger) (*remote.Environment, func(), error) {
	tr, err := openTransport(ctx, cfg.Remote, logger)
	if err != nil {
		return nil, func() {}, exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to the cluster", err)
	}
	closeFn := func() { _ = tr.Close() }

	env, err := remote.New(ctx, tr, remoteSettings(cfg.Remote, logger))
	if err != nil {
		closeFn()
		return nil, func() {}, exitError(foundry.ExitExternalServiceUnavailable, "Remote environment is not usable", err)
	}
	return env, closeFn, nil
}

// openStore creates the log directory and opens the record store in it.
func openStore(ctx context.Context, cfg config.Config) (*studystore.SQLiteStore, error) {
	for _, dir := range []string{cfg.LogDir, cfg.OutputDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, exitError(foundry.ExitFileWriteError, "Cannot create directory", err)
		}
	}
	store, err := studystore.Open(ctx, studystore.Config{Path: cfg.StorePath()})
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Cannot open record store", err)
	}
	return store, nil
}

// openPublisher returns nil when result publication is disabled.
func openPublisher(ctx context.Context, cfg config.S3Config, fs afero.Fs) (pipeline.Publisher, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	sink, err := s3sink.New(ctx, s3sink.Config{
		Bucket:          cfg.Bucket,
		Prefix:          cfg.Prefix,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		Profile:         cfg.Profile,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		ForcePathStyle:  cfg.ForcePathStyle,
	}, fs)
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Cannot configure result sink", err)
	}
	return sink, nil
}

// newDisplay picks JSONL records under --json and colored lines otherwise.
func newDisplay(out, errOut io.Writer, runID string) display.Display {
	if jsonOutput {
		return display.NewJSONL(out, runID)
	}
	return display.NewConsole(out, errOut)
}
