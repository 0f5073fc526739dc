package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
)

// isolate keeps the user's real config out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(LoadOptions{})
		require.NoError(t, err)

		assert.Equal(t, "STUDIES_IN", cfg.StudiesIn)
		assert.Equal(t, "FINISHED", cfg.OutputDir)
		assert.Equal(t, 12, cfg.Run.CPUs)
		assert.Equal(t, 240*time.Hour, cfg.Run.TimeLimit)
		assert.Equal(t, study.ModeDefault, cfg.Mode())
		assert.Equal(t, 15*time.Minute, cfg.Wait.Interval)
		assert.Equal(t, 1, cfg.Wait.Workers)
		assert.Equal(t, "ssh", cfg.Remote.Transport)
		assert.Equal(t, 5, cfg.Remote.PollAttempts)
		assert.Equal(t, time.Second, cfg.Remote.PollDelay)
		assert.Equal(t, DefaultSupportedVersions, cfg.Remote.SupportedVersions)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
		assert.False(t, cfg.Results.S3.Enabled())
	})

	t.Run("File", func(t *testing.T) {
		isolate(t)
		path := writeConfig(t, `
studies_in: /data/in
excludes: [input/thermal/series]
run:
  cpus: 4
  time_limit: 2h
  mode: xpansion_cpp
wait:
  interval: 30s
  workers: 3
remote:
  host: cluster.example.org
  user: bob
  key_file: /home/bob/.ssh/id_ed25519
  supported_versions: ["8.8", "9.2"]
results:
  s3:
    bucket: antares-results
    force_path_style: true
`)

		cfg, err := Load(LoadOptions{File: path})
		require.NoError(t, err)

		assert.Equal(t, "/data/in", cfg.StudiesIn)
		assert.Equal(t, []string{"input/thermal/series"}, cfg.Excludes)
		assert.Equal(t, 4, cfg.Run.CPUs)
		assert.Equal(t, 2*time.Hour, cfg.Run.TimeLimit)
		assert.Equal(t, study.ModeXpansionCpp, cfg.Mode())
		assert.Equal(t, 30*time.Second, cfg.Wait.Interval)
		assert.Equal(t, 3, cfg.Wait.Workers)
		assert.Equal(t, "cluster.example.org", cfg.Remote.Host)
		assert.Equal(t, []string{"8.8", "9.2"}, cfg.Remote.SupportedVersions)
		assert.True(t, cfg.Results.S3.Enabled())
		assert.True(t, cfg.Results.S3.ForcePathStyle)
		assert.Equal(t, 22, cfg.Remote.Port, "unset keys keep their defaults")
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("ANTARES_LAUNCHER_RUN_CPUS", "8")
		t.Setenv("ANTARES_LAUNCHER_WAIT_INTERVAL", "2m")
		t.Setenv("ANTARES_LAUNCHER_REMOTE_HOST", "login01")

		cfg, err := Load(LoadOptions{})
		require.NoError(t, err)

		assert.Equal(t, 8, cfg.Run.CPUs)
		assert.Equal(t, 2*time.Minute, cfg.Wait.Interval)
		assert.Equal(t, "login01", cfg.Remote.Host)
	})

	t.Run("Precedence", func(t *testing.T) {
		isolate(t)
		path := writeConfig(t, "run:\n  cpus: 4\n")
		t.Setenv("ANTARES_LAUNCHER_RUN_CPUS", "8")

		cfg, err := Load(LoadOptions{File: path, Overrides: map[string]any{"run.cpus": 16}})
		require.NoError(t, err)
		assert.Equal(t, 16, cfg.Run.CPUs)

		cfg, err = Load(LoadOptions{File: path})
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Run.CPUs)
	})

	t.Run("DurationOverride", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(LoadOptions{Overrides: map[string]any{"run.time_limit": 90 * time.Minute}})
		require.NoError(t, err)
		assert.Equal(t, 90*time.Minute, cfg.Run.TimeLimit)
	})

	t.Run("DefaultLocation", func(t *testing.T) {
		isolate(t)
		require.NoError(t, os.WriteFile(AppName+".yaml", []byte("studies_in: here\n"), 0o644))

		cfg, err := Load(LoadOptions{})
		require.NoError(t, err)
		assert.Equal(t, "here", cfg.StudiesIn)
		assert.Equal(t, AppName+".yaml", UsedFile(""))
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		isolate(t)

		_, err := Load(LoadOptions{File: "/nope/config.yaml"})
		require.Error(t, err)
	})
}

func TestLoad_SchemaRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "studies_inn: /data\n"},
		{"bad mode", "run:\n  mode: fast\n"},
		{"bad duration", "wait:\n  interval: soon\n"},
		{"zero cpus", "run:\n  cpus: 0\n"},
		{"bad transport", "remote:\n  transport: telnet\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			path := writeConfig(t, tt.body)

			_, err := Load(LoadOptions{File: path})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidationFailed), err.Error())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	isolate(t)
	base, err := Load(LoadOptions{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"short time limit", func(c *Config) { c.Run.TimeLimit = time.Second }, "run.time_limit"},
		{"bad mode", func(c *Config) { c.Run.Mode = "fast" }, "run.mode"},
		{"bad solver version", func(c *Config) { c.Run.SolverVersion = "x.y" }, "run.solver_version"},
		{"no workers", func(c *Config) { c.Wait.Workers = 0 }, "wait.workers"},
		{"no versions", func(c *Config) { c.Remote.SupportedVersions = nil }, "supported_versions"},
		{"no input", func(c *Config) { c.StudiesIn = " " }, "studies_in"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.Remote.SupportedVersions = append([]string(nil), base.Remote.SupportedVersions...)
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Paths(t *testing.T) {
	cfg := Config{LogDir: "/var/log/antares"}
	assert.Equal(t, "/var/log/antares/antares_launcher.db", cfg.StorePath())

	cfg.StoreFile = "/tmp/studies.db"
	assert.Equal(t, "/tmp/studies.db", cfg.StorePath())

	t.Setenv("XDG_STATE_HOME", "/xdg/state")
	dir, err := cfg.DriversDir()
	require.NoError(t, err)
	assert.Equal(t, "/xdg/state/antares-launcher/drivers", dir)

	cfg.StateDir = "/srv/launcher"
	dir, err = cfg.ResolveStateDir()
	require.NoError(t, err)
	assert.Equal(t, "/srv/launcher", dir)
}
