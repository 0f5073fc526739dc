package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/jobregistry"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/studystore"
)

func TestForwardedArgs(t *testing.T) {
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().Bool("background", false, "")
	cmd.Flags().BoolP("wait", "w", false, "")
	cmd.Flags().String("studies-in", "", "")
	cmd.Flags().Int("workers", 0, "")
	cmd.Flags().String("mode", "default", "")
	require.NoError(t, cmd.Flags().Parse([]string{"--background", "-w", "--workers", "4", "--studies-in", "/in"}))

	assert.Equal(t, []string{"--studies-in=/in", "--workers=4"}, forwardedArgs(cmd))
}

func TestPrintLogTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour\n"), 0644))

	t.Run("tail", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printLogTail(&buf, path, 2))
		assert.Equal(t, "three\nfour\n", buf.String())
	})

	t.Run("everything", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printLogTail(&buf, path, 0))
		assert.Equal(t, "one\ntwo\nthree\nfour\n", buf.String())
	})

	t.Run("missing", func(t *testing.T) {
		err := printLogTail(&bytes.Buffer{}, filepath.Join(t.TempDir(), "nope.log"), 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Log not found")
	})
}

func TestWriteStudyTable(t *testing.T) {
	var buf bytes.Buffer
	err := writeStudyTable(&buf, []study.Study{
		{Name: "s1", JobID: 42, StatusMessage: study.StatusRunning, SolverVersion: "8.8", Mode: study.ModeDefault, UpdatedAt: time.Now()},
		{Name: "s2", StatusMessage: study.StatusPending, Mode: study.ModeDefault},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, lines[1], "42")
	assert.Contains(t, lines[1], "Running")
	assert.Contains(t, lines[2], "s2")
	assert.Contains(t, lines[2], " - ")
}

func TestWriteStudyDetail(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeStudyDetail(&buf, study.Study{Name: "s1", JobID: 7, TimeLimit: time.Hour, Mode: study.ModeDefault}))

	out := buf.String()
	assert.Contains(t, out, "Name:")
	assert.Contains(t, out, "s1")
	assert.Contains(t, out, "1h0m0s")
	assert.Contains(t, out, "Result:")
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "-", formatProgress(nil))
	assert.Equal(t, "3/5 done, 1 failed", formatProgress(&jobregistry.Progress{Total: 5, Done: 3, Failed: 1}))
	assert.Equal(t, "-", formatOptionalTime(nil))
	assert.Equal(t, "abcdefgh", shortID("abcdefgh-1234"))
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "-", orDash("  "))
}

func TestStoreHealthChecker(t *testing.T) {
	store, err := studystore.Open(context.Background(), studystore.Config{Path: ":memory:"})
	require.NoError(t, err)

	checker := storeHealthChecker{store: store}
	assert.NoError(t, checker.CheckHealth(context.Background()))

	require.NoError(t, store.Close())
	assert.Error(t, checker.CheckHealth(context.Background()))
}

func TestWarnUnknownJob(t *testing.T) {
	ctx := context.Background()
	store, err := studystore.Open(ctx, studystore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Save(ctx, study.Study{Name: "s1", Path: "/in/s1", JobID: 42, StatusMessage: study.StatusPending}))

	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	assert.True(t, warnUnknownJob(ctx, store, 42, logger))
	assert.Zero(t, logs.Len())

	assert.False(t, warnUnknownJob(ctx, store, 999999, logger))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, int64(999999), logs.All()[0].ContextMap()["job_id"])
}
