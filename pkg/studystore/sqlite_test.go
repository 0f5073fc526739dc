package studystore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
)

func openMemory(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleStudy(name string) study.Study {
	return study.Study{
		Name:           name,
		Path:           "/studies/" + name,
		JobID:          0,
		PackagePath:    "/studies/" + name + "-alice.zip",
		LogDir:         "/logs/JOB_LOGS",
		OutputDir:      "/finished",
		CPUs:           12,
		TimeLimit:      2 * time.Hour,
		SolverVersion:  "8.8",
		Mode:           study.ModeXpansionCpp,
		OtherOptions:   "--ratio-gap 1e-6",
		PostProcessing: true,
		StatusMessage:  study.StatusPending,
	}
}

func TestSaveAndGet_RoundTripsAllFields(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	rec := sampleStudy("s1")
	rec.JobID = 1234
	rec.Started = true
	rec.PackageUploaded = true
	rec.ResultPath = "/finished/finished_s1_1234.zip"
	rec.ResultPublished = true

	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)

	diff := cmp.Diff(rec, got, cmpopts.IgnoreFields(study.Study{}, "CreatedAt", "UpdatedAt"))
	assert.Empty(t, diff)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSave_UpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	require.NoError(t, s.Save(ctx, sampleStudy("s1")))
	first, err := s.Get(ctx, "s1")
	require.NoError(t, err)

	updated := first
	updated.JobID = 99
	updated.StatusMessage = study.StatusRunning
	require.NoError(t, s.Save(ctx, updated))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(99), got.JobID)
	assert.Equal(t, study.StatusRunning, got.StatusMessage)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSave_RequiresName(t *testing.T) {
	s := openMemory(t)
	err := s.Save(context.Background(), study.Study{})
	require.Error(t, err)
}

func TestGet_NotFound(t *testing.T) {
	s := openMemory(t)
	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestExistsAndExistsByJobID(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	rec := sampleStudy("s1")
	rec.JobID = 7
	require.NoError(t, s.Save(ctx, rec))

	ok, err := s.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ExistsByJobID(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ExistsByJobID(ctx, 8)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ExistsByJobID(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestList_OrderedByName(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, s.Save(ctx, sampleStudy(name)))
	}

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, "b", all[1].Name)
	assert.Equal(t, "c", all[2].Name)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	require.NoError(t, s.Save(ctx, sampleStudy("s1")))
	require.NoError(t, s.Delete(ctx, "s1"))

	ok, err := s.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.Delete(ctx, "s1")
	assert.True(t, IsNotFound(err))
}

func TestOpen_FileStoreReopens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "launcher.db")

	s, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleStudy("s1")))
	require.NoError(t, s.Close())

	// Re-opening runs the additive migrations again.
	s, err = Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ok, err := s.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}
