package discovery

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/studystore"
)

func writeStudy(t *testing.T, fs afero.Fs, dir, version string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(dir, 0755))
	content := "[antares]\ncaption = test\nversion = " + version + "\n"
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, ManifestFile), []byte(content), 0644))
}

func newDiscoverer(t *testing.T, fs afero.Fs, mode study.Mode) *Discoverer {
	t.Helper()
	d, err := New(Options{
		InputDir:          "/in",
		OutputDir:         "/out",
		LogDir:            "/logs/JOB_LOGS",
		SupportedVersions: []string{"800", "8.8"},
		Defaults: Defaults{
			CPUs:      8,
			TimeLimit: time.Hour,
			Mode:      mode,
		},
		LocalUser: "bob",
		Fs:        fs,
	})
	require.NoError(t, err)
	return d
}

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"800", "8.0", false},
		{"880", "8.8", false},
		{"8.8", "8.8", false},
		{"9.2", "9.2", false},
		{"9", "", true},
		{"9.", "9.0", false},
		{"8.8.1", "8.8", false},
		{"abc", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeVersion(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCandidates_Eligibility(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeStudy(t, fs, "/in/a_ok", "880")
	writeStudy(t, fs, "/in/b_old", "700")
	require.NoError(t, fs.MkdirAll("/in/c_nomanifest", 0755))
	writeStudy(t, fs, "/in/d_dotted", "8.0")
	require.NoError(t, afero.WriteFile(fs, "/in/file.txt", []byte("x"), 0644))

	cands, err := newDiscoverer(t, fs, study.ModeDefault).Candidates()
	require.NoError(t, err)
	require.Len(t, cands, 4)

	assert.True(t, cands[0].Eligible)
	assert.Equal(t, "8.8", cands[0].Version)
	assert.False(t, cands[1].Eligible)
	assert.Contains(t, cands[1].Reason, "7.0")
	assert.False(t, cands[2].Eligible)
	assert.Contains(t, cands[2].Reason, ManifestFile)
	assert.True(t, cands[3].Eligible)
}

func TestCandidates_XpansionRequiresExpansionDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeStudy(t, fs, "/in/with", "880")
	require.NoError(t, fs.MkdirAll("/in/with/user/expansion", 0755))
	writeStudy(t, fs, "/in/without", "880")

	cands, err := newDiscoverer(t, fs, study.ModeXpansionR).Candidates()
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.True(t, cands[0].Eligible)
	assert.False(t, cands[1].Eligible)
}

func TestNewStudy(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := newDiscoverer(t, fs, study.ModeDefault)

	s := d.NewStudy(Candidate{Name: "s1", Path: "/in/s1", Version: "8.8", Eligible: true})

	assert.Equal(t, "/in/s1-bob.zip", s.PackagePath)
	assert.Equal(t, 8, s.CPUs)
	assert.Equal(t, time.Hour, s.TimeLimit)
	assert.Equal(t, "8.8", s.SolverVersion)
	assert.Equal(t, study.StatusPending, s.StatusMessage)
	assert.False(t, s.Submitted())
}

func TestRegister_SkipsKnownAndIneligible(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	writeStudy(t, fs, "/in/known", "880")
	writeStudy(t, fs, "/in/new", "880")
	writeStudy(t, fs, "/in/old", "600")

	store, err := studystore.Open(ctx, studystore.Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	known := study.Study{Name: "known", Path: "/in/known", JobID: 5}
	require.NoError(t, store.Save(ctx, known))

	registered, cands, err := newDiscoverer(t, fs, study.ModeDefault).Register(ctx, store)
	require.NoError(t, err)
	assert.Len(t, cands, 3)
	require.Len(t, registered, 1)
	assert.Equal(t, "new", registered[0].Name)

	ok, err := store.Exists(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Get(ctx, "known")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.JobID)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{SupportedVersions: []string{"8.8"}})
	assert.Error(t, err)

	_, err = New(Options{InputDir: "/in"})
	assert.Error(t, err)

	_, err = New(Options{InputDir: "/in", SupportedVersions: []string{"bogus"}})
	assert.Error(t, err)
}

func TestSolverVersionOverride(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeStudy(t, fs, "/in/s", "800")

	d, err := New(Options{
		InputDir:          "/in",
		SupportedVersions: []string{"8.8"},
		Defaults:          Defaults{SolverVersion: "880"},
		Fs:                fs,
	})
	require.NoError(t, err)

	cands, err := d.Candidates()
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.True(t, cands[0].Eligible)
	assert.Equal(t, "8.8", cands[0].Version)
}
