package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/remote"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/studystore"
)

// fakeEnv is a scripted Environment that counts calls.
type fakeEnv struct {
	mu sync.Mutex

	nextJobID int64
	status    map[int64]string
	logs      []string
	result    string

	uploadErr  error
	submitErr  error
	pollErr    error
	resultErr  error
	cleanupErr error
	panicOn    string

	uploads, removes, submits, polls int
	logDownloads, resultDownloads    int
	cleanups                         int
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{nextJobID: 100, status: map[int64]string{}}
}

func (f *fakeEnv) UploadPackage(ctx context.Context, s study.Study) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	return f.uploadErr
}

func (f *fakeEnv) RemovePackage(ctx context.Context, s study.Study) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes++
	return nil
}

func (f *fakeEnv) Submit(ctx context.Context, s study.Study) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return 0, f.submitErr
	}
	f.nextJobID++
	return f.nextJobID, nil
}

func (f *fakeEnv) PollState(ctx context.Context, jobID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.panicOn == "poll" {
		panic("poll exploded")
	}
	if f.pollErr != nil {
		return "", f.pollErr
	}
	return f.status[jobID], nil
}

func (f *fakeEnv) DeriveFlags(raw string) study.State {
	return remote.DeriveFlags(raw)
}

func (f *fakeEnv) DownloadLogs(ctx context.Context, s study.Study) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logDownloads++
	var out []string
	for _, name := range f.logs {
		out = append(out, filepath.Join(s.JobLogDir(), name))
	}
	return out, nil
}

func (f *fakeEnv) DownloadResult(ctx context.Context, s study.Study) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultDownloads++
	if f.resultErr != nil {
		return "", f.resultErr
	}
	if f.result == "" {
		return "", remote.ErrNoResult
	}
	return filepath.Join(s.OutputDir, f.result), nil
}

func (f *fakeEnv) Cleanup(ctx context.Context, s study.Study) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return f.cleanupErr
}

func (f *fakeEnv) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads + f.removes + f.submits + f.polls + f.logDownloads + f.resultDownloads + f.cleanups
}

// fakeArchiver records packing and extraction without touching disk.
type fakeArchiver struct {
	mu sync.Mutex

	packErr      error
	extractErr   error
	extractPanic bool

	packs, extracts int
	dirs            []string
	removed         []string
}

func (a *fakeArchiver) Pack(srcDir, dstZip string, excludes []string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.packs++
	if a.packErr != nil {
		return 0, a.packErr
	}
	return 2048, nil
}

func (a *fakeArchiver) Extract(zipPath string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extracts++
	if a.extractPanic {
		panic("extract exploded")
	}
	if a.extractErr != nil {
		return "", a.extractErr
	}
	return filepath.Dir(zipPath), nil
}

func (a *fakeArchiver) MakeDir(dir string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dirs = append(a.dirs, dir)
	return nil
}

func (a *fakeArchiver) Remove(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, name)
	return nil
}

type fakePublisher struct {
	err   error
	calls int
}

func (p *fakePublisher) Publish(ctx context.Context, s study.Study) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return "s3://bucket/" + s.Name, nil
}

func newStore(t *testing.T) studystore.Store {
	t.Helper()
	s, err := studystore.Open(context.Background(), studystore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func pendingStudy(name string) study.Study {
	return study.Study{
		Name:          name,
		Path:          "/in/" + name,
		PackagePath:   "/in/" + name + "-bob.zip",
		LogDir:        "/logs/JOB_LOGS",
		OutputDir:     "/out",
		CPUs:          2,
		SolverVersion: "8.8",
		Mode:          study.ModeDefault,
		StatusMessage: study.StatusPending,
	}
}

var errBoom = errors.New("boom")
