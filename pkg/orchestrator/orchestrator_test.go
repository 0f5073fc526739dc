package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/discovery"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/display"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/studystore"
)

type fakeRegistrar struct {
	names []string
	err   error
	calls int
}

func (r *fakeRegistrar) Register(ctx context.Context, store studystore.Store) ([]study.Study, []discovery.Candidate, error) {
	r.calls++
	if r.err != nil {
		return nil, nil, r.err
	}
	var out []study.Study
	var candidates []discovery.Candidate
	for _, name := range r.names {
		candidates = append(candidates, discovery.Candidate{Name: name, Eligible: true})
		if ok, _ := store.Exists(ctx, name); ok {
			continue
		}
		s := study.Study{Name: name, Path: "/in/" + name, StatusMessage: study.StatusPending}
		if err := store.Save(ctx, s); err != nil {
			return out, candidates, err
		}
		out = append(out, s)
	}
	return out, candidates, nil
}

// fakeLauncher assigns sequential job ids and fails the names in failOn.
type fakeLauncher struct {
	store  studystore.Store
	failOn map[string]bool

	mu    sync.Mutex
	next  int64
	calls map[string]int
}

func (l *fakeLauncher) Launch(ctx context.Context, s study.Study) (study.Study, error) {
	l.mu.Lock()
	if l.calls == nil {
		l.calls = map[string]int{}
	}
	l.calls[s.Name]++
	l.next++
	id := l.next
	l.mu.Unlock()

	var err error
	if l.failOn[s.Name] {
		s = s.Fail("Upload failed: boom")
		err = errors.New("boom")
	} else {
		s.JobID = 1000 + id
	}
	if saveErr := l.store.Save(ctx, s); saveErr != nil {
		return s, saveErr
	}
	return s, err
}

// fakeRetriever completes a study after doneAfter passes.
type fakeRetriever struct {
	store     studystore.Store
	doneAfter int

	mu    sync.Mutex
	calls map[string]int
}

func (r *fakeRetriever) Retrieve(ctx context.Context, s study.Study) (study.Study, error) {
	r.mu.Lock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[s.Name]++
	n := r.calls[s.Name]
	r.mu.Unlock()

	if s.WithError || (r.doneAfter > 0 && n >= r.doneAfter) {
		s.Done = true
	}
	return s, r.store.Save(ctx, s)
}

func (r *fakeRetriever) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

type fixture struct {
	store     studystore.Store
	registrar *fakeRegistrar
	launcher  *fakeLauncher
	retriever *fakeRetriever
	display   *display.Recorder
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	store, err := studystore.Open(context.Background(), studystore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &fixture{
		store:     store,
		registrar: &fakeRegistrar{names: names},
		launcher:  &fakeLauncher{store: store},
		retriever: &fakeRetriever{store: store, doneAfter: 1},
		display:   &display.Recorder{},
	}
}

func (f *fixture) orchestrator(t *testing.T, workers int) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		Registrar: f.registrar,
		Store:     f.store,
		Launcher:  f.launcher,
		Retriever: f.retriever,
		Display:   f.display,
		Workers:   workers,
		Interval:  10 * time.Millisecond,
	})
	require.NoError(t, err)
	return o
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registrar is required")
}

func TestRunOnce(t *testing.T) {
	f := newFixture(t, "s1", "s2")
	o := f.orchestrator(t, 1)

	sum, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, o.RunID(), sum.RunID)
	assert.Equal(t, 2, sum.Discovered)
	assert.Equal(t, 2, sum.Registered)
	assert.Equal(t, 2, sum.Launched)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 2, sum.Done)
	assert.True(t, sum.AllDone())
	assert.Len(t, f.display.ProgressEvents(), 4)
}

func TestRunOnce_DoesNotRelaunch(t *testing.T) {
	f := newFixture(t, "s1")
	f.retriever.doneAfter = 0
	o := f.orchestrator(t, 1)
	ctx := context.Background()

	_, err := o.RunOnce(ctx)
	require.NoError(t, err)
	sum, err := o.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, sum.Registered)
	assert.Equal(t, 0, sum.Launched)
	assert.Equal(t, 1, sum.Pending)
	assert.Equal(t, 1, f.launcher.calls["s1"])
	assert.Equal(t, 2, f.retriever.count("s1"))
}

func TestRunOnce_BatchIsolation(t *testing.T) {
	f := newFixture(t, "s1", "s2", "s3")
	f.launcher.failOn = map[string]bool{"s2": true}
	o := f.orchestrator(t, 1)
	ctx := context.Background()

	sum, err := o.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Launched)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 3, sum.Done)

	for _, name := range []string{"s1", "s3"} {
		s, err := f.store.Get(ctx, name)
		require.NoError(t, err)
		assert.True(t, s.Submitted(), name)
		assert.False(t, s.WithError, name)
	}
	failed, err := f.store.Get(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, failed.WithError)
	assert.False(t, failed.Submitted())
}

func TestRunOnce_RegistrationErrorIsReturned(t *testing.T) {
	f := newFixture(t)
	f.registrar.err = errors.New("disk gone")
	o := f.orchestrator(t, 1)

	_, err := o.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestRunOnce_Workers(t *testing.T) {
	var names []string
	for i := range 12 {
		names = append(names, fmt.Sprintf("s%02d", i))
	}
	f := newFixture(t, names...)
	o := f.orchestrator(t, 4)

	sum, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, sum.Launched)
	assert.Equal(t, 12, sum.Done)
	for _, name := range names {
		assert.Equal(t, 1, f.launcher.calls[name], name)
		assert.Equal(t, 1, f.retriever.count(name), name)
	}
}

func TestWait_UntilAllDone(t *testing.T) {
	f := newFixture(t, "s1", "s2")
	f.retriever.doneAfter = 3
	o := f.orchestrator(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sum, err := o.Wait(ctx)
	require.NoError(t, err)

	assert.True(t, sum.AllDone())
	assert.Equal(t, 3, sum.Passes)
	assert.Equal(t, 3, f.retriever.count("s1"))
	assert.Contains(t, f.display.Messages(), "All 2 studies done")
}

func TestWait_StopsOnCancel(t *testing.T) {
	f := newFixture(t, "s1")
	f.retriever.doneAfter = 0
	o := f.orchestrator(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sum, err := o.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, sum.Pending)
}
