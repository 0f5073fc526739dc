// Package orchestrator drives discovery, launch and retrieval passes over
// the study store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/discovery"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/display"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/studystore"
)

// DefaultInterval is the wait-mode polling interval.
const DefaultInterval = time.Minute

// Registrar finds new eligible studies and saves them.
type Registrar interface {
	Register(ctx context.Context, store studystore.Store) ([]study.Study, []discovery.Candidate, error)
}

// Launcher submits one study.
type Launcher interface {
	Launch(ctx context.Context, s study.Study) (study.Study, error)
}

// Retriever runs one retrieval pass over one study.
type Retriever interface {
	Retrieve(ctx context.Context, s study.Study) (study.Study, error)
}

// Options configures an Orchestrator.
type Options struct {
	Registrar Registrar
	Store     studystore.Store
	Launcher  Launcher
	Retriever Retriever
	Display   display.Display
	Logger    *zap.Logger

	// Workers bounds how many studies are processed at once. Values below 2
	// process studies one after the other.
	Workers int

	// Interval is the wait-mode sleep between retrieval passes.
	Interval time.Duration

	// RunID is generated when empty.
	RunID string
}

// Summary describes the store after a pass.
type Summary struct {
	RunID      string `json:"run_id"`
	Discovered int    `json:"discovered"`
	Registered int    `json:"registered"`
	Launched   int    `json:"launched"`
	Total      int    `json:"total"`
	Failed     int    `json:"failed"`
	Done       int    `json:"done"`
	Pending    int    `json:"pending"`
	Passes     int    `json:"passes"`
}

// AllDone reports whether every known study is terminal.
func (s Summary) AllDone() bool {
	return s.Pending == 0
}

// Orchestrator sequences the pipelines. Per-study failures never escape a
// pass; they live on the records.
type Orchestrator struct {
	opts   Options
	runID  string
	logger *zap.Logger
}

// New validates opts.
func New(opts Options) (*Orchestrator, error) {
	if opts.Registrar == nil {
		return nil, errors.New("orchestrator: registrar is required")
	}
	if opts.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if opts.Launcher == nil {
		return nil, errors.New("orchestrator: launcher is required")
	}
	if opts.Retriever == nil {
		return nil, errors.New("orchestrator: retriever is required")
	}
	if opts.Display == nil {
		opts.Display = display.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	return &Orchestrator{
		opts:   opts,
		runID:  runID,
		logger: opts.Logger.With(zap.String("run_id", runID)),
	}, nil
}

// RunID identifies this orchestrator's passes in logs and summaries.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// RunOnce registers new studies, launches the pending ones and retrieves
// every study that is not done. Only store and registration failures are
// returned.
func (o *Orchestrator) RunOnce(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: o.runID, Passes: 1}

	registered, candidates, err := o.opts.Registrar.Register(ctx, o.opts.Store)
	sum.Discovered = len(candidates)
	sum.Registered = len(registered)
	if err != nil {
		return sum, fmt.Errorf("register studies: %w", err)
	}
	if len(registered) > 0 {
		o.opts.Display.Message(fmt.Sprintf("%d new stud%s registered", len(registered), plural(len(registered))))
	}

	launched, err := o.launchPending(ctx)
	sum.Launched = launched
	if err != nil {
		return sum, err
	}

	if err := o.retrievePending(ctx); err != nil {
		return sum, err
	}
	return o.tally(ctx, sum)
}

// Wait runs RunOnce, then retrieves every Interval until all studies are
// done or ctx is cancelled.
func (o *Orchestrator) Wait(ctx context.Context) (Summary, error) {
	sum, err := o.RunOnce(ctx)
	if err != nil || sum.AllDone() {
		return sum, err
	}

	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()

	for {
		o.logger.Debug("Waiting for jobs", zap.Int("pending", sum.Pending), zap.Duration("interval", o.opts.Interval))
		select {
		case <-ctx.Done():
			return sum, ctx.Err()
		case <-ticker.C:
		}

		if err := o.retrievePending(ctx); err != nil {
			return sum, err
		}
		next, err := o.tally(ctx, sum)
		if err != nil {
			return sum, err
		}
		next.Passes = sum.Passes + 1
		sum = next
		if sum.AllDone() {
			o.opts.Display.Message(fmt.Sprintf("All %d stud%s done", sum.Total, plural(sum.Total)))
			return sum, nil
		}
	}
}

func (o *Orchestrator) launchPending(ctx context.Context) (int, error) {
	all, err := o.opts.Store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list studies: %w", err)
	}
	var pending []study.Study
	for _, s := range all {
		if !s.Submitted() && !s.Terminal() {
			pending = append(pending, s)
		}
	}

	var launched atomic.Int64
	err = o.forEach(ctx, "Launching", pending, func(ctx context.Context, s study.Study) {
		out, err := o.opts.Launcher.Launch(ctx, s)
		if err != nil {
			o.logger.Debug("Launch did not complete", zap.String("study", s.Name), zap.Error(err))
		}
		if out.Submitted() {
			launched.Add(1)
		}
	})
	return int(launched.Load()), err
}

func (o *Orchestrator) retrievePending(ctx context.Context) error {
	all, err := o.opts.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("list studies: %w", err)
	}
	var open []study.Study
	for _, s := range all {
		if !s.Done {
			open = append(open, s)
		}
	}

	return o.forEach(ctx, "Retrieving", open, func(ctx context.Context, s study.Study) {
		if _, err := o.opts.Retriever.Retrieve(ctx, s); err != nil {
			o.logger.Debug("Retrieval pass reported a failure", zap.String("study", s.Name), zap.Error(err))
		}
	})
}

// forEach applies fn to every study, at most Workers at a time. Each study
// is handed to exactly one call, so no two workers share a record.
func (o *Orchestrator) forEach(ctx context.Context, label string, items []study.Study, fn func(context.Context, study.Study)) error {
	if len(items) == 0 {
		return nil
	}

	if o.opts.Workers <= 1 {
		for s := range display.Iterate(o.opts.Display, label, items) {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(ctx, s)
		}
		return nil
	}

	var started atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for _, s := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o.opts.Display.Progress(label, int(started.Add(1)), len(items))
			fn(gctx, s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (o *Orchestrator) tally(ctx context.Context, sum Summary) (Summary, error) {
	all, err := o.opts.Store.List(ctx)
	if err != nil {
		return sum, fmt.Errorf("list studies: %w", err)
	}
	sum.Total = len(all)
	sum.Done, sum.Failed, sum.Pending = 0, 0, 0
	for _, s := range all {
		if s.WithError {
			sum.Failed++
		}
		if s.Done {
			sum.Done++
		} else {
			sum.Pending++
		}
	}
	o.logger.Info("Pass complete",
		zap.Int("total", sum.Total), zap.Int("done", sum.Done),
		zap.Int("failed", sum.Failed), zap.Int("pending", sum.Pending))
	return sum, nil
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
