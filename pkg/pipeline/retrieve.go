package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/display"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/studystore"
)

// RetrieverOptions configures a Retriever.
type RetrieverOptions struct {
	Env      Environment
	Store    studystore.Store
	Archiver Archiver
	Display  display.Display
	Logger   *zap.Logger

	// Publisher is optional. When set, publication becomes part of done.
	Publisher Publisher
}

// Retriever advances submitted studies through the retrieval stages.
type Retriever struct {
	env       Environment
	store     studystore.Store
	archiver  Archiver
	display   display.Display
	logger    *zap.Logger
	publisher Publisher
}

// NewRetriever validates opts.
func NewRetriever(opts RetrieverOptions) (*Retriever, error) {
	if opts.Env == nil {
		return nil, errors.New("retriever: environment is required")
	}
	if opts.Store == nil {
		return nil, errors.New("retriever: store is required")
	}
	if opts.Archiver == nil {
		return nil, errors.New("retriever: archiver is required")
	}
	if opts.Display == nil {
		opts.Display = display.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Retriever{
		env:       opts.Env,
		store:     opts.Store,
		archiver:  opts.Archiver,
		display:   opts.Display,
		logger:    opts.Logger,
		publisher: opts.Publisher,
	}, nil
}

type stageFunc func(context.Context, study.Study) (study.Study, error)

func (r *Retriever) stages() []stageFunc {
	return []stageFunc{
		r.UpdateState,
		r.DownloadLogs,
		r.DownloadResult,
		r.CleanRemote,
		r.ExtractResult,
		r.Publish,
	}
}

// Retrieve runs one retrieval pass over s and persists the outcome exactly
// once. A done study is returned untouched. The first escalated stage
// failure marks the study with_error and stops the pass; a panic inside a
// stage is converted into an internal error on the record. The returned
// error is informational: the record already reflects it.
func (r *Retriever) Retrieve(ctx context.Context, s study.Study) (out study.Study, err error) {
	if s.Done {
		return s, nil
	}

	// cur holds the outcome of the last completed stage.
	cur := s
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Retrieval panicked", zap.String("study", s.Name), zap.Any("panic", p))
			out = cur.InternalError(p).RecomputeDone(r.publisher != nil)
			err = stageErr(StagePersist, out, fmt.Errorf("internal error: %v", p))
			if saveErr := r.store.Save(ctx, out); saveErr != nil {
				err = errors.Join(err, stageErr(StagePersist, out, saveErr))
			}
		}
	}()

	var failure error
	for _, stage := range r.stages() {
		next, stageFailure := stage(ctx, cur)
		cur = next
		if stageFailure != nil {
			var se *StageError
			if !errors.As(stageFailure, &se) {
				se = stageErr(StageState, cur, stageFailure)
			}
			cur = cur.Fail(failureMessage(se))
			r.display.Error(fmt.Sprintf("%s: %s", cur.Name, cur.StatusMessage))
			r.logger.Warn("Retrieval stage failed",
				zap.String("study", cur.Name), zap.String("stage", string(se.Stage)), zap.Error(se.Err))
			failure = se
			break
		}
	}

	cur = cur.RecomputeDone(r.publisher != nil)
	if cur.Done && !s.Done {
		if cur.WithError {
			r.logger.Info("Study ended with error", zap.String("study", cur.Name), zap.String("status", cur.StatusMessage))
		} else {
			r.display.Message(fmt.Sprintf("%s done", cur.Name))
		}
	}

	if saveErr := r.store.Save(ctx, cur); saveErr != nil {
		return cur, errors.Join(failure, stageErr(StagePersist, cur, saveErr))
	}
	return cur, failure
}

// UpdateState polls the scheduler and merges the observation. A study
// without a job id is failed as not submitted without polling.
func (r *Retriever) UpdateState(ctx context.Context, s study.Study) (study.Study, error) {
	if s.Done || s.WithError {
		return s, nil
	}
	if !s.Submitted() {
		return s.Fail(study.StatusNotSubmitted), nil
	}

	raw, err := r.env.PollState(ctx, s.JobID)
	if err != nil {
		return s, stageErr(StageState, s, err)
	}
	before := s.StatusMessage
	s = s.Merge(r.env.DeriveFlags(raw))
	if s.StatusMessage != before {
		r.display.Message(fmt.Sprintf("%s (job %d): %s", s.Name, s.JobID, s.StatusMessage))
	}
	return s, nil
}

// DownloadLogs fetches the job logs into a job specific directory. While
// the job runs intermediate logs are fetched but the stage stays open; it
// closes once a finished job's logs have been retrieved. Missing logs are
// reported, never escalated.
func (r *Retriever) DownloadLogs(ctx context.Context, s study.Study) (study.Study, error) {
	if !s.Started || s.LogsDownloaded || !s.Submitted() {
		return s, nil
	}

	if err := r.archiver.MakeDir(s.JobLogDir()); err != nil {
		return s, stageErr(StageLogs, s, err)
	}

	paths, err := r.env.DownloadLogs(ctx, s)
	if err != nil {
		r.display.Error(fmt.Sprintf("%s: some log files could not be downloaded: %v", s.Name, err))
	}
	if len(paths) == 0 {
		if err == nil {
			r.display.Message(fmt.Sprintf("%s: no log files available yet", s.Name))
		}
		return s, nil
	}
	if s.Finished {
		s.LogsDownloaded = true
		r.display.Message(fmt.Sprintf("%s: %d log file(s) downloaded to %s", s.Name, len(paths), s.JobLogDir()))
	}
	return s, nil
}

// DownloadResult fetches the result archive of a successfully finished job.
func (r *Retriever) DownloadResult(ctx context.Context, s study.Study) (study.Study, error) {
	if !s.Finished || s.WithError || s.HasResult() {
		return s, nil
	}

	if err := r.archiver.MakeDir(s.OutputDir); err != nil {
		return s, stageErr(StageResult, s, err)
	}
	path, err := r.env.DownloadResult(ctx, s)
	if err != nil {
		return s, stageErr(StageResult, s, err)
	}
	s.ResultPath = path
	r.display.Message(fmt.Sprintf("%s: result downloaded to %s", s.Name, path))
	return s, nil
}

// CleanRemote removes the input package and the result archive from the
// remote working directory. Failures are reported and retried on the next
// pass since removals are idempotent.
func (r *Retriever) CleanRemote(ctx context.Context, s study.Study) (study.Study, error) {
	if !s.HasResult() || s.RemoteSideCleaned {
		return s, nil
	}

	if err := r.env.Cleanup(ctx, s); err != nil {
		r.display.Error(fmt.Sprintf("%s: remote cleanup incomplete: %v", s.Name, err))
		r.logger.Warn("Remote cleanup failed", zap.String("study", s.Name), zap.Error(err))
		return s, nil
	}
	s.RemoteSideCleaned = true
	s.InputPackageRemovedRemotely = true
	return s, nil
}

// ExtractResult unpacks the downloaded archive. Any failure is terminal.
func (r *Retriever) ExtractResult(ctx context.Context, s study.Study) (study.Study, error) {
	if !s.Finished || s.WithError || !s.HasResult() || s.ResultUnpacked {
		return s, nil
	}

	target, err := r.archiver.Extract(s.ResultPath)
	if err != nil {
		return s, stageErr(StageExtract, s, err)
	}
	s.ResultUnpacked = true
	r.display.Message(fmt.Sprintf("%s: result extracted to %s", s.Name, target))
	return s, nil
}

// Publish hands the result to the configured publisher. Failures are
// reported and retried on the next pass.
func (r *Retriever) Publish(ctx context.Context, s study.Study) (study.Study, error) {
	if r.publisher == nil || !s.ResultUnpacked || s.ResultPublished || s.WithError {
		return s, nil
	}

	location, err := r.publisher.Publish(ctx, s)
	if err != nil {
		r.display.Error(fmt.Sprintf("%s: result publication failed: %v", s.Name, err))
		r.logger.Warn("Result publication failed", zap.String("study", s.Name), zap.Error(err))
		return s, nil
	}
	s.ResultPublished = true
	r.display.Message(fmt.Sprintf("%s: result published to %s", s.Name, location))
	return s, nil
}
