package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/display"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/studystore"
)

// LauncherOptions configures a Launcher.
type LauncherOptions struct {
	Env      Environment
	Store    studystore.Store
	Archiver Archiver
	Display  display.Display
	Logger   *zap.Logger

	// Excludes are patternmatcher patterns left out of the input package.
	Excludes []string
}

// Launcher moves studies from pending to submitted without ever
// submitting one twice.
type Launcher struct {
	env      Environment
	store    studystore.Store
	archiver Archiver
	display  display.Display
	logger   *zap.Logger
	excludes []string
}

// NewLauncher validates opts.
func NewLauncher(opts LauncherOptions) (*Launcher, error) {
	if opts.Env == nil {
		return nil, errors.New("launcher: environment is required")
	}
	if opts.Store == nil {
		return nil, errors.New("launcher: store is required")
	}
	if opts.Archiver == nil {
		return nil, errors.New("launcher: archiver is required")
	}
	if opts.Display == nil {
		opts.Display = display.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Launcher{
		env:      opts.Env,
		store:    opts.Store,
		archiver: opts.Archiver,
		display:  opts.Display,
		logger:   opts.Logger,
		excludes: append([]string(nil), opts.Excludes...),
	}, nil
}

// Launch packages, uploads and submits s. A study that already has a job id
// or is terminal is returned unchanged. Every attempt is persisted; a stage
// failure marks the study with_error and is returned as a *StageError.
func (l *Launcher) Launch(ctx context.Context, s study.Study) (study.Study, error) {
	if s.Submitted() || s.Terminal() {
		return s, nil
	}

	next, serr := l.launch(ctx, s)
	if serr != nil {
		next = next.Fail(failureMessage(serr))
		l.display.Error(fmt.Sprintf("%s: %s", s.Name, next.StatusMessage))
		l.logger.Warn("Launch failed",
			zap.String("study", s.Name), zap.String("stage", string(serr.Stage)), zap.Error(serr.Err))
	}

	if err := l.store.Save(ctx, next); err != nil {
		return next, stageErr(StagePersist, next, err)
	}
	if serr != nil {
		return next, serr
	}
	return next, nil
}

func (l *Launcher) launch(ctx context.Context, s study.Study) (study.Study, *StageError) {
	if !s.PackageUploaded {
		next, err := l.packageAndUpload(ctx, s)
		if err != nil {
			return next, err
		}
		s = next
	}

	jobID, err := l.env.Submit(ctx, s)
	if err != nil {
		if rmErr := l.env.RemovePackage(ctx, s); rmErr != nil {
			l.logger.Warn("Could not remove uploaded package after failed submission",
				zap.String("study", s.Name), zap.Error(rmErr))
		} else {
			s.PackageUploaded = false
			s.InputPackageRemovedRemotely = true
		}
		return s, stageErr(StageSubmit, s, err)
	}

	s.JobID = jobID
	s = s.RecomputeStatus()
	l.display.Message(fmt.Sprintf("%s submitted as job %d", s.Name, jobID))
	l.logger.Info("Study submitted", zap.String("study", s.Name), zap.Int64("job_id", jobID))
	return s, nil
}

// packageAndUpload zips the input directory and uploads it. The local
// archive is always removed once the upload has been attempted.
func (l *Launcher) packageAndUpload(ctx context.Context, s study.Study) (study.Study, *StageError) {
	if s.PackagePath == "" {
		return s, stageErr(StagePackage, s, errors.New("no package path"))
	}

	size, err := l.archiver.Pack(s.Path, s.PackagePath, l.excludes)
	if err != nil {
		_ = l.archiver.Remove(s.PackagePath)
		return s, stageErr(StagePackage, s, err)
	}
	l.display.Message(fmt.Sprintf("%s packaged (%s)", s.Name, humanize.Bytes(uint64(size))))

	uploadErr := l.env.UploadPackage(ctx, s)
	if err := l.archiver.Remove(s.PackagePath); err != nil {
		l.logger.Warn("Could not remove local package", zap.String("path", s.PackagePath), zap.Error(err))
	}
	if uploadErr != nil {
		if err := l.env.RemovePackage(ctx, s); err != nil {
			l.logger.Warn("Could not remove partial remote package", zap.String("study", s.Name), zap.Error(err))
		}
		return s, stageErr(StageUpload, s, uploadErr)
	}

	s.PackageUploaded = true
	s.InputPackageRemovedRemotely = false
	l.logger.Debug("Package uploaded", zap.String("study", s.Name), zap.Int64("bytes", size))
	return s, nil
}
