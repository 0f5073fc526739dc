// Package pipeline implements the launch and retrieve pipelines.
//
// Both pipelines work on study values: every stage takes a study.Study and
// returns the updated copy together with an error value. The record-level
// loop turns stage errors into the with_error transition and persists the
// result; no stage error escapes it.
package pipeline

import (
	"context"
	"fmt"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
)

// Environment is the remote capability used by the pipelines.
type Environment interface {
	UploadPackage(ctx context.Context, s study.Study) error
	RemovePackage(ctx context.Context, s study.Study) error
	Submit(ctx context.Context, s study.Study) (int64, error)
	PollState(ctx context.Context, jobID int64) (string, error)
	DeriveFlags(raw string) study.State
	DownloadLogs(ctx context.Context, s study.Study) ([]string, error)
	DownloadResult(ctx context.Context, s study.Study) (string, error)
	Cleanup(ctx context.Context, s study.Study) error
}

// Archiver packs, extracts and manages local directories.
type Archiver interface {
	Pack(srcDir, dstZip string, excludes []string) (int64, error)
	Extract(zipPath string) (string, error)
	MakeDir(dir string) error
	Remove(name string) error
}

// Publisher copies a finished result somewhere durable. Optional.
type Publisher interface {
	Publish(ctx context.Context, s study.Study) (string, error)
}

// Stage names a pipeline step.
type Stage string

const (
	StagePackage Stage = "package"
	StageUpload  Stage = "upload"
	StageSubmit  Stage = "submit"
	StageState   Stage = "state"
	StageLogs    Stage = "logs"
	StageResult  Stage = "result"
	StageCleanup Stage = "cleanup"
	StageExtract Stage = "extract"
	StagePublish Stage = "publish"
	StagePersist Stage = "persist"
)

// StageError reports the failure of one stage for one study.
type StageError struct {
	Stage Stage
	Study string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("study %s: %s: %v", e.Study, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, s study.Study, err error) *StageError {
	return &StageError{Stage: stage, Study: s.Name, Err: err}
}

// failureMessages are the status messages for escalated stage failures.
var failureMessages = map[Stage]string{
	StagePackage: "Packaging failed",
	StageUpload:  "Upload failed",
	StageSubmit:  "Submission failed",
	StageState:   "Status update failed",
	StageLogs:    "Log download failed",
	StageResult:  "Result download failed",
	StageExtract: "Result extraction failed",
}

func failureMessage(e *StageError) string {
	prefix, ok := failureMessages[e.Stage]
	if !ok {
		prefix = "Stage " + string(e.Stage) + " failed"
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}
