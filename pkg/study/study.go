// Package study defines the job record tracked by the launcher.
//
// A Study is one unit of work bound to one input directory and, once
// submitted, to one job on the remote scheduler. Records are plain values:
// every pipeline stage receives a Study and returns an updated copy.
package study

import (
	"fmt"
	"path/filepath"
	"time"
)

// Status messages recomputed from the lifecycle flags.
const (
	StatusPending      = "Pending"
	StatusRunning      = "Running"
	StatusFinished     = "Finished"
	StatusEndedInError = "Ended with error"
	StatusNotSubmitted = "Job was NOT submitted"
)

// Study is the persistent job record.
//
// NOTE: field names double as column names in the record store; additions
// must stay backward compatible.
type Study struct {
	// Name is the identity (the input directory basename). Unique and stable.
	Name string `json:"name"`

	// Path is the absolute path of the input directory.
	Path string `json:"path"`

	Started   bool `json:"started"`
	Finished  bool `json:"finished"`
	Done      bool `json:"done"`
	WithError bool `json:"with_error"`

	// JobID is the scheduler handle. Zero means not submitted.
	JobID int64 `json:"job_id,omitempty"`

	// Stage gates.
	PackageUploaded             bool `json:"package_uploaded"`
	InputPackageRemovedRemotely bool `json:"input_package_removed_remotely"`
	LogsDownloaded              bool `json:"logs_downloaded"`
	RemoteSideCleaned           bool `json:"remote_side_cleaned"`
	ResultUnpacked              bool `json:"result_unpacked"`
	ResultPublished             bool `json:"result_published"`

	// Stage data.
	PackagePath string `json:"package_path,omitempty"`
	ResultPath  string `json:"result_path,omitempty"`
	LogDir      string `json:"log_dir,omitempty"`
	OutputDir   string `json:"output_dir,omitempty"`

	// Run configuration.
	CPUs           int           `json:"cpus"`
	TimeLimit      time.Duration `json:"time_limit"`
	SolverVersion  string        `json:"solver_version"`
	Mode           Mode          `json:"mode"`
	OtherOptions   string        `json:"other_options,omitempty"`
	PostProcessing bool          `json:"post_processing"`

	StatusMessage string `json:"status_message"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Submitted reports whether the scheduler assigned a handle.
func (s Study) Submitted() bool {
	return s.JobID > 0
}

// Terminal reports whether no pipeline stage may touch the record anymore.
func (s Study) Terminal() bool {
	return s.Done || s.WithError
}

// HasResult reports whether a local result archive path was recorded.
func (s Study) HasResult() bool {
	return s.ResultPath != ""
}

// State returns the lifecycle observation currently held by the record.
func (s Study) State() State {
	return State{Started: s.Started, Finished: s.Finished, WithError: s.WithError}
}

// Merge applies a scheduler observation. WithError is sticky.
func (s Study) Merge(st State) Study {
	s.Started = st.Started
	s.Finished = st.Finished
	s.WithError = s.WithError || st.WithError
	return s.RecomputeStatus()
}

// RecomputeStatus derives StatusMessage from the lifecycle flags.
func (s Study) RecomputeStatus() Study {
	switch {
	case s.WithError:
		s.StatusMessage = StatusEndedInError
	case s.Finished:
		s.StatusMessage = StatusFinished
	case s.Started:
		s.StatusMessage = StatusRunning
	default:
		s.StatusMessage = StatusPending
	}
	return s
}

// Fail marks the record as failed with the given message.
func (s Study) Fail(message string) Study {
	s.WithError = true
	s.StatusMessage = message
	return s
}

// InternalError marks the record as failed after an unexpected condition.
func (s Study) InternalError(cause any) Study {
	return s.Fail(fmt.Sprintf("Internal error: %v", cause))
}

// RecomputeDone sets Done from the error flag and the stage gates.
// requirePublish adds ResultPublished to the gates.
func (s Study) RecomputeDone(requirePublish bool) Study {
	complete := s.LogsDownloaded && s.HasResult() && s.RemoteSideCleaned && s.ResultUnpacked
	if requirePublish {
		complete = complete && s.ResultPublished
	}
	s.Done = s.WithError || complete
	return s
}

// LogDirName is the job specific log sub-directory name.
func (s Study) LogDirName() string {
	return fmt.Sprintf("%s_%d", s.Name, s.JobID)
}

// JobLogDir is where the job's log files are downloaded.
func (s Study) JobLogDir() string {
	return filepath.Join(s.LogDir, s.LogDirName())
}
