package remote

import (
	"errors"
	"fmt"
)

var (
	// ErrStartup marks a failed startup precondition. The whole run aborts.
	ErrStartup = errors.New("remote environment startup failed")

	// ErrSubmit indicates the scheduler did not accept the job.
	ErrSubmit = errors.New("job submission failed")

	// ErrEmptyStatus indicates the accounting query kept returning nothing.
	ErrEmptyStatus = errors.New("empty job status")

	// ErrPollTransport indicates the accounting query could not be run.
	ErrPollTransport = errors.New("job status query failed")

	// ErrKill indicates the cancel command failed.
	ErrKill = errors.New("job cancellation failed")

	// ErrNoResult indicates no result archive matched on the remote side.
	ErrNoResult = errors.New("no result archive found")
)

// CommandError carries the remote command and its captured output.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%v: %q exited %d: %s", e.Err, e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%v: %q exited %d", e.Err, e.Command, e.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
