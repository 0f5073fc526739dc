// Package resultsink publishes downloaded result archives to durable storage.
package resultsink

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"strings"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
)

var (
	// ErrNoResult is returned when the study has no local result archive.
	ErrNoResult = errors.New("study has no result archive")

	// ErrAccessDenied is returned when the sink rejects the credentials.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound is returned when the destination does not exist.
	ErrBucketNotFound = errors.New("bucket not found")
)

// Publisher copies a study's result archive and returns its location.
type Publisher interface {
	Publish(ctx context.Context, s study.Study) (string, error)
}

// Key is the object key of a study's result archive under prefix:
// <prefix>/<study name>/<archive basename>.
func Key(prefix string, s study.Study) string {
	prefix = strings.Trim(prefix, "/")
	return path.Join(prefix, s.Name, filepath.Base(s.ResultPath))
}

// PublishError wraps a sink failure.
type PublishError struct {
	Op    string
	Study string
	Key   string
	Err   error
}

func (e *PublishError) Error() string {
	msg := "resultsink " + e.Op
	if e.Study != "" {
		msg += " " + e.Study
	}
	if e.Key != "" {
		msg += " (" + e.Key + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
