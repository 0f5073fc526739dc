package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for transport operations.
var (
	// ErrNotFound indicates the remote path does not exist.
	ErrNotFound = errors.New("remote path not found")

	// ErrNotConnected indicates the connection is closed or was never opened.
	ErrNotConnected = errors.New("transport not connected")

	// ErrAuth indicates the remote host rejected the credentials.
	ErrAuth = errors.New("authentication failed")
)

// Error wraps a transport failure with the operation and path.
type Error struct {
	// Op is the operation that failed (e.g. "upload", "execute").
	Op string

	// Path is the remote path, if applicable.
	Path string

	Err error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// PatternError reports a malformed glob pattern.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q", e.Pattern)
}

// IsNotFound returns true if the error indicates a missing remote path.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAuth returns true if the error indicates rejected credentials.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}
