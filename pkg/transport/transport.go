// Package transport defines the remote connection capability used by the
// launcher: command execution and file exchange with the cluster login node.
//
// Implementations live in sub-packages (ssh, local). Callers depend only on
// the Transport interface.
package transport

import (
	"context"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Result is the captured outcome of a remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Transport reaches the remote host.
//
// Paths on the remote side always use forward slashes. Implementations must
// be safe for concurrent use.
type Transport interface {
	// Execute runs command through the remote shell. A non-zero exit status is
	// reported in Result.ExitCode, not as an error.
	Execute(ctx context.Context, command string) (Result, error)

	// Upload copies a local file to remotePath.
	Upload(ctx context.Context, localPath, remotePath string) error

	// DownloadMatching copies every file of remoteDir whose basename matches
	// one of patterns into localDir and returns the local paths. Existing local
	// copies are overwritten. When remove is set the remote file is deleted
	// after a successful copy.
	DownloadMatching(ctx context.Context, remoteDir, localDir string, patterns []string, remove bool) ([]string, error)

	// IsDir reports whether remotePath exists and is a directory.
	IsDir(ctx context.Context, remotePath string) (bool, error)

	// FileNonEmpty reports whether remotePath is a regular file with content.
	FileNonEmpty(ctx context.Context, remotePath string) (bool, error)

	// MakeDir creates remotePath and its parents.
	MakeDir(ctx context.Context, remotePath string) error

	// RemoveFile deletes remotePath. Removing an absent file succeeds.
	RemoveFile(ctx context.Context, remotePath string) error

	// HomeDir is the remote user's home directory.
	HomeDir() string

	Close() error
}

// MatchAny reports whether name matches at least one doublestar pattern.
// Invalid patterns never match.
func MatchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// ValidatePatterns returns a PatternError for the first malformed pattern.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return &PatternError{Pattern: p}
		}
	}
	return nil
}

// EscapePattern quotes glob metacharacters so s matches literally.
func EscapePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Join joins remote path elements with forward slashes.
func Join(elem ...string) string {
	return path.Join(elem...)
}
