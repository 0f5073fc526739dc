// Package local implements transport.Transport against the local machine.
//
// It is used when the launcher runs directly on the cluster login node: the
// "remote" home is a local directory and commands run through sh.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/otiai10/copy"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/transport"
)

// Transport runs commands and copies files on the local host.
type Transport struct {
	home  string
	shell string
}

// Option customizes a Transport.
type Option func(*Transport)

// WithShell overrides the shell used by Execute (default "sh").
func WithShell(shell string) Option {
	return func(t *Transport) { t.shell = shell }
}

// New returns a Transport rooted at home. An empty home resolves to the
// current user's home directory.
func New(home string, opts ...Option) (*Transport, error) {
	home = strings.TrimSpace(home)
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		home = h
	}
	abs, err := filepath.Abs(home)
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	t := &Transport{home: abs, shell: "sh"}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// HomeDir returns the directory acting as remote home.
func (t *Transport) HomeDir() string {
	return t.home
}

// Execute runs command with "<shell> -c" from the home directory.
func (t *Transport) Execute(ctx context.Context, command string) (transport.Result, error) {
	cmd := exec.CommandContext(ctx, t.shell, "-c", command) // #nosec G204 -- commands are composed by the launcher
	cmd.Dir = t.home

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := transport.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, &transport.Error{Op: "execute", Err: err}
	}
	return res, nil
}

// Upload copies localPath to remotePath.
func (t *Transport) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return &transport.Error{Op: "upload", Path: remotePath, Err: err}
	}
	if err := copy.Copy(localPath, remotePath); err != nil {
		_ = os.Remove(remotePath)
		return &transport.Error{Op: "upload", Path: remotePath, Err: err}
	}
	return nil
}

// DownloadMatching copies matching files of remoteDir into localDir.
func (t *Transport) DownloadMatching(ctx context.Context, remoteDir, localDir string, patterns []string, remove bool) ([]string, error) {
	if err := transport.ValidatePatterns(patterns); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(remoteDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = transport.ErrNotFound
		}
		return nil, &transport.Error{Op: "download", Path: remoteDir, Err: err}
	}

	var got []string
	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if !entry.Type().IsRegular() || !transport.MatchAny(patterns, entry.Name()) {
			continue
		}

		src := filepath.Join(remoteDir, entry.Name())
		dst := filepath.Join(localDir, entry.Name())
		if err := copy.Copy(src, dst); err != nil {
			errs = append(errs, &transport.Error{Op: "download", Path: src, Err: err})
			continue
		}
		got = append(got, dst)

		if remove {
			if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, &transport.Error{Op: "remove", Path: src, Err: err})
			}
		}
	}
	return got, errors.Join(errs...)
}

// IsDir reports whether remotePath is a directory.
func (t *Transport) IsDir(ctx context.Context, remotePath string) (bool, error) {
	fi, err := os.Stat(remotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, &transport.Error{Op: "stat", Path: remotePath, Err: err}
	}
	return fi.IsDir(), nil
}

// FileNonEmpty reports whether remotePath is a regular file with content.
func (t *Transport) FileNonEmpty(ctx context.Context, remotePath string) (bool, error) {
	fi, err := os.Stat(remotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, &transport.Error{Op: "stat", Path: remotePath, Err: err}
	}
	return fi.Mode().IsRegular() && fi.Size() > 0, nil
}

// MakeDir creates remotePath and any missing parents.
func (t *Transport) MakeDir(ctx context.Context, remotePath string) error {
	// #nosec G301 -- scratch directories follow the login node umask
	if err := os.MkdirAll(remotePath, 0755); err != nil {
		return &transport.Error{Op: "mkdir", Path: remotePath, Err: err}
	}
	return nil
}

// RemoveFile deletes remotePath; a missing file is not an error.
func (t *Transport) RemoveFile(ctx context.Context, remotePath string) error {
	if err := os.Remove(remotePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &transport.Error{Op: "remove", Path: remotePath, Err: err}
	}
	return nil
}

// Close is a no-op.
func (t *Transport) Close() error {
	return nil
}

var _ transport.Transport = (*Transport)(nil)
