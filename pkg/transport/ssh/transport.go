// Package ssh implements transport.Transport over an SSH connection, using
// SFTP for file exchange.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	gossh "golang.org/x/crypto/ssh"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/transport"
)

// Transport is an SSH + SFTP connection to the login node.
type Transport struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	client *gossh.Client
	sftp   *sftp.Client
	home   string
}

// Dial connects and resolves the remote home directory.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KnownHostsFile == "" {
		logger.Warn("SSH host key verification disabled (no known_hosts file configured)",
			zap.String("host", cfg.Host))
	}

	t := &Transport{cfg: cfg, logger: logger}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transport) connect(ctx context.Context) error {
	cc, err := t.cfg.clientConfig()
	if err != nil {
		return &transport.Error{Op: "connect", Err: err}
	}

	addr := t.cfg.Addr()
	d := net.Dialer{Timeout: cc.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &transport.Error{Op: "connect", Path: addr, Err: err}
	}

	c, chans, reqs, err := gossh.NewClientConn(conn, addr, cc)
	if err != nil {
		_ = conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			err = fmt.Errorf("%w: %v", transport.ErrAuth, err)
		}
		return &transport.Error{Op: "connect", Path: addr, Err: err}
	}
	client := gossh.NewClient(c, chans, reqs)

	sc, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return &transport.Error{Op: "sftp", Path: addr, Err: err}
	}

	home, err := sc.Getwd()
	if err != nil {
		_ = sc.Close()
		_ = client.Close()
		return &transport.Error{Op: "home", Err: err}
	}

	t.mu.Lock()
	t.client = client
	t.sftp = sc
	t.home = home
	t.mu.Unlock()

	t.logger.Debug("SSH connection established", zap.String("addr", addr), zap.String("home", home))
	return nil
}

func (t *Transport) clients() (*gossh.Client, *sftp.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil || t.sftp == nil {
		return nil, nil, transport.ErrNotConnected
	}
	return t.client, t.sftp, nil
}

// reconnect drops the current connection and dials again once.
func (t *Transport) reconnect(ctx context.Context) error {
	t.logger.Warn("SSH connection lost, reconnecting", zap.String("host", t.cfg.Host))
	_ = t.Close()
	return t.connect(ctx)
}

// HomeDir returns the remote home directory.
func (t *Transport) HomeDir() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.home
}

// Execute runs command in a fresh session.
func (t *Transport) Execute(ctx context.Context, command string) (transport.Result, error) {
	client, _, err := t.clients()
	if err != nil {
		return transport.Result{}, &transport.Error{Op: "execute", Err: err}
	}

	session, err := client.NewSession()
	if err != nil {
		if rerr := t.reconnect(ctx); rerr != nil {
			return transport.Result{}, &transport.Error{Op: "execute", Err: errors.Join(err, rerr)}
		}
		client, _, err = t.clients()
		if err != nil {
			return transport.Result{}, &transport.Error{Op: "execute", Err: err}
		}
		session, err = client.NewSession()
		if err != nil {
			return transport.Result{}, &transport.Error{Op: "execute", Err: err}
		}
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Close()
		return transport.Result{}, &transport.Error{Op: "execute", Err: ctx.Err()}
	case runErr = <-done:
	}

	res := transport.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr != nil {
		var exitErr *gossh.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, &transport.Error{Op: "execute", Err: runErr}
	}
	return res, nil
}

// Upload copies localPath to remotePath. A partially written remote file is
// removed on failure.
func (t *Transport) Upload(ctx context.Context, localPath, remotePath string) error {
	_, sc, err := t.clients()
	if err != nil {
		return &transport.Error{Op: "upload", Path: remotePath, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &transport.Error{Op: "upload", Path: remotePath, Err: err}
	}

	src, err := os.Open(localPath)
	if err != nil {
		return &transport.Error{Op: "upload", Path: remotePath, Err: err}
	}
	defer func() { _ = src.Close() }()

	dst, err := sc.Create(remotePath)
	if err != nil {
		return &transport.Error{Op: "upload", Path: remotePath, Err: err}
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = sc.Remove(remotePath)
		return &transport.Error{Op: "upload", Path: remotePath, Err: err}
	}
	if err := dst.Close(); err != nil {
		_ = sc.Remove(remotePath)
		return &transport.Error{Op: "upload", Path: remotePath, Err: err}
	}
	return nil
}

// DownloadMatching copies matching files of remoteDir into localDir.
func (t *Transport) DownloadMatching(ctx context.Context, remoteDir, localDir string, patterns []string, remove bool) ([]string, error) {
	if err := transport.ValidatePatterns(patterns); err != nil {
		return nil, err
	}
	_, sc, err := t.clients()
	if err != nil {
		return nil, &transport.Error{Op: "download", Path: remoteDir, Err: err}
	}

	entries, err := sc.ReadDir(remoteDir)
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
		if !entry.Mode().IsRegular() || !transport.MatchAny(patterns, entry.Name()) {
			continue
		}

		remotePath := path.Join(remoteDir, entry.Name())
		localPath := filepath.Join(localDir, entry.Name())
		if err := t.fetch(sc, remotePath, localPath); err != nil {
			errs = append(errs, &transport.Error{Op: "download", Path: remotePath, Err: err})
			continue
		}
		got = append(got, localPath)

		if remove {
			if err := sc.Remove(remotePath); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, &transport.Error{Op: "remove", Path: remotePath, Err: err})
			}
		}
	}
	return got, errors.Join(errs...)
}

// fetch writes remotePath to localPath through a temp file + rename.
func (t *Transport) fetch(sc *sftp.Client, remotePath, localPath string) error {
	src, err := sc.Open(remotePath)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".part.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, localPath)
}

// IsDir reports whether remotePath is a directory.
func (t *Transport) IsDir(ctx context.Context, remotePath string) (bool, error) {
	_, sc, err := t.clients()
	if err != nil {
		return false, &transport.Error{Op: "stat", Path: remotePath, Err: err}
	}
	fi, err := sc.Stat(remotePath)
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
	_, sc, err := t.clients()
	if err != nil {
		return false, &transport.Error{Op: "stat", Path: remotePath, Err: err}
	}
	fi, err := sc.Stat(remotePath)
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
	_, sc, err := t.clients()
	if err != nil {
		return &transport.Error{Op: "mkdir", Path: remotePath, Err: err}
	}
	if err := sc.MkdirAll(remotePath); err != nil {
		return &transport.Error{Op: "mkdir", Path: remotePath, Err: err}
	}
	return nil
}

// RemoveFile deletes remotePath; a missing file is not an error.
func (t *Transport) RemoveFile(ctx context.Context, remotePath string) error {
	_, sc, err := t.clients()
	if err != nil {
		return &transport.Error{Op: "remove", Path: remotePath, Err: err}
	}
	if err := sc.Remove(remotePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &transport.Error{Op: "remove", Path: remotePath, Err: err}
	}
	return nil
}

// Close tears down the SFTP session and the SSH connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if t.sftp != nil {
		if err := t.sftp.Close(); err != nil {
			errs = append(errs, err)
		}
		t.sftp = nil
	}
	if t.client != nil {
		if err := t.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		t.client = nil
	}
	return errors.Join(errs...)
}

var _ transport.Transport = (*Transport)(nil)
