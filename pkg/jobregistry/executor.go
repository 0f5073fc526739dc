package jobregistry

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ManagedFlag is the hidden run flag carrying the driver id into the child.
const ManagedFlag = "--_managed-driver-id"

// DefaultStopGrace is how long Stop waits after SIGTERM before SIGKILL.
const DefaultStopGrace = 30 * time.Second

// Executor spawns and stops background drivers.
//
// A driver is a child process running
//
//	antares-launcher run --wait --_managed-driver-id <id> [run flags...]
//
// with stdout/stderr captured to per-driver log files.
type Executor struct {
	store *Store
	exe   string
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithExecutable replaces the binary spawned for drivers.
func WithExecutable(path string) ExecutorOption {
	return func(e *Executor) { e.exe = path }
}

func NewExecutor(root string, opts ...ExecutorOption) *Executor {
	e := &Executor{store: NewStore(root)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Store() *Store {
	return e.store
}

func (e *Executor) StdoutPath(driverID string) string {
	return filepath.Join(e.store.DriverDir(driverID), "stdout.log")
}

func (e *Executor) StderrPath(driverID string) string {
	return filepath.Join(e.store.DriverDir(driverID), "stderr.log")
}

// LogPath is the rotating structured log written by the driver itself.
func (e *Executor) LogPath(driverID string) string {
	return filepath.Join(e.store.DriverDir(driverID), "driver.log")
}

// StartOptions describes the driver to spawn.
type StartOptions struct {
	Name      string
	InputDir  string
	StoreFile string

	// Args are forwarded to the child after the managed flags.
	Args []string

	// Dedupe refuses to start when a running driver watches InputDir.
	Dedupe bool
}

// Start spawns a managed driver and returns once the child has started.
func (e *Executor) Start(opts StartOptions) (*DriverRecord, error) {
	if e == nil || e.store == nil {
		return nil, fmt.Errorf("executor is not initialized")
	}

	inputDir, err := filepath.Abs(strings.TrimSpace(opts.InputDir))
	if err != nil {
		return nil, fmt.Errorf("resolve input dir: %w", err)
	}
	if info, err := os.Stat(inputDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("input dir not found: %s", inputDir)
	}

	if opts.Dedupe {
		existing, _ := e.store.List()
		for _, d := range existing {
			if d.InputDir == inputDir && d.State == DriverStateRunning {
				return nil, fmt.Errorf("duplicate running driver exists: %s", d.DriverID)
			}
		}
	}

	exe := e.exe
	if exe == "" {
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
	}

	driverID := uuid.New().String()
	if err := os.MkdirAll(e.store.DriverDir(driverID), 0755); err != nil {
		return nil, fmt.Errorf("create driver dir: %w", err)
	}

	stdoutFile, err := os.Create(e.StdoutPath(driverID))
	if err != nil {
		return nil, fmt.Errorf("create stdout log: %w", err)
	}
	defer func() { _ = stdoutFile.Close() }()
	stderrFile, err := os.Create(e.StderrPath(driverID))
	if err != nil {
		return nil, fmt.Errorf("create stderr log: %w", err)
	}
	defer func() { _ = stderrFile.Close() }()

	args := append([]string{"run", "--wait", ManagedFlag, driverID}, opts.Args...)
	cmd := exec.Command(exe, args...)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Written before the child starts so its first heartbeat finds the record.
	now := time.Now().UTC()
	rec := &DriverRecord{
		DriverID:   driverID,
		Name:       strings.TrimSpace(opts.Name),
		State:      DriverStateRunning,
		InputDir:   inputDir,
		StoreFile:  opts.StoreFile,
		Args:       append([]string(nil), opts.Args...),
		CreatedAt:  now,
		StdoutPath: e.StdoutPath(driverID),
		StderrPath: e.StderrPath(driverID),
		LogPath:    e.LogPath(driverID),
	}
	if err := e.store.Write(rec); err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		_ = e.store.Finish(driverID, DriverStateFailed, err)
		return nil, fmt.Errorf("start managed driver: %w", err)
	}

	rec.PID = cmd.Process.Pid
	rec.StartedAt = &now
	rec.LastHeartbeat = &now
	if err := e.store.Write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// StopResult reports what Stop did.
type StopResult struct {
	Signal string
	Forced bool
}

func (r StopResult) String() string {
	if r.Forced {
		return "sent=" + r.Signal + ";forced=kill"
	}
	return "sent=" + r.Signal
}

// Stop signals a running driver. With force it sends SIGKILL right away;
// otherwise SIGTERM, then SIGKILL once grace has elapsed.
func (e *Executor) Stop(driverID string, force bool, grace time.Duration) (StopResult, error) {
	rec, err := e.store.Get(driverID)
	if err != nil {
		return StopResult{}, err
	}
	if rec.PID <= 0 {
		return StopResult{}, fmt.Errorf("driver has no pid recorded")
	}
	if rec.State != DriverStateRunning {
		return StopResult{}, fmt.Errorf("driver is not running (state=%s)", rec.State)
	}
	if grace <= 0 {
		grace = DefaultStopGrace
	}

	proc, err := os.FindProcess(rec.PID)
	if err != nil {
		return StopResult{}, fmt.Errorf("find process: %w", err)
	}

	sig, name := syscall.SIGTERM, "term"
	if force {
		sig, name = syscall.SIGKILL, "kill"
	}

	now := time.Now().UTC()
	rec.State = DriverStateStopping
	rec.LastHeartbeat = &now
	_ = e.store.Write(rec)

	if err := proc.Signal(sig); err != nil {
		return StopResult{}, fmt.Errorf("signal %s: %w", name, err)
	}

	res := StopResult{Signal: name}
	if !force {
		deadline := time.Now().Add(grace)
		for isProcessAlive(rec.PID) && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
		if isProcessAlive(rec.PID) {
			_ = proc.Signal(syscall.SIGKILL)
			res.Forced = true
		}
	}

	now = time.Now().UTC()
	rec.State = DriverStateStopped
	rec.EndedAt = &now
	rec.LastHeartbeat = &now
	_ = e.store.Write(rec)
	return res, nil
}
