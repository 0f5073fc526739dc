// Package remote translates job lifecycle operations into scheduler
// commands run over a transport.Transport.
//
// All file exchange happens in one per-user, per-host working directory
// under the remote home (REMOTE_<user>_<host>). File names carry the study
// name and job id so that concurrent jobs never collide.
package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/transport"
)

// Defaults for status polling.
const (
	DefaultPollAttempts = 5
	DefaultPollDelay    = time.Second
)

// Settings configures an Environment.
type Settings struct {
	// LaunchScript is the remote script wrapped by sbatch. Relative paths are
	// resolved against the remote home.
	LaunchScript string

	Partition string
	QoS       string

	// QueueUser filters the "show queue" listing.
	QueueUser string

	// PollAttempts bounds retries on empty status responses (default 5).
	PollAttempts int

	// PollDelay is the fixed delay between empty status responses. Zero
	// retries immediately; a negative value selects DefaultPollDelay.
	PollDelay time.Duration

	// PollLimiter throttles status queries shared by concurrent workers.
	PollLimiter *rate.Limiter

	// LocalUser and LocalHost name the working directory. They default to
	// the current OS user and hostname.
	LocalUser string
	LocalHost string

	Logger *zap.Logger
}

// Environment is a connected remote scheduler endpoint.
type Environment struct {
	tr           transport.Transport
	settings     Settings
	logger       *zap.Logger
	workDir      string
	launchScript string
}

// New checks the startup preconditions and returns a ready Environment.
// Any failure wraps ErrStartup and must abort the run.
func New(ctx context.Context, tr transport.Transport, settings Settings) (*Environment, error) {
	if tr == nil {
		return nil, fmt.Errorf("%w: transport is nil", ErrStartup)
	}
	if strings.TrimSpace(settings.LaunchScript) == "" {
		return nil, fmt.Errorf("%w: launch script is not configured", ErrStartup)
	}
	if settings.PollAttempts <= 0 {
		settings.PollAttempts = DefaultPollAttempts
	}
	if settings.PollDelay < 0 {
		settings.PollDelay = DefaultPollDelay
	}
	if settings.LocalUser == "" {
		settings.LocalUser = currentUser()
	}
	if settings.LocalHost == "" {
		settings.LocalHost = currentHost()
	}
	logger := settings.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	home := tr.HomeDir()
	if home == "" {
		return nil, fmt.Errorf("%w: remote home directory is unknown", ErrStartup)
	}

	e := &Environment{
		tr:           tr,
		settings:     settings,
		logger:       logger,
		workDir:      transport.Join(home, WorkDirName(settings.LocalUser, settings.LocalHost)),
		launchScript: settings.LaunchScript,
	}
	if !strings.HasPrefix(e.launchScript, "/") {
		e.launchScript = transport.Join(home, e.launchScript)
	}

	if err := e.ensureWorkDir(ctx); err != nil {
		return nil, err
	}
	if err := e.checkLaunchScript(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// WorkDirName is the remote working directory name for a local user/host.
func WorkDirName(localUser, localHost string) string {
	return fmt.Sprintf("REMOTE_%s_%s", localUser, localHost)
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		// Windows usernames come as DOMAIN\user.
		if i := strings.LastIndex(u.Username, `\`); i >= 0 {
			return u.Username[i+1:]
		}
		return u.Username
	}
	if v := os.Getenv("USER"); v != "" {
		return v
	}
	return "unknown"
}

func currentHost() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "localhost"
}

func (e *Environment) ensureWorkDir(ctx context.Context) error {
	ok, err := e.tr.IsDir(ctx, e.workDir)
	if err == nil && ok {
		return nil
	}
	if err := e.tr.MakeDir(ctx, e.workDir); err != nil {
		return fmt.Errorf("%w: create remote working directory %s: %v", ErrStartup, e.workDir, err)
	}
	if ok, err := e.tr.IsDir(ctx, e.workDir); err != nil || !ok {
		return fmt.Errorf("%w: remote working directory %s is not available", ErrStartup, e.workDir)
	}
	return nil
}

func (e *Environment) checkLaunchScript(ctx context.Context) error {
	ok, err := e.tr.FileNonEmpty(ctx, e.launchScript)
	if err != nil {
		return fmt.Errorf("%w: check launch script %s: %v", ErrStartup, e.launchScript, err)
	}
	if !ok {
		return fmt.Errorf("%w: launch script %s is missing or empty", ErrStartup, e.launchScript)
	}
	return nil
}

// LocalUser is the local account name used for naming remote artifacts.
func (e *Environment) LocalUser() string {
	return e.settings.LocalUser
}

// WorkDir is the remote working directory.
func (e *Environment) WorkDir() string {
	return e.workDir
}

// LaunchScript is the resolved remote launch script path.
func (e *Environment) LaunchScript() string {
	return e.launchScript
}

// Submit sends the job to the scheduler and returns its id.
func (e *Environment) Submit(ctx context.Context, s study.Study) (int64, error) {
	command := e.SubmitCommand(s)
	e.logger.Debug("Submitting job", zap.String("study", s.Name), zap.String("command", command))

	res, err := e.tr.Execute(ctx, command)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSubmit, err)
	}
	id, ok := ParseSubmitted(res.Stdout)
	if !ok {
		return 0, &CommandError{Command: command, ExitCode: res.ExitCode, Stderr: strings.TrimSpace(res.Stderr), Err: ErrSubmit}
	}
	return id, nil
}

// PollState queries the accounting status of jobID. Empty responses are
// retried with a fixed delay.
func (e *Environment) PollState(ctx context.Context, jobID int64) (string, error) {
	command := e.pollCommand(jobID)

	for attempt := 1; attempt <= e.settings.PollAttempts; attempt++ {
		if e.settings.PollLimiter != nil {
			if err := e.settings.PollLimiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("%w: %v", ErrPollTransport, err)
			}
		}

		res, err := e.tr.Execute(ctx, command)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrPollTransport, err)
		}
		if status := ParseState(res.Stdout); status != "" {
			return status, nil
		}

		e.logger.Debug("Empty job status, retrying",
			zap.Int64("job_id", jobID), zap.Int("attempt", attempt))
		if attempt < e.settings.PollAttempts && e.settings.PollDelay > 0 {
			if err := sleep(ctx, e.settings.PollDelay); err != nil {
				return "", fmt.Errorf("%w: %v", ErrPollTransport, err)
			}
		}
	}
	return "", fmt.Errorf("%w: job %d after %d attempts", ErrEmptyStatus, jobID, e.settings.PollAttempts)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DeriveFlags maps a raw status to lifecycle flags.
func (e *Environment) DeriveFlags(raw string) study.State {
	return DeriveFlags(raw)
}

// Kill cancels jobID. Unknown ids are not distinguished from success.
func (e *Environment) Kill(ctx context.Context, jobID int64) error {
	command := e.killCommand(jobID)
	res, err := e.tr.Execute(ctx, command)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKill, err)
	}
	if res.ExitCode != 0 {
		e.logger.Debug("Cancellation command exited non-zero",
			zap.Int64("job_id", jobID), zap.Int("exit_code", res.ExitCode), zap.String("stderr", strings.TrimSpace(res.Stderr)))
	}
	return nil
}

// Queue returns the scheduler queue listing.
func (e *Environment) Queue(ctx context.Context) (string, error) {
	command := e.queueCommand()
	res, err := e.tr.Execute(ctx, command)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", &CommandError{Command: command, ExitCode: res.ExitCode, Stderr: strings.TrimSpace(res.Stderr), Err: errors.New("queue listing failed")}
	}
	return res.Stdout, nil
}

func packageName(s study.Study) string {
	return filepath.Base(s.PackagePath)
}

// RemotePackagePath is where the input package lives on the remote side.
func (e *Environment) RemotePackagePath(s study.Study) string {
	return transport.Join(e.workDir, packageName(s))
}

// UploadPackage copies the local input package to the working directory.
func (e *Environment) UploadPackage(ctx context.Context, s study.Study) error {
	if s.PackagePath == "" {
		return errors.New("study has no package path")
	}
	return e.tr.Upload(ctx, s.PackagePath, e.RemotePackagePath(s))
}

// RemovePackage deletes the uploaded input package.
func (e *Environment) RemovePackage(ctx context.Context, s study.Study) error {
	return e.tr.RemoveFile(ctx, e.RemotePackagePath(s))
}

// LogPatterns match the log files of s.
func LogPatterns(s study.Study) []string {
	return []string{fmt.Sprintf("*%s_%d.{txt,out,err}", transport.EscapePattern(s.Name), s.JobID)}
}

// ResultPatterns match the result archive of s.
func ResultPatterns(s study.Study) []string {
	return []string{fmt.Sprintf("finished_*%s_%d.zip", transport.EscapePattern(s.Name), s.JobID)}
}

// DownloadLogs fetches the job's log files into s.JobLogDir().
func (e *Environment) DownloadLogs(ctx context.Context, s study.Study) ([]string, error) {
	return e.tr.DownloadMatching(ctx, e.workDir, s.JobLogDir(), LogPatterns(s), false)
}

// DownloadResult fetches the result archive into s.OutputDir and returns
// its local path.
func (e *Environment) DownloadResult(ctx context.Context, s study.Study) (string, error) {
	paths, err := e.tr.DownloadMatching(ctx, e.workDir, s.OutputDir, ResultPatterns(s), false)
	if len(paths) == 0 {
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoResult, err)
		}
		return "", fmt.Errorf("%w: study %s job %d", ErrNoResult, s.Name, s.JobID)
	}
	sort.Strings(paths)
	if err != nil {
		e.logger.Warn("Some result archives could not be downloaded",
			zap.String("study", s.Name), zap.Strings("downloaded", paths), zap.Error(err))
	}
	if len(paths) > 1 {
		e.logger.Warn("Several result archives matched, keeping the first",
			zap.String("study", s.Name), zap.Strings("paths", paths))
	}
	return paths[0], nil
}

// Cleanup removes the input package and the result archive from the
// working directory. Both removals are attempted; both must succeed.
func (e *Environment) Cleanup(ctx context.Context, s study.Study) error {
	var errs []error
	if err := e.RemovePackage(ctx, s); err != nil {
		errs = append(errs, err)
	}
	if s.ResultPath != "" {
		remoteResult := transport.Join(e.workDir, filepath.Base(s.ResultPath))
		if err := e.tr.RemoveFile(ctx, remoteResult); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
