package remote

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
)

// ShellQuote wraps s in single quotes for a POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// TimeLimitMinutes converts a time limit to whole scheduler minutes,
// rounding up, with a minimum of one minute.
func TimeLimitMinutes(d time.Duration) int {
	minutes := int(math.Ceil(d.Seconds() / 60))
	if minutes < 1 {
		return 1
	}
	return minutes
}

var submittedPattern = regexp.MustCompile(`Submitted(?:\s+batch\s+job)?\s+(\d+)`)

// ParseSubmitted extracts the job id from sbatch output.
func ParseSubmitted(stdout string) (int64, bool) {
	m := submittedPattern.FindStringSubmatch(stdout)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ParseState returns the first status token of an accounting response.
// sacct marks truncated values with a trailing "+".
func ParseState(stdout string) string {
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		return strings.TrimRight(fields[0], "+")
	}
	return ""
}

// DeriveFlags maps a raw scheduler status to a lifecycle observation.
// Unrecognized statuses are treated as pending.
func DeriveFlags(raw string) study.State {
	status := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case status == "RUNNING":
		return study.StateRunning
	case status == "COMPLETED":
		return study.StateCompleted
	case strings.HasPrefix(status, "CANCELLED"), status == "TIMEOUT", status == "FAILED":
		return study.StateFailed
	default:
		return study.StatePending
	}
}

// SubmitCommand composes the sbatch invocation for s.
func (e *Environment) SubmitCommand(s study.Study) string {
	parts := []string{
		"sbatch",
		"--job-name=" + ShellQuote(s.Name),
		fmt.Sprintf("--time=%d", TimeLimitMinutes(s.TimeLimit)),
		fmt.Sprintf("--cpus-per-task=%d", max(s.CPUs, 1)),
	}
	if e.settings.Partition != "" {
		parts = append(parts, "--partition="+ShellQuote(e.settings.Partition))
	}
	if e.settings.QoS != "" {
		parts = append(parts, "--qos="+ShellQuote(e.settings.QoS))
	}
	parts = append(parts,
		ShellQuote(e.launchScript),
		ShellQuote(packageName(s)),
		s.Mode.Tag(),
		ShellQuote(s.SolverVersion),
		strconv.FormatBool(s.PostProcessing),
		ShellQuote(s.OtherOptions),
	)
	return strings.Join(parts, " ")
}

func (e *Environment) pollCommand(jobID int64) string {
	return fmt.Sprintf("sacct -j %d -n -X -o State", jobID)
}

func (e *Environment) killCommand(jobID int64) string {
	return fmt.Sprintf("scancel %d", jobID)
}

func (e *Environment) queueCommand() string {
	if e.settings.QueueUser == "" {
		return "squeue"
	}
	return "squeue -u " + ShellQuote(e.settings.QueueUser)
}
