package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/jobregistry"
)

var driversCmd = &cobra.Command{
	Use:   "drivers",
	Short: "Manage background run drivers",
	Long: `Manage run drivers started with 'run --background'.

Drivers are addressed by id or by any unique id prefix. Records live under
the state directory ($XDG_STATE_HOME/antares-launcher/drivers by default).`,
}

var driversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drivers",
	RunE:  runDriversList,
}

var driversShowCmd = &cobra.Command{
	Use:   "show <driver_id>",
	Short: "Show one driver",
	Args:  cobra.ExactArgs(1),
	RunE:  runDriversShow,
}

var driversStopCmd = &cobra.Command{
	Use:   "stop <driver_id>",
	Short: "Stop a running driver",
	Args:  cobra.ExactArgs(1),
	RunE:  runDriversStop,
}

var driversLogsCmd = &cobra.Command{
	Use:   "logs <driver_id>",
	Short: "Show a driver's output",
	Args:  cobra.ExactArgs(1),
	RunE:  runDriversLogs,
}

func init() {
	rootCmd.AddCommand(driversCmd)
	driversCmd.AddCommand(driversListCmd)
	driversCmd.AddCommand(driversShowCmd)
	driversCmd.AddCommand(driversStopCmd)
	driversCmd.AddCommand(driversLogsCmd)

	driversStopCmd.Flags().String("signal", "term", "Signal to send: term or kill")
	driversStopCmd.Flags().Duration("grace", jobregistry.DefaultStopGrace, "Wait this long after term before killing")
	driversLogsCmd.Flags().String("stream", "log", "Stream: log, stdout or stderr")
	driversLogsCmd.Flags().Int("tail", 200, "Show last N lines (0 = everything)")
}

func driverExecutor(cmd *cobra.Command) (*jobregistry.Executor, error) {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return nil, err
	}
	root, err := cfg.DriversDir()
	if err != nil {
		return nil, err
	}
	return jobregistry.NewExecutor(root), nil
}

func resolveDriver(cmd *cobra.Command, input string) (*jobregistry.Executor, *jobregistry.DriverRecord, error) {
	executor, err := driverExecutor(cmd)
	if err != nil {
		return nil, nil, err
	}
	id, err := executor.Store().Resolve(strings.TrimSpace(input))
	if err != nil {
		return nil, nil, exitError(foundry.ExitInvalidArgument, "Unknown driver", err)
	}
	rec, err := executor.Store().Get(id)
	if err != nil {
		return nil, nil, err
	}
	return executor, rec, nil
}

func runDriversList(cmd *cobra.Command, _ []string) error {
	executor, err := driverExecutor(cmd)
	if err != nil {
		return err
	}
	records, err := executor.Store().List()
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(os.Stdout, records)
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No drivers found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "DRIVER ID\tSTATE\tPID\tSTARTED\tENDED\tPROGRESS\tINPUT")
	for _, d := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			shortID(d.DriverID),
			d.State,
			d.PID,
			formatOptionalTime(d.StartedAt),
			formatOptionalTime(d.EndedAt),
			formatProgress(d.Progress),
			d.InputDir,
		)
	}
	return nil
}

func runDriversShow(cmd *cobra.Command, args []string) error {
	_, rec, err := resolveDriver(cmd, args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(os.Stdout, rec)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	rows := [][2]string{
		{"Driver ID", rec.DriverID},
		{"State", string(rec.State)},
		{"PID", fmt.Sprint(rec.PID)},
		{"Run ID", orDash(rec.RunID)},
		{"Input", rec.InputDir},
		{"Store", orDash(rec.StoreFile)},
		{"Args", orDash(strings.Join(rec.Args, " "))},
		{"Started", formatOptionalTime(rec.StartedAt)},
		{"Ended", formatOptionalTime(rec.EndedAt)},
		{"Heartbeat", formatOptionalTime(rec.LastHeartbeat)},
		{"Progress", formatProgress(rec.Progress)},
		{"Error", orDash(rec.Error)},
		{"Log", orDash(rec.LogPath)},
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s:\t%s\n", r[0], r[1])
	}
	return nil
}

func runDriversStop(cmd *cobra.Command, args []string) error {
	sig, _ := cmd.Flags().GetString("signal")
	grace, _ := cmd.Flags().GetDuration("grace")

	var force bool
	switch strings.ToLower(strings.TrimSpace(sig)) {
	case "", "term":
	case "kill":
		force = true
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --signal", fmt.Errorf("expected term or kill, got %q", sig))
	}

	executor, rec, err := resolveDriver(cmd, args[0])
	if err != nil {
		return err
	}
	res, err := executor.Stop(rec.DriverID, force, grace)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(os.Stdout, res.String())
	return nil
}

func runDriversLogs(cmd *cobra.Command, args []string) error {
	stream, _ := cmd.Flags().GetString("stream")
	tailN, _ := cmd.Flags().GetInt("tail")

	executor, rec, err := resolveDriver(cmd, args[0])
	if err != nil {
		return err
	}

	var path string
	switch strings.ToLower(strings.TrimSpace(stream)) {
	case "", "log":
		path = rec.LogPath
		if path == "" {
			path = executor.LogPath(rec.DriverID)
		}
	case "stdout":
		path = rec.StdoutPath
		if path == "" {
			path = executor.StdoutPath(rec.DriverID)
		}
	case "stderr":
		path = rec.StderrPath
		if path == "" {
			path = executor.StderrPath(rec.DriverID)
		}
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --stream", fmt.Errorf("expected log, stdout or stderr, got %q", stream))
	}
	return printLogTail(os.Stdout, path, tailN)
}

// printLogTail copies the last n lines of path to out; n <= 0 copies all.
func printLogTail(out io.Writer, path string, n int) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return exitError(foundry.ExitFileNotFound, "Log not found", err)
		}
		return err
	}
	defer func() { _ = f.Close() }()

	if n <= 0 {
		_, err := io.Copy(out, f)
		return err
	}

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return err
	}
	for _, line := range ring {
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatOptionalTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func formatProgress(p *jobregistry.Progress) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%d/%d done, %d failed", p.Done, p.Total, p.Failed)
}
