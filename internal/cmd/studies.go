package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/internal/observability"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/study"
	"github.com/AntaresSimulatorTeam/antares-launcher-sub000/pkg/studystore"
)

var studiesCmd = &cobra.Command{
	Use:   "studies",
	Short: "Inspect the record store",
	Long: `Inspect and maintain the local record store.

The store lives in the log directory unless store_file says otherwise.`,
}

var studiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known study",
	RunE:  runStudiesList,
}

var studiesShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one study record",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudiesShow,
}

var studiesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Forget a study",
	Long: `Remove a record from the store. The study is registered again on the
next run if its directory is still in the input directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runStudiesDelete,
}

var storeBindings = map[string]string{
	"log-dir":    "log_dir",
	"store-file": "store_file",
}

func init() {
	rootCmd.AddCommand(studiesCmd)
	studiesCmd.AddCommand(studiesListCmd)
	studiesCmd.AddCommand(studiesShowCmd)
	studiesCmd.AddCommand(studiesDeleteCmd)

	studiesCmd.PersistentFlags().String("log-dir", "", "Directory holding the record store")
	studiesCmd.PersistentFlags().String("store-file", "", "Record store file (overrides --log-dir)")
}

func openStoreFromFlags(cmd *cobra.Command) (*studystore.SQLiteStore, error) {
	cfg, err := loadConfig(cmd, storeBindings)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.StorePath()); err != nil {
		return nil, exitError(foundry.ExitFileNotFound, "No record store", err)
	}
	return openStore(cmd.Context(), cfg)
}

func runStudiesList(cmd *cobra.Command, _ []string) error {
	store, err := openStoreFromFlags(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	all, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(os.Stdout, all)
	}
	if len(all) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No studies found")
		return nil
	}
	return writeStudyTable(os.Stdout, all)
}

func writeStudyTable(out io.Writer, all []study.Study) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tJOB ID\tSTATUS\tDONE\tVERSION\tMODE\tUPDATED")
	for _, s := range all {
		jobID := "-"
		if s.Submitted() {
			jobID = fmt.Sprint(s.JobID)
		}
		updated := "-"
		if !s.UpdatedAt.IsZero() {
			updated = humanize.Time(s.UpdatedAt)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
			s.Name, jobID, s.StatusMessage, s.Done, orDash(s.SolverVersion), s.Mode.Tag(), updated)
	}
	return w.Flush()
}

func runStudiesShow(cmd *cobra.Command, args []string) error {
	store, err := openStoreFromFlags(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	s, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
	if err != nil {
		if studystore.IsNotFound(err) {
			return exitError(foundry.ExitInvalidArgument, "Unknown study", err)
		}
		return err
	}
	if jsonOutput {
		return writeJSON(os.Stdout, s)
	}
	return writeStudyDetail(os.Stdout, s)
}

func writeStudyDetail(out io.Writer, s study.Study) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Name", s.Name},
		{"Path", s.Path},
		{"Status", s.StatusMessage},
		{"Job ID", fmt.Sprint(s.JobID)},
		{"Started", fmt.Sprint(s.Started)},
		{"Finished", fmt.Sprint(s.Finished)},
		{"With error", fmt.Sprint(s.WithError)},
		{"Done", fmt.Sprint(s.Done)},
		{"Package uploaded", fmt.Sprint(s.PackageUploaded)},
		{"Package removed remotely", fmt.Sprint(s.InputPackageRemovedRemotely)},
		{"Logs downloaded", fmt.Sprint(s.LogsDownloaded)},
		{"Remote cleaned", fmt.Sprint(s.RemoteSideCleaned)},
		{"Result unpacked", fmt.Sprint(s.ResultUnpacked)},
		{"Result published", fmt.Sprint(s.ResultPublished)},
		{"Result", orDash(s.ResultPath)},
		{"Log dir", orDash(s.LogDir)},
		{"Output dir", orDash(s.OutputDir)},
		{"CPUs", fmt.Sprint(s.CPUs)},
		{"Time limit", s.TimeLimit.String()},
		{"Solver version", orDash(s.SolverVersion)},
		{"Mode", s.Mode.Tag()},
		{"Other options", orDash(s.OtherOptions)},
		{"Post-processing", fmt.Sprint(s.PostProcessing)},
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s:\t%s\n", r[0], r[1])
	}
	return w.Flush()
}

func runStudiesDelete(cmd *cobra.Command, args []string) error {
	store, err := openStoreFromFlags(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	name := strings.TrimSpace(args[0])
	if err := store.Delete(cmd.Context(), name); err != nil {
		if studystore.IsNotFound(err) {
			return exitError(foundry.ExitInvalidArgument, "Unknown study", err)
		}
		return err
	}
	observability.CLILogger.Info("Study record deleted", zap.String("study", name))
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
