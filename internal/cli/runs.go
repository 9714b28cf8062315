package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"winbuilder/internal/ledger"
)

type runsOptions struct {
	limit     int
	pruneDays int
	deleteID  string
}

func (a *App) newRunsCommand(root *rootOptions) *cobra.Command {
	opts := &runsOptions{}
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List, prune or delete recorded provisioning runs",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := ledger.Open(a.ledgerPath(root))
			if err != nil {
				return err
			}
			defer l.Close()

			switch {
			case opts.deleteID != "":
				if err := l.Delete(cmd.Context(), opts.deleteID); err != nil {
					return err
				}
				return a.printResult(root, fmt.Sprintf("deleted run %s", opts.deleteID),
					map[string]any{"deleted": opts.deleteID})
			case opts.pruneDays > 0:
				n, err := l.Prune(cmd.Context(), time.Duration(opts.pruneDays)*24*time.Hour)
				if err != nil {
					return err
				}
				return a.printResult(root, fmt.Sprintf("pruned %d run(s) older than %d day(s)", n, opts.pruneDays),
					map[string]any{"pruned": n})
			}

			records, err := l.List(cmd.Context(), opts.limit)
			if err != nil {
				return err
			}
			if root.json {
				return writeJSON(a.stdout(), records)
			}
			if len(records) == 0 {
				fmt.Fprintln(a.stdout(), "no runs recorded")
				return nil
			}
			w := tabwriter.NewWriter(a.stdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tENVIRONMENT\tSTATE\tSTARTED\tDURATION")
			for _, rec := range records {
				fmt.Fprintln(w, runLine(rec))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "number of runs to list (0 for all)")
	cmd.Flags().IntVar(&opts.pruneDays, "prune-days", 0, "delete runs older than this many days")
	cmd.Flags().StringVar(&opts.deleteID, "delete", "", "delete the run with this id")
	cmd.MarkFlagsMutuallyExclusive("prune-days", "delete")

	cmd.AddCommand(a.newRunsShowCommand(root))
	return cmd
}

func (a *App) newRunsShowCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one recorded run",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := ledger.Open(a.ledgerPath(root))
			if err != nil {
				return err
			}
			defer l.Close()

			rec, err := l.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if root.json {
				return writeJSON(a.stdout(), rec)
			}
			a.printRecord(rec)
			return nil
		},
	}
}

func (a *App) printResult(root *rootOptions, message string, data map[string]any) error {
	if root.json {
		out := map[string]any{"success": true, "message": message}
		for k, v := range data {
			out[k] = v
		}
		return writeJSON(a.stdout(), out)
	}
	fmt.Fprintln(a.stdout(), message)
	return nil
}

func (a *App) printRecord(rec ledger.Record) {
	w := a.stdout()
	fmt.Fprintf(w, "Run:          %s\n", rec.ID)
	fmt.Fprintf(w, "Batch:        %s\n", rec.BatchID)
	fmt.Fprintf(w, "Environment:  %s\n", rec.EnvironmentID)
	fmt.Fprintf(w, "Fingerprint:  %s\n", rec.Fingerprint)
	fmt.Fprintf(w, "Python:       %s (%s bit) in %s\n", rec.PythonVersion, rec.Arch, rec.PythonHome)
	fmt.Fprintf(w, "MinGW:        %s\n", rec.MinGWHome)
	fmt.Fprintf(w, "State:        %s\n", rec.State)
	if rec.FailedStep != "" {
		fmt.Fprintf(w, "Failed step:  %s\n", rec.FailedStep)
	}
	if rec.Error != "" {
		fmt.Fprintf(w, "Error:        %s\n", rec.Error)
	}
	fmt.Fprintf(w, "Started:      %s\n", rec.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Duration:     %s\n", rec.FinishedAt.Sub(rec.StartedAt).Round(time.Second))
	for _, tool := range []string{"python", "gcc"} {
		if v := rec.Versions[tool]; v != "" {
			fmt.Fprintf(w, "%-14s%s\n", tool+":", v)
		}
	}
	for _, action := range rec.Actions {
		fmt.Fprintf(w, "  + %s\n", action)
	}
	for _, warning := range rec.Warnings {
		fmt.Fprintf(w, "  ! %s\n", warning)
	}
}

func runLine(rec ledger.Record) string {
	state := rec.State
	if rec.FailedStep != "" {
		state += " (" + rec.FailedStep + ")"
	}
	return strings.Join([]string{
		rec.ID,
		rec.EnvironmentID,
		state,
		rec.StartedAt.Local().Format(time.DateTime),
		rec.FinishedAt.Sub(rec.StartedAt).Round(time.Second).String(),
	}, "\t")
}
