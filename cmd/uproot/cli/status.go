package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/uprootnetworks/uproot/internal/config"
	"github.com/uprootnetworks/uproot/internal/journal"
)

var statusRuns int

func init() {
	statusCmd.Flags().IntVarP(&statusRuns, "runs", "n", 5, "number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <labId>",
	Short: "Show recent break/restore runs for a lab",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		labID := args[0]

		j, err := journal.Open(filepath.Join(config.BaseDir(), "journal.db"))
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer j.Close()

		last, err := j.LastBreak(labID)
		switch {
		case errors.Is(err, journal.ErrNotFound):
			cmd.Printf("Lab %s: no unrestored break on record\n\n", labID)
		case err != nil:
			return err
		default:
			cmd.Printf("Lab %s: broken since %s (run %s)\n\n",
				labID, last.StartedAt.Local().Format(time.DateTime), last.ID)
		}

		runs, err := j.Recent(labID, statusRuns)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			cmd.Println("No recorded runs.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				run.StartedAt.Local().Format(time.DateTime), describeRun(run), runResult(run))
			events, err := j.Events(run.ID)
			if err != nil {
				return err
			}
			for _, ev := range events {
				fmt.Fprintf(w, "  %s\t%s\t%s\n", ev.Device, ev.Name, eventResult(ev))
			}
		}
		return w.Flush()
	},
}

func describeRun(run *journal.Run) string {
	if run.DryRun {
		return run.Action + " (dry)"
	}
	return run.Action
}

func eventResult(ev *journal.Event) string {
	if ev.OK {
		return "ok"
	}
	return "failed"
}

func runResult(run *journal.Run) string {
	switch {
	case run.FinishedAt.IsZero():
		return "incomplete"
	case run.OK:
		return "ok"
	default:
		return "failed"
	}
}
