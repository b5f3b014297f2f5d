package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect snapshot build history",
	Long:  "Commands for listing and summarizing daily snapshot runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshot runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openReadStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		snapType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			SnapshotType: snapType,
			Status:       model.RunStatus(status),
			Limit:        limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openReadStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(cmd.OutOrStdout(), computeRunStats(runs))
		return nil
	},
}

func formatRunsList(out io.Writer, runs []model.SnapshotRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tTYPE\tSTATUS\tPROCESSED\tFAILED\tSTARTED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		status := string(r.Status)
		if r.Error != "" {
			status += " (" + r.Error + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.SnapshotDate,
			r.SnapshotType,
			status,
			r.Processed,
			r.Failed,
			r.StartedAt.Format("2006-01-02 15:04"),
			duration,
		)
	}
	w.Flush() //nolint:errcheck
}

// truncateID shortens a UUID to its first 8 characters for display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type runStats struct {
	Total           int
	ByStatus        map[model.RunStatus]int
	MembersBuilt    int
	MemberFailures  int
	AvgDuration     time.Duration
	LastCompletedAt *time.Time
}

func computeRunStats(runs []model.SnapshotRun) runStats {
	stats := runStats{
		Total:    len(runs),
		ByStatus: make(map[model.RunStatus]int),
	}

	var totalDuration time.Duration
	finished := 0
	for _, r := range runs {
		stats.ByStatus[r.Status]++
		stats.MembersBuilt += r.Processed
		stats.MemberFailures += r.Failed

		if r.FinishedAt == nil {
			continue
		}
		totalDuration += r.FinishedAt.Sub(r.StartedAt)
		finished++
		if r.Status == model.RunStatusComplete && (stats.LastCompletedAt == nil || r.FinishedAt.After(*stats.LastCompletedAt)) {
			at := *r.FinishedAt
			stats.LastCompletedAt = &at
		}
	}
	if finished > 0 {
		stats.AvgDuration = totalDuration / time.Duration(finished)
	}
	return stats
}

func formatRunStats(out io.Writer, stats runStats) {
	fmt.Fprintf(out, "Runs:            %d\n", stats.Total)
	for _, status := range []model.RunStatus{model.RunStatusComplete, model.RunStatusFailed, model.RunStatusRunning} {
		fmt.Fprintf(out, "  %-14s %d\n", string(status)+":", stats.ByStatus[status])
	}
	fmt.Fprintf(out, "Members built:   %d\n", stats.MembersBuilt)
	fmt.Fprintf(out, "Member failures: %d\n", stats.MemberFailures)
	fmt.Fprintf(out, "Avg duration:    %s\n", stats.AvgDuration.Round(time.Second))
	if stats.LastCompletedAt != nil {
		fmt.Fprintf(out, "Last complete:   %s\n", stats.LastCompletedAt.Format("2006-01-02 15:04"))
	}
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status (running, complete, failed)")
	runsListCmd.Flags().String("type", "", "filter by snapshot type")
	runsListCmd.Flags().Int("limit", 20, "max runs to show")

	runsStatsCmd.Flags().Int("limit", 1000, "number of recent runs to include")

	runsCmd.AddCommand(runsListCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}
