package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/makerspace/member-success/internal/monitoring"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show stage and risk totals for a snapshot date",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openReadStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		date, _ := cmd.Flags().GetString("date")
		snapType, _ := cmd.Flags().GetString("type")
		asJSON, _ := cmd.Flags().GetBool("json")

		sum, err := monitoring.NewCollector(st).Collect(ctx, date, snapshotTypeOrDefault(snapType))
		if err != nil {
			return eris.Wrap(err, "summary")
		}

		if asJSON {
			return writeIndentedJSON(cmd.OutOrStdout(), sum)
		}
		if sum.SnapshotDate == "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "No snapshots found.")
			return nil
		}
		formatSummary(cmd.OutOrStdout(), sum)
		return nil
	},
}

func formatSummary(out io.Writer, sum *monitoring.Summary) {
	fmt.Fprintf(out, "Snapshot %s (%s)\n", sum.SnapshotDate, sum.SnapshotType)
	fmt.Fprintf(out, "  Members:  %d\n", sum.Total)
	fmt.Fprintf(out, "  At risk:  %d\n", sum.AtRisk)
	fmt.Fprintf(out, "  Critical: %d\n\n", sum.Critical)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tMEMBERS\tACTIONABLE")
	for _, s := range sum.Stages {
		fmt.Fprintf(w, "%s\t%d\t%d\n", s.Stage, s.Total, s.Actionable)
	}
	w.Flush() //nolint:errcheck
}

func init() {
	summaryCmd.Flags().String("date", "", "snapshot date YYYY-MM-DD (default latest)")
	summaryCmd.Flags().String("type", "", "snapshot type (default daily)")
	summaryCmd.Flags().Bool("json", false, "print the summary as JSON")
	rootCmd.AddCommand(summaryCmd)
}
