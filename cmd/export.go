package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/makerspace/member-success/internal/export"
	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export one snapshot date as CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		formatFlag, _ := cmd.Flags().GetString("format")
		format, err := export.ParseFormat(formatFlag)
		if err != nil {
			return err
		}
		date, _ := cmd.Flags().GetString("date")
		snapType, _ := cmd.Flags().GetString("type")
		outPath, _ := cmd.Flags().GetString("out")
		snapType = snapshotTypeOrDefault(snapType)

		st, err := openReadStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if date == "" {
			date, err = st.LatestSnapshotDate(ctx, snapType)
			if err != nil {
				return eris.Wrap(err, "export: latest snapshot date")
			}
			if date == "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "No snapshots found.")
				return nil
			}
		}

		snaps, err := st.ListSnapshots(ctx, store.SnapshotFilter{SnapshotDate: date, SnapshotType: snapType})
		if err != nil {
			return eris.Wrap(err, "export: list snapshots")
		}

		if outPath == "" && format == export.FormatXLSX {
			outPath = exportFileName(date, format)
		}
		if err := writeExport(cmd.OutOrStdout(), outPath, format, snaps); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("date", date),
			zap.String("format", string(format)),
			zap.Int("rows", len(snaps)),
			zap.String("out", outPath),
		)
		return nil
	},
}

// writeExport writes to path, or to stdout when path is empty.
func writeExport(stdout io.Writer, path string, format export.Format, snaps []model.Snapshot) error {
	if path == "" {
		return export.Write(stdout, format, snaps, cfg.Templates)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := export.Write(f, format, snaps, cfg.Templates); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}

func exportFileName(date string, format export.Format) string {
	return fmt.Sprintf("member-success-%s.%s", date, format)
}

func init() {
	exportCmd.Flags().String("format", "csv", "output format: csv or xlsx")
	exportCmd.Flags().String("date", "", "snapshot date YYYY-MM-DD (default latest)")
	exportCmd.Flags().String("type", "", "snapshot type (default daily)")
	exportCmd.Flags().String("out", "", "output file (default stdout for csv, member-success-<date>.xlsx for xlsx)")
	rootCmd.AddCommand(exportCmd)
}
