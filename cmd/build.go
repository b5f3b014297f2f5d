package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/makerspace/member-success/internal/config"
	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/monitoring"
	"github.com/makerspace/member-success/internal/snapshot"
)

var (
	buildDate    string
	buildType    string
	buildNoAlert bool
)

var buildCmd = &cobra.Command{
	Use:   "build [member-id...]",
	Short: "Build member snapshots",
	Long: `Builds snapshots for the given members, or for every active member when no
ids are given. A full build is recorded as a run and evaluated for alerts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseMemberIDs(args)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initBuild(ctx, config.ModeBuild)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := snapshot.Options{SnapshotDate: buildDate, SnapshotType: buildType}
		out := cmd.OutOrStdout()

		switch len(ids) {
		case 0:
			return runDaily(ctx, env, opts, out)
		case 1:
			snap, err := env.Builder.BuildOne(ctx, ids[0], opts)
			if errors.Is(err, snapshot.ErrMemberNotFound) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Member %d not found.\n", ids[0])
				return err
			}
			if err != nil {
				return eris.Wrapf(err, "build member %d", ids[0])
			}
			return writeIndentedJSON(out, snap)
		default:
			result, err := env.Builder.BuildBatch(ctx, ids, opts)
			if result != nil {
				formatBatchResult(out, result)
			}
			if err != nil {
				return err
			}
			if result.Failed > 0 {
				return eris.Errorf("build: %d of %d members failed", result.Failed, result.Total)
			}
			return nil
		}
	},
}

// runDaily builds every active member as a recorded run, then alerts on the
// outcome.
func runDaily(ctx context.Context, env *buildEnv, opts snapshot.Options, out io.Writer) error {
	run, buildErr := env.Builder.BuildDaily(ctx, opts)
	if run == nil {
		return buildErr
	}
	formatRun(out, run)

	if buildNoAlert {
		return buildErr
	}

	// Alerting uses a fresh context so an interrupted run is still reported.
	alertCtx := context.WithoutCancel(ctx)
	sum, err := monitoring.NewCollector(env.Store).Collect(alertCtx, run.SnapshotDate, run.SnapshotType)
	if err != nil {
		zap.L().Warn("build: summary for alerts", zap.Error(err))
		sum = nil
	}

	alerter := monitoring.NewAlerter(cfg.Monitoring)
	alerts := alerter.Evaluate(run, sum)
	if len(alerts) > 0 {
		sent := alerter.SendAlerts(alertCtx, alerts)
		zap.L().Info("build: alerts evaluated",
			zap.Int("alerts", len(alerts)),
			zap.Int("sent", sent),
		)
	}
	return buildErr
}

func parseMemberIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, eris.Errorf("invalid member id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func formatRun(out io.Writer, run *model.SnapshotRun) {
	fmt.Fprintf(out, "Run %s: %s\n", truncateID(run.ID), run.Status)
	fmt.Fprintf(out, "  Snapshot:  %s (%s)\n", run.SnapshotDate, run.SnapshotType)
	fmt.Fprintf(out, "  Processed: %d\n", run.Processed)
	fmt.Fprintf(out, "  Failed:    %d\n", run.Failed)
	if run.Error != "" {
		fmt.Fprintf(out, "  Error:     %s\n", run.Error)
	}
	for _, f := range run.Failures {
		fmt.Fprintf(out, "    member %d: %s\n", f.MemberID, f.Error)
	}
}

func formatBatchResult(out io.Writer, r *snapshot.BatchResult) {
	fmt.Fprintf(out, "Snapshot %s (%s): %d/%d processed, %d failed\n",
		r.SnapshotDate, r.SnapshotType, r.Processed, r.Total, r.Failed)
	for _, f := range r.Failures {
		fmt.Fprintf(out, "  member %d: %s\n", f.MemberID, f.Error)
	}
}

func writeIndentedJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	buildCmd.Flags().StringVar(&buildDate, "date", "", "snapshot date YYYY-MM-DD (default today)")
	buildCmd.Flags().StringVar(&buildType, "type", model.DefaultSnapshotType, "snapshot type")
	buildCmd.Flags().BoolVar(&buildNoAlert, "no-alert", false, "skip alert evaluation after a full build")
	rootCmd.AddCommand(buildCmd)
}
