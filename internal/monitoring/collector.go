package monitoring

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/store"
)

// Collector builds summaries from the snapshot store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new summary collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect summarizes the snapshots of one date. An empty date selects the
// most recent date stored for the type; an empty type means "daily".
func (c *Collector) Collect(ctx context.Context, snapshotDate, snapshotType string) (*Summary, error) {
	if snapshotType == "" {
		snapshotType = model.DefaultSnapshotType
	}
	if snapshotDate == "" {
		latest, err := c.store.LatestSnapshotDate(ctx, snapshotType)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: latest snapshot date")
		}
		snapshotDate = latest
	}

	sum := Summarize(nil)
	if snapshotDate != "" {
		snaps, err := c.store.ListSnapshots(ctx, store.SnapshotFilter{
			SnapshotDate: snapshotDate,
			SnapshotType: snapshotType,
		})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list snapshots")
		}
		sum = Summarize(snaps)
	}
	sum.SnapshotDate = snapshotDate
	sum.SnapshotType = snapshotType
	return &sum, nil
}
