// Package store persists member snapshots and the batch run log.
package store

import (
	"context"

	"github.com/makerspace/member-success/internal/model"
)

// SnapshotFilter specifies criteria for listing snapshots. Zero values do not
// filter; a Limit of 0 returns every matching row.
type SnapshotFilter struct {
	MemberID     int64       `json:"member_id,omitempty"`
	SnapshotDate string      `json:"snapshot_date,omitempty"`
	SnapshotType string      `json:"snapshot_type,omitempty"`
	Stage        model.Stage `json:"stage,omitempty"`
	MinRisk      int         `json:"min_risk,omitempty"`
	Limit        int         `json:"limit,omitempty"`
	Offset       int         `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing snapshot runs.
type RunFilter struct {
	SnapshotType string          `json:"snapshot_type,omitempty"`
	Status       model.RunStatus `json:"status,omitempty"`
	Limit        int             `json:"limit,omitempty"`
}

// Store defines the persistence interface for snapshots.
type Store interface {
	// Snapshots
	UpsertSnapshot(ctx context.Context, snap model.Snapshot) error
	GetSnapshot(ctx context.Context, key model.SnapshotKey) (*model.Snapshot, error)
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.Snapshot, error)
	LatestSnapshotDate(ctx context.Context, snapshotType string) (string, error)

	// Runs
	CreateRun(ctx context.Context, run *model.SnapshotRun) error
	FinishRun(ctx context.Context, run *model.SnapshotRun) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.SnapshotRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
