package monitoring

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seed(t *testing.T, st store.Store, snaps ...model.Snapshot) {
	t.Helper()
	for _, s := range snaps {
		require.NoError(t, st.UpsertSnapshot(context.Background(), s))
	}
}

func TestCollector_LatestDate(t *testing.T) {
	st := newTestStore(t)
	older := snap(1, model.StageRecovery, 50)
	older.SnapshotDate = "2025-06-14"
	seed(t, st, older, snap(1, model.StageEngagement, 20), snap(2, model.StageOnboarding, 0))

	sum, err := NewCollector(st).Collect(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15", sum.SnapshotDate)
	assert.Equal(t, model.DefaultSnapshotType, sum.SnapshotType)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.AtRisk)
	assert.Equal(t, 0, sum.Critical)
	assert.Equal(t, 1, sum.Stage(model.StageEngagement).Actionable)
}

func TestCollector_ExplicitDate(t *testing.T) {
	st := newTestStore(t)
	older := snap(1, model.StageRecovery, 50)
	older.SnapshotDate = "2025-06-14"
	seed(t, st, older, snap(1, model.StageEngagement, 20))

	sum, err := NewCollector(st).Collect(context.Background(), "2025-06-14", "daily")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.Critical)
	assert.Equal(t, 1, sum.Stage(model.StageRecovery).Total)
}

func TestCollector_NoSnapshots(t *testing.T) {
	sum, err := NewCollector(newTestStore(t)).Collect(context.Background(), "", "weekly")
	require.NoError(t, err)
	assert.Empty(t, sum.SnapshotDate)
	assert.Equal(t, "weekly", sum.SnapshotType)
	assert.Zero(t, sum.Total)
	assert.Len(t, sum.Stages, 4)
}
