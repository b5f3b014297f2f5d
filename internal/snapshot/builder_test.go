package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makerspace/member-success/internal/membership"
	"github.com/makerspace/member-success/internal/model"
)

func fixedClock() time.Time { return testNow }

func seededRepo() *fakeRepo {
	repo := newFakeRepo()
	// Pending door badge, no serial: onboarding.
	repo.members[1] = memberRecord{door: membership.DoorBadge{Status: "pending", CreatedAt: daysBefore(3)}}
	// Active member, ten days in: engagement.
	repo.members[2] = memberRecord{
		flags: membership.UserFlags{SerialPresent: true},
		door:  membership.DoorBadge{Status: "active", CreatedAt: daysBefore(10)},
	}
	// Payment paused: recovery.
	repo.members[3] = memberRecord{
		flags: membership.UserFlags{SerialPresent: true, PaymentPause: true},
		door:  membership.DoorBadge{Status: "active", CreatedAt: daysBefore(10)},
	}
	return repo
}

func newTestBuilder(repo *fakeRepo, st *memStore, opts ...BuilderOption) *Builder {
	opts = append([]BuilderOption{WithClock(fixedClock), WithLocation(time.UTC)}, opts...)
	return NewBuilder(repo, nil, st, nil, opts...)
}

func TestCompute(t *testing.T) {
	b := newTestBuilder(seededRepo(), newMemStore())
	key := model.SnapshotKey{MemberID: 1, SnapshotDate: "2025-06-15", SnapshotType: "daily"}

	snap, err := b.Compute(context.Background(), 1, key, testNow)
	require.NoError(t, err)
	assert.Equal(t, model.StageOnboarding, snap.Stage)
	assert.Equal(t, model.TenureOnboarding, snap.TenureBucket)
	assert.Equal(t, []model.Reason{model.ReasonDoorBadgePending, model.ReasonMissingSerial}, snap.RiskReasons)
	assert.Equal(t, 30, snap.RiskScore)
}

func TestCompute_ThresholdError(t *testing.T) {
	b := NewBuilder(seededRepo(), nil, newMemStore(), failingThresholds{})
	_, err := b.Compute(context.Background(), 1, model.SnapshotKey{}, testNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot: load thresholds")
}

func TestCompute_EmptyRecencyListDisablesInactivity(t *testing.T) {
	repo := newFakeRepo()
	repo.members[7] = memberRecord{
		flags:  membership.UserFlags{SerialPresent: true},
		door:   membership.DoorBadge{Status: "active", CreatedAt: daysBefore(400)},
		visits: membership.VisitStats{LastVisitAt: daysBefore(200)},
	}
	key := model.SnapshotKey{MemberID: 7, SnapshotDate: "2025-06-15", SnapshotType: "daily"}

	th := model.DefaultThresholds()
	th.RetentionRecencyDays = []int{}
	b := NewBuilder(repo, nil, newMemStore(), StaticThresholds(th), WithClock(fixedClock), WithLocation(time.UTC))

	snap, err := b.Compute(context.Background(), 7, key, testNow)
	require.NoError(t, err)
	assert.Equal(t, model.StageRetention, snap.Stage)
	assert.Empty(t, snap.RiskReasons)
	assert.Equal(t, 0, snap.RiskScore)

	// Unset list falls back to the default windows.
	th.RetentionRecencyDays = nil
	b = NewBuilder(repo, nil, newMemStore(), StaticThresholds(th), WithClock(fixedClock), WithLocation(time.UTC))
	snap, err = b.Compute(context.Background(), 7, key, testNow)
	require.NoError(t, err)
	assert.Equal(t, []model.Reason{model.ReasonInactive}, snap.RiskReasons)
	assert.Equal(t, 20, snap.RiskScore)
}

func TestBuildOne(t *testing.T) {
	st := newMemStore()
	pub := &recordingPublisher{}
	b := newTestBuilder(seededRepo(), st, WithPublisher(pub))

	snap, err := b.BuildOne(context.Background(), 3, Options{})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "2025-06-15", snap.SnapshotDate)
	assert.Equal(t, model.DefaultSnapshotType, snap.SnapshotType)
	assert.Equal(t, model.StageRecovery, snap.Stage)
	assert.Equal(t, 50, snap.RiskScore)

	stored, err := st.GetSnapshot(context.Background(), snap.Key())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, *snap, *stored)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, int64(3), pub.sent[0].MemberID)
}

func TestBuildOne_NotFound(t *testing.T) {
	st := newMemStore()
	b := newTestBuilder(seededRepo(), st)

	_, err := b.BuildOne(context.Background(), 999, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMemberNotFound)
	assert.Equal(t, 0, st.upserts)
}

func TestBuildOne_InvalidDate(t *testing.T) {
	b := newTestBuilder(seededRepo(), newMemStore())

	_, err := b.BuildOne(context.Background(), 1, Options{SnapshotDate: "06/15/2025"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMemberNotFound)
}

func TestBuildOne_Idempotent(t *testing.T) {
	st := newMemStore()
	b := newTestBuilder(seededRepo(), st)
	opts := Options{SnapshotDate: "2025-06-14", SnapshotType: "weekly"}

	first, err := b.BuildOne(context.Background(), 2, opts)
	require.NoError(t, err)
	second, err := b.BuildOne(context.Background(), 2, opts)
	require.NoError(t, err)

	assert.Len(t, st.snapshots, 1)
	assert.Equal(t, first.Key(), second.Key())
	assert.Equal(t, "weekly", second.SnapshotType)
}

func TestBuildOne_PublishFailureDoesNotFail(t *testing.T) {
	st := newMemStore()
	b := newTestBuilder(seededRepo(), st, WithPublisher(&recordingPublisher{err: errors.New("broker down")}))

	snap, err := b.BuildOne(context.Background(), 2, Options{})
	require.NoError(t, err)
	assert.NotNil(t, snap)
	assert.Equal(t, 1, st.upserts)
}

func TestBuildOne_PersistenceFailure(t *testing.T) {
	st := newMemStore()
	st.failFor[2] = true
	b := newTestBuilder(seededRepo(), st)

	_, err := b.BuildOne(context.Background(), 2, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot: store member 2")
}

func TestBuildBatch(t *testing.T) {
	st := newMemStore()
	b := newTestBuilder(seededRepo(), st, WithConcurrency(2))

	res, err := b.BuildBatch(context.Background(), []int64{1, 2, 3}, Options{SnapshotDate: "2025-06-15"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 0, res.Failed)
	assert.Empty(t, res.Failures)
	assert.Len(t, st.snapshots, 3)

	for _, snap := range st.snapshots {
		assert.True(t, snap.ScoreConsistent())
		assert.True(t, snap.Stage.Valid())
	}
}

func TestBuildBatch_FailingMemberDoesNotAbort(t *testing.T) {
	repo := seededRepo()
	repo.members[4] = memberRecord{err: errors.New("lock wait timeout")}
	st := newMemStore()
	st.failFor[2] = true
	b := newTestBuilder(repo, st)

	res, err := b.BuildBatch(context.Background(), []int64{1, 2, 3, 4}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, int64(2), res.Failures[0].MemberID)
	assert.Contains(t, res.Failures[0].Error, "disk full")
	assert.Equal(t, int64(4), res.Failures[1].MemberID)
	assert.Contains(t, res.Failures[1].Error, "lock wait timeout")
}

func TestBuildBatch_Empty(t *testing.T) {
	b := newTestBuilder(seededRepo(), newMemStore())

	res, err := b.BuildBatch(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.Equal(t, "2025-06-15", res.SnapshotDate)
}

func TestBuildBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := newTestBuilder(seededRepo(), newMemStore())

	res, err := b.BuildBatch(ctx, []int64{1, 2}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
}

func TestBuildDaily(t *testing.T) {
	st := newMemStore()
	b := newTestBuilder(seededRepo(), st)

	run, err := b.BuildDaily(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 3, run.Processed)
	assert.Equal(t, 0, run.Failed)
	assert.Equal(t, "2025-06-15", run.SnapshotDate)
	require.Len(t, st.runs, 1)
	assert.Len(t, st.snapshots, 3)
}

func TestBuildDaily_ActiveMembersError(t *testing.T) {
	repo := seededRepo()
	repo.activeErr = errors.New("too many connections")
	st := newMemStore()
	b := newTestBuilder(repo, st)

	run, err := b.BuildDaily(context.Background(), Options{})
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "too many connections")
	require.Len(t, st.runs, 1)
}
