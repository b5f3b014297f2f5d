package snapshot

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/makerspace/member-success/internal/crm"
	"github.com/makerspace/member-success/internal/membership"
	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/store"
)

var testNow = time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)

func daysBefore(n int) *time.Time {
	t := testNow.Add(-time.Duration(n) * 24 * time.Hour)
	return &t
}

type memberRecord struct {
	profile membership.Profile
	flags   membership.UserFlags
	door    membership.DoorBadge
	badges  membership.BadgeStats
	visits  membership.VisitStats
	err     error
}

type fakeRepo struct {
	mu        sync.Mutex
	members   map[int64]memberRecord
	activeErr error

	badgeTerm   int
	badgeWindow int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{members: map[int64]memberRecord{}}
}

func (r *fakeRepo) get(id int64) (memberRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.members[id]
	return rec, rec.err
}

func (r *fakeRepo) ActiveMemberIDs(context.Context) ([]int64, error) {
	if r.activeErr != nil {
		return nil, r.activeErr
	}
	ids := make([]int64, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *fakeRepo) MemberExists(_ context.Context, id int64) (bool, error) {
	_, ok := r.members[id]
	return ok, nil
}

func (r *fakeRepo) Profile(_ context.Context, id int64) (membership.Profile, error) {
	rec, err := r.get(id)
	return rec.profile, err
}

func (r *fakeRepo) UserFlags(_ context.Context, id int64) (membership.UserFlags, error) {
	rec, err := r.get(id)
	return rec.flags, err
}

func (r *fakeRepo) DoorBadge(_ context.Context, id int64, term int) (membership.DoorBadge, error) {
	r.mu.Lock()
	r.badgeTerm = term
	r.mu.Unlock()
	rec, err := r.get(id)
	return rec.door, err
}

func (r *fakeRepo) BadgeStats(_ context.Context, id int64, _ int, window int, _ time.Time) (membership.BadgeStats, error) {
	r.mu.Lock()
	r.badgeWindow = window
	r.mu.Unlock()
	rec, err := r.get(id)
	return rec.badges, err
}

func (r *fakeRepo) VisitStats(_ context.Context, id int64, _ time.Time) (membership.VisitStats, error) {
	rec, err := r.get(id)
	return rec.visits, err
}

type fakeCRM struct {
	flags map[int64]model.CRMFlags
	err   error
}

func (c *fakeCRM) ContactFlags(_ context.Context, id int64) (model.CRMFlags, error) {
	if c.err != nil {
		return model.CRMFlags{}, c.err
	}
	return c.flags[id], nil
}

func (c *fakeCRM) MessageTemplates(context.Context) ([]crm.Template, error) {
	return nil, nil
}

type memStore struct {
	mu        sync.Mutex
	snapshots map[model.SnapshotKey]model.Snapshot
	runs      []model.SnapshotRun
	failFor   map[int64]bool
	upserts   int
}

func newMemStore() *memStore {
	return &memStore{snapshots: map[model.SnapshotKey]model.Snapshot{}, failFor: map[int64]bool{}}
}

func (s *memStore) UpsertSnapshot(_ context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[snap.MemberID] {
		return errors.New("disk full")
	}
	s.upserts++
	s.snapshots[snap.Key()] = snap
	return nil
}

func (s *memStore) GetSnapshot(_ context.Context, key model.SnapshotKey) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[key]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *memStore) ListSnapshots(context.Context, store.SnapshotFilter) ([]model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	return out, nil
}

func (s *memStore) LatestSnapshotDate(context.Context, string) (string, error) { return "", nil }

func (s *memStore) CreateRun(_ context.Context, run *model.SnapshotRun) error {
	run.ID = "run-1"
	run.Status = model.RunStatusRunning
	run.StartedAt = testNow
	return nil
}

func (s *memStore) FinishRun(_ context.Context, run *model.SnapshotRun) error {
	if run.Status == "" || run.Status == model.RunStatusRunning {
		run.Status = model.RunStatusComplete
	}
	s.mu.Lock()
	s.runs = append(s.runs, *run)
	s.mu.Unlock()
	return nil
}

func (s *memStore) ListRuns(context.Context, store.RunFilter) ([]model.SnapshotRun, error) {
	return s.runs, nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }

type recordingPublisher struct {
	mu   sync.Mutex
	sent []model.Snapshot
	err  error
}

func (p *recordingPublisher) PublishSnapshot(_ context.Context, snap model.Snapshot) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	p.sent = append(p.sent, snap)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type failingThresholds struct{}

func (failingThresholds) Thresholds(context.Context) (model.Thresholds, error) {
	return model.Thresholds{}, errors.New("settings unavailable")
}
