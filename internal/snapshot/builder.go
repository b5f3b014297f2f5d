package snapshot

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/makerspace/member-success/internal/crm"
	"github.com/makerspace/member-success/internal/events"
	"github.com/makerspace/member-success/internal/lifecycle"
	"github.com/makerspace/member-success/internal/membership"
	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/store"
)

// DefaultConcurrency is the number of members built in parallel by a batch.
const DefaultConcurrency = 4

// ErrMemberNotFound is returned by BuildOne when the member does not exist.
var ErrMemberNotFound = errors.New("snapshot: member not found")

// Options selects the snapshot being built. Empty fields take defaults: the
// current date in the builder's location and the "daily" type.
type Options struct {
	SnapshotDate string `json:"date,omitempty"`
	SnapshotType string `json:"type,omitempty"`
}

// BatchResult reports the outcome of a batch build.
type BatchResult struct {
	SnapshotDate string                `json:"snapshot_date"`
	SnapshotType string                `json:"snapshot_type"`
	Total        int                   `json:"total"`
	Processed    int                   `json:"processed"`
	Failed       int                   `json:"failed"`
	Failures     []model.MemberFailure `json:"failures,omitempty"`
}

// Builder computes snapshots and writes them to the store.
type Builder struct {
	agg         *Aggregator
	repo        membership.Repository
	store       store.Store
	thresholds  ThresholdSource
	publisher   events.Publisher
	concurrency int
	loc         *time.Location
	now         func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithPublisher publishes every stored snapshot.
func WithPublisher(p events.Publisher) BuilderOption {
	return func(b *Builder) {
		if p != nil {
			b.publisher = p
		}
	}
}

// WithConcurrency bounds the batch worker pool.
func WithConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithLocation sets the zone used for the default snapshot date.
func WithLocation(loc *time.Location) BuilderOption {
	return func(b *Builder) {
		if loc != nil {
			b.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBuilder wires a Builder. A nil threshold source uses the defaults.
func NewBuilder(repo membership.Repository, crmClient crm.Client, st store.Store, thresholds ThresholdSource, opts ...BuilderOption) *Builder {
	if thresholds == nil {
		thresholds = StaticThresholds(model.DefaultThresholds())
	}
	b := &Builder{
		agg:         NewAggregator(repo, crmClient),
		repo:        repo,
		store:       st,
		thresholds:  thresholds,
		publisher:   events.Noop{},
		concurrency: DefaultConcurrency,
		loc:         time.Local,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// key resolves options into a validated snapshot key for memberID.
func (b *Builder) key(memberID int64, opts Options, now time.Time) (model.SnapshotKey, error) {
	key := model.SnapshotKey{
		MemberID:     memberID,
		SnapshotDate: opts.SnapshotDate,
		SnapshotType: opts.SnapshotType,
	}
	if key.SnapshotDate == "" {
		key.SnapshotDate = now.In(b.loc).Format(model.DateLayout)
	}
	if key.SnapshotType == "" {
		key.SnapshotType = model.DefaultSnapshotType
	}
	if err := key.Validate(); err != nil {
		return key, eris.Wrap(err, "snapshot: resolve key")
	}
	return key, nil
}

func (b *Builder) loadThresholds(ctx context.Context) (model.Thresholds, error) {
	th, err := b.thresholds.Thresholds(ctx)
	if err != nil {
		return model.Thresholds{}, eris.Wrap(err, "snapshot: load thresholds")
	}
	return th.WithDefaults(), nil
}

// Compute gathers, classifies and scores one member without storing it.
func (b *Builder) Compute(ctx context.Context, memberID int64, key model.SnapshotKey, now time.Time) (model.Snapshot, error) {
	th, err := b.loadThresholds(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}
	return b.compute(ctx, memberID, key, th, now)
}

func (b *Builder) compute(ctx context.Context, memberID int64, key model.SnapshotKey, th model.Thresholds, now time.Time) (model.Snapshot, error) {
	facts, err := b.agg.Gather(ctx, memberID, th, now)
	if err != nil {
		return model.Snapshot{}, eris.Wrapf(err, "snapshot: gather facts for member %d", memberID)
	}

	stage, tenure := lifecycle.Classify(facts, th, now)
	score, reasons := lifecycle.Score(facts, stage, th, now)
	return Assemble(key, facts, stage, tenure, score, reasons, now), nil
}

// build computes, stores and publishes one snapshot.
func (b *Builder) build(ctx context.Context, memberID int64, key model.SnapshotKey, th model.Thresholds, now time.Time) (model.Snapshot, error) {
	snap, err := b.compute(ctx, memberID, key, th, now)
	if err != nil {
		return snap, err
	}
	if err := b.store.UpsertSnapshot(ctx, snap); err != nil {
		return snap, eris.Wrapf(err, "snapshot: store member %d", memberID)
	}
	if err := b.publisher.PublishSnapshot(ctx, snap); err != nil {
		zap.L().Warn("snapshot: publish failed",
			zap.Int64("member_id", memberID),
			zap.Error(err),
		)
	}
	return snap, nil
}

// BuildOne builds and stores the snapshot of a single member. It returns
// ErrMemberNotFound when no such member exists.
func (b *Builder) BuildOne(ctx context.Context, memberID int64, opts Options) (*model.Snapshot, error) {
	now := b.now()
	key, err := b.key(memberID, opts, now)
	if err != nil {
		return nil, err
	}

	exists, err := b.repo.MemberExists(ctx, memberID)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: look up member %d", memberID)
	}
	if !exists {
		return nil, eris.Wrapf(ErrMemberNotFound, "snapshot: member %d", memberID)
	}

	th, err := b.loadThresholds(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := b.build(ctx, memberID, key, th, now)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// BuildBatch builds snapshots for the given members with bounded
// concurrency. A failing member is logged and recorded; it never stops the
// batch. The returned error is non-nil only when the batch could not start
// or the context was cancelled.
func (b *Builder) BuildBatch(ctx context.Context, memberIDs []int64, opts Options) (*BatchResult, error) {
	now := b.now()
	key, err := b.key(1, opts, now)
	if err != nil {
		return nil, err
	}
	result := &BatchResult{
		SnapshotDate: key.SnapshotDate,
		SnapshotType: key.SnapshotType,
		Total:        len(memberIDs),
	}
	if len(memberIDs) == 0 {
		zap.L().Info("snapshot: no members to build")
		return result, nil
	}

	th, err := b.loadThresholds(ctx)
	if err != nil {
		return nil, err
	}

	zap.L().Info("snapshot: building batch",
		zap.Int("members", len(memberIDs)),
		zap.Int("concurrency", b.concurrency),
		zap.String("snapshot_date", key.SnapshotDate),
		zap.String("snapshot_type", key.SnapshotType),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	var (
		processed atomic.Int64
		mu        sync.Mutex
		failures  []model.MemberFailure
	)

	for _, id := range memberIDs {
		g.Go(func() error {
			memberKey := key
			memberKey.MemberID = id

			if _, err := b.build(gctx, id, memberKey, th, now); err != nil {
				zap.L().Error("snapshot: member failed",
					zap.Int64("member_id", id),
					zap.Error(err),
				)
				mu.Lock()
				failures = append(failures, model.MemberFailure{MemberID: id, Error: err.Error()})
				mu.Unlock()
				return nil // keep going
			}
			processed.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "snapshot: batch")
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].MemberID < failures[j].MemberID })
	result.Processed = int(processed.Load())
	result.Failed = len(failures)
	result.Failures = failures

	zap.L().Info("snapshot: batch complete",
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
	)

	if err := ctx.Err(); err != nil {
		return result, eris.Wrap(err, "snapshot: batch cancelled")
	}
	return result, nil
}

// BuildDaily builds snapshots for every active member and records the run in
// the store.
func (b *Builder) BuildDaily(ctx context.Context, opts Options) (*model.SnapshotRun, error) {
	key, err := b.key(1, opts, b.now())
	if err != nil {
		return nil, err
	}

	run := &model.SnapshotRun{SnapshotDate: key.SnapshotDate, SnapshotType: key.SnapshotType}
	if err := b.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "snapshot: create run")
	}
	log := zap.L().With(zap.String("run_id", run.ID))

	result, buildErr := b.buildActive(ctx, Options{SnapshotDate: key.SnapshotDate, SnapshotType: key.SnapshotType})
	if result != nil {
		run.Processed = result.Processed
		run.Failed = result.Failed
		run.Failures = result.Failures
	}
	if buildErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = buildErr.Error()
	}

	// The run must be closed even when ctx was cancelled.
	if err := b.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("snapshot: finish run", zap.Error(err))
		if buildErr == nil {
			return run, eris.Wrap(err, "snapshot: finish run")
		}
	}

	log.Info("snapshot: daily run finished",
		zap.String("status", string(run.Status)),
		zap.Int("processed", run.Processed),
		zap.Int("failed", run.Failed),
	)
	return run, buildErr
}

func (b *Builder) buildActive(ctx context.Context, opts Options) (*BatchResult, error) {
	ids, err := b.repo.ActiveMemberIDs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: load active members")
	}
	return b.BuildBatch(ctx, ids, opts)
}
