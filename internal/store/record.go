package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/makerspace/member-success/internal/db"
	"github.com/makerspace/member-success/internal/model"
)

const (
	snapshotTable   = "member_snapshots"
	runTable        = "snapshot_runs"
	defaultRunLimit = 100
)

var snapshotKeyColumns = []string{"uid", "snapshot_date", "snapshot_type"}

var snapshotColumns = []string{
	"uid", "snapshot_date", "snapshot_type",
	"stage", "risk_score", "risk_reasons", "tenure_bucket",
	"join_date", "orientation_date", "door_badge_status", "serial_present",
	"badge_count_total", "badge_count_window", "membership_type",
	"last_badge_ts", "last_visit_ts", "visit_count_30d",
	"payment_failed", "payment_pause", "payment_status",
	"do_not_phone", "do_not_email", "do_not_sms", "do_not_mail",
	"preferred_outreach_method", "created_ts",
}

var runColumns = []string{
	"id", "snapshot_date", "snapshot_type", "status", "processed", "failed",
	"failures", "error", "started_ts", "finished_ts",
}

func mustUpsertSQL(ph db.Placeholder) string {
	q, err := db.UpsertSQL(db.UpsertConfig{
		Table:        snapshotTable,
		Columns:      snapshotColumns,
		ConflictKeys: snapshotKeyColumns,
	}, ph)
	if err != nil {
		panic(err)
	}
	return q
}

// query accumulates a statement and its arguments with dialect placeholders.
type query struct {
	ph   db.Placeholder
	sql  strings.Builder
	args []any
}

func newQuery(ph db.Placeholder, base string) *query {
	q := &query{ph: ph}
	q.sql.WriteString(base)
	return q
}

// where appends " AND <clause>" binding v to the single %s in clause.
func (q *query) where(clause string, v any) {
	q.args = append(q.args, v)
	q.sql.WriteString(" AND ")
	q.sql.WriteString(fmt.Sprintf(clause, q.ph.Bind(len(q.args))))
}

func (q *query) raw(s string) {
	q.sql.WriteString(s)
}

func (q *query) bind(v any) string {
	q.args = append(q.args, v)
	return q.ph.Bind(len(q.args))
}

func (q *query) String() string {
	return q.sql.String()
}

func selectSnapshotsSQL() string {
	return "SELECT " + strings.Join(snapshotColumns, ", ") + " FROM " + snapshotTable + " WHERE 1=1"
}

func getSnapshotQuery(ph db.Placeholder, key model.SnapshotKey) *query {
	q := newQuery(ph, selectSnapshotsSQL())
	q.where("uid = %s", key.MemberID)
	q.where("snapshot_date = %s", key.SnapshotDate)
	q.where("snapshot_type = %s", key.SnapshotType)
	return q
}

func listSnapshotsQuery(ph db.Placeholder, f SnapshotFilter) *query {
	q := newQuery(ph, selectSnapshotsSQL())
	if f.MemberID > 0 {
		q.where("uid = %s", f.MemberID)
	}
	if f.SnapshotDate != "" {
		q.where("snapshot_date = %s", f.SnapshotDate)
	}
	if f.SnapshotType != "" {
		q.where("snapshot_type = %s", f.SnapshotType)
	}
	if f.Stage != "" {
		q.where("stage = %s", string(f.Stage))
	}
	if f.MinRisk > 0 {
		q.where("risk_score >= %s", f.MinRisk)
	}
	q.raw(" ORDER BY snapshot_date DESC, risk_score DESC, uid ASC")
	if f.Limit > 0 {
		q.raw(" LIMIT " + q.bind(f.Limit))
		if f.Offset > 0 {
			q.raw(" OFFSET " + q.bind(f.Offset))
		}
	}
	return q
}

func latestDateQuery(ph db.Placeholder, snapshotType string) *query {
	q := newQuery(ph, "SELECT MAX(snapshot_date) FROM "+snapshotTable+" WHERE 1=1")
	q.where("snapshot_type = %s", snapshotType)
	return q
}

func insertRunQuery(ph db.Placeholder, run *model.SnapshotRun) (*query, error) {
	failures, err := encodeFailures(run.Failures)
	if err != nil {
		return nil, err
	}
	q := newQuery(ph, "INSERT INTO "+runTable+" ("+strings.Join(runColumns, ", ")+") VALUES (")
	vals := []any{
		run.ID, run.SnapshotDate, run.SnapshotType, string(run.Status),
		run.Processed, run.Failed, failures, run.Error,
		run.StartedAt.Unix(), unixArg(run.FinishedAt),
	}
	binds := make([]string, len(vals))
	for i, v := range vals {
		binds[i] = q.bind(v)
	}
	q.raw(strings.Join(binds, ", ") + ")")
	return q, nil
}

func finishRunQuery(ph db.Placeholder, run *model.SnapshotRun) (*query, error) {
	failures, err := encodeFailures(run.Failures)
	if err != nil {
		return nil, err
	}
	q := newQuery(ph, "UPDATE "+runTable+" SET ")
	sets := []string{
		"status = " + q.bind(string(run.Status)),
		"processed = " + q.bind(run.Processed),
		"failed = " + q.bind(run.Failed),
		"failures = " + q.bind(failures),
		"error = " + q.bind(run.Error),
		"finished_ts = " + q.bind(unixArg(run.FinishedAt)),
	}
	q.raw(strings.Join(sets, ", "))
	q.raw(" WHERE id = " + q.bind(run.ID))
	return q, nil
}

func listRunsQuery(ph db.Placeholder, f RunFilter) *query {
	q := newQuery(ph, "SELECT "+strings.Join(runColumns, ", ")+" FROM "+runTable+" WHERE 1=1")
	if f.SnapshotType != "" {
		q.where("snapshot_type = %s", f.SnapshotType)
	}
	if f.Status != "" {
		q.where("status = %s", string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}
	q.raw(" ORDER BY started_ts DESC, id ASC LIMIT " + q.bind(limit))
	return q
}

// prepareRun fills the identity and start fields of a new run.
func prepareRun(run *model.SnapshotRun) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}
}

// finalizeRun stamps the finish time of a run being closed.
func finalizeRun(run *model.SnapshotRun) {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	if run.Status == "" || run.Status == model.RunStatusRunning {
		run.Status = model.RunStatusComplete
	}
}

// snapshotArgs returns the column values of snap in snapshotColumns order.
func snapshotArgs(snap model.Snapshot) ([]any, error) {
	reasons := snap.RiskReasons
	if reasons == nil {
		reasons = []model.Reason{}
	}
	reasonsJSON, err := json.Marshal(reasons)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal risk reasons")
	}

	created := snap.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	return []any{
		snap.MemberID, snap.SnapshotDate, snap.SnapshotType,
		string(snap.Stage), snap.RiskScore, string(reasonsJSON), nullString(string(snap.TenureBucket)),
		nullString(snap.JoinDate), nullString(snap.OrientationDate), nullString(snap.DoorBadgeStatus), snap.SerialPresent,
		snap.BadgeCountTotal, snap.BadgeCountWindow, nullString(snap.MembershipType),
		unixArg(snap.LastBadgeAt), unixArg(snap.LastVisitAt), snap.VisitCount30d,
		snap.PaymentFailed, snap.PaymentPause, nullString(snap.PaymentStatus),
		snap.DoNotPhone, snap.DoNotEmail, snap.DoNotSMS, snap.DoNotMail,
		nullString(snap.PreferredOutreachMethod), created.Unix(),
	}, nil
}

// snapshotRecord holds scan targets for one member_snapshots row.
type snapshotRecord struct {
	snap            model.Snapshot
	stage           string
	reasons         string
	tenure          *string
	joinDate        *string
	orientationDate *string
	doorBadgeStatus *string
	membershipType  *string
	lastBadgeTS     *int64
	lastVisitTS     *int64
	paymentStatus   *string
	preferred       *string
	createdTS       int64
}

func (r *snapshotRecord) dest() []any {
	s := &r.snap
	return []any{
		&s.MemberID, &s.SnapshotDate, &s.SnapshotType,
		&r.stage, &s.RiskScore, &r.reasons, &r.tenure,
		&r.joinDate, &r.orientationDate, &r.doorBadgeStatus, &s.SerialPresent,
		&s.BadgeCountTotal, &s.BadgeCountWindow, &r.membershipType,
		&r.lastBadgeTS, &r.lastVisitTS, &s.VisitCount30d,
		&s.PaymentFailed, &s.PaymentPause, &r.paymentStatus,
		&s.DoNotPhone, &s.DoNotEmail, &s.DoNotSMS, &s.DoNotMail,
		&r.preferred, &r.createdTS,
	}
}

func (r *snapshotRecord) snapshot() (model.Snapshot, error) {
	s := r.snap
	s.Stage = model.Stage(r.stage)
	s.RiskReasons = []model.Reason{}
	if r.reasons != "" {
		if err := json.Unmarshal([]byte(r.reasons), &s.RiskReasons); err != nil {
			return model.Snapshot{}, eris.Wrap(err, "store: unmarshal risk reasons")
		}
	}
	s.TenureBucket = model.TenureBucket(deref(r.tenure))
	s.JoinDate = deref(r.joinDate)
	s.OrientationDate = deref(r.orientationDate)
	s.DoorBadgeStatus = deref(r.doorBadgeStatus)
	s.MembershipType = deref(r.membershipType)
	s.PaymentStatus = deref(r.paymentStatus)
	s.PreferredOutreachMethod = deref(r.preferred)
	s.LastBadgeAt = fromUnix(r.lastBadgeTS)
	s.LastVisitAt = fromUnix(r.lastVisitTS)
	s.CreatedAt = time.Unix(r.createdTS, 0).UTC()
	return s, nil
}

// runRecord holds scan targets for one snapshot_runs row.
type runRecord struct {
	run        model.SnapshotRun
	status     string
	failures   string
	errMsg     *string
	startedTS  int64
	finishedTS *int64
}

func (r *runRecord) dest() []any {
	run := &r.run
	return []any{
		&run.ID, &run.SnapshotDate, &run.SnapshotType, &r.status, &run.Processed, &run.Failed,
		&r.failures, &r.errMsg, &r.startedTS, &r.finishedTS,
	}
}

func (r *runRecord) snapshotRun() (model.SnapshotRun, error) {
	run := r.run
	run.Status = model.RunStatus(r.status)
	run.Error = deref(r.errMsg)
	run.StartedAt = time.Unix(r.startedTS, 0).UTC()
	run.FinishedAt = fromUnix(r.finishedTS)
	if r.failures != "" {
		if err := json.Unmarshal([]byte(r.failures), &run.Failures); err != nil {
			return model.SnapshotRun{}, eris.Wrap(err, "store: unmarshal run failures")
		}
	}
	if len(run.Failures) == 0 {
		run.Failures = nil
	}
	return run, nil
}

func encodeFailures(failures []model.MemberFailure) (string, error) {
	if failures == nil {
		failures = []model.MemberFailure{}
	}
	b, err := json.Marshal(failures)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal run failures")
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func unixArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func fromUnix(ts *int64) *time.Time {
	if ts == nil {
		return nil
	}
	t := time.Unix(*ts, 0).UTC()
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
