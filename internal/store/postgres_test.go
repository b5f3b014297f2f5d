package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makerspace/member-success/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func strPtr(s string) *string { return &s }

func TestPostgresStore_UpsertSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "member_snapshots" .* ON CONFLICT \("uid", "snapshot_date", "snapshot_type"\) DO UPDATE SET "stage" = EXCLUDED\."stage"`).
		WithArgs(anyArgs(len(snapshotColumns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertSnapshot(context.Background(), testSnapshot(42, "2025-06-15"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertSnapshot_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "member_snapshots"`).
		WithArgs(anyArgs(len(snapshotColumns))...).
		WillReturnError(errors.New("connection reset"))

	err := s.UpsertSnapshot(context.Background(), testSnapshot(42, "2025-06-15"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert snapshot for member 42")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertSnapshot_InvalidKey(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.UpsertSnapshot(context.Background(), testSnapshot(42, ""))
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSnapshot_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT uid, snapshot_date, .* FROM member_snapshots WHERE 1=1 AND uid = \$1 AND snapshot_date = \$2 AND snapshot_type = \$3`).
		WithArgs(int64(9), "2025-06-15", "daily").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetSnapshot(context.Background(), model.SnapshotKey{MemberID: 9, SnapshotDate: "2025-06-15", SnapshotType: "daily"})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	lastVisit := int64(1749578400)
	rows := pgxmock.NewRows(snapshotColumns).AddRow(
		int64(9), "2025-06-15", "daily",
		"engagement", 40, `["no_badge_1","no_badge_4"]`, strPtr("new_member"),
		strPtr("2025-01-01"), nil, strPtr("active"), true,
		1, 0, strPtr("Family"),
		nil, &lastVisit, 2,
		false, false, nil,
		false, true, false, false,
		strPtr("email"), int64(1749949200),
	)
	mock.ExpectQuery(`FROM member_snapshots`).
		WithArgs(int64(9), "2025-06-15", "daily").
		WillReturnRows(rows)

	got, err := s.GetSnapshot(context.Background(), model.SnapshotKey{MemberID: 9, SnapshotDate: "2025-06-15", SnapshotType: "daily"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StageEngagement, got.Stage)
	assert.Equal(t, []model.Reason{model.ReasonNoBadge1, model.ReasonNoBadge4}, got.RiskReasons)
	assert.True(t, got.ScoreConsistent())
	assert.Equal(t, model.TenureNewMember, got.TenureBucket)
	assert.Equal(t, "2025-01-01", got.JoinDate)
	assert.Empty(t, got.OrientationDate)
	assert.Equal(t, "Family", got.MembershipType)
	assert.Nil(t, got.LastBadgeAt)
	require.NotNil(t, got.LastVisitAt)
	assert.Equal(t, lastVisit, got.LastVisitAt.Unix())
	assert.True(t, got.DoNotEmail)
	assert.Equal(t, "email", got.PreferredOutreachMethod)
	assert.Equal(t, int64(1749949200), got.CreatedAt.Unix())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSnapshots_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE 1=1 AND snapshot_date = \$1 AND stage = \$2 AND risk_score >= \$3 ORDER BY snapshot_date DESC, risk_score DESC, uid ASC LIMIT \$4`).
		WithArgs("2025-06-15", "retention", 20, 10).
		WillReturnRows(pgxmock.NewRows(snapshotColumns))

	rows, err := s.ListSnapshots(context.Background(), SnapshotFilter{
		SnapshotDate: "2025-06-15",
		Stage:        model.StageRetention,
		MinRisk:      20,
		Limit:        10,
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestSnapshotDate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT MAX\(snapshot_date\) FROM member_snapshots`).
		WithArgs("daily").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(strPtr("2025-06-15")))

	date, err := s.LatestSnapshotDate(context.Background(), "daily")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15", date)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestSnapshotDate_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT MAX\(snapshot_date\)`).
		WithArgs("daily").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(nil))

	date, err := s.LatestSnapshotDate(context.Background(), "daily")
	require.NoError(t, err)
	assert.Empty(t, date)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateAndFinishRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO snapshot_runs`).
		WithArgs(anyArgs(len(runColumns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE snapshot_runs SET status = \$1, .* WHERE id = \$7`).
		WithArgs("complete", 3, 0, "[]", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	run := &model.SnapshotRun{SnapshotDate: "2025-06-15", SnapshotType: "daily"}
	require.NoError(t, s.CreateRun(context.Background(), run))
	assert.NotEmpty(t, run.ID)

	run.Processed = 3
	require.NoError(t, s.FinishRun(context.Background(), run))
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE snapshot_runs`).
		WithArgs(anyArgs(7)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), &model.SnapshotRun{ID: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	finished := int64(1749952800)
	rows := pgxmock.NewRows(runColumns).
		AddRow("run-1", "2025-06-15", "daily", "complete", 10, 1, `[{"member_id":5,"error":"boom"}]`, nil, int64(1749949200), &finished)
	mock.ExpectQuery(`FROM snapshot_runs WHERE 1=1 AND status = \$1 ORDER BY started_ts DESC, id ASC LIMIT \$2`).
		WithArgs("complete", 100).
		WillReturnRows(rows)

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	assert.Equal(t, []model.MemberFailure{{MemberID: 5, Error: "boom"}}, runs[0].Failures)
	require.NotNil(t, runs[0].FinishedAt)
	assert.Equal(t, finished, runs[0].FinishedAt.Unix())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS member_snapshots`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
