package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/makerspace/member-success/internal/db"
	"github.com/makerspace/member-success/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var sqliteUpsertSnapshot = mustUpsertSQL(db.Question)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS member_snapshots (
	uid                       INTEGER NOT NULL,
	snapshot_date             TEXT NOT NULL,
	snapshot_type             TEXT NOT NULL DEFAULT 'daily',
	stage                     TEXT NOT NULL,
	risk_score                INTEGER NOT NULL DEFAULT 0,
	risk_reasons              TEXT NOT NULL DEFAULT '[]',
	tenure_bucket             TEXT,
	join_date                 TEXT,
	orientation_date          TEXT,
	door_badge_status         TEXT,
	serial_present            INTEGER NOT NULL DEFAULT 0,
	badge_count_total         INTEGER NOT NULL DEFAULT 0,
	badge_count_window        INTEGER NOT NULL DEFAULT 0,
	membership_type           TEXT,
	last_badge_ts             INTEGER,
	last_visit_ts             INTEGER,
	visit_count_30d           INTEGER NOT NULL DEFAULT 0,
	payment_failed            INTEGER NOT NULL DEFAULT 0,
	payment_pause             INTEGER NOT NULL DEFAULT 0,
	payment_status            TEXT,
	do_not_phone              INTEGER NOT NULL DEFAULT 0,
	do_not_email              INTEGER NOT NULL DEFAULT 0,
	do_not_sms                INTEGER NOT NULL DEFAULT 0,
	do_not_mail               INTEGER NOT NULL DEFAULT 0,
	preferred_outreach_method TEXT,
	created_ts                INTEGER NOT NULL,
	PRIMARY KEY (uid, snapshot_date, snapshot_type)
);

CREATE INDEX IF NOT EXISTS idx_member_snapshots_date_type ON member_snapshots(snapshot_date, snapshot_type);
CREATE INDEX IF NOT EXISTS idx_member_snapshots_stage ON member_snapshots(stage);
CREATE INDEX IF NOT EXISTS idx_member_snapshots_risk ON member_snapshots(risk_score);

CREATE TABLE IF NOT EXISTS snapshot_runs (
	id            TEXT PRIMARY KEY,
	snapshot_date TEXT NOT NULL,
	snapshot_type TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	processed     INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	failures      TEXT NOT NULL DEFAULT '[]',
	error         TEXT,
	started_ts    INTEGER NOT NULL,
	finished_ts   INTEGER
);

CREATE INDEX IF NOT EXISTS idx_snapshot_runs_started ON snapshot_runs(started_ts);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, snap model.Snapshot) error {
	if err := snap.Key().Validate(); err != nil {
		return eris.Wrap(err, "sqlite: upsert snapshot")
	}
	args, err := snapshotArgs(snap)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsertSnapshot, args...); err != nil {
		return eris.Wrapf(err, "sqlite: upsert snapshot for member %d", snap.MemberID)
	}
	return nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, key model.SnapshotKey) (*model.Snapshot, error) {
	q := getSnapshotQuery(db.Question, key)
	var rec snapshotRecord
	err := s.db.QueryRowContext(ctx, q.String(), q.args...).Scan(rec.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get snapshot for member %d", key.MemberID)
	}
	snap, err := rec.snapshot()
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.Snapshot, error) {
	q := listSnapshotsQuery(db.Question, filter)
	rows, err := s.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Snapshot
	for rows.Next() {
		var rec snapshotRecord
		if err := rows.Scan(rec.dest()...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		snap, err := rec.snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}

func (s *SQLiteStore) LatestSnapshotDate(ctx context.Context, snapshotType string) (string, error) {
	q := latestDateQuery(db.Question, snapshotType)
	var date sql.NullString
	if err := s.db.QueryRowContext(ctx, q.String(), q.args...).Scan(&date); err != nil {
		return "", eris.Wrap(err, "sqlite: latest snapshot date")
	}
	return date.String, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.SnapshotRun) error {
	prepareRun(run)
	q, err := insertRunQuery(db.Question, run)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q.String(), q.args...); err != nil {
		return eris.Wrap(err, "sqlite: insert run")
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.SnapshotRun) error {
	finalizeRun(run)
	q, err := finishRunQuery(db.Question, run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, q.String(), q.args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.SnapshotRun, error) {
	q := listRunsQuery(db.Question, filter)
	rows, err := s.db.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.SnapshotRun
	for rows.Next() {
		var rec runRecord
		if err := rows.Scan(rec.dest()...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		run, err := rec.snapshotRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
