package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/makerspace/member-success/internal/db"
	"github.com/makerspace/member-success/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var pgUpsertSnapshot = mustUpsertSQL(db.Dollar)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS member_snapshots (
	uid                       BIGINT NOT NULL,
	snapshot_date             TEXT NOT NULL,
	snapshot_type             TEXT NOT NULL DEFAULT 'daily',
	stage                     TEXT NOT NULL,
	risk_score                INTEGER NOT NULL DEFAULT 0,
	risk_reasons              JSONB NOT NULL DEFAULT '[]',
	tenure_bucket             TEXT,
	join_date                 TEXT,
	orientation_date          TEXT,
	door_badge_status         TEXT,
	serial_present            BOOLEAN NOT NULL DEFAULT false,
	badge_count_total         INTEGER NOT NULL DEFAULT 0,
	badge_count_window        INTEGER NOT NULL DEFAULT 0,
	membership_type           TEXT,
	last_badge_ts             BIGINT,
	last_visit_ts             BIGINT,
	visit_count_30d           INTEGER NOT NULL DEFAULT 0,
	payment_failed            BOOLEAN NOT NULL DEFAULT false,
	payment_pause             BOOLEAN NOT NULL DEFAULT false,
	payment_status            TEXT,
	do_not_phone              BOOLEAN NOT NULL DEFAULT false,
	do_not_email              BOOLEAN NOT NULL DEFAULT false,
	do_not_sms                BOOLEAN NOT NULL DEFAULT false,
	do_not_mail               BOOLEAN NOT NULL DEFAULT false,
	preferred_outreach_method TEXT,
	created_ts                BIGINT NOT NULL,
	PRIMARY KEY (uid, snapshot_date, snapshot_type)
);

CREATE INDEX IF NOT EXISTS idx_member_snapshots_date_type ON member_snapshots(snapshot_date, snapshot_type);
CREATE INDEX IF NOT EXISTS idx_member_snapshots_stage ON member_snapshots(stage);
CREATE INDEX IF NOT EXISTS idx_member_snapshots_risk ON member_snapshots(risk_score DESC);

CREATE TABLE IF NOT EXISTS snapshot_runs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	snapshot_date TEXT NOT NULL,
	snapshot_type TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	processed     INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	failures      JSONB NOT NULL DEFAULT '[]',
	error         TEXT,
	started_ts    BIGINT NOT NULL,
	finished_ts   BIGINT
);

CREATE INDEX IF NOT EXISTS idx_snapshot_runs_started ON snapshot_runs(started_ts DESC);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertSnapshot inserts the snapshot or replaces every non-key column of the
// row with the same (uid, snapshot_date, snapshot_type).
func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap model.Snapshot) error {
	if err := snap.Key().Validate(); err != nil {
		return eris.Wrap(err, "postgres: upsert snapshot")
	}
	args, err := snapshotArgs(snap)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, pgUpsertSnapshot, args...); err != nil {
		return eris.Wrapf(err, "postgres: upsert snapshot for member %d", snap.MemberID)
	}
	return nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, key model.SnapshotKey) (*model.Snapshot, error) {
	q := getSnapshotQuery(db.Dollar, key)
	var rec snapshotRecord
	err := s.pool.QueryRow(ctx, q.String(), q.args...).Scan(rec.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get snapshot for member %d", key.MemberID)
	}
	snap, err := rec.snapshot()
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.Snapshot, error) {
	q := listSnapshotsQuery(db.Dollar, filter)
	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var out []model.Snapshot
	for rows.Next() {
		var rec snapshotRecord
		if err := rows.Scan(rec.dest()...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		snap, err := rec.snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

func (s *PostgresStore) LatestSnapshotDate(ctx context.Context, snapshotType string) (string, error) {
	q := latestDateQuery(db.Dollar, snapshotType)
	var date *string
	if err := s.pool.QueryRow(ctx, q.String(), q.args...).Scan(&date); err != nil {
		return "", eris.Wrap(err, "postgres: latest snapshot date")
	}
	return deref(date), nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.SnapshotRun) error {
	prepareRun(run)
	q, err := insertRunQuery(db.Dollar, run)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, q.String(), q.args...); err != nil {
		return eris.Wrap(err, "postgres: insert run")
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *model.SnapshotRun) error {
	finalizeRun(run)
	q, err := finishRunQuery(db.Dollar, run)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, q.String(), q.args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.SnapshotRun, error) {
	q := listRunsQuery(db.Dollar, filter)
	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.SnapshotRun
	for rows.Next() {
		var rec runRecord
		if err := rows.Scan(rec.dest()...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		run, err := rec.snapshotRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
