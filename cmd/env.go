package main

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/makerspace/member-success/internal/config"
	"github.com/makerspace/member-success/internal/crm"
	"github.com/makerspace/member-success/internal/events"
	"github.com/makerspace/member-success/internal/membership"
	"github.com/makerspace/member-success/internal/model"
	"github.com/makerspace/member-success/internal/resilience"
	"github.com/makerspace/member-success/internal/snapshot"
	"github.com/makerspace/member-success/internal/store"
	sfpkg "github.com/makerspace/member-success/pkg/salesforce"
)

const defaultSQLitePath = "member-success.db"

// buildEnv holds everything a snapshot build needs.
type buildEnv struct {
	Store     store.Store
	Builder   *snapshot.Builder
	CRM       crm.Client
	Publisher events.Publisher

	membershipDB *sql.DB
}

// Close releases all connections held by the environment.
func (e *buildEnv) Close() {
	if e.Publisher != nil {
		if err := e.Publisher.Close(); err != nil {
			zap.L().Warn("close publisher", zap.Error(err))
		}
	}
	if e.membershipDB != nil {
		e.membershipDB.Close() //nolint:errcheck
	}
	if e.Store != nil {
		e.Store.Close() //nolint:errcheck
	}
}

// initStore opens the snapshot store named by the config and applies its
// schema.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		st, err = store.NewSQLite(dsn)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initMembership opens the membership database and wraps it in a repository.
func initMembership(ctx context.Context) (*sql.DB, *membership.SQLRepository, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	db, err := membership.Open(ctx, cfg.Membership.Driver, cfg.Membership.DSN)
	if err != nil {
		return nil, nil, eris.Wrap(err, "init membership")
	}

	repo := membership.NewSQLRepository(db,
		membership.WithLocation(loc),
		membership.WithMemberRoles(cfg.Membership.MemberRoles...),
	)
	return db, repo, nil
}

// initCRM returns the Salesforce-backed CRM client, or a no-op client when
// Salesforce is not configured.
func initCRM() (crm.Client, error) {
	if !cfg.Salesforce.Enabled() {
		zap.L().Info("salesforce not configured, contact preferences disabled")
		return crm.Noop{}, nil
	}

	client, err := sfpkg.Dial(sfpkg.Credentials{
		LoginURL: cfg.Salesforce.LoginURL,
		Username: cfg.Salesforce.Username,
		ClientID: cfg.Salesforce.ClientID,
		KeyPath:  cfg.Salesforce.KeyPath,
	}, sfpkg.WithRateLimit(cfg.Salesforce.RateLimit))
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	policy := resilience.NewPolicy("salesforce", cfg.Resilience)
	return crm.NewSalesforce(client, cfg.Salesforce.Fields, policy), nil
}

// initPublisher returns the Kafka publisher when brokers are configured.
func initPublisher() (events.Publisher, error) {
	if !cfg.Kafka.Enabled() {
		return events.Noop{}, nil
	}
	p, err := events.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, eris.Wrap(err, "init kafka")
	}
	zap.L().Info("publishing snapshot events",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
	)
	return p, nil
}

// initBuild validates the config for mode and wires a snapshot builder.
func initBuild(ctx context.Context, mode config.Mode) (*buildEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &buildEnv{}
	ok := false
	defer func() {
		if !ok {
			env.Close()
		}
	}()

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st

	db, repo, err := initMembership(ctx)
	if err != nil {
		return nil, err
	}
	env.membershipDB = db

	env.CRM, err = initCRM()
	if err != nil {
		return nil, err
	}

	env.Publisher, err = initPublisher()
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	env.Builder = snapshot.NewBuilder(repo, env.CRM, env.Store,
		snapshot.StaticThresholds(cfg.Thresholds),
		snapshot.WithPublisher(env.Publisher),
		snapshot.WithConcurrency(cfg.Snapshot.Concurrency),
		snapshot.WithLocation(loc),
	)

	ok = true
	return env, nil
}

// openReadStore validates the store settings and opens the snapshot store.
func openReadStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate(config.ModeRead); err != nil {
		return nil, err
	}
	return initStore(ctx)
}

// snapshotTypeOrDefault returns t, or the daily type when t is empty.
func snapshotTypeOrDefault(t string) string {
	if t == "" {
		return model.DefaultSnapshotType
	}
	return t
}
