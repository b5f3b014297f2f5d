package membership

import (
	"context"
	"database/sql"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Supported membership database drivers.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Open connects to the membership database. MySQL is the production backend;
// SQLite is accepted for local copies of the schema.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverMySQL, "":
		return OpenMySQL(ctx, dsn)
	case DriverSQLite:
		return OpenSQLite(ctx, dsn)
	default:
		return nil, eris.Errorf("membership: unsupported driver %q", driver)
	}
}

// OpenMySQL opens a read connection to a MySQL membership database.
func OpenMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "membership: parse mysql dsn")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	connector, err := gomysql.NewConnector(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "membership: mysql connector")
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "membership: ping mysql")
	}
	return db, nil
}

// OpenSQLite opens a SQLite copy of the membership schema.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "membership: open sqlite")
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "membership: configure sqlite")
	}
	return db, nil
}
