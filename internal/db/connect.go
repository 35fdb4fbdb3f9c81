package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:ltitool.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/ltitool?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS tool_keys (
  kid TEXT PRIMARY KEY,
  private_pem TEXT NOT NULL DEFAULT '',
  public_jwk TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS lti_platforms (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  issuer TEXT NOT NULL,
  deployment_id TEXT NOT NULL,
  client_id TEXT NOT NULL,
  auth_req_url TEXT NOT NULL,
  pub_key_url TEXT NOT NULL,
  access_token_url TEXT NOT NULL,
  key_kid TEXT NOT NULL DEFAULT '',
  platform_claim TEXT NOT NULL DEFAULT '{}',
  UNIQUE (issuer, deployment_id)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS tool_keys (
  kid TEXT PRIMARY KEY,
  private_pem TEXT NOT NULL DEFAULT '',
  public_jwk TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS lti_platforms (
  id BIGSERIAL PRIMARY KEY,
  issuer TEXT NOT NULL,
  deployment_id TEXT NOT NULL,
  client_id TEXT NOT NULL,
  auth_req_url TEXT NOT NULL,
  pub_key_url TEXT NOT NULL,
  access_token_url TEXT NOT NULL,
  key_kid TEXT NOT NULL DEFAULT '',
  platform_claim TEXT NOT NULL DEFAULT '{}',
  UNIQUE (issuer, deployment_id)
);
`
