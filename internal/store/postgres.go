// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

// Package store provides the relational mirror (entities plus changelog) and
// the badger-backed conditional-request metadata cache.
package store

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hubcast/hubcast/internal/config"
	"github.com/hubcast/hubcast/internal/logging"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	*sql.DB
	sb sq.StatementBuilderType
}

// Connect opens and pings the PostgreSQL pool.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	conn, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnLifetime)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logging.Info().Msg("connected to database")

	return NewDB(conn), nil
}

// NewDB wraps an existing pool; split out so tests can inject sqlmock.
func NewDB(conn *sql.DB) *DB {
	return &DB{
		DB: conn,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// schema is applied at startup. Statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS entities (
    entity     TEXT   NOT NULL,
    id         BIGINT NOT NULL,
    payload    JSONB  NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (entity, id)
);

CREATE TABLE IF NOT EXISTS changelog (
    seq       BIGSERIAL PRIMARY KEY,
    kind      SMALLINT NOT NULL,
    scope_id  BIGINT   NOT NULL,
    version   BIGINT   NOT NULL,
    entity    TEXT     NOT NULL,
    action    TEXT     NOT NULL,
    entity_id BIGINT   NOT NULL,
    payload   JSONB
);

CREATE INDEX IF NOT EXISTS changelog_scope_version
    ON changelog (kind, scope_id, version);

CREATE TABLE IF NOT EXISTS scope_versions (
    kind     SMALLINT NOT NULL,
    scope_id BIGINT   NOT NULL,
    version  BIGINT   NOT NULL,
    PRIMARY KEY (kind, scope_id)
);

CREATE TABLE IF NOT EXISTS visible_repos (
    user_id BIGINT NOT NULL,
    repo_id BIGINT NOT NULL,
    PRIMARY KEY (user_id, repo_id)
);

CREATE TABLE IF NOT EXISTS visible_orgs (
    user_id BIGINT NOT NULL,
    org_id  BIGINT NOT NULL,
    PRIMARY KEY (user_id, org_id)
);

CREATE TABLE IF NOT EXISTS feature_versions (
    name    TEXT   PRIMARY KEY,
    version BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS server_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// EnsureSchema creates the mirror tables when missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PurgeID returns the persistent purge identifier, minting one on first
// startup. A wiped database yields a fresh identifier, which tells returning
// clients to discard their local mirrors.
func (db *DB) PurgeID(ctx context.Context) (string, error) {
	insert, args, err := db.sb.Insert("server_meta").
		Columns("key", "value").
		Values("purge_id", uuid.NewString()).
		Suffix("ON CONFLICT (key) DO NOTHING").
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build purge id insert: %w", err)
	}
	if _, err := db.ExecContext(ctx, insert, args...); err != nil {
		return "", fmt.Errorf("store purge id: %w", err)
	}

	query, args, err := db.sb.Select("value").
		From("server_meta").
		Where(sq.Eq{"key": "purge_id"}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build purge id select: %w", err)
	}
	var id string
	if err := db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("read purge id: %w", err)
	}
	return id, nil
}
