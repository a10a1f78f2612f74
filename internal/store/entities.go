// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package store

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
)

// Association entity tags stored in the changelog alongside the tags defined
// in the models package. Association rows carry no entity table row; they are
// joined onto issues and repositories while reading pages.
const (
	EntityIssueLabel     = "issueLabel"
	EntityIssueAssignee  = "issueAssignee"
	EntityRepoLabel      = "repoLabel"
	EntityRepoAssignable = "repoAssignable"
	EntityMembership     = "membership"
)

// associationPayload is the JSON body of an association changelog row.
type associationPayload struct {
	Parent int64 `json:"parent"`
	Child  int64 `json:"child"`
}

// EntityStore is the upsert-by-id API the mirror layer writes refreshed
// upstream entities through. Every write also appends a changelog row with
// the scope's next version, which is what delta passes later read.
type EntityStore struct {
	db *DB
}

// NewEntityStore wraps the database.
func NewEntityStore(db *DB) *EntityStore {
	return &EntityStore{db: db}
}

// RecordSet upserts the entity payload and appends a set changelog row for
// the given scope (kind 1 = repository, 2 = organization).
func (s *EntityStore) RecordSet(ctx context.Context, kind int, scopeID int64, entity string, id int64, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s %d: %w", entity, id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query, args, err := s.db.sb.Insert("entities").
		Columns("entity", "id", "payload").
		Values(entity, id, encoded).
		Suffix("ON CONFLICT (entity, id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s %d: %w", entity, id, err)
	}

	if err := appendChangelog(ctx, tx, kind, scopeID, entity, "set", id, encoded); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// RecordDelete removes the entity row and appends a delete changelog row.
func (s *EntityStore) RecordDelete(ctx context.Context, kind int, scopeID int64, entity string, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query, args, err := s.db.sb.Delete("entities").
		Where(sq.Eq{"entity": entity, "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete %s %d: %w", entity, id, err)
	}

	if err := appendChangelog(ctx, tx, kind, scopeID, entity, "delete", id, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// RecordAssociation appends an association changelog row (issue-label,
// issue-assignee, repo-label, repo-assignable or membership pair).
func (s *EntityStore) RecordAssociation(ctx context.Context, kind int, scopeID int64, entity string, parent, child int64) error {
	encoded, err := json.Marshal(associationPayload{Parent: parent, Child: child})
	if err != nil {
		return fmt.Errorf("encode %s association: %w", entity, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin association: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := appendChangelog(ctx, tx, kind, scopeID, entity, "set", parent, encoded); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit association: %w", err)
	}
	return nil
}

// BumpFeature raises a cross-cutting feature counter. Counters only move
// forward; every connected client picks the new value up at the end of its
// next delta pass.
func (s *EntityStore) BumpFeature(ctx context.Context, name string, version int64) error {
	const query = `
INSERT INTO feature_versions (name, version) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET version = GREATEST(feature_versions.version, EXCLUDED.version)`

	if _, err := s.db.ExecContext(ctx, query, name, version); err != nil {
		return fmt.Errorf("bump feature %s: %w", name, err)
	}
	return nil
}

// SetRepoVisibility replaces the set of repositories visible to a user.
// Repositories leaving the set show up in the next delta pass's removed list.
func (s *EntityStore) SetRepoVisibility(ctx context.Context, userID int64, repoIDs []int64) error {
	return s.replaceVisibility(ctx, "visible_repos", "repo_id", userID, repoIDs)
}

// SetOrgVisibility replaces the set of organizations visible to a user.
func (s *EntityStore) SetOrgVisibility(ctx context.Context, userID int64, orgIDs []int64) error {
	return s.replaceVisibility(ctx, "visible_orgs", "org_id", userID, orgIDs)
}

func (s *EntityStore) replaceVisibility(ctx context.Context, table, column string, userID int64, ids []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin visibility update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query, args, err := s.db.sb.Delete(table).Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return fmt.Errorf("build visibility delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}

	if len(ids) > 0 {
		insert := s.db.sb.Insert(table).Columns("user_id", column)
		for _, id := range ids {
			insert = insert.Values(userID, id)
		}
		query, args, err = insert.ToSql()
		if err != nil {
			return fmt.Errorf("build visibility insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("fill %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit visibility update: %w", err)
	}
	return nil
}

// appendChangelog writes one changelog row with the scope's next version.
// The version comes from the scope's counter row; the ON CONFLICT update
// takes a row lock, so concurrent writers on the same scope serialize and
// never mint the same version twice.
func appendChangelog(ctx context.Context, tx *sql.Tx, kind int, scopeID int64, entity, action string, entityID int64, payload []byte) error {
	const bump = `
INSERT INTO scope_versions (kind, scope_id, version) VALUES ($1, $2, 1)
ON CONFLICT (kind, scope_id) DO UPDATE SET version = scope_versions.version + 1
RETURNING version`

	var version int64
	if err := tx.QueryRowContext(ctx, bump, kind, scopeID).Scan(&version); err != nil {
		return fmt.Errorf("next version for scope %d/%d: %w", kind, scopeID, err)
	}

	const query = `
INSERT INTO changelog (kind, scope_id, version, entity, action, entity_id, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := tx.ExecContext(ctx, query, kind, scopeID, version, entity, action, entityID, payload); err != nil {
		return fmt.Errorf("append changelog %s/%s %d: %w", entity, action, entityID, err)
	}
	return nil
}
