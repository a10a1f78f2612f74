// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package store

import (
	"context"
	"fmt"
	"slices"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"

	"github.com/hubcast/hubcast/internal/delta"
	"github.com/hubcast/hubcast/internal/models"
)

// Changelog reads typed delta pages out of the relational changelog. It
// implements delta.Store.
type Changelog struct {
	db *DB
}

// NewChangelog wraps the database.
func NewChangelog(db *DB) *Changelog {
	return &Changelog{db: db}
}

// Open snapshots the user's visibility sets and prepares a paged read of
// every changelog row newer than the caller's versions.
func (c *Changelog) Open(ctx context.Context, userID int64, pageSize int, repos []delta.RepoVersion, orgs []delta.OrgVersion) (delta.Query, error) {
	visibleRepos, err := c.visibleIDs(ctx, "visible_repos", "repo_id", userID)
	if err != nil {
		return nil, err
	}
	visibleOrgs, err := c.visibleIDs(ctx, "visible_orgs", "org_id", userID)
	if err != nil {
		return nil, err
	}

	q := &changelogQuery{
		db:           c.db,
		pageSize:     pageSize,
		visibleRepos: visibleRepos,
		visibleOrgs:  visibleOrgs,
		repoFloor:    make(map[int64]int64, len(visibleRepos)),
		orgFloor:     make(map[int64]int64, len(visibleOrgs)),
	}

	known := make(map[int64]int64, len(repos))
	for _, r := range repos {
		known[r.Repo] = r.Version
	}
	for _, id := range visibleRepos {
		q.repoFloor[id] = known[id] // zero for newly visible repos
	}
	for id := range known {
		if _, visible := q.repoFloor[id]; !visible {
			q.removedRepos = append(q.removedRepos, id)
		}
	}

	knownOrgs := make(map[int64]int64, len(orgs))
	for _, o := range orgs {
		knownOrgs[o.Org] = o.Version
	}
	for _, id := range visibleOrgs {
		q.orgFloor[id] = knownOrgs[id]
	}
	for id := range knownOrgs {
		if _, visible := q.orgFloor[id]; !visible {
			q.removedOrgs = append(q.removedOrgs, id)
		}
	}
	slices.Sort(q.removedRepos)
	slices.Sort(q.removedOrgs)

	return q, nil
}

func (c *Changelog) visibleIDs(ctx context.Context, table, column string, userID int64) ([]int64, error) {
	query, args, err := c.db.sb.Select(column).
		From(table).
		Where(sq.Eq{"user_id": userID}).
		OrderBy(column).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build visibility query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// changelogQuery is one open pass. Repo pages are served one visible
// repository at a time; the single organization page comes last.
type changelogQuery struct {
	db       *DB
	pageSize int

	visibleRepos []int64
	visibleOrgs  []int64
	repoFloor    map[int64]int64
	orgFloor     map[int64]int64

	removedRepos []int64
	removedOrgs  []int64

	nextRepo int
	orgDone  bool
}

func (q *changelogQuery) RemovedRepos(context.Context) ([]int64, error) { return q.removedRepos, nil }
func (q *changelogQuery) RemovedOrgs(context.Context) ([]int64, error)  { return q.removedOrgs, nil }

// TotalPending counts rows newer than the caller's versions across every
// visible scope.
func (q *changelogQuery) TotalPending(ctx context.Context) (int, error) {
	pred := sq.Or{}
	for _, id := range q.visibleRepos {
		pred = append(pred, sq.And{
			sq.Eq{"kind": delta.PageKindRepository, "scope_id": id},
			sq.Gt{"version": q.repoFloor[id]},
		})
	}
	for _, id := range q.visibleOrgs {
		pred = append(pred, sq.And{
			sq.Eq{"kind": delta.PageKindOrganization, "scope_id": id},
			sq.Gt{"version": q.orgFloor[id]},
		})
	}
	if len(pred) == 0 {
		return 0, nil
	}

	query, args, err := q.db.sb.Select("COUNT(*)").From("changelog").Where(pred).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build pending count: %w", err)
	}
	var total int
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count pending changelog rows: %w", err)
	}
	return total, nil
}

// Next serves the next typed page: repository pages first, draining each
// visible repository before moving to the next, then the organization page,
// then nil. The floor advances to each served page's max version so a repo
// with more pending rows than one page keeps producing pages until empty.
func (q *changelogQuery) Next(ctx context.Context) (delta.Page, error) {
	for q.nextRepo < len(q.visibleRepos) {
		repoID := q.visibleRepos[q.nextRepo]

		page, n, err := q.readRepoPage(ctx, repoID)
		if err != nil {
			return nil, err
		}
		if page == nil {
			q.nextRepo++
			continue
		}
		q.repoFloor[repoID] = page.Versions[0].Version
		if q.pageSize <= 0 || n < q.pageSize {
			q.nextRepo++
		}
		return page, nil
	}

	if !q.orgDone {
		q.orgDone = true
		return q.readOrgPage(ctx)
	}
	return nil, nil
}

func (q *changelogQuery) Close() error { return nil }

type changelogRow struct {
	version  int64
	entity   string
	action   string
	entityID int64
	payload  []byte
}

func (q *changelogQuery) readRows(ctx context.Context, kind int, scopeID, floor int64, limit int) ([]changelogRow, error) {
	builder := q.db.sb.Select("version", "entity", "action", "entity_id", "payload").
		From("changelog").
		Where(sq.Eq{"kind": kind, "scope_id": scopeID}).
		Where(sq.Gt{"version": floor}).
		OrderBy("version")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build page query: %w", err)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read changelog scope %d: %w", scopeID, err)
	}
	defer rows.Close()

	var out []changelogRow
	for rows.Next() {
		var r changelogRow
		if err := rows.Scan(&r.version, &r.entity, &r.action, &r.entityID, &r.payload); err != nil {
			return nil, fmt.Errorf("scan changelog row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// readRepoPage assembles one repository page, or nil when the repo has no
// pending rows. The row count lets the caller tell a full page from the
// repo's last one.
func (q *changelogQuery) readRepoPage(ctx context.Context, repoID int64) (*delta.RepoPage, int, error) {
	rows, err := q.readRows(ctx, delta.PageKindRepository, repoID, q.repoFloor[repoID], q.pageSize)
	if err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, nil
	}

	page := &delta.RepoPage{Rows: len(rows)}
	var maxVersion int64
	for _, r := range rows {
		if r.version > maxVersion {
			maxVersion = r.version
		}
		if r.action == string(models.ActionDelete) {
			switch r.entity {
			case models.EntityComment:
				page.DeletedCommentIDs = append(page.DeletedCommentIDs, r.entityID)
			case models.EntityMilestone:
				page.DeletedMilestoneIDs = append(page.DeletedMilestoneIDs, r.entityID)
			case models.EntityReaction:
				page.DeletedReactionIDs = append(page.DeletedReactionIDs, r.entityID)
			}
			continue
		}

		if err := decodeRepoRow(page, r); err != nil {
			return nil, 0, err
		}
	}

	page.Versions = []delta.RepoVersion{{Repo: repoID, Version: maxVersion}}
	return page, len(rows), nil
}

func decodeRepoRow(page *delta.RepoPage, r changelogRow) error {
	switch r.entity {
	case models.EntityAccount:
		return appendDecoded(r, &page.Accounts)
	case models.EntityComment:
		return appendDecoded(r, &page.Comments)
	case models.EntityEvent:
		return appendDecoded(r, &page.Events)
	case models.EntityMilestone:
		return appendDecoded(r, &page.Milestones)
	case models.EntityReaction:
		return appendDecoded(r, &page.Reactions)
	case models.EntityIssue:
		return appendDecoded(r, &page.Issues)
	case models.EntityRepository:
		return appendDecoded(r, &page.Repositories)

	case EntityIssueLabel:
		pair, err := decodeAssociation(r)
		if err != nil {
			return err
		}
		page.IssueLabels = append(page.IssueLabels, delta.IssueLabel{IssueID: pair.Parent, LabelID: pair.Child})
	case EntityIssueAssignee:
		pair, err := decodeAssociation(r)
		if err != nil {
			return err
		}
		page.IssueAssignees = append(page.IssueAssignees, delta.IssueAssignee{IssueID: pair.Parent, AccountID: pair.Child})
	case EntityRepoLabel:
		pair, err := decodeAssociation(r)
		if err != nil {
			return err
		}
		page.RepoLabels = append(page.RepoLabels, delta.RepoLabel{RepoID: pair.Parent, LabelID: pair.Child})
	case EntityRepoAssignable:
		pair, err := decodeAssociation(r)
		if err != nil {
			return err
		}
		page.RepoAssignables = append(page.RepoAssignables, delta.RepoAssignable{RepoID: pair.Parent, AccountID: pair.Child})

	default:
		return fmt.Errorf("unknown repo changelog entity %q", r.entity)
	}
	return nil
}

// readOrgPage assembles the final organization page across all visible
// organizations, plus the server's current feature counters.
func (q *changelogQuery) readOrgPage(ctx context.Context) (*delta.OrgPage, error) {
	features, err := q.readFeatures(ctx)
	if err != nil {
		return nil, err
	}

	page := &delta.OrgPage{Features: features}
	for _, orgID := range q.visibleOrgs {
		rows, err := q.readRows(ctx, delta.PageKindOrganization, orgID, q.orgFloor[orgID], 0)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}

		var maxVersion int64
		for _, r := range rows {
			if r.version > maxVersion {
				maxVersion = r.version
			}
			switch r.entity {
			case models.EntityAccount, models.EntityOrganization:
				if err := appendDecoded(r, &page.Accounts); err != nil {
					return nil, err
				}
			case EntityMembership:
				pair, err := decodeAssociation(r)
				if err != nil {
					return nil, err
				}
				page.Memberships = append(page.Memberships, delta.Membership{OrgID: pair.Parent, AccountID: pair.Child})
			default:
				return nil, fmt.Errorf("unknown org changelog entity %q", r.entity)
			}
		}
		page.Versions = append(page.Versions, delta.OrgVersion{Org: orgID, Version: maxVersion})
	}
	return page, nil
}

func (q *changelogQuery) readFeatures(ctx context.Context) (map[string]int64, error) {
	query, args, err := q.db.sb.Select("name", "version").From("feature_versions").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build feature query: %w", err)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read feature versions: %w", err)
	}
	defer rows.Close()

	var out map[string]int64
	for rows.Next() {
		var name string
		var version int64
		if err := rows.Scan(&name, &version); err != nil {
			return nil, fmt.Errorf("scan feature version: %w", err)
		}
		if out == nil {
			out = make(map[string]int64)
		}
		out[name] = version
	}
	return out, rows.Err()
}

func appendDecoded[T any](r changelogRow, dst *[]T) error {
	var v T
	if err := json.Unmarshal(r.payload, &v); err != nil {
		return fmt.Errorf("decode %s %d: %w", r.entity, r.entityID, err)
	}
	*dst = append(*dst, v)
	return nil
}

func decodeAssociation(r changelogRow) (associationPayload, error) {
	var pair associationPayload
	if err := json.Unmarshal(r.payload, &pair); err != nil {
		return associationPayload{}, fmt.Errorf("decode %s association: %w", r.entity, err)
	}
	return pair, nil
}
