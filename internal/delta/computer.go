// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package delta

import (
	"context"
	"fmt"
	"time"

	"github.com/hubcast/hubcast/internal/config"
	"github.com/hubcast/hubcast/internal/logging"
	"github.com/hubcast/hubcast/internal/metrics"
	"github.com/hubcast/hubcast/internal/models"
)

// SyncMessage is one outbound sync envelope.
type SyncMessage struct {
	Type      string                `json:"type"`
	Logs      []models.SyncLogEntry `json:"logs"`
	Versions  VersionUpdates        `json:"versions"`
	Remaining int                   `json:"remaining"`
}

// MessageTypeSync is the discriminator of outbound sync envelopes.
const MessageTypeSync = "sync"

// Emitter receives outbound sync messages in pass order.
type Emitter func(*SyncMessage) error

// Computer turns a changelog pass into sync messages and version-vector
// updates. Safe for concurrent use; all per-pass state lives on the stack.
type Computer struct {
	store    Store
	pageSize int
	// allowed is the event-kind redaction allow-list. Closed events bypass
	// it but lose their extension payload.
	allowed map[string]struct{}
}

// NewComputer builds a computer over the given changelog store.
func NewComputer(store Store, cfg config.SyncConfig) *Computer {
	allowed := make(map[string]struct{}, len(cfg.EventAllowList))
	for _, kind := range cfg.EventAllowList {
		allowed[kind] = struct{}{}
	}
	return &Computer{store: store, pageSize: cfg.PageSize, allowed: allowed}
}

// Sync runs one delta pass for the user: emits delete entries for removed
// repositories and organizations, then one message per non-empty changelog
// page, advancing vec as pages confirm new versions. The organization page is
// always emitted last with remaining = 0.
func (c *Computer) Sync(ctx context.Context, userID int64, vec *VersionVector, emit Emitter) error {
	start := time.Now()
	err := c.sync(ctx, userID, vec, emit)
	metrics.DeltaDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DeltaPassesTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.DeltaPassesTotal.WithLabelValues("ok").Inc()
	return nil
}

func (c *Computer) sync(ctx context.Context, userID int64, vec *VersionVector, emit Emitter) error {
	q, err := c.store.Open(ctx, userID, c.pageSize, vec.Repos(), vec.Orgs())
	if err != nil {
		return fmt.Errorf("open changelog for user %d: %w", userID, err)
	}
	defer func() {
		if cerr := q.Close(); cerr != nil {
			logging.Warn().Err(cerr).Int64("user_id", userID).Msg("closing changelog query")
		}
	}()

	removedRepos, err := q.RemovedRepos(ctx)
	if err != nil {
		return fmt.Errorf("read removed repositories: %w", err)
	}
	removedOrgs, err := q.RemovedOrgs(ctx)
	if err != nil {
		return fmt.Errorf("read removed organizations: %w", err)
	}
	total, err := q.TotalPending(ctx)
	if err != nil {
		return fmt.Errorf("read pending total: %w", err)
	}

	var removals []models.SyncLogEntry
	for _, id := range removedRepos {
		entry, err := models.NewDeleteEntry(models.EntityRepository, id)
		if err != nil {
			return err
		}
		removals = append(removals, entry)
		vec.RemoveRepo(id)
	}
	for _, id := range removedOrgs {
		entry, err := models.NewDeleteEntry(models.EntityOrganization, id)
		if err != nil {
			return err
		}
		removals = append(removals, entry)
		vec.RemoveOrg(id)
	}
	if len(removals) > 0 {
		if err := emitMessage(emit, &SyncMessage{Type: MessageTypeSync, Logs: removals, Remaining: total}); err != nil {
			return err
		}
	}

	sent := 0
	for {
		page, err := q.Next(ctx)
		if err != nil {
			return fmt.Errorf("read changelog page: %w", err)
		}
		if page == nil {
			return nil
		}

		switch p := page.(type) {
		case *RepoPage:
			msg := c.repoMessage(p, vec)
			// Remaining counts changelog rows, the same unit as total:
			// association rows and redacted events consume rows without
			// emitting entries.
			sent += p.Rows
			if len(msg.Logs) == 0 {
				continue
			}
			msg.Remaining = max(total-sent, 0)
			if err := emitMessage(emit, msg); err != nil {
				return err
			}

		case *OrgPage:
			// Always emitted, even empty: remaining = 0 signals
			// end-of-pass to the client.
			msg := c.orgMessage(p, vec)
			msg.Remaining = 0
			if err := emitMessage(emit, msg); err != nil {
				return err
			}

		default:
			return fmt.Errorf("changelog returned unknown page type %T", page)
		}
	}
}

func emitMessage(emit Emitter, msg *SyncMessage) error {
	for _, entry := range msg.Logs {
		metrics.DeltaEntriesTotal.WithLabelValues(entry.Entity, string(entry.Action)).Inc()
	}
	if err := emit(msg); err != nil {
		return fmt.Errorf("emit sync message: %w", err)
	}
	return nil
}

// repoMessage translates a repository page into log entries in the page's
// fixed order and advances the vector to the page's confirmed versions.
func (c *Computer) repoMessage(p *RepoPage, vec *VersionVector) *SyncMessage {
	labelsByIssue := groupPairs(p.IssueLabels, func(a IssueLabel) (int64, int64) { return a.IssueID, a.LabelID })
	assigneesByIssue := groupPairs(p.IssueAssignees, func(a IssueAssignee) (int64, int64) { return a.IssueID, a.AccountID })
	labelsByRepo := groupPairs(p.RepoLabels, func(a RepoLabel) (int64, int64) { return a.RepoID, a.LabelID })
	assignablesByRepo := groupPairs(p.RepoAssignables, func(a RepoAssignable) (int64, int64) { return a.RepoID, a.AccountID })

	var logs []models.SyncLogEntry
	add := func(entity string, data any) {
		logs = append(logs, models.NewSetEntry(entity, data))
	}
	addDeletes := func(entity string, ids []int64) {
		for _, id := range ids {
			entry, err := models.NewDeleteEntry(entity, id)
			if err != nil {
				// Unreachable for the page's entity types; kept loud.
				logging.Error().Err(err).Str("entity", entity).Msg("illegal delete entry")
				continue
			}
			logs = append(logs, entry)
		}
	}

	for _, a := range p.Accounts {
		add(models.EntityAccount, a)
	}

	for _, cm := range p.Comments {
		add(models.EntityComment, cm)
	}
	addDeletes(models.EntityComment, p.DeletedCommentIDs)

	for _, ev := range p.Events {
		redacted, keep := c.redactEvent(ev)
		if !keep {
			continue
		}
		add(models.EntityEvent, redacted)
	}

	for _, m := range p.Milestones {
		add(models.EntityMilestone, m)
	}
	addDeletes(models.EntityMilestone, p.DeletedMilestoneIDs)

	for _, r := range p.Reactions {
		add(models.EntityReaction, r)
	}
	addDeletes(models.EntityReaction, p.DeletedReactionIDs)

	for _, is := range p.Issues {
		is.LabelIDs = labelsByIssue[is.ID]
		is.AssigneeIDs = assigneesByIssue[is.ID]
		add(models.EntityIssue, is)
	}

	for _, r := range p.Repositories {
		r.LabelIDs = labelsByRepo[r.ID]
		r.AssignableIDs = assignablesByRepo[r.ID]
		add(models.EntityRepository, r)
	}

	for _, rv := range p.Versions {
		vec.SetRepo(rv.Repo, rv.Version)
	}

	return &SyncMessage{
		Type:     MessageTypeSync,
		Logs:     logs,
		Versions: VersionUpdates{Repos: p.Versions},
	}
}

// orgMessage translates the final organization page, splitting user accounts
// from organizations and attaching membership lists to the latter. Feature
// counters the client has not caught up to ride along on this last message.
func (c *Computer) orgMessage(p *OrgPage, vec *VersionVector) *SyncMessage {
	members := groupPairs(p.Memberships, func(m Membership) (int64, int64) { return m.OrgID, m.AccountID })

	var logs []models.SyncLogEntry
	for _, a := range p.Accounts {
		if a.IsOrganization() {
			a.Members = members[a.ID]
			logs = append(logs, models.NewSetEntry(models.EntityOrganization, a))
			continue
		}
		logs = append(logs, models.NewSetEntry(models.EntityAccount, a))
	}

	for _, ov := range p.Versions {
		vec.SetOrg(ov.Org, ov.Version)
	}

	var features map[string]int64
	for name, ver := range p.Features {
		if ver <= vec.FeatureVersion(name) {
			continue
		}
		if features == nil {
			features = make(map[string]int64)
		}
		features[name] = ver
		vec.SetFeature(name, ver)
	}

	return &SyncMessage{
		Type:     MessageTypeSync,
		Logs:     logs,
		Versions: VersionUpdates{Orgs: p.Versions, Features: features},
	}
}

// redactEvent applies the event-kind allow-list. Closed events always pass
// but with their extension payload stripped.
func (c *Computer) redactEvent(ev models.IssueEvent) (models.IssueEvent, bool) {
	if ev.Kind == models.EventKindClosed {
		ev.Extension = nil
		return ev, true
	}
	if _, ok := c.allowed[ev.Kind]; !ok {
		return models.IssueEvent{}, false
	}
	return ev, true
}

// groupPairs builds an id-keyed multimap from association rows.
func groupPairs[T any](rows []T, split func(T) (key, value int64)) map[int64][]int64 {
	out := make(map[int64][]int64, len(rows))
	for _, row := range rows {
		k, v := split(row)
		out[k] = append(out[k], v)
	}
	return out
}
