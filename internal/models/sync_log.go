// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package models

import "fmt"

// SyncAction is the operation a SyncLogEntry instructs the client to apply.
type SyncAction string

const (
	// ActionSet creates or replaces the entity on the client.
	ActionSet SyncAction = "set"
	// ActionDelete removes the entity from the client.
	ActionDelete SyncAction = "delete"
)

// Entity type tags carried on sync log entries.
const (
	EntityAccount      = "account"
	EntityComment      = "comment"
	EntityEvent        = "event"
	EntityIssue        = "issue"
	EntityLabel        = "label"
	EntityMilestone    = "milestone"
	EntityOrganization = "organization"
	EntityProject      = "project"
	EntityPRComment    = "prComment"
	EntityReaction     = "reaction"
	EntityRepository   = "repository"
	EntityReview       = "review"
)

// deletableEntities lists entity types whose deletion is independently
// meaningful. Constructing a delete entry for anything else is a contract
// violation: those types disappear implicitly with their parent.
// Organizations and repositories additionally appear in the removed lists of a
// changelog pass when they stop being visible to a user.
var deletableEntities = map[string]struct{}{
	EntityComment:      {},
	EntityLabel:        {},
	EntityMilestone:    {},
	EntityOrganization: {},
	EntityProject:      {},
	EntityPRComment:    {},
	EntityReaction:     {},
	EntityRepository:   {},
	EntityReview:       {},
}

// DeletableEntity reports whether delete entries are legal for the entity type.
func DeletableEntity(entity string) bool {
	_, ok := deletableEntities[entity]
	return ok
}

// SyncLogEntry is one typed change shipped to a client inside a sync message.
type SyncLogEntry struct {
	Action SyncAction `json:"action"`
	Entity string     `json:"entity"`
	Data   any        `json:"data,omitempty"`
}

// NewSetEntry builds a set entry carrying the entity payload.
func NewSetEntry(entity string, data any) SyncLogEntry {
	return SyncLogEntry{Action: ActionSet, Entity: entity, Data: data}
}

// NewDeleteEntry builds a delete entry for the given entity id. It fails for
// entity types outside the deletable set.
func NewDeleteEntry(entity string, id int64) (SyncLogEntry, error) {
	if !DeletableEntity(entity) {
		return SyncLogEntry{}, fmt.Errorf("sync log: delete is not legal for entity type %q", entity)
	}
	return SyncLogEntry{Action: ActionDelete, Entity: entity, Data: id}, nil
}
