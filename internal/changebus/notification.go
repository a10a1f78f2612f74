// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

// Package changebus merges at-least-once change notifications into one hot,
// ref-counted stream of ChangeSummary values. Urgent notifications pass
// through immediately; routine ones are unioned over fixed coalescing windows.
package changebus

import (
	"context"

	"github.com/hubcast/hubcast/internal/models"
)

// Notification is the wire form of one change notification.
type Notification struct {
	// Urgent notifications bypass the coalescing window.
	Urgent bool    `json:"urgent"`
	Orgs   []int64 `json:"orgs,omitempty"`
	Repos  []int64 `json:"repos,omitempty"`
	Users  []int64 `json:"users,omitempty"`
}

// Summary converts the notification payload into a ChangeSummary.
func (n Notification) Summary() models.ChangeSummary {
	return models.NewChangeSummary(n.Orgs, n.Repos, n.Users)
}

// NotificationFromSummary builds the wire form of a summary.
func NotificationFromSummary(urgent bool, s models.ChangeSummary) Notification {
	n := Notification{Urgent: urgent}
	for id := range s.OrgIDs {
		n.Orgs = append(n.Orgs, id)
	}
	for id := range s.RepoIDs {
		n.Repos = append(n.Repos, id)
	}
	for id := range s.UserIDs {
		n.Users = append(n.Users, id)
	}
	return n
}

// Source is the upstream notification feed the bus subscribes to. Subscribe
// is called once per bus activation; the returned channel must close when the
// context is cancelled.
type Source interface {
	Subscribe(ctx context.Context) (<-chan Notification, error)
}
