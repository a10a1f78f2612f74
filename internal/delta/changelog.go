// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package delta

import (
	"context"

	"github.com/hubcast/hubcast/internal/models"
)

// Page kind discriminators as stored in the changelog.
const (
	PageKindRepository   = 1
	PageKindOrganization = 2
)

// Page is one typed changelog page. The concrete type is either *RepoPage or
// *OrgPage.
type Page interface {
	pageKind() int
}

// IssueLabel associates a label with an issue.
type IssueLabel struct {
	IssueID int64
	LabelID int64
}

// IssueAssignee associates an assigned account with an issue.
type IssueAssignee struct {
	IssueID   int64
	AccountID int64
}

// RepoLabel associates a label with its repository.
type RepoLabel struct {
	RepoID  int64
	LabelID int64
}

// RepoAssignable associates an assignable account with a repository.
type RepoAssignable struct {
	RepoID    int64
	AccountID int64
}

// Membership associates a member account with an organization.
type Membership struct {
	OrgID     int64
	AccountID int64
}

// RepoPage is a repository-scoped changelog page. Slices appear in the fixed
// order the store reads them; the association slices carry no log entries of
// their own and are joined onto issues and repositories in memory.
type RepoPage struct {
	// Rows is the changelog row count behind this page. Remaining-work
	// accounting subtracts it from the pass total, so it stays in the same
	// unit even when association rows or redaction shrink the emitted logs.
	Rows int

	Accounts []models.Account

	Comments          []models.Comment
	DeletedCommentIDs []int64

	Events []models.IssueEvent

	Milestones          []models.Milestone
	DeletedMilestoneIDs []int64

	Reactions          []models.Reaction
	DeletedReactionIDs []int64

	IssueLabels    []IssueLabel
	IssueAssignees []IssueAssignee
	Issues         []models.Issue

	RepoLabels      []RepoLabel
	RepoAssignables []RepoAssignable
	Repositories    []models.Repository

	// Versions are the (repo, version) pairs this page advances the
	// caller's vector to.
	Versions []RepoVersion
}

func (*RepoPage) pageKind() int { return PageKindRepository }

// OrgPage is an organization-scoped changelog page. It is always the last
// page of a pass.
type OrgPage struct {
	// Accounts mixes users and organizations; the computer splits them by
	// account type.
	Accounts    []models.Account
	Memberships []Membership
	Versions    []OrgVersion

	// Features holds the server's current cross-cutting feature counters.
	// The computer forwards only the ones newer than the client's.
	Features map[string]int64
}

func (*OrgPage) pageKind() int { return PageKindOrganization }

// Query is one open changelog read for a single user. Methods must be called
// in order: removed lists, total, then pages until Next returns nil.
type Query interface {
	// RemovedRepos lists repository ids no longer visible to the user.
	RemovedRepos(ctx context.Context) ([]int64, error)
	// RemovedOrgs lists organization ids no longer visible to the user.
	RemovedOrgs(ctx context.Context) ([]int64, error)
	// TotalPending is the total changelog entry count for progress display.
	TotalPending(ctx context.Context) (int, error)
	// Next returns the next typed page, or nil when the pass is exhausted.
	Next(ctx context.Context) (Page, error)
	Close() error
}

// Store opens changelog queries against the relational storage layer.
type Store interface {
	Open(ctx context.Context, userID int64, pageSize int, repos []RepoVersion, orgs []OrgVersion) (Query, error)
}
