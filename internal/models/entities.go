// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package models

import "time"

// Account is a GitHub user or organization as mirrored from the upstream API.
type Account struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	// Type distinguishes "User" from "Organization" accounts.
	Type string `json:"type"`
	// Members is populated for organization accounts only, from the
	// organization-membership pairs of the changelog.
	Members []int64 `json:"members,omitempty"`
}

// IsOrganization reports whether the account represents an organization.
func (a *Account) IsOrganization() bool {
	return a.Type == AccountTypeOrganization
}

// Account type discriminators as reported by the upstream API.
const (
	AccountTypeUser         = "User"
	AccountTypeOrganization = "Organization"
)

// Repository is a mirrored repository row.
type Repository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"fullName"`
	OwnerID  int64  `json:"ownerId"`
	Private  bool   `json:"private"`
	Fork     bool   `json:"fork"`
	// LabelIDs and AssignableIDs are attached from the repository-label and
	// repository-assignable-account association pages of the changelog.
	LabelIDs      []int64 `json:"labelIds,omitempty"`
	AssignableIDs []int64 `json:"assignableIds,omitempty"`
}

// Issue is a mirrored issue (or pull request head) row. Labels and assignees
// are attached from the association pages read just before the issue page.
type Issue struct {
	ID          int64      `json:"id"`
	RepoID      int64      `json:"repoId"`
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	State       string     `json:"state"`
	Body        string     `json:"body,omitempty"`
	AuthorID    int64      `json:"authorId"`
	MilestoneID *int64     `json:"milestoneId,omitempty"`
	PullRequest bool       `json:"pullRequest"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ClosedAt    *time.Time `json:"closedAt,omitempty"`

	LabelIDs    []int64 `json:"labelIds,omitempty"`
	AssigneeIDs []int64 `json:"assigneeIds,omitempty"`
}

// Comment is an issue or pull request comment.
type Comment struct {
	ID        int64     `json:"id"`
	IssueID   int64     `json:"issueId"`
	AuthorID  int64     `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Label is a repository-scoped issue label.
type Label struct {
	ID     int64  `json:"id"`
	RepoID int64  `json:"repoId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

// Milestone is a repository milestone.
type Milestone struct {
	ID          int64      `json:"id"`
	RepoID      int64      `json:"repoId"`
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	State       string     `json:"state"`
	Description string     `json:"description,omitempty"`
	DueOn       *time.Time `json:"dueOn,omitempty"`
}

// Reaction is an emoji reaction on an issue or comment.
type Reaction struct {
	ID        int64     `json:"id"`
	SubjectID int64     `json:"subjectId"`
	UserID    int64     `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// IssueEvent is a timeline event on an issue. Kind is the upstream event
// discriminator ("closed", "labeled", "assigned", ...). Extension carries the
// kind-specific payload and is stripped for redacted "closed" events.
type IssueEvent struct {
	ID        int64          `json:"id"`
	IssueID   int64          `json:"issueId"`
	ActorID   int64          `json:"actorId"`
	Kind      string         `json:"kind"`
	CreatedAt time.Time      `json:"createdAt"`
	Extension map[string]any `json:"extension,omitempty"`
}

// EventKindClosed is special-cased during redaction: a closed event is always
// forwarded to clients, but with its extension payload stripped.
const EventKindClosed = "closed"
