// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package mirror

import (
	"time"

	"github.com/hubcast/hubcast/internal/models"
)

// Upstream wire shapes. GitHub nests related objects inside each resource;
// the mirror flattens them into the id-linked rows the store keeps.

type ghAccount struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	Type      string `json:"type"`
}

func (a ghAccount) toModel() models.Account {
	return models.Account{
		ID:        a.ID,
		Login:     a.Login,
		Name:      a.Name,
		AvatarURL: a.AvatarURL,
		Type:      a.Type,
	}
}

type ghRepo struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	FullName string    `json:"full_name"`
	Owner    ghAccount `json:"owner"`
	Private  bool      `json:"private"`
	Fork     bool      `json:"fork"`
}

func (r ghRepo) toModel() models.Repository {
	return models.Repository{
		ID:       r.ID,
		Name:     r.Name,
		FullName: r.FullName,
		OwnerID:  r.Owner.ID,
		Private:  r.Private,
		Fork:     r.Fork,
	}
}

type ghLabel struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type ghMilestone struct {
	ID          int64      `json:"id"`
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	State       string     `json:"state"`
	Description string     `json:"description"`
	DueOn       *time.Time `json:"due_on"`
}

type ghIssue struct {
	ID          int64        `json:"id"`
	Number      int          `json:"number"`
	Title       string       `json:"title"`
	State       string       `json:"state"`
	Body        string       `json:"body"`
	User        ghAccount    `json:"user"`
	Labels      []ghLabel    `json:"labels"`
	Assignees   []ghAccount  `json:"assignees"`
	Milestone   *ghMilestone `json:"milestone"`
	PullRequest *struct{}    `json:"pull_request"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	ClosedAt    *time.Time   `json:"closed_at"`
}

func (i ghIssue) toModel(repoID int64) models.Issue {
	out := models.Issue{
		ID:          i.ID,
		RepoID:      repoID,
		Number:      i.Number,
		Title:       i.Title,
		State:       i.State,
		Body:        i.Body,
		AuthorID:    i.User.ID,
		PullRequest: i.PullRequest != nil,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
		ClosedAt:    i.ClosedAt,
	}
	if i.Milestone != nil {
		id := i.Milestone.ID
		out.MilestoneID = &id
	}
	return out
}

type ghComment struct {
	ID        int64     `json:"id"`
	User      ghAccount `json:"user"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c ghComment) toModel(issueID int64) models.Comment {
	return models.Comment{
		ID:        c.ID,
		IssueID:   issueID,
		AuthorID:  c.User.ID,
		Body:      c.Body,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

type ghEvent struct {
	ID        int64     `json:"id"`
	Actor     ghAccount `json:"actor"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
	Label     *ghLabel  `json:"label"`
}

func (e ghEvent) toModel(issueID int64) models.IssueEvent {
	out := models.IssueEvent{
		ID:        e.ID,
		IssueID:   issueID,
		ActorID:   e.Actor.ID,
		Kind:      e.Event,
		CreatedAt: e.CreatedAt,
	}
	if e.Label != nil {
		out.Extension = map[string]any{"label": e.Label.Name, "color": e.Label.Color}
	}
	return out
}
