// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

// Package mirror pulls upstream issue data through the fetch pipeline,
// writes it into the entity store and announces what changed on the bus.
package mirror

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hubcast/hubcast/internal/delta"
	"github.com/hubcast/hubcast/internal/githubapi"
	"github.com/hubcast/hubcast/internal/logging"
	"github.com/hubcast/hubcast/internal/metrics"
	"github.com/hubcast/hubcast/internal/models"
	"github.com/hubcast/hubcast/internal/store"
)

// CredentialSource resolves the upstream token for a mirrored user.
type CredentialSource interface {
	For(ctx context.Context, userID int64) (githubapi.Credential, error)
}

// StaticCredential serves one token for every user.
type StaticCredential struct {
	Token string
}

// For returns the fixed credential.
func (s StaticCredential) For(context.Context, int64) (githubapi.Credential, error) {
	return githubapi.Credential{Token: s.Token}, nil
}

// SummaryPublisher announces refreshed scopes on the change bus. Satisfied by
// *changebus.Publisher.
type SummaryPublisher interface {
	PublishSummary(urgent bool, summary models.ChangeSummary) error
}

// EntityWriter is the storage surface the mirror writes through. Satisfied by
// *store.EntityStore.
type EntityWriter interface {
	RecordSet(ctx context.Context, kind int, scopeID int64, entity string, id int64, payload any) error
	RecordDelete(ctx context.Context, kind int, scopeID int64, entity string, id int64) error
	RecordAssociation(ctx context.Context, kind int, scopeID int64, entity string, parent, child int64) error
	SetRepoVisibility(ctx context.Context, userID int64, repoIDs []int64) error
	SetOrgVisibility(ctx context.Context, userID int64, orgIDs []int64) error
}

// Mirror refreshes upstream entities into local storage.
type Mirror struct {
	api       *githubapi.Client
	creds     CredentialSource
	entities  EntityWriter
	publisher SummaryPublisher
}

// New wires the mirror's collaborators.
func New(api *githubapi.Client, creds CredentialSource, entities EntityWriter, publisher SummaryPublisher) *Mirror {
	return &Mirror{api: api, creds: creds, entities: entities, publisher: publisher}
}

// RefreshUser re-mirrors everything visible to one user: repositories,
// organizations and per-repository issues. A routine summary of the touched
// scopes is published afterwards.
func (m *Mirror) RefreshUser(ctx context.Context, userID int64) error {
	err := m.refreshUser(ctx, userID)
	if err != nil {
		metrics.RefreshesTotal.WithLabelValues("user", "error").Inc()
		return err
	}
	metrics.RefreshesTotal.WithLabelValues("user", "ok").Inc()
	return nil
}

func (m *Mirror) refreshUser(ctx context.Context, userID int64) error {
	cred, err := m.creds.For(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve credential for user %d: %w", userID, err)
	}

	repos, err := m.refreshRepos(ctx, cred, userID)
	if err != nil {
		return err
	}
	orgIDs, err := m.refreshOrgs(ctx, cred, userID)
	if err != nil {
		return err
	}

	repoIDs := make([]int64, 0, len(repos))
	for _, repo := range repos {
		repoIDs = append(repoIDs, repo.ID)
		if err := m.refreshIssues(ctx, cred, repo); err != nil {
			// One broken repository must not starve the rest of the pass.
			logging.Warn().Err(err).Str("repo", repo.FullName).Msg("issue refresh failed")
		}
	}

	summary := models.NewChangeSummary(orgIDs, repoIDs, []int64{userID})
	if err := m.publisher.PublishSummary(false, summary); err != nil {
		return fmt.Errorf("publish refresh summary: %w", err)
	}
	return nil
}

// RefreshIssue re-mirrors one issue and its comments, publishing an urgent
// summary so watching sessions sync immediately.
func (m *Mirror) RefreshIssue(ctx context.Context, userID int64, owner, repo string, number int) error {
	err := m.refreshIssue(ctx, userID, owner, repo, number)
	if err != nil {
		metrics.RefreshesTotal.WithLabelValues("issue", "error").Inc()
		return err
	}
	metrics.RefreshesTotal.WithLabelValues("issue", "ok").Inc()
	return nil
}

func (m *Mirror) refreshIssue(ctx context.Context, userID int64, owner, repoName string, number int) error {
	cred, err := m.creds.For(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve credential for user %d: %w", userID, err)
	}

	base := "/repos/" + owner + "/" + repoName
	repoResp, err := githubapi.Fetch[ghRepo](ctx, m.api, cred, githubapi.NewRequest(base))
	if err != nil {
		return fmt.Errorf("fetch repository %s/%s: %w", owner, repoName, err)
	}
	if !repoResp.Succeeded() {
		return fmt.Errorf("fetch repository %s/%s: status %d: %w", owner, repoName, repoResp.Status, repoResp.Err)
	}
	repo := repoResp.Result

	issueResp, err := githubapi.Fetch[ghIssue](ctx, m.api, cred, githubapi.NewRequest(base+"/issues/"+strconv.Itoa(number)))
	if err != nil {
		return fmt.Errorf("fetch issue %s/%s#%d: %w", owner, repoName, number, err)
	}
	if !issueResp.Succeeded() {
		return fmt.Errorf("fetch issue %s/%s#%d: status %d: %w", owner, repoName, number, issueResp.Status, issueResp.Err)
	}
	if issueResp.NotModified() {
		return nil
	}

	if err := m.storeIssue(ctx, repo.ID, issueResp.Result); err != nil {
		return err
	}

	commentsReq := githubapi.NewRequest(base + "/issues/" + strconv.Itoa(number) + "/comments")
	comments, err := githubapi.FetchPaged[ghComment](ctx, m.api, cred, commentsReq, func(c ghComment) int64 { return c.ID }, 0)
	if err != nil {
		return fmt.Errorf("fetch comments %s/%s#%d: %w", owner, repoName, number, err)
	}
	if comments.Succeeded() && !comments.NotModified() {
		for _, c := range comments.Result {
			if err := m.entities.RecordSet(ctx, delta.PageKindRepository, repo.ID, models.EntityComment, c.ID, c.toModel(issueResp.Result.ID)); err != nil {
				return fmt.Errorf("store comment %d: %w", c.ID, err)
			}
			if err := m.storeAccount(ctx, delta.PageKindRepository, repo.ID, c.User); err != nil {
				return err
			}
		}
	}

	summary := models.NewChangeSummary(nil, []int64{repo.ID}, []int64{userID})
	if err := m.publisher.PublishSummary(true, summary); err != nil {
		return fmt.Errorf("publish issue refresh summary: %w", err)
	}
	return nil
}

// refreshRepos mirrors the user's repository list and visibility set.
func (m *Mirror) refreshRepos(ctx context.Context, cred githubapi.Credential, userID int64) ([]ghRepo, error) {
	req := githubapi.NewRequest("/user/repos")
	resp, err := githubapi.FetchPaged[ghRepo](ctx, m.api, cred, req, func(r ghRepo) int64 { return r.ID }, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch repositories for user %d: %w", userID, err)
	}
	if !resp.Succeeded() {
		return nil, fmt.Errorf("fetch repositories for user %d: status %d: %w", userID, resp.Status, resp.Err)
	}
	if resp.NotModified() {
		return nil, nil
	}

	ids := make([]int64, 0, len(resp.Result))
	for _, repo := range resp.Result {
		ids = append(ids, repo.ID)
		if err := m.entities.RecordSet(ctx, delta.PageKindRepository, repo.ID, models.EntityRepository, repo.ID, repo.toModel()); err != nil {
			return nil, fmt.Errorf("store repository %d: %w", repo.ID, err)
		}
		if err := m.storeAccount(ctx, delta.PageKindRepository, repo.ID, repo.Owner); err != nil {
			return nil, err
		}
	}
	if err := m.entities.SetRepoVisibility(ctx, userID, ids); err != nil {
		return nil, fmt.Errorf("update repo visibility for user %d: %w", userID, err)
	}
	return resp.Result, nil
}

// refreshOrgs mirrors the user's organizations, memberships and visibility.
func (m *Mirror) refreshOrgs(ctx context.Context, cred githubapi.Credential, userID int64) ([]int64, error) {
	req := githubapi.NewRequest("/user/orgs")
	resp, err := githubapi.FetchPaged[ghAccount](ctx, m.api, cred, req, func(a ghAccount) int64 { return a.ID }, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch organizations for user %d: %w", userID, err)
	}
	if !resp.Succeeded() {
		return nil, fmt.Errorf("fetch organizations for user %d: status %d: %w", userID, resp.Status, resp.Err)
	}
	if resp.NotModified() {
		return nil, nil
	}

	ids := make([]int64, 0, len(resp.Result))
	for _, org := range resp.Result {
		ids = append(ids, org.ID)
		account := org.toModel()
		account.Type = models.AccountTypeOrganization
		if err := m.entities.RecordSet(ctx, delta.PageKindOrganization, org.ID, models.EntityAccount, org.ID, account); err != nil {
			return nil, fmt.Errorf("store organization %d: %w", org.ID, err)
		}
		if err := m.entities.RecordAssociation(ctx, delta.PageKindOrganization, org.ID, store.EntityMembership, org.ID, userID); err != nil {
			return nil, fmt.Errorf("store membership %d/%d: %w", org.ID, userID, err)
		}
	}
	if err := m.entities.SetOrgVisibility(ctx, userID, ids); err != nil {
		return nil, fmt.Errorf("update org visibility for user %d: %w", userID, err)
	}
	return ids, nil
}

// refreshIssues mirrors all issues of one repository.
func (m *Mirror) refreshIssues(ctx context.Context, cred githubapi.Credential, repo ghRepo) error {
	req := githubapi.NewRequest("/repos/" + repo.FullName + "/issues")
	req.Query.Set("state", "all")
	resp, err := githubapi.FetchPaged[ghIssue](ctx, m.api, cred, req, func(i ghIssue) int64 { return i.ID }, 0)
	if err != nil {
		return fmt.Errorf("fetch issues for %s: %w", repo.FullName, err)
	}
	if !resp.Succeeded() {
		return fmt.Errorf("fetch issues for %s: status %d: %w", repo.FullName, resp.Status, resp.Err)
	}
	if resp.NotModified() {
		return nil
	}

	for _, issue := range resp.Result {
		if err := m.storeIssue(ctx, repo.ID, issue); err != nil {
			return err
		}
	}
	return nil
}

// storeIssue upserts one issue with its embedded accounts, milestone and
// label/assignee associations.
func (m *Mirror) storeIssue(ctx context.Context, repoID int64, issue ghIssue) error {
	if err := m.storeAccount(ctx, delta.PageKindRepository, repoID, issue.User); err != nil {
		return err
	}
	if issue.Milestone != nil {
		ms := issue.Milestone
		milestone := models.Milestone{
			ID: ms.ID, RepoID: repoID, Number: ms.Number,
			Title: ms.Title, State: ms.State, Description: ms.Description, DueOn: ms.DueOn,
		}
		if err := m.entities.RecordSet(ctx, delta.PageKindRepository, repoID, models.EntityMilestone, ms.ID, milestone); err != nil {
			return fmt.Errorf("store milestone %d: %w", ms.ID, err)
		}
	}

	if err := m.entities.RecordSet(ctx, delta.PageKindRepository, repoID, models.EntityIssue, issue.ID, issue.toModel(repoID)); err != nil {
		return fmt.Errorf("store issue %d: %w", issue.ID, err)
	}

	for _, label := range issue.Labels {
		if err := m.entities.RecordAssociation(ctx, delta.PageKindRepository, repoID, store.EntityIssueLabel, issue.ID, label.ID); err != nil {
			return fmt.Errorf("store issue label %d/%d: %w", issue.ID, label.ID, err)
		}
	}
	for _, assignee := range issue.Assignees {
		if err := m.storeAccount(ctx, delta.PageKindRepository, repoID, assignee); err != nil {
			return err
		}
		if err := m.entities.RecordAssociation(ctx, delta.PageKindRepository, repoID, store.EntityIssueAssignee, issue.ID, assignee.ID); err != nil {
			return fmt.Errorf("store issue assignee %d/%d: %w", issue.ID, assignee.ID, err)
		}
	}
	return nil
}

func (m *Mirror) storeAccount(ctx context.Context, kind int, scopeID int64, account ghAccount) error {
	if account.ID == 0 {
		return nil
	}
	if err := m.entities.RecordSet(ctx, kind, scopeID, models.EntityAccount, account.ID, account.toModel()); err != nil {
		return fmt.Errorf("store account %d: %w", account.ID, err)
	}
	return nil
}
