// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package models

// ChangeSummary is a deduplicated, order-irrelevant description of "what might
// have changed" upstream. Summaries arrive over the change bus at least once
// and are unioned freely; consumers must tolerate duplicates.
type ChangeSummary struct {
	OrgIDs  map[int64]struct{} `json:"-"`
	RepoIDs map[int64]struct{} `json:"-"`
	UserIDs map[int64]struct{} `json:"-"`
}

// EmptyChangeSummary returns a summary with no ids. Union with the empty
// summary is the identity.
func EmptyChangeSummary() ChangeSummary {
	return ChangeSummary{
		OrgIDs:  map[int64]struct{}{},
		RepoIDs: map[int64]struct{}{},
		UserIDs: map[int64]struct{}{},
	}
}

// NewChangeSummary builds a summary from id slices, dropping duplicates.
func NewChangeSummary(orgs, repos, users []int64) ChangeSummary {
	s := EmptyChangeSummary()
	for _, id := range orgs {
		s.OrgIDs[id] = struct{}{}
	}
	for _, id := range repos {
		s.RepoIDs[id] = struct{}{}
	}
	for _, id := range users {
		s.UserIDs[id] = struct{}{}
	}
	return s
}

// IsEmpty reports whether the summary carries no ids at all.
func (s ChangeSummary) IsEmpty() bool {
	return len(s.OrgIDs) == 0 && len(s.RepoIDs) == 0 && len(s.UserIDs) == 0
}

// Union returns a new summary containing every id from both operands.
// Neither operand is mutated.
func (s ChangeSummary) Union(other ChangeSummary) ChangeSummary {
	out := EmptyChangeSummary()
	for _, src := range []ChangeSummary{s, other} {
		for id := range src.OrgIDs {
			out.OrgIDs[id] = struct{}{}
		}
		for id := range src.RepoIDs {
			out.RepoIDs[id] = struct{}{}
		}
		for id := range src.UserIDs {
			out.UserIDs[id] = struct{}{}
		}
	}
	return out
}

// HasOrg reports whether the summary mentions the organization id.
func (s ChangeSummary) HasOrg(id int64) bool {
	_, ok := s.OrgIDs[id]
	return ok
}

// HasRepo reports whether the summary mentions the repository id.
func (s ChangeSummary) HasRepo(id int64) bool {
	_, ok := s.RepoIDs[id]
	return ok
}

// HasUser reports whether the summary mentions the user id.
func (s ChangeSummary) HasUser(id int64) bool {
	_, ok := s.UserIDs[id]
	return ok
}
