// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

// Package delta computes incremental sync messages from a changelog store and
// tracks per-connection version state.
package delta

import "sort"

// RepoVersion is a (repository id, version) pair as carried on the wire.
type RepoVersion struct {
	Repo    int64 `json:"repo"`
	Version int64 `json:"version"`
}

// OrgVersion is an (organization id, version) pair as carried on the wire.
type OrgVersion struct {
	Org     int64 `json:"org"`
	Version int64 `json:"version"`
}

// VersionUpdates is the versions block of a sync message.
type VersionUpdates struct {
	Repos    []RepoVersion    `json:"repos"`
	Orgs     []OrgVersion     `json:"orgs"`
	Features map[string]int64 `json:"features,omitempty"`
}

// VersionVector tracks the newest changelog version a client has received per
// repository and per organization, plus scalar counters for cross-cutting
// feature versions. It is created at hello time from the client's stated
// versions and lives for the connection. It is not safe for concurrent use;
// the owning session serializes all access.
type VersionVector struct {
	repos    map[int64]int64
	orgs     map[int64]int64
	features map[string]int64
}

// NewVersionVector returns an empty vector.
func NewVersionVector() *VersionVector {
	return &VersionVector{
		repos:    make(map[int64]int64),
		orgs:     make(map[int64]int64),
		features: make(map[string]int64),
	}
}

// VectorFromClient builds a vector from the versions a client announced in
// its hello message.
func VectorFromClient(repos []RepoVersion, orgs []OrgVersion, features map[string]int64) *VersionVector {
	v := NewVersionVector()
	for _, r := range repos {
		v.repos[r.Repo] = r.Version
	}
	for _, o := range orgs {
		v.orgs[o.Org] = o.Version
	}
	for name, ver := range features {
		v.features[name] = ver
	}
	return v
}

// SetRepo records the newest version received for a repository.
func (v *VersionVector) SetRepo(id, version int64) { v.repos[id] = version }

// SetOrg records the newest version received for an organization.
func (v *VersionVector) SetOrg(id, version int64) { v.orgs[id] = version }

// SetFeature records the newest counter received for a cross-cutting
// feature.
func (v *VersionVector) SetFeature(name string, version int64) { v.features[name] = version }

// FeatureVersion returns the tracked counter for a feature, zero when the
// client has never seen it.
func (v *VersionVector) FeatureVersion(name string) int64 { return v.features[name] }

// RemoveRepo drops a repository that is no longer visible to the user.
func (v *VersionVector) RemoveRepo(id int64) { delete(v.repos, id) }

// RemoveOrg drops an organization that is no longer visible to the user.
func (v *VersionVector) RemoveOrg(id int64) { delete(v.orgs, id) }

// RepoVersion returns the tracked version for a repository.
func (v *VersionVector) RepoVersion(id int64) (int64, bool) {
	ver, ok := v.repos[id]
	return ver, ok
}

// OrgVersion returns the tracked version for an organization.
func (v *VersionVector) OrgVersion(id int64) (int64, bool) {
	ver, ok := v.orgs[id]
	return ver, ok
}

// TracksRepo reports whether the repository is part of this vector.
func (v *VersionVector) TracksRepo(id int64) bool {
	_, ok := v.repos[id]
	return ok
}

// TracksOrg reports whether the organization is part of this vector.
func (v *VersionVector) TracksOrg(id int64) bool {
	_, ok := v.orgs[id]
	return ok
}

// Repos returns the tracked repository versions sorted by id.
func (v *VersionVector) Repos() []RepoVersion {
	out := make([]RepoVersion, 0, len(v.repos))
	for id, ver := range v.repos {
		out = append(out, RepoVersion{Repo: id, Version: ver})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Repo < out[j].Repo })
	return out
}

// Orgs returns the tracked organization versions sorted by id.
func (v *VersionVector) Orgs() []OrgVersion {
	out := make([]OrgVersion, 0, len(v.orgs))
	for id, ver := range v.orgs {
		out = append(out, OrgVersion{Org: id, Version: ver})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Org < out[j].Org })
	return out
}

// Features returns a copy of the tracked feature counters.
func (v *VersionVector) Features() map[string]int64 {
	out := make(map[string]int64, len(v.features))
	for name, ver := range v.features {
		out[name] = ver
	}
	return out
}
