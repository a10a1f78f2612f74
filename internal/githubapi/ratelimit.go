// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package githubapi

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Credential identifies one upstream API token. RateLimit state is scoped per
// credential and never shared across credentials.
type Credential struct {
	Token string
}

// Key returns a stable non-secret identifier for the credential, used to key
// cache metadata and the rate limit registry without persisting the token.
func (c Credential) Key() string {
	sum := sha256.Sum256([]byte(c.Token))
	return hex.EncodeToString(sum[:8])
}

// RateLimitSnapshot is a point-in-time copy of a credential's quota state.
type RateLimitSnapshot struct {
	Credential string
	Limit      int64
	Remaining  int64
	Reset      time.Time
}

// Known reports whether the snapshot reflects at least one observed response.
// Before the first response the quota is unknown and fast-fail must not apply.
func (s RateLimitSnapshot) Known() bool {
	return s.Limit > 0
}

// RateLimit tracks one credential's quota. Fields are updated in place with
// atomic writes after every response carrying rate-limit headers; losing an
// occasional race yields a slightly stale estimate, not a correctness bug.
type RateLimit struct {
	credential string
	limit      atomic.Int64
	remaining  atomic.Int64
	reset      atomic.Int64 // unix seconds
}

// Snapshot returns a consistent-enough copy of the current state.
func (r *RateLimit) Snapshot() RateLimitSnapshot {
	return RateLimitSnapshot{
		Credential: r.credential,
		Limit:      r.limit.Load(),
		Remaining:  r.remaining.Load(),
		Reset:      time.Unix(r.reset.Load(), 0),
	}
}

// Update applies the X-RateLimit-* headers, if present.
func (r *RateLimit) Update(header http.Header) {
	if v := header.Get("X-RateLimit-Limit"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			r.limit.Store(n)
		}
	}
	if v := header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			r.remaining.Store(n)
		}
	}
	if v := header.Get("X-RateLimit-Reset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			r.reset.Store(n)
		}
	}
}

// set is a test hook and fan-out bookkeeping helper.
func (r *RateLimit) set(limit, remaining int64, reset time.Time) {
	r.limit.Store(limit)
	r.remaining.Store(remaining)
	r.reset.Store(reset.Unix())
}

// RateLimits is the process-wide registry of per-credential quota state.
// Entries are created on first use and live until process shutdown.
type RateLimits struct {
	m sync.Map // credential key -> *RateLimit
}

// NewRateLimits creates an empty registry.
func NewRateLimits() *RateLimits {
	return &RateLimits{}
}

// For returns the RateLimit for the credential, creating it on first use.
func (rl *RateLimits) For(cred Credential) *RateLimit {
	key := cred.Key()
	if v, ok := rl.m.Load(key); ok {
		return v.(*RateLimit)
	}
	v, _ := rl.m.LoadOrStore(key, &RateLimit{credential: key})
	return v.(*RateLimit)
}

// pessimisticUnion folds per-page snapshots into the most conservative view:
// the snapshot with the latest reset wins; on a tie the minimum of limit and
// remaining wins.
func pessimisticUnion(snaps []RateLimitSnapshot) RateLimitSnapshot {
	var out RateLimitSnapshot
	for i, s := range snaps {
		if i == 0 {
			out = s
			continue
		}
		switch {
		case s.Reset.After(out.Reset):
			out = s
		case s.Reset.Equal(out.Reset):
			if s.Limit < out.Limit {
				out.Limit = s.Limit
			}
			if s.Remaining < out.Remaining {
				out.Remaining = s.Remaining
			}
		}
	}
	return out
}
