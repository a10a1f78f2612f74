// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package githubapi

import (
	"context"
	"net/http"
	"time"

	"github.com/hubcast/hubcast/internal/logging"
)

// CacheStore persists conditional-request metadata keyed by (credential,
// resource URL).
type CacheStore interface {
	Lookup(credential, key string) (*CacheMetadata, bool)
	Store(meta *CacheMetadata) error
}

// ConditionalCacheFilter transparently attaches stored ETag/Last-Modified
// metadata to outgoing GETs and persists refreshed metadata from responses.
// Non-GET and explicitly pre-conditioned requests pass through unmodified.
type ConditionalCacheFilter struct {
	store CacheStore
	// baseURL resolves relative request paths to the resource key used by
	// the executor when it built the stored metadata.
	baseURL string
}

// NewConditionalCacheFilter wraps a cache metadata store as a pipeline filter.
func NewConditionalCacheFilter(store CacheStore, baseURL string) *ConditionalCacheFilter {
	return &ConditionalCacheFilter{store: store, baseURL: baseURL}
}

// PrepareRequest injects stored conditional headers into an unconditioned GET.
// Metadata belonging to a different credential is never applied.
func (f *ConditionalCacheFilter) PrepareRequest(_ context.Context, cred Credential, req *Request) {
	if req.Method != http.MethodGet || req.Conditioned() {
		return
	}
	meta, ok := f.store.Lookup(cred.Key(), req.URL(f.baseURL))
	if !ok || meta.Credential != cred.Key() {
		return
	}
	req.ETag = meta.ETag
	req.LastModified = meta.LastModified
}

// ObserveResponse persists refreshed metadata: a 200 GET stores the new
// validators, a 304 refreshes the last-refresh timestamp while leaving the
// cached result untouched.
func (f *ConditionalCacheFilter) ObserveResponse(_ context.Context, cred Credential, req *Request, meta ResponseMeta) {
	if req.Method != http.MethodGet {
		return
	}

	switch meta.Status {
	case http.StatusOK:
		if meta.CacheMeta == nil {
			return
		}
		if err := f.store.Store(meta.CacheMeta); err != nil {
			logging.Warn().Err(err).Str("key", meta.CacheMeta.Key).Msg("failed to persist cache metadata")
		}

	case http.StatusNotModified:
		key := req.URL(f.baseURL)
		stored, ok := f.store.Lookup(cred.Key(), key)
		if !ok {
			return
		}
		now := time.Now()
		stored.LastRefresh = now
		if expiry := parseExpiry(meta.Header, now); !expiry.IsZero() {
			stored.Expires = expiry
		}
		if err := f.store.Store(stored); err != nil {
			logging.Warn().Err(err).Str("key", key).Msg("failed to refresh cache metadata")
		}
	}
}
