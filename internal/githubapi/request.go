// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package githubapi

import (
	"net/url"
	"strings"
	"time"
)

// Request describes one upstream API call. A Request is mutable across
// redirects and is cloned whenever it is re-targeted to a new URL.
type Request struct {
	Method string
	// Path is either a path relative to the client base URL or an absolute
	// URL (as produced by Link headers and redirects).
	Path  string
	Query url.Values
	Body  any

	// ETag and LastModified, when set, are sent as If-None-Match and
	// If-Modified-Since. Requests carrying either are considered explicitly
	// conditioned and are left alone by the cache filter.
	ETag         string
	LastModified string

	// Accept overrides the client's default accept header.
	Accept string
}

// NewRequest builds a GET request for the given path.
func NewRequest(path string) *Request {
	return &Request{Method: "GET", Path: path, Query: url.Values{}}
}

// Clone returns a deep copy of the request. The body is shared; bodies are
// treated as immutable once attached.
func (r *Request) Clone() *Request {
	out := *r
	out.Query = url.Values{}
	for k, vs := range r.Query {
		out.Query[k] = append([]string(nil), vs...)
	}
	return &out
}

// Conditioned reports whether the request already carries conditional headers.
func (r *Request) Conditioned() bool {
	return r.ETag != "" || r.LastModified != ""
}

// URL resolves the request target against the base URL and merges query
// parameters. Absolute paths win over the base.
func (r *Request) URL(base string) string {
	target := r.Path
	if !strings.Contains(target, "://") {
		target = strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(r.Path, "/")
	}
	if len(r.Query) == 0 {
		return target
	}
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	for k, vs := range r.Query {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// CacheMetadata is the conditional-request bookkeeping for one (credential,
// resource) pair. It is upserted after successful conditional fetches and
// consulted before issuing a GET.
type CacheMetadata struct {
	// Credential is the owning credential's key; metadata is never applied
	// to a request from a different credential.
	Credential string `json:"credential"`
	// Key is the resource key: the full request URL.
	Key string `json:"key"`

	ETag         string        `json:"etag,omitempty"`
	LastModified string        `json:"lastModified,omitempty"`
	Expires      time.Time     `json:"expires,omitempty"`
	LastRefresh  time.Time     `json:"lastRefresh"`
	PollInterval time.Duration `json:"pollInterval,omitempty"`
}

// PageLinks holds the pagination URLs extracted from a Link header.
type PageLinks struct {
	First string
	Prev  string
	Next  string
	Last  string
}

// HasNext reports whether another page follows.
func (l PageLinks) HasNext() bool { return l.Next != "" }
