// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package githubapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/hubcast/hubcast/internal/metrics"
)

// FetchPaged fetches a complete paged collection and returns the concatenated,
// deduplicated items. Only valid for GET requests.
//
// When the first page's Link header exposes integer page numbers for both
// next and last, and interpolation is enabled, every remaining page URL is
// computed up front and fetched with bounded concurrency; otherwise the next
// links are walked sequentially. maxPages (0 = unlimited) truncates the run
// and marks the result partial.
//
// The upstream occasionally repeats rows across adjacent pages, so items are
// deduplicated by keyFn, keeping the first occurrence. Partial results
// discard cache metadata, forcing a full refetch next time. The returned
// rate-limit snapshot is the pessimistic union across all pages fetched.
func FetchPaged[T any, K comparable](ctx context.Context, c *Client, cred Credential, req *Request, keyFn func(T) K, maxPages int) (*Response[[]T], error) {
	if req.Method != "" && req.Method != http.MethodGet {
		return nil, fmt.Errorf("paged fetch requires GET, got %s", req.Method)
	}

	first := req.Clone()
	first.Method = http.MethodGet
	if first.Query.Get("per_page") == "" {
		first.Query.Set("per_page", strconv.Itoa(c.cfg.PageSize))
	}

	firstResp, err := Fetch[[]T](ctx, c, cred, first)
	if err != nil {
		return nil, err
	}
	if !firstResp.Succeeded() {
		return firstResp, nil
	}

	pages := [][]T{firstResp.Result}
	snaps := []RateLimitSnapshot{firstResp.RateLimit}
	partial := false

	nextPage, haveNext := pageNumber(firstResp.Links.Next)
	lastPage, haveLast := pageNumber(firstResp.Links.Last)

	switch {
	case !firstResp.Links.HasNext():
		// Single page; nothing more to fetch.

	case c.cfg.Interpolation && haveNext && haveLast && lastPage >= nextPage:
		interpolated, interpolatedPartial, failed, err := fetchInterpolated[T](ctx, c, cred, firstResp.Links.Next, nextPage, lastPage, maxPages)
		if err != nil {
			return nil, err
		}
		if failed != nil {
			// A page came back unsuccessful; without a cap the whole
			// operation surfaces that page's failure.
			if maxPages == 0 {
				return failed, nil
			}
			interpolatedPartial = true
		}
		for _, r := range interpolated {
			if r != nil && r.Succeeded() {
				pages = append(pages, r.Result)
				snaps = append(snaps, r.RateLimit)
			}
		}
		partial = interpolatedPartial

	default:
		walked, walkedPartial, failed, err := walkSequential[T](ctx, c, cred, firstResp.Links.Next, maxPages)
		if err != nil {
			if maxPages == 0 {
				return nil, err
			}
			walkedPartial = true
		}
		if failed != nil {
			if maxPages == 0 {
				return failed, nil
			}
			walkedPartial = true
		}
		for _, r := range walked {
			pages = append(pages, r.Result)
			snaps = append(snaps, r.RateLimit)
		}
		partial = walkedPartial
	}

	out := &Response[[]T]{
		Status:    firstResp.Status,
		Result:    dedupeByKey(pages, keyFn),
		RateLimit: pessimisticUnion(snaps),
		Links:     firstResp.Links,
		Scopes:    firstResp.Scopes,
		Redirects: firstResp.Redirects,
		Partial:   partial,
		Request:   firstResp.Request,
	}
	if partial {
		metrics.PartialResultsTotal.Inc()
	} else {
		out.CacheMeta = firstResp.CacheMeta
	}
	return out, nil
}

// fetchInterpolated computes the intervening page URLs from the next and last
// page numbers and fetches them with bounded concurrency (counting
// semaphore). Before the fan-out it verifies the credential's remaining quota
// covers the page count; if not, the whole operation aborts rate-limited with
// no partial fetch. The returned failed response (if any) is the first page
// that came back unsuccessful.
func fetchInterpolated[T any](ctx context.Context, c *Client, cred Credential, nextURL string, nextPage, lastPage, maxPages int) (results []*Response[[]T], partial bool, failed *Response[[]T], err error) {
	urls := make([]string, 0, lastPage-nextPage+1)
	for p := nextPage; p <= lastPage; p++ {
		urls = append(urls, withPageNumber(nextURL, p))
	}

	// maxPages counts total pages including the already-fetched first one.
	if maxPages > 0 && len(urls) > maxPages-1 {
		urls = urls[:maxPages-1]
		partial = true
	}
	if len(urls) == 0 {
		return nil, partial, nil, nil
	}

	if snap := c.limits.For(cred).Snapshot(); snap.Known() && snap.Remaining < int64(len(urls)) {
		metrics.RateLimitFastFailsTotal.Inc()
		return nil, false, nil, &RateLimitError{Remaining: snap.Remaining, Reset: snap.Reset}
	}

	results = make([]*Response[[]T], len(urls))
	errs := make([]error, len(urls))

	sem := make(chan struct{}, c.cfg.MaxConcurrentPages)
	var wg sync.WaitGroup
	for i, pageURL := range urls {
		wg.Add(1)
		go func(i int, pageURL string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			resp, fetchErr := Fetch[[]T](ctx, c, cred, NewRequest(pageURL))
			results[i], errs[i] = resp, fetchErr
			if fetchErr == nil && resp.Succeeded() {
				metrics.PagesFetchedTotal.WithLabelValues("interpolated").Inc()
			}
		}(i, pageURL)
	}
	wg.Wait()

	for i, fetchErr := range errs {
		if fetchErr != nil {
			if maxPages == 0 {
				return nil, false, nil, fetchErr
			}
			results[i] = nil
			partial = true
		}
	}
	return results, partial, firstFailedPage(results), nil
}

// firstFailedPage returns the first non-successful page response, or nil.
func firstFailedPage[T any](results []*Response[[]T]) *Response[[]T] {
	for _, r := range results {
		if r != nil && !r.Succeeded() {
			return r
		}
	}
	return nil
}

// walkSequential follows next links one page at a time, stopping at maxPages
// total pages. It reports the successfully fetched pages, whether the walk
// was truncated, the failing response for an unsuccessful page, and any
// transport error.
func walkSequential[T any](ctx context.Context, c *Client, cred Credential, next string, maxPages int) (fetched []*Response[[]T], partial bool, failed *Response[[]T], err error) {
	count := 1
	for next != "" {
		if maxPages > 0 && count >= maxPages {
			return fetched, true, nil, nil
		}
		resp, fetchErr := Fetch[[]T](ctx, c, cred, NewRequest(next))
		if fetchErr != nil {
			return fetched, false, nil, fetchErr
		}
		if !resp.Succeeded() {
			return fetched, false, resp, nil
		}
		metrics.PagesFetchedTotal.WithLabelValues("sequential").Inc()
		fetched = append(fetched, resp)
		next = resp.Links.Next
		count++
	}
	return fetched, false, nil, nil
}

// dedupeByKey concatenates pages dropping repeated keys, preserving first
// occurrence order.
func dedupeByKey[T any, K comparable](pages [][]T, keyFn func(T) K) []T {
	seen := make(map[K]struct{})
	var out []T
	for _, page := range pages {
		for _, item := range page {
			k := keyFn(item)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
