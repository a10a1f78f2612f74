// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package githubapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// pollIntervalHeader is the vendor-specific minimum poll interval header.
const pollIntervalHeader = "X-Poll-Interval"

// parseLinkHeader extracts pagination URLs from an RFC 5988 Link header:
//
//	<https://api.example.com/user/repos?page=3>; rel="next", <...>; rel="last"
func parseLinkHeader(value string) PageLinks {
	var links PageLinks
	if value == "" {
		return links
	}
	for _, part := range strings.Split(value, ",") {
		segments := strings.Split(strings.TrimSpace(part), ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		target = target[1 : len(target)-1]

		for _, attr := range segments[1:] {
			attr = strings.TrimSpace(attr)
			rel, ok := strings.CutPrefix(attr, "rel=")
			if !ok {
				continue
			}
			switch strings.Trim(rel, `"`) {
			case "first":
				links.First = target
			case "prev":
				links.Prev = target
			case "next":
				links.Next = target
			case "last":
				links.Last = target
			}
		}
	}
	return links
}

// pageNumber extracts the integer "page" query parameter from a pagination
// URL. The second return is false when the parameter is absent or malformed.
func pageNumber(rawurl string) (int, bool) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return 0, false
	}
	v := u.Query().Get("page")
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// withPageNumber returns the URL with its "page" query parameter replaced.
func withPageNumber(rawurl string, page int) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return rawurl
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// parseExpiry computes the cache expiry for a response: the Expires header
// narrowed by Cache-Control max-age/s-maxage and by the poll-interval header,
// whichever yields the earlier expiry. Zero when nothing applies.
func parseExpiry(header http.Header, now time.Time) time.Time {
	var expiry time.Time

	if v := header.Get("Expires"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			expiry = t
		}
	}

	narrow := func(candidate time.Time) {
		if expiry.IsZero() || candidate.Before(expiry) {
			expiry = candidate
		}
	}

	if maxAge, ok := parseMaxAge(header.Get("Cache-Control")); ok {
		narrow(now.Add(maxAge))
	}
	if poll, ok := parsePollInterval(header); ok {
		narrow(now.Add(poll))
	}
	return expiry
}

// parseMaxAge extracts s-maxage (preferred) or max-age from a Cache-Control
// header value.
func parseMaxAge(value string) (time.Duration, bool) {
	var maxAge, sMaxAge time.Duration
	var haveMax, haveSMax bool

	for _, directive := range strings.Split(value, ",") {
		directive = strings.TrimSpace(directive)
		if rest, ok := strings.CutPrefix(directive, "s-maxage="); ok {
			if n, err := strconv.Atoi(rest); err == nil && n >= 0 {
				sMaxAge, haveSMax = time.Duration(n)*time.Second, true
			}
		} else if rest, ok := strings.CutPrefix(directive, "max-age="); ok {
			if n, err := strconv.Atoi(rest); err == nil && n >= 0 {
				maxAge, haveMax = time.Duration(n)*time.Second, true
			}
		}
	}
	if haveSMax {
		return sMaxAge, true
	}
	return maxAge, haveMax
}

// parsePollInterval reads the vendor poll-interval header (seconds).
func parsePollInterval(header http.Header) (time.Duration, bool) {
	v := header.Get(pollIntervalHeader)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// parseRetryAfter converts a Retry-After header to an absolute timestamp.
// The header is either an HTTP date or a delta in seconds.
func parseRetryAfter(value string, now time.Time) time.Time {
	if value == "" {
		return time.Time{}
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return now.Add(time.Duration(seconds) * time.Second)
	}
	if t, err := http.ParseTime(value); err == nil {
		return t
	}
	return time.Time{}
}

// parseScopes splits the granted OAuth scopes header.
func parseScopes(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	scopes := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}
