// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package githubapi

import (
	"net/http"
	"testing"
	"time"
)

func TestParseLinkHeader(t *testing.T) {
	value := `<https://api.example.com/repos?page=2&per_page=100>; rel="next", ` +
		`<https://api.example.com/repos?page=7&per_page=100>; rel="last", ` +
		`<https://api.example.com/repos?page=1&per_page=100>; rel="first"`

	links := parseLinkHeader(value)

	if links.Next != "https://api.example.com/repos?page=2&per_page=100" {
		t.Errorf("next = %q", links.Next)
	}
	if links.Last != "https://api.example.com/repos?page=7&per_page=100" {
		t.Errorf("last = %q", links.Last)
	}
	if links.First == "" || links.Prev != "" {
		t.Errorf("first = %q, prev = %q", links.First, links.Prev)
	}
}

func TestParseLinkHeaderEmpty(t *testing.T) {
	links := parseLinkHeader("")
	if links.HasNext() {
		t.Error("empty header should produce no links")
	}
}

func TestPageNumber(t *testing.T) {
	tests := []struct {
		name   string
		rawurl string
		want   int
		ok     bool
	}{
		{"simple", "https://x/r?page=3", 3, true},
		{"with other params", "https://x/r?per_page=100&page=12", 12, true},
		{"missing", "https://x/r?per_page=100", 0, false},
		{"non-numeric", "https://x/r?page=abc", 0, false},
		{"zero", "https://x/r?page=0", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pageNumber(tt.rawurl)
			if got != tt.want || ok != tt.ok {
				t.Errorf("pageNumber(%q) = (%d, %v), want (%d, %v)", tt.rawurl, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestWithPageNumber(t *testing.T) {
	got := withPageNumber("https://x/r?page=2&per_page=50", 5)
	wantPage, ok := pageNumber(got)
	if !ok || wantPage != 5 {
		t.Errorf("withPageNumber produced %q", got)
	}
}

func TestParseMaxAge(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
		ok    bool
	}{
		{"max-age", "private, max-age=60", 60 * time.Second, true},
		{"s-maxage preferred", "max-age=60, s-maxage=30", 30 * time.Second, true},
		{"none", "private, no-cache", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseMaxAge(tt.value)
			if got != tt.want || ok != tt.ok {
				t.Errorf("parseMaxAge(%q) = (%v, %v), want (%v, %v)", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseExpiryNarrowing(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	header := http.Header{}
	header.Set("Expires", now.Add(10*time.Minute).Format(http.TimeFormat))
	header.Set("Cache-Control", "max-age=120")
	header.Set(pollIntervalHeader, "60")

	// Poll interval (60s) is the earliest of the three and must win.
	expiry := parseExpiry(header, now)
	if want := now.Add(60 * time.Second); !expiry.Equal(want) {
		t.Errorf("expiry = %v, want %v", expiry, want)
	}
}

func TestParseExpiryHeaderOnly(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	header := http.Header{}
	header.Set("Expires", now.Add(5*time.Minute).Format(http.TimeFormat))

	expiry := parseExpiry(header, now)
	if expiry.IsZero() {
		t.Fatal("expected non-zero expiry")
	}
	if got := expiry.Sub(now); got != 5*time.Minute {
		t.Errorf("expiry delta = %v, want 5m", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if got := parseRetryAfter("30", now); !got.Equal(now.Add(30 * time.Second)) {
		t.Errorf("delta form = %v", got)
	}

	date := now.Add(2 * time.Minute)
	if got := parseRetryAfter(date.Format(http.TimeFormat), now); !got.Equal(date) {
		t.Errorf("date form = %v, want %v", got, date)
	}

	if got := parseRetryAfter("", now); !got.IsZero() {
		t.Errorf("empty should be zero, got %v", got)
	}
}

func TestParseScopes(t *testing.T) {
	got := parseScopes("repo, read:org, gist")
	want := []string{"repo", "read:org", "gist"}
	if len(got) != len(want) {
		t.Fatalf("scopes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("scope[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPessimisticUnion(t *testing.T) {
	early := time.Unix(1000, 0)
	late := time.Unix(2000, 0)

	snaps := []RateLimitSnapshot{
		{Limit: 5000, Remaining: 4000, Reset: early},
		{Limit: 5000, Remaining: 100, Reset: late},
		{Limit: 4000, Remaining: 300, Reset: late},
	}

	got := pessimisticUnion(snaps)
	if !got.Reset.Equal(late) {
		t.Errorf("reset = %v, want %v (latest wins)", got.Reset, late)
	}
	if got.Limit != 4000 {
		t.Errorf("limit = %d, want 4000 (min on tied reset)", got.Limit)
	}
	if got.Remaining != 100 {
		t.Errorf("remaining = %d, want 100 (min on tied reset)", got.Remaining)
	}
}
