// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hubcast/hubcast/internal/actor"
	"github.com/hubcast/hubcast/internal/session"
)

type fakeRefresher struct {
	mu     sync.Mutex
	users  []int64
	issues []session.IssueRef
	err    error
}

func (f *fakeRefresher) RefreshUser(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	return f.err
}

func (f *fakeRefresher) RefreshIssue(_ context.Context, _ int64, owner, repo string, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues = append(f.issues, session.IssueRef{Owner: owner, Repo: repo, Number: number})
	return f.err
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSchedulerForceRefresh(t *testing.T) {
	runtime := actor.New(actor.Options{IdleTTL: time.Hour})
	defer runtime.Close()

	refresher := &fakeRefresher{}
	s := NewScheduler(runtime, refresher)

	if err := s.ForceRefresh(context.Background(), 7); err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		refresher.mu.Lock()
		defer refresher.mu.Unlock()
		return len(refresher.users) == 1 && refresher.users[0] == 7
	})
}

func TestSchedulerRefreshIssueForwardsRef(t *testing.T) {
	runtime := actor.New(actor.Options{IdleTTL: time.Hour})
	defer runtime.Close()

	refresher := &fakeRefresher{}
	s := NewScheduler(runtime, refresher)

	ref := session.IssueRef{Owner: "acme", Repo: "widgets", Number: 12}
	if err := s.RefreshIssue(context.Background(), 7, ref); err != nil {
		t.Fatalf("RefreshIssue: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		refresher.mu.Lock()
		defer refresher.mu.Unlock()
		return len(refresher.issues) == 1 && refresher.issues[0] == ref
	})
}

func TestSchedulerBreakerOpensAfterRepeatedFailures(t *testing.T) {
	runtime := actor.New(actor.Options{IdleTTL: time.Hour})
	defer runtime.Close()

	refresher := &fakeRefresher{err: errors.New("upstream down")}
	s := NewScheduler(runtime, refresher)

	for i := 0; i < 10; i++ {
		if err := s.ForceRefresh(context.Background(), 7); err != nil {
			t.Fatalf("ForceRefresh %d: %v", i, err)
		}
	}

	// Once open, the breaker short-circuits before reaching the mirror, so
	// the call count stops short of the enqueue count.
	waitFor(t, 2*time.Second, func() bool {
		refresher.mu.Lock()
		defer refresher.mu.Unlock()
		return len(refresher.users) >= 5
	})
	time.Sleep(50 * time.Millisecond)
	refresher.mu.Lock()
	calls := len(refresher.users)
	refresher.mu.Unlock()
	if calls >= 10 {
		t.Fatalf("breaker never opened: %d calls reached the mirror", calls)
	}
}
