// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package mirror

import (
	"context"
	"strconv"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hubcast/hubcast/internal/actor"
	"github.com/hubcast/hubcast/internal/logging"
	"github.com/hubcast/hubcast/internal/session"
)

// Refreshing is the subset of Mirror the scheduler drives. Split out so
// tests can substitute the refresh work.
type Refreshing interface {
	RefreshUser(ctx context.Context, userID int64) error
	RefreshIssue(ctx context.Context, userID int64, owner, repo string, number int) error
}

// Scheduler queues refresh work onto the actor runtime, one worker per user,
// behind a circuit breaker so a failing upstream pauses background refresh
// instead of hammering it.
type Scheduler struct {
	runtime *actor.Runtime
	mirror  Refreshing
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewScheduler wires the scheduler. The runtime's per-key guarantee is what
// keeps two refreshes for one user from racing the same store rows.
func NewScheduler(runtime *actor.Runtime, mirror Refreshing) *Scheduler {
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:     "github-refresh",
		Interval: time.Minute,
		Timeout:  2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("refresh breaker state change")
		},
	})
	return &Scheduler{runtime: runtime, mirror: mirror, breaker: breaker}
}

func userKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// ForceRefresh queues a full mirror refresh for the user.
func (s *Scheduler) ForceRefresh(_ context.Context, userID int64) error {
	return s.runtime.Enqueue(userKey(userID), func(ctx context.Context) error {
		_, err := s.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, s.mirror.RefreshUser(ctx, userID)
		})
		return err
	})
}

// RefreshIssue queues a targeted single-issue refresh. It shares the user's
// worker so it serializes with full refreshes for the same user.
func (s *Scheduler) RefreshIssue(_ context.Context, userID int64, ref session.IssueRef) error {
	return s.runtime.Enqueue(userKey(userID), func(ctx context.Context) error {
		_, err := s.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, s.mirror.RefreshIssue(ctx, userID, ref.Owner, ref.Repo, ref.Number)
		})
		return err
	})
}
