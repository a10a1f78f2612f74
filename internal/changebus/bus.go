// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package changebus

import (
	"context"
	"sync"
	"time"

	"github.com/hubcast/hubcast/internal/logging"
	"github.com/hubcast/hubcast/internal/metrics"
	"github.com/hubcast/hubcast/internal/models"
)

// subscriberBuffer absorbs short bursts; a subscriber that falls further
// behind loses summaries, which the periodic reconciliation pass repairs.
const subscriberBuffer = 16

// Bus multicasts change summaries to session subscribers. The upstream
// source subscription is established when the first subscriber arrives and
// torn down when the last one departs; late subscribers receive only future
// emissions.
type Bus struct {
	source Source
	window time.Duration

	mu     sync.Mutex
	subs   map[chan models.ChangeSummary]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBus creates a bus over the given source with the given routine
// coalescing window.
func NewBus(source Source, window time.Duration) *Bus {
	return &Bus{
		source: source,
		window: window,
		subs:   make(map[chan models.ChangeSummary]struct{}),
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The first subscriber activates the upstream
// subscription.
func (b *Bus) Subscribe() (<-chan models.ChangeSummary, func()) {
	ch := make(chan models.ChangeSummary, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	count := len(b.subs)
	if count == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		b.cancel = cancel
		b.done = make(chan struct{})
		go b.pump(ctx, b.done)
	}
	b.mu.Unlock()
	metrics.BusSubscribers.Set(float64(count))

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { b.drop(ch) })
	}
	return ch, unsubscribe
}

func (b *Bus) drop(ch chan models.ChangeSummary) {
	b.mu.Lock()
	delete(b.subs, ch)
	count := len(b.subs)
	var cancel context.CancelFunc
	var done chan struct{}
	if count == 0 && b.cancel != nil {
		cancel, done = b.cancel, b.done
		b.cancel, b.done = nil, nil
	}
	b.mu.Unlock()
	metrics.BusSubscribers.Set(float64(count))

	if cancel != nil {
		cancel()
		<-done
	}
	close(ch)
}

// pump reads the upstream feed, forwarding urgent summaries immediately and
// flushing the union of routine ones at every window boundary.
func (b *Bus) pump(ctx context.Context, done chan struct{}) {
	defer close(done)

	feed, err := b.source.Subscribe(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("change bus source subscription failed")
		return
	}

	ticker := time.NewTicker(b.window)
	defer ticker.Stop()
	pending := models.EmptyChangeSummary()

	flush := func() {
		if pending.IsEmpty() {
			return
		}
		metrics.BusCoalescedTotal.Inc()
		b.broadcast(pending)
		pending = models.EmptyChangeSummary()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case n, ok := <-feed:
			if !ok {
				flush()
				return
			}
			if n.Urgent {
				metrics.BusEventsTotal.WithLabelValues("urgent").Inc()
				summary := n.Summary()
				if !summary.IsEmpty() {
					b.broadcast(summary)
				}
				continue
			}
			metrics.BusEventsTotal.WithLabelValues("routine").Inc()
			pending = pending.Union(n.Summary())

		case <-ticker.C:
			flush()
		}
	}
}

func (b *Bus) broadcast(s models.ChangeSummary) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- s:
		default:
			logging.Warn().Msg("change bus subscriber lagging, summary dropped")
		}
	}
}
