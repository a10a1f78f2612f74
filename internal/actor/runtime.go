// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

// Package actor provides a local per-key serialized work runtime. Every key
// gets at most one goroutine processing its queue, so two tasks for the same
// key never run concurrently. Workers are reaped after an idle period and
// recreated on demand.
package actor

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hubcast/hubcast/internal/logging"
	"github.com/hubcast/hubcast/internal/metrics"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("actor: runtime closed")

// ErrQueueFull is returned when a key's queue is at capacity.
var ErrQueueFull = errors.New("actor: queue full")

// Task is one unit of work. The context is cancelled when the runtime closes.
type Task func(ctx context.Context) error

const queueCapacity = 32

// Options tunes the runtime.
type Options struct {
	// Pace limits how often tasks for one key may start; zero disables
	// pacing.
	Pace rate.Limit
	// Burst is the pacing burst per key.
	Burst int
	// IdleTTL reaps a worker that has had no work for this long.
	IdleTTL time.Duration
}

// Runtime executes tasks one at a time per key.
type Runtime struct {
	opts Options

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type worker struct {
	queue   chan Task
	limiter *rate.Limiter
}

// New creates a runtime. Close releases it.
func New(opts Options) *Runtime {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 5 * time.Minute
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		opts:    opts,
		workers: make(map[string]*worker),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue queues a task behind any in-flight work for the same key. Tasks for
// different keys run independently.
func (r *Runtime) Enqueue(key string, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	w, ok := r.workers[key]
	if !ok {
		w = &worker{queue: make(chan Task, queueCapacity)}
		if r.opts.Pace > 0 {
			w.limiter = rate.NewLimiter(r.opts.Pace, r.opts.Burst)
		}
		r.workers[key] = w
		r.wg.Add(1)
		metrics.ActorWorkersActive.Inc()
		go r.run(key, w)
	}

	// Queueing under the lock keeps the send ordered against the idle
	// reap, which checks queue length under the same lock.
	select {
	case w.queue <- task:
		return nil
	default:
		metrics.ActorTasksTotal.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

// run drains one key's queue until the runtime closes or the worker idles out.
func (r *Runtime) run(key string, w *worker) {
	defer r.wg.Done()
	defer metrics.ActorWorkersActive.Dec()

	idle := time.NewTimer(r.opts.IdleTTL)
	defer idle.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case task := <-w.queue:
			r.execute(key, w, task)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.opts.IdleTTL)
		case <-idle.C:
			// Drop the worker from the map before the final drain so a
			// concurrent Enqueue creates a fresh one instead of writing
			// to a dead queue.
			r.mu.Lock()
			if len(w.queue) > 0 {
				r.mu.Unlock()
				idle.Reset(r.opts.IdleTTL)
				continue
			}
			delete(r.workers, key)
			r.mu.Unlock()
			return
		}
	}
}

func (r *Runtime) execute(key string, w *worker, task Task) {
	if w.limiter != nil {
		if err := w.limiter.Wait(r.ctx); err != nil {
			return
		}
	}
	if err := task(r.ctx); err != nil {
		metrics.ActorTasksTotal.WithLabelValues("error").Inc()
		logging.Warn().Err(err).Str("key", key).Msg("actor task failed")
		return
	}
	metrics.ActorTasksTotal.WithLabelValues("ok").Inc()
}

// Close cancels in-flight task contexts and waits for all workers to exit.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
