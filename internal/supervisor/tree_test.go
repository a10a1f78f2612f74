// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hubcast/hubcast/internal/logging"
)

// blockingService counts starts and blocks until its context ends.
type blockingService struct {
	starts  atomic.Int64
	started chan struct{}
}

func newBlockingService() *blockingService {
	return &blockingService{started: make(chan struct{}, 8)}
}

func (s *blockingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	s.started <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeRunsServicesInBothLayers(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	msg := newBlockingService()
	api := newBlockingService()
	tree.AddMessagingService(msg)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.Root().ServeBackground(ctx)

	for _, svc := range []*blockingService{msg, api} {
		select {
		case <-svc.started:
		case <-time.After(5 * time.Second):
			t.Fatal("service did not start")
		}
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
}

func TestTreeRestartsCrashedService(t *testing.T) {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(logging.NewSlogLogger(), cfg)

	svc := newBlockingService()
	crashes := make(chan struct{}, 1)
	tree.AddAPIService(crashingOnce{inner: svc, crashed: crashes})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.Root().ServeBackground(ctx)

	select {
	case <-svc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("service was not restarted after a crash")
	}
	if got := svc.starts.Load(); got != 1 {
		t.Fatalf("starts = %d, want 1", got)
	}
}

// crashingOnce fails its first Serve call and delegates afterwards.
type crashingOnce struct {
	inner   *blockingService
	crashed chan struct{}
}

func (c crashingOnce) Serve(ctx context.Context) error {
	select {
	case c.crashed <- struct{}{}:
		return context.DeadlineExceeded
	default:
		return c.inner.Serve(ctx)
	}
}
