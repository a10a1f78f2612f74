// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/hubcast/hubcast/internal/changebus"
	"github.com/hubcast/hubcast/internal/delta"
	"github.com/hubcast/hubcast/internal/models"
)

// fakeTransport is an in-memory framed connection.
type fakeTransport struct {
	in   chan []byte
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan []byte, 16),
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case frame := <-t.in:
		return frame, nil
	case <-t.done:
		return nil, errors.New("transport closed")
	}
}

func (t *fakeTransport) WriteMessage(frame []byte) error {
	select {
	case t.out <- frame:
		return nil
	case <-t.done:
		return errors.New("transport closed")
	}
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *fakeTransport) sendJSON(tb testing.TB, v any) {
	tb.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		tb.Fatal(err)
	}
	frame, err := EncodeFrame(payload)
	if err != nil {
		tb.Fatal(err)
	}
	t.in <- frame
}

func (t *fakeTransport) recvJSON(tb testing.TB, within time.Duration) map[string]any {
	tb.Helper()
	select {
	case frame := <-t.out:
		payload, err := DecodeFrame(frame)
		if err != nil {
			tb.Fatal(err)
		}
		var msg map[string]any
		if err := json.Unmarshal(payload, &msg); err != nil {
			tb.Fatal(err)
		}
		return msg
	case <-time.After(within):
		tb.Fatal("no outbound message in time")
		return nil
	}
}

func (t *fakeTransport) expectSilence(tb testing.TB, within time.Duration) {
	tb.Helper()
	select {
	case frame := <-t.out:
		tb.Fatalf("unexpected outbound frame %v", frame)
	case <-time.After(within):
	}
}

// fakeSyncer scripts delta passes and asserts they never overlap.
type fakeSyncer struct {
	mu       sync.Mutex
	running  atomic.Int32
	overlap  atomic.Bool
	passes   atomic.Int32
	hold     time.Duration
	messages []*delta.SyncMessage
}

func (f *fakeSyncer) Sync(_ context.Context, _ int64, _ *delta.VersionVector, emit delta.Emitter) error {
	if f.running.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.running.Add(-1)
	f.passes.Add(1)

	if f.hold > 0 {
		time.Sleep(f.hold)
	}

	f.mu.Lock()
	msgs := f.messages
	f.mu.Unlock()
	for _, m := range msgs {
		if err := emit(m); err != nil {
			return err
		}
	}
	return nil
}

type refreshCall struct {
	userID int64
	ref    IssueRef
}

type fakeRefresher struct {
	mu       sync.Mutex
	forced   []int64
	targeted []refreshCall
}

func (f *fakeRefresher) ForceRefresh(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, userID)
	return nil
}

func (f *fakeRefresher) RefreshIssue(_ context.Context, userID int64, ref IssueRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targeted = append(f.targeted, refreshCall{userID: userID, ref: ref})
	return nil
}

func (f *fakeRefresher) forcedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forced)
}

func (f *fakeRefresher) lastTargeted() (refreshCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.targeted) == 0 {
		return refreshCall{}, false
	}
	return f.targeted[len(f.targeted)-1], true
}

// testSource feeds bus notifications for session tests.
type testSource struct {
	ch chan changebus.Notification
}

func newTestSource() *testSource {
	return &testSource{ch: make(chan changebus.Notification, 16)}
}

func (s *testSource) Subscribe(ctx context.Context) (<-chan changebus.Notification, error) {
	out := make(chan changebus.Notification)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-s.ch:
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type harness struct {
	transport *fakeTransport
	source    *testSource
	syncer    *fakeSyncer
	refresher *fakeRefresher
	session   *Session
	runDone   chan error
}

func startSession(t *testing.T, cfg Config) *harness {
	t.Helper()
	if cfg.UserID == 0 {
		cfg.UserID = 7
	}
	if cfg.PurgeID == "" {
		cfg.PurgeID = "purge-epoch-1"
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = time.Hour
	}

	h := &harness{
		transport: newFakeTransport(),
		source:    newTestSource(),
		syncer:    &fakeSyncer{},
		refresher: &fakeRefresher{},
		runDone:   make(chan error, 1),
	}
	bus := changebus.NewBus(h.source, 10*time.Millisecond)
	h.session = New(h.transport, bus, h.syncer, h.refresher, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		h.transport.Close()
	})
	go func() { h.runDone <- h.session.Run(ctx) }()
	return h
}

func validHello(repos []delta.RepoVersion, orgs []delta.OrgVersion) helloMessage {
	msg := helloMessage{Type: messageTypeHello, Client: "Hubcast 2.4.1 (1842), macOS 15.2"}
	msg.Versions.Repos = repos
	msg.Versions.Orgs = orgs
	return msg
}

func (h *harness) hello(t *testing.T, repos []delta.RepoVersion, orgs []delta.OrgVersion) {
	t.Helper()
	h.transport.sendJSON(t, validHello(repos, orgs))
	reply := h.transport.recvJSON(t, time.Second)
	if reply["purgeIdentifier"] != "purge-epoch-1" {
		t.Fatalf("hello reply = %v", reply)
	}
}

func TestSessionHandshakeAndInitialPass(t *testing.T) {
	h := startSession(t, Config{})
	h.syncer.messages = []*delta.SyncMessage{{
		Type:      delta.MessageTypeSync,
		Logs:      []models.SyncLogEntry{models.NewSetEntry(models.EntityIssue, models.Issue{ID: 1})},
		Remaining: 0,
	}}

	h.hello(t, []delta.RepoVersion{{Repo: 42, Version: 10}}, nil)

	// The initial pass runs with no external changes at all.
	sync := h.transport.recvJSON(t, time.Second)
	if sync["type"] != delta.MessageTypeSync {
		t.Fatalf("message = %v", sync)
	}
	if h.session.State() != StateActive {
		t.Errorf("state = %v, want active", h.session.State())
	}
}

func TestSessionRejectsBadClientString(t *testing.T) {
	h := startSession(t, Config{})

	h.transport.sendJSON(t, helloMessage{Type: messageTypeHello, Client: "curl/8.0"})

	// The connection fails outright so the client sees a close instead of
	// waiting in Connecting forever.
	select {
	case err := <-h.runDone:
		if !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("err = %v, want protocol violation", err)
		}
	case <-time.After(time.Second):
		t.Fatal("session did not fail on bad client string")
	}
	if h.session.State() != StateClosed {
		t.Errorf("state = %v, want closed", h.session.State())
	}
}

func TestSessionDuplicateHelloFailsConnection(t *testing.T) {
	h := startSession(t, Config{})
	h.hello(t, nil, nil)

	h.transport.sendJSON(t, validHello(nil, nil))

	select {
	case err := <-h.runDone:
		if !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("err = %v, want protocol violation", err)
		}
	case <-time.After(time.Second):
		t.Fatal("session did not fail on duplicate hello")
	}
	if h.session.State() != StateClosed {
		t.Errorf("state = %v, want closed", h.session.State())
	}
}

func TestSessionKnownMessageBeforeHelloFails(t *testing.T) {
	h := startSession(t, Config{})

	h.transport.sendJSON(t, viewingMessage{Type: messageTypeViewing, Issue: "a/b#1"})

	select {
	case err := <-h.runDone:
		if !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("err = %v, want protocol violation", err)
		}
	case <-time.After(time.Second):
		t.Fatal("session did not fail on pre-hello message")
	}
}

func TestSessionIgnoresUnknownDiscriminator(t *testing.T) {
	h := startSession(t, Config{})

	h.transport.sendJSON(t, map[string]any{"type": "telemetry", "x": 1})
	h.transport.expectSilence(t, 50*time.Millisecond)

	// Still connectable afterwards.
	h.hello(t, nil, nil)
}

func TestSessionViewingForwardsTargetedRefresh(t *testing.T) {
	h := startSession(t, Config{UserID: 9})
	h.hello(t, nil, nil)

	h.transport.sendJSON(t, viewingMessage{Type: messageTypeViewing, Issue: "acme/widgets#12"})

	waitFor(t, time.Second, func() bool {
		_, ok := h.refresher.lastTargeted()
		return ok
	})
	call, _ := h.refresher.lastTargeted()
	if call.userID != 9 {
		t.Errorf("user = %d", call.userID)
	}
	want := IssueRef{Owner: "acme", Repo: "widgets", Number: 12}
	if call.ref != want {
		t.Errorf("ref = %+v, want %+v", call.ref, want)
	}
}

func TestSessionMalformedViewingIgnored(t *testing.T) {
	h := startSession(t, Config{})
	h.hello(t, nil, nil)

	h.transport.sendJSON(t, viewingMessage{Type: messageTypeViewing, Issue: "not-a-ref"})

	// Connection survives and further messages still work.
	h.transport.sendJSON(t, viewingMessage{Type: messageTypeViewing, Issue: "a/b#1"})
	waitFor(t, time.Second, func() bool {
		call, ok := h.refresher.lastTargeted()
		return ok && call.ref.Number == 1
	})
}

func TestSessionBusTriggerFiltering(t *testing.T) {
	h := startSession(t, Config{UserID: 9})
	h.hello(t, []delta.RepoVersion{{Repo: 42, Version: 1}}, []delta.OrgVersion{{Org: 5, Version: 1}})

	waitFor(t, time.Second, func() bool { return h.syncer.passes.Load() == 1 })

	// Irrelevant summary: untracked ids, different user.
	h.source.ch <- changebus.Notification{Urgent: true, Repos: []int64{999}, Users: []int64{1000}}
	time.Sleep(50 * time.Millisecond)
	if got := h.syncer.passes.Load(); got != 1 {
		t.Fatalf("passes = %d after irrelevant summary, want 1", got)
	}

	// Tracked repo id triggers a pass.
	h.source.ch <- changebus.Notification{Urgent: true, Repos: []int64{42}}
	waitFor(t, time.Second, func() bool { return h.syncer.passes.Load() == 2 })

	// Own user id triggers even with no tracked entities mentioned.
	h.source.ch <- changebus.Notification{Urgent: true, Users: []int64{9}}
	waitFor(t, time.Second, func() bool { return h.syncer.passes.Load() == 3 })
}

func TestSessionSequentialSyncPasses(t *testing.T) {
	h := startSession(t, Config{})
	h.syncer.hold = 50 * time.Millisecond
	h.hello(t, []delta.RepoVersion{{Repo: 1, Version: 1}}, nil)

	for i := 0; i < 5; i++ {
		h.source.ch <- changebus.Notification{Urgent: true, Repos: []int64{1}}
	}

	waitFor(t, 2*time.Second, func() bool { return h.syncer.passes.Load() >= 2 })
	time.Sleep(200 * time.Millisecond)

	if h.syncer.overlap.Load() {
		t.Error("delta passes overlapped")
	}
	// Queue-of-one: five back-to-back triggers collapse rather than running
	// five passes.
	if got := h.syncer.passes.Load(); got > 4 {
		t.Errorf("passes = %d, triggers must coalesce", got)
	}
}

func TestSessionReconcileTicker(t *testing.T) {
	h := startSession(t, Config{UserID: 3, ReconcileInterval: 20 * time.Millisecond})
	h.hello(t, nil, nil)

	waitFor(t, time.Second, func() bool { return h.refresher.forcedCount() >= 2 })
}

func waitFor(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
