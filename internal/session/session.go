// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/hubcast/hubcast/internal/changebus"
	"github.com/hubcast/hubcast/internal/delta"
	"github.com/hubcast/hubcast/internal/logging"
	"github.com/hubcast/hubcast/internal/metrics"
	"github.com/hubcast/hubcast/internal/models"
)

// State is the session lifecycle phase.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

// ErrProtocolViolation fails the connection: duplicate hello, or a known
// message arriving before hello.
var ErrProtocolViolation = errors.New("protocol violation")

// Transport is the framed message connection to one client.
type Transport interface {
	// ReadMessage blocks for the next inbound frame.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one outbound frame.
	WriteMessage(frame []byte) error
	Close() error
}

// Syncer runs one delta pass. Satisfied by *delta.Computer.
type Syncer interface {
	Sync(ctx context.Context, userID int64, vec *delta.VersionVector, emit delta.Emitter) error
}

// Refresher is the actor runtime the session prods for upstream refreshes.
type Refresher interface {
	// ForceRefresh schedules a full mirror refresh for the user.
	ForceRefresh(ctx context.Context, userID int64) error
	// RefreshIssue schedules a targeted refresh of one issue.
	RefreshIssue(ctx context.Context, userID int64, ref IssueRef) error
}

// Config carries the session collaborators and tuning.
type Config struct {
	UserID            int64
	PurgeID           string
	ReconcileInterval time.Duration
}

// Session is one client connection's sync state machine. All outbound writes
// and all delta passes are serialized; a trigger arriving during a pass
// queues exactly one follow-up pass.
type Session struct {
	transport Transport
	bus       *changebus.Bus
	syncer    Syncer
	refresher Refresher
	cfg       Config

	writeMu sync.Mutex

	// vecMu guards vec between the sync worker and bus relevance checks.
	vecMu sync.RWMutex
	vec   *delta.VersionVector

	stateMu sync.Mutex
	state   State

	// triggers is the queue-of-one for delta passes.
	triggers chan struct{}
}

// New builds a session over an established transport.
func New(transport Transport, bus *changebus.Bus, syncer Syncer, refresher Refresher, cfg Config) *Session {
	return &Session{
		transport: transport,
		bus:       bus,
		syncer:    syncer,
		refresher: refresher,
		cfg:       cfg,
		state:     StateConnecting,
		triggers:  make(chan struct{}, 1),
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Run drives the session until the transport closes, the context ends, or a
// protocol violation occurs. It always leaves the session Closed.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.close()

	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	for {
		frame, err := s.transport.ReadMessage()
		if err != nil {
			// Transport close is the normal end of a session.
			return nil
		}

		payload, err := DecodeFrame(frame)
		if err != nil {
			logging.Warn().Err(err).Int64("user_id", s.cfg.UserID).Msg("malformed frame")
			continue
		}

		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			logging.Warn().Err(err).Int64("user_id", s.cfg.UserID).Msg("malformed message envelope")
			continue
		}
		metrics.SessionMessagesTotal.WithLabelValues("in", env.Type).Inc()

		switch env.Type {
		case messageTypeHello:
			if err := s.handleHello(ctx, payload); err != nil {
				return err
			}

		case messageTypeViewing:
			if s.State() != StateActive {
				metrics.ProtocolViolationsTotal.Inc()
				return fmt.Errorf("%w: %s before hello", ErrProtocolViolation, env.Type)
			}
			s.handleViewing(ctx, payload)

		default:
			// Unrecognized discriminators are ignored for forward
			// compatibility, in any state.
		}
	}
}

// handleHello performs the handshake: validates the client string, replies
// with the purge identifier, builds the version vector, activates the
// session, and queues the initial delta pass.
func (s *Session) handleHello(ctx context.Context, payload []byte) error {
	if s.State() != StateConnecting {
		metrics.ProtocolViolationsTotal.Inc()
		return fmt.Errorf("%w: duplicate hello", ErrProtocolViolation)
	}

	var hello helloMessage
	if err := json.Unmarshal(payload, &hello); err != nil {
		logging.Warn().Err(err).Int64("user_id", s.cfg.UserID).Msg("malformed hello")
		return nil
	}
	if !validClient(hello.Client) {
		metrics.ProtocolViolationsTotal.Inc()
		// Close the connection rather than leave the client waiting in
		// Connecting for a reply that will never come.
		return fmt.Errorf("%w: bad client string %q", ErrProtocolViolation, hello.Client)
	}

	if err := s.send(helloReply{Type: messageTypeHelloReply, PurgeIdentifier: s.cfg.PurgeID}, messageTypeHelloReply); err != nil {
		return err
	}

	s.vecMu.Lock()
	s.vec = delta.VectorFromClient(hello.Versions.Repos, hello.Versions.Orgs, hello.Versions.Features)
	s.vecMu.Unlock()

	s.stateMu.Lock()
	s.state = StateActive
	s.stateMu.Unlock()

	go s.syncWorker(ctx)
	go s.watchBus(ctx)
	go s.reconcileLoop(ctx)

	// Newly connected clients always get a full diff from their stated
	// versions, even with zero external changes.
	s.requestSync()

	logging.Info().Int64("user_id", s.cfg.UserID).Str("client", hello.Client).Msg("session active")
	return nil
}

func (s *Session) handleViewing(ctx context.Context, payload []byte) {
	var msg viewingMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logging.Warn().Err(err).Int64("user_id", s.cfg.UserID).Msg("malformed viewing message")
		return
	}
	ref, err := parseIssueRef(msg.Issue)
	if err != nil {
		logging.Warn().Err(err).Int64("user_id", s.cfg.UserID).Msg("viewing message ignored")
		return
	}
	go func() {
		if err := s.refresher.RefreshIssue(ctx, s.cfg.UserID, ref); err != nil {
			logging.Warn().Err(err).Str("issue", msg.Issue).Msg("targeted refresh failed")
		}
	}()
}

// requestSync queues one delta pass. A pass already queued absorbs the
// request; a pass already running is followed by exactly one more.
func (s *Session) requestSync() {
	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

func (s *Session) syncWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.triggers:
		}

		s.vecMu.Lock()
		err := s.syncer.Sync(ctx, s.cfg.UserID, s.vec, s.emitSync)
		s.vecMu.Unlock()
		if err != nil && ctx.Err() == nil {
			// A failed pass never kills the session; the next trigger
			// or reconcile tick retries.
			logging.Error().Err(err).Int64("user_id", s.cfg.UserID).Msg("delta pass failed")
		}
	}
}

func (s *Session) emitSync(msg *delta.SyncMessage) error {
	return s.send(msg, delta.MessageTypeSync)
}

func (s *Session) watchBus(ctx context.Context) {
	summaries, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case summary, ok := <-summaries:
			if !ok {
				return
			}
			if s.relevant(summary) {
				s.requestSync()
			}
		}
	}
}

// relevant reports whether a summary intersects this session's tracked
// repositories/organizations or mentions its user.
func (s *Session) relevant(summary models.ChangeSummary) bool {
	if summary.HasUser(s.cfg.UserID) {
		return true
	}
	s.vecMu.RLock()
	defer s.vecMu.RUnlock()
	for id := range summary.RepoIDs {
		if s.vec.TracksRepo(id) {
			return true
		}
	}
	for id := range summary.OrgIDs {
		if s.vec.TracksOrg(id) {
			return true
		}
	}
	return false
}

// reconcileLoop is the backstop against missed bus notifications: at a fixed
// interval it asks the actor runtime to force-refresh this user regardless
// of bus activity.
func (s *Session) reconcileLoop(ctx context.Context) {
	interval := s.cfg.ReconcileInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.refresher.ForceRefresh(ctx, s.cfg.UserID); err != nil {
				logging.Warn().Err(err).Int64("user_id", s.cfg.UserID).Msg("reconcile refresh failed")
			}
		}
	}
}

func (s *Session) send(msg any, msgType string) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", msgType, err)
	}
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.transport.WriteMessage(frame); err != nil {
		return fmt.Errorf("write %s message: %w", msgType, err)
	}
	metrics.SessionMessagesTotal.WithLabelValues("out", msgType).Inc()
	return nil
}

func (s *Session) close() {
	s.stateMu.Lock()
	s.state = StateClosed
	s.stateMu.Unlock()
	_ = s.transport.Close()
}
