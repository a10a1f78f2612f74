// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

// Package server exposes the sync websocket and the operational HTTP
// endpoints behind a chi router.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/hubcast/hubcast/internal/changebus"
	"github.com/hubcast/hubcast/internal/config"
	"github.com/hubcast/hubcast/internal/logging"
	"github.com/hubcast/hubcast/internal/session"
)

// shutdownTimeout bounds the graceful drain after the serve context ends.
const shutdownTimeout = 10 * time.Second

// Deps are the collaborators every sync session needs.
type Deps struct {
	Bus       *changebus.Bus
	Syncer    session.Syncer
	Refresher session.Refresher

	// Ready is polled by /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Server is the HTTP/websocket listener. It implements suture.Service.
type Server struct {
	cfg     config.ServerConfig
	syncCfg config.SyncConfig
	purgeID string

	bus       *changebus.Bus
	syncer    session.Syncer
	refresher session.Refresher
	ready     func(ctx context.Context) error

	httpSrv *http.Server
}

// New builds the listener. purgeID identifies this mirror generation and is
// handed to clients so they can detect a wiped store.
func New(cfg config.ServerConfig, syncCfg config.SyncConfig, purgeID string, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		syncCfg:   syncCfg,
		purgeID:   purgeID,
		bus:       deps.Bus,
		syncer:    deps.Syncer,
		refresher: deps.Refresher,
		ready:     deps.Ready,
	}
	s.httpSrv = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the assembled router. Tests mount it on httptest servers.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Serve listens until ctx ends, then drains gracefully. It satisfies
// suture.Service so the supervisor can restart a crashed listener.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpSrv.Addr, err)
	}

	logging.Info().Str("addr", ln.Addr().String()).Msg("http server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http server shutdown incomplete")
			_ = s.httpSrv.Close()
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
