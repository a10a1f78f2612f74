// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package supervisor

import (
	"context"

	"github.com/hubcast/hubcast/internal/changebus"
	"github.com/hubcast/hubcast/internal/config"
	"github.com/hubcast/hubcast/internal/logging"
)

// BrokerService runs the embedded NATS server under the supervisor. The
// server is created inside Serve so a restart after a crash starts a fresh
// broker rather than reusing a shut-down one.
type BrokerService struct {
	cfg config.NATSConfig
}

// NewBrokerService wraps the embedded broker configuration as a
// suture.Service.
func NewBrokerService(cfg config.NATSConfig) *BrokerService {
	return &BrokerService{cfg: cfg}
}

// Serve starts the broker and blocks until the context ends.
func (s *BrokerService) Serve(ctx context.Context) error {
	broker, err := changebus.NewEmbeddedServer(s.cfg)
	if err != nil {
		return err
	}
	logging.Info().Str("url", broker.ClientURL()).Msg("embedded NATS broker running")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultTreeConfig().ShutdownTimeout)
	defer cancel()
	if err := broker.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("embedded NATS broker shutdown incomplete")
	}
	return ctx.Err()
}

func (s *BrokerService) String() string {
	return "nats-broker"
}
