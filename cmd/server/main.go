// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

// Package main is the Hubcast server entry point.
//
// Hubcast mirrors GitHub repositories, issues and organizations into
// PostgreSQL and streams incremental updates to connected clients over a
// framed websocket protocol. Startup proceeds in order:
//
//  1. Configuration: Koanf v2 layered load (defaults, config.yaml, env)
//  2. Logging: zerolog global logger
//  3. Storage: PostgreSQL mirror/changelog plus BadgerDB request cache
//  4. Fetch pipeline: GitHub API client with conditional-request caching
//  5. Change bus: NATS-backed summary fan-out (embedded broker optional)
//  6. Refresh machinery: per-user actor runtime behind a circuit breaker
//  7. Supervisor tree: broker and HTTP listener under suture v4
//
// The upstream credential comes from GITHUB_TOKEN. SIGINT and SIGTERM drain
// the tree gracefully.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/hubcast/hubcast/internal/actor"
	"github.com/hubcast/hubcast/internal/changebus"
	"github.com/hubcast/hubcast/internal/config"
	"github.com/hubcast/hubcast/internal/delta"
	"github.com/hubcast/hubcast/internal/githubapi"
	"github.com/hubcast/hubcast/internal/logging"
	"github.com/hubcast/hubcast/internal/mirror"
	"github.com/hubcast/hubcast/internal/server"
	"github.com/hubcast/hubcast/internal/store"
	"github.com/hubcast/hubcast/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.Info().
		Str("github_url", cfg.GitHub.BaseURL).
		Str("nats_url", cfg.NATS.URL).
		Bool("nats_embedded", cfg.NATS.EmbeddedServer).
		Msg("configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage.
	db, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing database")
		}
	}()
	if err := db.EnsureSchema(ctx); err != nil {
		logging.Fatal().Err(err).Msg("failed to apply schema")
	}

	purgeID, err := db.PurgeID(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to resolve purge identifier")
	}

	cache, err := store.OpenBadgerCache(cfg.Cache)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open request cache")
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing request cache")
		}
	}()

	// Fetch pipeline. The revocation filter only logs; token rotation is an
	// operational action, not something the server can do on its own.
	api := githubapi.NewClient(cfg.GitHub, nil)
	cacheFilter := githubapi.NewConditionalCacheFilter(cache, cfg.GitHub.BaseURL)
	api.Use(cacheFilter)
	api.Observe(cacheFilter)
	api.Observe(githubapi.NewRevocationFilter(func(string) {
		logging.Error().Msg("upstream credential revoked, refreshes will fail until rotated")
	}))

	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		logging.Warn().Msg("GITHUB_TOKEN is empty, upstream refreshes will be rejected")
	}

	// Change bus.
	publisher, err := changebus.NewPublisher(cfg.NATS, nil)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect change publisher")
	}
	defer publisher.Close()

	source, err := changebus.NewNATSSource(cfg.NATS, nil)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect change source")
	}
	defer source.Close()
	bus := changebus.NewBus(source, cfg.Sync.CoalesceWindow)

	// Refresh machinery.
	runtime := actor.New(actor.Options{
		Pace:    rate.Every(cfg.Sync.RefreshInterval),
		Burst:   cfg.Sync.RefreshBurst,
		IdleTTL: cfg.Sync.WorkerIdleTTL,
	})
	defer runtime.Close()

	mirrorer := mirror.New(api, mirror.StaticCredential{Token: token}, store.NewEntityStore(db), publisher)
	scheduler := mirror.NewScheduler(runtime, mirrorer)
	computer := delta.NewComputer(store.NewChangelog(db), cfg.Sync)

	// Supervisor tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if cfg.NATS.EmbeddedServer {
		tree.AddMessagingService(supervisor.NewBrokerService(cfg.NATS))
	}
	tree.AddAPIService(server.New(cfg.Server, cfg.Sync, purgeID, server.Deps{
		Bus:       bus,
		Syncer:    computer,
		Refresher: scheduler,
		Ready:     db.PingContext,
	}))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("starting supervisor tree")
	errCh := tree.Root().ServeBackground(ctx)

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor error")
		}
	}
	logging.Info().Msg("server stopped")
}
