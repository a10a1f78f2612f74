// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance; validator.Validate caches struct
// metadata and is safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags plus the cross-field constraints the tags cannot
// express. It returns the first violation found.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if cfg.GitHub.RetryBaseDelay <= 0 {
		return fmt.Errorf("config validation: github.retry_base_delay must be positive, got %v", cfg.GitHub.RetryBaseDelay)
	}
	if cfg.Sync.CoalesceWindow < 100*time.Millisecond {
		return fmt.Errorf("config validation: sync.coalesce_window must be at least 100ms, got %v", cfg.Sync.CoalesceWindow)
	}
	if cfg.Sync.ReconcileInterval < time.Second {
		return fmt.Errorf("config validation: sync.reconcile_interval must be at least 1s, got %v", cfg.Sync.ReconcileInterval)
	}
	if cfg.Database.MaxIdleConns > cfg.Database.MaxOpenConns {
		return fmt.Errorf("config validation: database.max_idle_conns (%d) exceeds max_open_conns (%d)",
			cfg.Database.MaxIdleConns, cfg.Database.MaxOpenConns)
	}
	if cfg.NATS.EmbeddedServer && cfg.NATS.StoreDir == "" {
		return fmt.Errorf("config validation: nats.store_dir is required when nats.embedded_server is enabled")
	}
	return nil
}
