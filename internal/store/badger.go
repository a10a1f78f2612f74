// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/hubcast/hubcast/internal/config"
	"github.com/hubcast/hubcast/internal/githubapi"
	"github.com/hubcast/hubcast/internal/logging"
)

const cacheKeyPrefix = "cache:"

// BadgerCache persists conditional-request metadata in BadgerDB so stored
// ETags survive restarts. It implements githubapi.CacheStore.
type BadgerCache struct {
	db *badger.DB
}

// OpenBadgerCache opens the badger directory from the cache configuration.
func OpenBadgerCache(cfg config.CacheConfig) (*BadgerCache, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache at %s: %w", cfg.Path, err)
	}
	logging.Info().Str("path", cfg.Path).Msg("http cache opened")
	return &BadgerCache{db: db}, nil
}

// NewBadgerCache wraps an already-open database.
func NewBadgerCache(db *badger.DB) *BadgerCache {
	return &BadgerCache{db: db}
}

func cacheKey(credential, key string) []byte {
	return []byte(cacheKeyPrefix + credential + "|" + key)
}

// Lookup returns the stored metadata for a (credential, resource) pair.
func (c *BadgerCache) Lookup(credential, key string) (*githubapi.CacheMetadata, bool) {
	var meta githubapi.CacheMetadata

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(credential, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false
	}
	if err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("cache metadata read failed")
		return nil, false
	}
	return &meta, true
}

// Store upserts metadata under its (credential, resource) pair.
func (c *BadgerCache) Store(meta *githubapi.CacheMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal cache metadata: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(meta.Credential, meta.Key), data)
	})
}

// Close flushes and closes the underlying database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}
