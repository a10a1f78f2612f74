// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file locations searched in order of
// priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/hubcast/config.yaml",
	"/etc/hubcast/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from layered sources:
//  1. defaults from defaultConfig()
//  2. optional YAML config file
//  3. environment variables (highest priority)
//
// The result is validated before being returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// findConfigFile returns the first existing config file path, honoring the
// CONFIG_PATH override.
func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// HUBCAST_-prefixed variables map mechanically (HUBCAST_SERVER_PORT ->
// server.port); a handful of conventional names map explicitly.
func envTransformFunc(key string) string {
	lower := strings.ToLower(key)

	explicit := map[string]string{
		"github_api_url":       "github.base_url",
		"github_page_size":     "github.page_size",
		"nats_url":             "nats.url",
		"nats_subject":         "nats.subject",
		"nats_embedded":        "nats.embedded_server",
		"database_dsn":         "database.dsn",
		"cache_path":           "cache.path",
		"log_level":            "logging.level",
		"log_format":           "logging.format",
		"jwt_secret":           "server.jwt_secret",
		"http_port":            "server.port",
		"http_host":            "server.host",
		"sync_page_size":       "sync.page_size",
		"sync_coalesce_window": "sync.coalesce_window",
	}
	if path, ok := explicit[lower]; ok {
		return path
	}

	if rest, ok := strings.CutPrefix(lower, "hubcast_"); ok {
		// First segment is the section, remainder is the key:
		// HUBCAST_GITHUB_RATE_LIMIT_FLOOR -> github.rate_limit_floor
		section, key, found := strings.Cut(rest, "_")
		if !found {
			return rest
		}
		return section + "." + key
	}

	// Unknown variables are ignored by returning an empty path.
	return ""
}
