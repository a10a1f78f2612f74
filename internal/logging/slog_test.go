// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestSlogLoggerWritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(Config{})

	logger := NewSlogLogger()
	logger.Info("service started", "name", "nats-broker", "attempts", int64(3))

	out := buf.String()
	if !strings.Contains(out, `"message":"service started"`) {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, `"name":"nats-broker"`) {
		t.Errorf("expected string attr in output, got %q", out)
	}
	if !strings.Contains(out, `"attempts":3`) {
		t.Errorf("expected int attr in output, got %q", out)
	}
	if !strings.Contains(out, `"level":"info"`) {
		t.Errorf("expected info level in output, got %q", out)
	}
}

func TestSlogLoggerGroupsPrefixKeys(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(Config{})

	logger := NewSlogLogger().WithGroup("supervisor").With("layer", "api")
	logger.Warn("restarting", "backoff", 15*time.Second)

	out := buf.String()
	if !strings.Contains(out, `"supervisor.layer":"api"`) {
		t.Errorf("expected grouped attr in output, got %q", out)
	}
	if !strings.Contains(out, `"supervisor.backoff":15000`) {
		t.Errorf("expected grouped duration attr in output, got %q", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn level in output, got %q", out)
	}
}

func TestSlogLoggerHonorsGlobalLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "error", Format: "json", Output: &buf})
	defer Init(Config{})

	logger := NewSlogLogger()
	logger.Debug("hidden")
	logger.Info("also hidden")

	if buf.Len() != 0 {
		t.Errorf("expected no output below error level, got %q", buf.String())
	}

	logger.Error("surfaced")
	if !strings.Contains(buf.String(), "surfaced") {
		t.Errorf("expected error-level output, got %q", buf.String())
	}
}
