// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

// Package session implements the client-facing sync protocol: binary frame
// codec, hello handshake, and the per-connection state machine that turns
// change notifications into ordered sync messages.
package session

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// Frame flag bytes.
const (
	framePlain = 0x00
	frameGzip  = 0x01
)

// compressThreshold is the payload size above which outbound frames are
// gzip-compressed.
const compressThreshold = 1024

// maxFrameSize bounds decompressed inbound payloads.
const maxFrameSize = 4 * 1024 * 1024

// EncodeFrame wraps a JSON payload in the wire framing: one flag byte
// followed by the payload, gzip-compressed when large enough to benefit.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) < compressThreshold {
		out := make([]byte, 0, len(payload)+1)
		out = append(out, framePlain)
		return append(out, payload...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(frameGzip)
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("compress frame: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress frame: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame strips the framing from an inbound message and returns the
// JSON payload.
func DecodeFrame(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	flag, payload := frame[0], frame[1:]
	switch flag {
	case framePlain:
		return payload, nil

	case frameGzip:
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(io.LimitReader(zr, maxFrameSize))
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown frame flag 0x%02x", flag)
	}
}
