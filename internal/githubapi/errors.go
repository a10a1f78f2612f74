// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package githubapi

import (
	"fmt"
	"time"
)

// RateLimitError is returned when a fetch is refused before any network I/O
// because the credential's remaining quota is below the configured floor, or
// when a pagination fan-out would exceed the remaining quota.
type RateLimitError struct {
	Remaining int64
	Reset     time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exhausted: %d remaining, resets at %s",
		e.Remaining, e.Reset.UTC().Format(time.RFC3339))
}

// APIError is the structured error body the upstream API returns on non-2xx
// responses with a recognized content type.
type APIError struct {
	Status           int              `json:"-"`
	Message          string           `json:"message"`
	DocumentationURL string           `json:"documentation_url,omitempty"`
	Errors           []APIErrorDetail `json:"errors,omitempty"`
}

// APIErrorDetail is one field-level validation failure inside an APIError.
type APIErrorDetail struct {
	Resource string `json:"resource,omitempty"`
	Field    string `json:"field,omitempty"`
	Code     string `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream API error %d: %s", e.Status, e.Message)
}

// ProtocolError wraps a response whose body could not be interpreted: an error
// status with an unrecognized content type, or an undecodable success body.
// The raw body is carried for diagnosis.
type ProtocolError struct {
	Status      int
	ContentType string
	Body        []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected upstream response %d (%s): %d bytes", e.Status, e.ContentType, len(e.Body))
}
