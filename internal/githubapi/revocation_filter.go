// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package githubapi

import (
	"context"
	"net/http"

	"github.com/hubcast/hubcast/internal/metrics"
)

// RevocationCallback is invoked with the revoked credential's token so the
// caller can mark it invalid and stop scheduling work for it.
type RevocationCallback func(token string)

// RevocationFilter observes 401 responses and fires the revocation callback
// asynchronously. It never retries or alters the response.
type RevocationFilter struct {
	callback RevocationCallback
}

// NewRevocationFilter wraps a callback as a pipeline observer.
func NewRevocationFilter(callback RevocationCallback) *RevocationFilter {
	return &RevocationFilter{callback: callback}
}

// ObserveResponse fires the callback on 401 Unauthorized.
func (f *RevocationFilter) ObserveResponse(_ context.Context, cred Credential, _ *Request, meta ResponseMeta) {
	if meta.Status != http.StatusUnauthorized || f.callback == nil {
		return
	}
	metrics.CredentialRevocationsTotal.Inc()
	go f.callback(cred.Token)
}
