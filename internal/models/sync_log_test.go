// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package models

import "testing"

func TestNewDeleteEntryLegality(t *testing.T) {
	tests := []struct {
		entity string
		legal  bool
	}{
		{EntityComment, true},
		{EntityLabel, true},
		{EntityMilestone, true},
		{EntityOrganization, true},
		{EntityProject, true},
		{EntityPRComment, true},
		{EntityReaction, true},
		{EntityRepository, true},
		{EntityReview, true},
		{EntityAccount, false},
		{EntityEvent, false},
		{EntityIssue, false},
		{"unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.entity, func(t *testing.T) {
			entry, err := NewDeleteEntry(tt.entity, 7)
			if tt.legal {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if entry.Action != ActionDelete || entry.Entity != tt.entity {
					t.Errorf("entry = %+v", entry)
				}
				if id, ok := entry.Data.(int64); !ok || id != 7 {
					t.Errorf("data = %#v, want id 7", entry.Data)
				}
				return
			}
			if err == nil {
				t.Fatalf("delete for %q must fail", tt.entity)
			}
		})
	}
}

func TestNewSetEntry(t *testing.T) {
	issue := Issue{ID: 1, Number: 42, Title: "x"}
	entry := NewSetEntry(EntityIssue, issue)
	if entry.Action != ActionSet || entry.Entity != EntityIssue {
		t.Errorf("entry = %+v", entry)
	}
}
