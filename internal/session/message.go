// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package session

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/hubcast/hubcast/internal/delta"
)

// Inbound message discriminators. Unrecognized discriminators are ignored
// for forward compatibility.
const (
	messageTypeHello   = "hello"
	messageTypeViewing = "viewing"
)

// envelope is the minimal inbound decode used to pick the message type.
type envelope struct {
	Type string `json:"type"`
}

// helloMessage announces the client build and its known versions.
type helloMessage struct {
	Type     string `json:"type"`
	Client   string `json:"client"`
	Versions struct {
		Repos    []delta.RepoVersion `json:"repos"`
		Orgs     []delta.OrgVersion  `json:"orgs"`
		Features map[string]int64    `json:"features"`
	} `json:"versions"`
}

// helloReply carries the server purge identifier, sent once before any sync
// data. A changed identifier tells the client to discard its local mirror.
type helloReply struct {
	Type            string `json:"type"`
	PurgeIdentifier string `json:"purgeIdentifier"`
}

const messageTypeHelloReply = "helloReply"

// viewingMessage reports the issue the user is currently looking at.
type viewingMessage struct {
	Type  string `json:"type"`
	Issue string `json:"issue"`
}

// clientPattern is the strict hello client format:
// "<product> <marketing-version> (<build>), <OS> <OS-version>".
var clientPattern = regexp.MustCompile(
	`^[A-Za-z][\w.-]* \d+(?:\.\d+)*(?:[\w.-]*)? \([^()]+\), [A-Za-z][\w.-]* [\w.-]+$`)

// validClient reports whether the hello client string matches the required
// format.
func validClient(client string) bool {
	return clientPattern.MatchString(client)
}

// issuePattern matches "owner/repo#number" viewing references.
var issuePattern = regexp.MustCompile(`^([\w.-]+)/([\w.-]+)#(\d+)$`)

// IssueRef is a parsed viewing reference.
type IssueRef struct {
	Owner  string
	Repo   string
	Number int
}

// FullName returns the repository full name ("owner/repo").
func (r IssueRef) FullName() string {
	return r.Owner + "/" + r.Repo
}

// parseIssueRef parses an "owner/repo#number" reference.
func parseIssueRef(s string) (IssueRef, error) {
	m := issuePattern.FindStringSubmatch(s)
	if m == nil {
		return IssueRef{}, fmt.Errorf("malformed issue reference %q", s)
	}
	n, err := strconv.Atoi(m[3])
	if err != nil || n <= 0 {
		return IssueRef{}, fmt.Errorf("malformed issue number in %q", s)
	}
	return IssueRef{Owner: m[1], Repo: m[2], Number: n}, nil
}
