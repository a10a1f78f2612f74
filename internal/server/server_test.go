// Hubcast - GitHub Issue Mirroring and Incremental Sync
// Copyright 2026 Hubcast Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hubcast/hubcast

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/hubcast/hubcast/internal/changebus"
	"github.com/hubcast/hubcast/internal/config"
	"github.com/hubcast/hubcast/internal/delta"
	"github.com/hubcast/hubcast/internal/session"
)

type stubSource struct{}

func (stubSource) Subscribe(ctx context.Context) (<-chan changebus.Notification, error) {
	ch := make(chan changebus.Notification)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

type fakeSyncer struct{}

func (fakeSyncer) Sync(context.Context, int64, *delta.VersionVector, delta.Emitter) error {
	return nil
}

type fakeRefresher struct {
	mu     sync.Mutex
	users  []int64
	issues []session.IssueRef
}

func (f *fakeRefresher) ForceRefresh(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	return nil
}

func (f *fakeRefresher) RefreshIssue(_ context.Context, _ int64, ref session.IssueRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues = append(f.issues, ref)
	return nil
}

func newTestServer(t *testing.T, mutate func(*config.ServerConfig)) (*Server, *fakeRefresher) {
	t.Helper()

	cfg := config.ServerConfig{
		Host:        "127.0.0.1",
		Port:        0,
		CORSOrigins: []string{"*"},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	refresher := &fakeRefresher{}
	srv := New(cfg, config.SyncConfig{ReconcileInterval: time.Hour}, "purge-test", Deps{
		Bus:       changebus.NewBus(stubSource{}, 50*time.Millisecond),
		Syncer:    fakeSyncer{},
		Refresher: refresher,
	})
	return srv, refresher
}

func TestAuthenticateDevFallback(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/ws?user_id=42", nil)
	id, err := srv.authenticate(r)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id != 42 {
		t.Fatalf("user id = %d, want 42", id)
	}

	for _, q := range []string{"", "user_id=abc", "user_id=-1", "user_id=0"} {
		r := httptest.NewRequest(http.MethodGet, "/ws?"+q, nil)
		if _, err := srv.authenticate(r); err == nil {
			t.Errorf("query %q: expected auth failure", q)
		}
	}
}

func signToken(t *testing.T, secret string, userID int64, expires time.Time) string {
	t.Helper()
	claims := &wsClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAuthenticateJWT(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	srv, _ := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.JWTSecret = secret
	})

	valid := signToken(t, secret, 7, time.Now().Add(time.Hour))

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+valid)
		id, err := srv.authenticate(r)
		if err != nil {
			t.Fatalf("authenticate: %v", err)
		}
		if id != 7 {
			t.Fatalf("user id = %d, want 7", id)
		}
	})

	t.Run("cookie fallback", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.AddCookie(&http.Cookie{Name: tokenCookie, Value: valid})
		id, err := srv.authenticate(r)
		if err != nil {
			t.Fatalf("authenticate: %v", err)
		}
		if id != 7 {
			t.Fatalf("user id = %d, want 7", id)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if _, err := srv.authenticate(r); !errors.Is(err, errNoCredentials) {
			t.Fatalf("err = %v, want errNoCredentials", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		expired := signToken(t, secret, 7, time.Now().Add(-time.Hour))
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+expired)
		if _, err := srv.authenticate(r); !errors.Is(err, errInvalidCredentials) {
			t.Fatalf("err = %v, want errInvalidCredentials", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		forged := signToken(t, "another-secret-another-secret-ok", 7, time.Now().Add(time.Hour))
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+forged)
		if _, err := srv.authenticate(r); !errors.Is(err, errInvalidCredentials) {
			t.Fatalf("err = %v, want errInvalidCredentials", err)
		}
	})

	t.Run("missing user claim", func(t *testing.T) {
		anon := signToken(t, secret, 0, time.Now().Add(time.Hour))
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+anon)
		if _, err := srv.authenticate(r); !errors.Is(err, errInvalidCredentials) {
			t.Fatalf("err = %v, want errInvalidCredentials", err)
		}
	})
}

func TestCheckOrigin(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.ServerConfig) {
		cfg.CORSOrigins = []string{"https://app.example.com"}
	})

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"allowed origin", "https://app.example.com", true},
		{"other origin", "https://evil.example.com", false},
		{"missing origin", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := srv.checkOrigin(r); got != tt.want {
				t.Fatalf("checkOrigin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: status %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestReadyzReportsNotReady(t *testing.T) {
	cfg := config.ServerConfig{Host: "127.0.0.1", CORSOrigins: []string{"*"}}
	srv := New(cfg, config.SyncConfig{}, "purge-test", Deps{
		Bus:    changebus.NewBus(stubSource{}, 50*time.Millisecond),
		Syncer: fakeSyncer{},
		Ready: func(context.Context) error {
			return errors.New("database down")
		},
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestWSRejectsUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	header := http.Header{"Origin": []string{"http://client.test"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	return conn
}

// readPayload reads binary frames until one decodes, skipping control frames.
func readPayload(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read message: %v", err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		payload, err := session.DecodeFrame(data)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return payload
	}
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	frame, err := session.EncodeFrame(payload)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write message: %v", err)
	}
}

func TestWSHandshakeDeliversPurgeIdentifier(t *testing.T) {
	srv, refresher := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "/ws?user_id=7")
	defer conn.Close()

	sendMessage(t, conn, map[string]any{
		"type":   "hello",
		"client": "Hubcast 1.2.0 (341), macOS 14.1",
		"versions": map[string]any{
			"repos": []any{},
			"orgs":  []any{},
		},
	})

	payload := readPayload(t, conn)
	var reply struct {
		Type            string `json:"type"`
		PurgeIdentifier string `json:"purgeIdentifier"`
	}
	if err := json.Unmarshal(payload, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Type != "helloReply" {
		t.Fatalf("reply type = %q, want helloReply", reply.Type)
	}
	if reply.PurgeIdentifier != "purge-test" {
		t.Fatalf("purge identifier = %q, want purge-test", reply.PurgeIdentifier)
	}

	// Viewing an issue after the handshake schedules a targeted refresh.
	sendMessage(t, conn, map[string]any{
		"type":  "viewing",
		"issue": "acme/widgets#12",
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		refresher.mu.Lock()
		n := len(refresher.issues)
		refresher.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for issue refresh")
		}
		time.Sleep(5 * time.Millisecond)
	}

	refresher.mu.Lock()
	ref := refresher.issues[0]
	refresher.mu.Unlock()
	if ref.Owner != "acme" || ref.Repo != "widgets" || ref.Number != 12 {
		t.Fatalf("issue ref = %+v, want acme/widgets#12", ref)
	}
}

func TestServeShutsDownOnContextCancel(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	// Give the listener a moment to come up, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
