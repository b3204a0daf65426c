package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTokenServer(t *testing.T, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		if r.Method != http.MethodPost {
			t.Errorf("token request method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token-" + string(rune('0'+*calls)),
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
}

func TestTokenSource_GetCached(t *testing.T) {
	calls := 0
	server := newTokenServer(t, &calls)
	defer server.Close()

	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: server.URL}
	ctx := context.Background()

	token1, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token1 != "test-token-1" {
		t.Errorf("Get() = %s, want test-token-1", token1)
	}
	if calls != 1 {
		t.Errorf("expected 1 token call, got %d", calls)
	}

	// Second call should use cached token
	token2, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token2 != token1 {
		t.Errorf("cached token = %s, want %s", token2, token1)
	}
	if calls != 1 {
		t.Errorf("expected still 1 token call (cached), got %d", calls)
	}
}

func TestTokenSource_Invalidate(t *testing.T) {
	calls := 0
	server := newTokenServer(t, &calls)
	defer server.Close()

	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: server.URL}
	ctx := context.Background()

	token1, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	ts.Invalidate(token1)
	token2, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() after invalidate error = %v", err)
	}
	if token2 == token1 {
		t.Errorf("token after invalidate = %s, want a fresh one", token2)
	}
	if calls != 2 {
		t.Errorf("expected 2 token calls, got %d", calls)
	}
}

func TestTokenSource_InvalidateStaleNoop(t *testing.T) {
	ts := &TokenSource{ClientID: "c", ClientSecret: "s"}
	ts.token = "current"
	ts.expiresAt = time.Now().Add(time.Hour)

	// A stale value from before a concurrent refresh must not clobber the
	// fresh token.
	ts.Invalidate("older-token")
	if ts.token != "current" {
		t.Errorf("token = %q, want current", ts.token)
	}

	ts.Invalidate("current")
	if ts.token != "" {
		t.Errorf("token = %q, want cleared", ts.token)
	}
}

func TestTokenSource_MissingCredentials(t *testing.T) {
	ts := &TokenSource{}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Fatal("Get() with no credentials error = nil, want error")
	}
}
