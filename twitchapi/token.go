// Package twitchapi contains helpers to interact with Twitch Helix APIs for
// user id resolution, broadcast schedules, category metadata, and archived
// VODs, using an app access token.
package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const defaultTokenURL = "https://id.twitch.tv/oauth2/token"

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// The cached token is shared between all reconciliation runs; only one caller
// refreshes at a time.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string // defaults to the Twitch id endpoint
	HTTPClient   *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second { // 1 min buffer
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.refresh(ctx)
}

// Invalidate drops the cached token if it still matches stale. Callers hit
// this after a 401 so the next Get performs a fresh exchange; the match guard
// keeps a concurrent refresh from being thrown away.
func (ts *TokenSource) Invalidate(stale string) {
	ts.mu.Lock()
	if ts.token == stale {
		ts.token = ""
		ts.expiresAt = time.Time{}
	}
	ts.mu.Unlock()
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	tokenURL := ts.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	cc := clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if ts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.HTTPClient)
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	ts.token = tok.AccessToken
	ts.expiresAt = tok.Expiry
	if ts.expiresAt.IsZero() {
		ts.expiresAt = time.Now().Add(60 * time.Minute)
	}
	return ts.token, nil
}
