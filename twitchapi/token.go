package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultTokenURL is the Twitch OAuth token endpoint.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// AuthError reports a failed client-credentials exchange.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "twitch authorization failed: " + e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

// TokenSource holds a Twitch app access (client credentials) token.
// No expiry is tracked; the token is replaced whenever a Helix call reports an
// authorization failure (see HelixClient.Call).
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	// TokenURL overrides DefaultTokenURL (tests).
	TokenURL string

	mu    sync.RWMutex
	token string
	group singleflight.Group
}

// Token returns the held token, which may be empty.
func (ts *TokenSource) Token() string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.token
}

// SetToken replaces the held token without an exchange.
func (ts *TokenSource) SetToken(tok string) {
	ts.mu.Lock()
	ts.token = tok
	ts.mu.Unlock()
}

// Get returns the held token, authorizing first when none is held yet.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	if tok := ts.Token(); tok != "" {
		return tok, nil
	}
	return ts.Authorize(ctx)
}

// Authorize performs a client-credentials exchange and replaces the held token.
// Concurrent callers share a single exchange.
func (ts *TokenSource) Authorize(ctx context.Context) (string, error) {
	v, err, _ := ts.group.Do("authorize", func() (any, error) {
		return ts.exchange(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (ts *TokenSource) exchange(ctx context.Context) (string, error) {
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", &AuthError{Err: errors.New("missing client id/secret for twitch app token")}
	}
	endpoint := ts.TokenURL
	if endpoint == "" {
		endpoint = DefaultTokenURL
	}
	q := url.Values{}
	q.Set("client_id", ts.ClientID)
	q.Set("client_secret", ts.ClientSecret)
	q.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	resp, err := ts.client().Do(req)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &AuthError{Err: fmt.Errorf("token request failed: %s: %s", resp.Status, string(b))}
	}
	var at struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&at); err != nil {
		return "", &AuthError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if at.AccessToken == "" {
		return "", &AuthError{Err: errors.New("empty access_token in twitch response")}
	}
	ts.SetToken(at.AccessToken)
	slog.Debug("twitch app token acquired", slog.Int("expires_in", at.ExpiresIn))
	return at.AccessToken, nil
}

func (ts *TokenSource) client() *http.Client {
	if ts.HTTPClient != nil {
		return ts.HTTPClient
	}
	return defaultHTTPClient
}
