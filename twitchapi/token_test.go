package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSource_AuthorizeSendsQueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/oauth2/token", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "test-client", q.Get("client_id"))
		assert.Equal(t, "test-secret", q.Get("client_secret"))
		assert.Equal(t, "client_credentials", q.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "test-token-123", "expires_in": 3600})
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", HTTPClient: rewriteClient(server.URL)}

	tok, err := ts.Authorize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-token-123", tok)
	assert.Equal(t, "test-token-123", ts.Token())
}

func TestTokenSource_GetUsesHeldToken(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh"})
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "c", ClientSecret: "s", HTTPClient: rewriteClient(server.URL)}

	tok, err := ts.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)

	tok, err = ts.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.EqualValues(t, 1, calls.Load(), "held token must be reused")
}

func TestTokenSource_MissingCredentials(t *testing.T) {
	ts := &TokenSource{}

	_, err := ts.Authorize(context.Background())
	require.Error(t, err)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, err.Error(), "missing client id/secret")
}

func TestTokenSource_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "bad", ClientSecret: "bad", HTTPClient: rewriteClient(server.URL)}
	ts.SetToken("previous")

	_, err := ts.Authorize(context.Background())
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "previous", ts.Token(), "failed exchange must not clobber the held token")
}

func TestTokenSource_EmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": ""})
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "c", ClientSecret: "s", HTTPClient: rewriteClient(server.URL)}

	_, err := ts.Authorize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty access_token")
}

func TestTokenSource_ConcurrentAuthorizeSharesExchange(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "shared"})
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "c", ClientSecret: "s", HTTPClient: rewriteClient(server.URL)}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := ts.Authorize(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "shared", tok)
		}()
	}
	wg.Wait()

	// Stragglers that arrive after the first exchange finished may start a second one.
	assert.LessOrEqual(t, calls.Load(), int32(2))
}
