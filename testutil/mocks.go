// Package testutil holds shared fixtures: a fake Twitch API server and a
// Postgres-backed store for integration tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// HubCall is one recorded hub request body.
type HubCall struct {
	Callback     string `json:"hub.callback"`
	Mode         string `json:"hub.mode"`
	Topic        string `json:"hub.topic"`
	LeaseSeconds string `json:"hub.lease_seconds"`
}

// MockTwitchServer creates a test server that mocks Twitch Helix API responses
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	hubCalls []HubCall
	subs     []map[string]any
}

// NewMockTwitchServer creates a new mock Twitch API server. The token and hub
// endpoints are pre-registered; the hub records calls and maintains the
// subscription listing.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	m.MockOAuthTokenResponse("mock-token", 3600)
	m.Handle("/helix/webhooks/hub", m.handleHub)
	m.Handle("/helix/webhooks/subscriptions", m.handleSubscriptions)
	return m
}

// Handle registers a handler for path.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUsers adds a handler for /helix/users answering from logins (login -> id).
func (m *MockTwitchServer) MockUsers(logins map[string]string) {
	m.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		login := r.URL.Query().Get("login")
		data := []map[string]string{}
		if id, ok := logins[login]; ok {
			data = append(data, map[string]string{"id": id, "login": login, "display_name": strings.ToUpper(login[:1]) + login[1:]})
		}
		writeJSON(w, map[string]any{"data": data})
	})
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]any) {
	m.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": streams})
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	})
}

func (m *MockTwitchServer) handleHub(w http.ResponseWriter, r *http.Request) {
	var hc HubCall
	if err := json.NewDecoder(r.Body).Decode(&hc); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hubCalls = append(m.hubCalls, hc)
	kept := m.subs[:0]
	for _, s := range m.subs {
		if s["topic"] != hc.Topic {
			kept = append(kept, s)
		}
	}
	m.subs = kept
	if hc.Mode == "subscribe" {
		m.subs = append(m.subs, map[string]any{
			"topic":      hc.Topic,
			"callback":   hc.Callback,
			"expires_at": time.Now().Add(240 * time.Hour).UTC(),
		})
	}
	w.WriteHeader(http.StatusAccepted)
}

func (m *MockTwitchServer) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	data := append([]map[string]any{}, m.subs...)
	m.mu.Unlock()
	writeJSON(w, map[string]any{"data": data, "pagination": map[string]string{}})
}

// HubCalls returns the recorded hub requests.
func (m *MockTwitchServer) HubCalls() []HubCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HubCall(nil), m.hubCalls...)
}

// SetSubscriptions replaces the subscription listing.
func (m *MockTwitchServer) SetSubscriptions(subs []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = subs
}

// RewriteTransport rewrites all requests to use the test server
type RewriteTransport struct {
	Transport http.RoundTripper
	Host      string
}

func (t *RewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(strings.TrimPrefix(t.Host, "http://"), "https://")
	return t.Transport.RoundTrip(req)
}

// Client returns an http.Client that sends every request to the mock server.
func (m *MockTwitchServer) Client() *http.Client {
	return &http.Client{Transport: &RewriteTransport{Transport: http.DefaultTransport, Host: m.URL}}
}
