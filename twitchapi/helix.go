// Package twitchapi contains the Twitch Helix and webhook-hub client used by the
// notifier: app token handling, user lookup, channel search, live stream polling
// and push-hub subscription management.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/live-herald/telemetry"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// DefaultHTTPTimeout bounds each Helix, hub and token request made without an
// explicit HTTPClient.
const DefaultHTTPTimeout = 10 * time.Second

var defaultHTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}

// maxStreamIDs is the Helix limit of user_id parameters per streams request.
const maxStreamIDs = 100

// RequestBuilder builds a request carrying the given app token.
type RequestBuilder func(ctx context.Context, token string) (*http.Request, error)

// HelixClient talks to the Helix API with an app access token.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string
}

func (hc *HelixClient) client() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return defaultHTTPClient
}

func (hc *HelixClient) url(path string) string {
	base := hc.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimSuffix(base, "/") + path
}

// Call issues the request built from the current token. When the response is
// 401/402/403 and allowRetry is set, it authorizes once and repeats the request
// exactly once with allowRetry=false. Any other response is returned as-is and
// the caller owns its body.
func (hc *HelixClient) Call(ctx context.Context, build RequestBuilder, allowRetry bool) (*http.Response, error) {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	req, err := build(ctx, tok)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.client().Do(req)
	if err != nil {
		return nil, err
	}
	if !IsAuthFailure(resp.StatusCode) || !allowRetry {
		return resp, nil
	}
	drain(resp)
	slog.Info("twitch app token rejected, re-authorizing", slog.Int("status", resp.StatusCode), slog.String("path", req.URL.Path))
	telemetry.IncTwitchReauth()
	if _, err := hc.AppTokenSource.Authorize(ctx); err != nil {
		return nil, err
	}
	return hc.Call(ctx, build, false)
}

func (hc *HelixClient) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	resp, err := hc.Call(ctx, func(ctx context.Context, _ string) (*http.Request, error) {
		u := hc.url(path)
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}, true)
	if err != nil {
		return err
	}
	defer drain(resp)
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// User is a Helix user record.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// GetUser resolves a login name to its user record.
func (hc *HelixClient) GetUser(ctx context.Context, login string) (User, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" {
		return User{}, fmt.Errorf("login empty")
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.getJSON(ctx, "/users", url.Values{"login": {login}}, &body); err != nil {
		return User{}, err
	}
	if len(body.Data) == 0 {
		return User{}, fmt.Errorf("user %q: %w", login, ErrNotFound)
	}
	return body.Data[0], nil
}

// Channel is the best match of a channel search.
type Channel struct {
	ID          string `json:"id"`
	Login       string `json:"broadcaster_login"`
	DisplayName string `json:"display_name"`
	Title       string `json:"title"`
	GameName    string `json:"game_name"`
	IsLive      bool   `json:"is_live"`
}

// SearchChannel returns the first channel matching query.
func (hc *HelixClient) SearchChannel(ctx context.Context, query string) (Channel, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Channel{}, fmt.Errorf("query empty")
	}
	var body struct {
		Data []Channel `json:"data"`
	}
	if err := hc.getJSON(ctx, "/search/channels", url.Values{"query": {query}, "first": {"1"}}, &body); err != nil {
		return Channel{}, err
	}
	if len(body.Data) == 0 {
		return Channel{}, fmt.Errorf("channel search %q: %w", query, ErrNotFound)
	}
	return body.Data[0], nil
}

// Stream is a live stream as returned by helix/streams and pushed by the hub.
type Stream struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	GameName     string    `json:"game_name"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	ThumbnailURL string    `json:"thumbnail_url"`
}

// GetStreams returns the live streams among userIDs, batching per Helix limits.
func (hc *HelixClient) GetStreams(ctx context.Context, userIDs []string) ([]Stream, error) {
	var out []Stream
	for start := 0; start < len(userIDs); start += maxStreamIDs {
		end := min(start+maxStreamIDs, len(userIDs))
		q := url.Values{"first": {strconv.Itoa(maxStreamIDs)}}
		for _, id := range userIDs[start:end] {
			q.Add("user_id", id)
		}
		var body struct {
			Data []Stream `json:"data"`
		}
		if err := hc.getJSON(ctx, "/streams", q, &body); err != nil {
			return nil, err
		}
		out = append(out, body.Data...)
	}
	return out, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
