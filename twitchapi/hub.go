package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultLeaseSeconds is the hub lease requested on every subscribe (10 days).
const DefaultLeaseSeconds = 864000

// Hub modes.
const (
	ModeSubscribe   = "subscribe"
	ModeUnsubscribe = "unsubscribe"
)

// streamsTopicBase is the topic prefix for stream changed events.
const streamsTopicBase = "https://api.twitch.tv/helix/streams"

// HubRequest is the body of a hub (un)subscribe call.
type HubRequest struct {
	Callback     string `json:"hub.callback"`
	Mode         string `json:"hub.mode"`
	Topic        string `json:"hub.topic"`
	LeaseSeconds string `json:"hub.lease_seconds"`
}

// StreamsTopic returns the streams-by-user-id topic for userID.
func StreamsTopic(userID string) string {
	return streamsTopicBase + "?user_id=" + url.QueryEscape(userID)
}

// UserIDFromTopic extracts user_id from a streams topic, or "" when absent.
func UserIDFromTopic(topic string) string {
	u, err := url.Parse(topic)
	if err != nil {
		return ""
	}
	return u.Query().Get("user_id")
}

// PostHub sends a subscribe/unsubscribe request. Any 2xx is success.
func (hc *HelixClient) PostHub(ctx context.Context, hr HubRequest) error {
	body, err := json.Marshal(hr)
	if err != nil {
		return err
	}
	resp, err := hc.Call(ctx, func(ctx context.Context, _ string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, hc.url("/webhooks/hub"), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, true)
	if err != nil {
		return err
	}
	defer drain(resp)
	return checkStatus(resp)
}

// WebhookSubscription is one entry of the hub subscription listing.
type WebhookSubscription struct {
	Topic     string    `json:"topic"`
	Callback  string    `json:"callback"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserID is the user id of a streams topic subscription.
func (ws WebhookSubscription) UserID() string { return UserIDFromTopic(ws.Topic) }

// ListWebhookSubscriptions returns one page of subscriptions and the next cursor.
func (hc *HelixClient) ListWebhookSubscriptions(ctx context.Context, after string, first int) ([]WebhookSubscription, string, error) {
	if first <= 0 || first > 100 {
		first = 100
	}
	q := url.Values{"first": {strconv.Itoa(first)}}
	if after != "" {
		q.Set("after", after)
	}
	var body struct {
		Data       []WebhookSubscription `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := hc.getJSON(ctx, "/webhooks/subscriptions", q, &body); err != nil {
		return nil, "", err
	}
	return body.Data, body.Pagination.Cursor, nil
}

// Hub manages stream subscriptions for a single callback URL.
type Hub struct {
	Client       *HelixClient
	Callback     string
	LeaseSeconds int
}

func (h *Hub) send(ctx context.Context, mode, userID string) error {
	lease := h.LeaseSeconds
	if lease <= 0 {
		lease = DefaultLeaseSeconds
	}
	err := h.Client.PostHub(ctx, HubRequest{
		Callback:     h.Callback,
		Mode:         mode,
		Topic:        StreamsTopic(userID),
		LeaseSeconds: strconv.Itoa(lease),
	})
	if err != nil {
		return fmt.Errorf("hub %s %s: %w", mode, userID, err)
	}
	slog.Debug("hub request accepted", slog.String("mode", mode), slog.String("user_id", userID))
	return nil
}

// Subscribe requests (or renews) the streams subscription for userID.
func (h *Hub) Subscribe(ctx context.Context, userID string) error {
	return h.send(ctx, ModeSubscribe, userID)
}

// Unsubscribe cancels the streams subscription for userID.
func (h *Hub) Unsubscribe(ctx context.Context, userID string) error {
	return h.send(ctx, ModeUnsubscribe, userID)
}

// Subscriptions pages through the full subscription listing.
func (h *Hub) Subscriptions(ctx context.Context) ([]WebhookSubscription, error) {
	var all []WebhookSubscription
	after := ""
	for {
		page, cursor, err := h.Client.ListWebhookSubscriptions(ctx, after, 100)
		if err != nil {
			return nil, fmt.Errorf("list hub subscriptions: %w", err)
		}
		all = append(all, page...)
		if cursor == "" || cursor == after {
			return all, nil
		}
		after = cursor
	}
}
