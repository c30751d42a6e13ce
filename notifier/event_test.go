package notifier

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	link := http.Header{}
	link.Add("Link", `<https://api.twitch.tv/helix/webhooks/hub>; rel="hub", <https://api.twitch.tv/helix/streams?user_id=5678>; rel="self"`)

	tests := []struct {
		name   string
		query  url.Values
		header http.Header
		body   string
		want   string
		check  func(t *testing.T, ev Event)
	}{
		{
			name:  "challenge",
			query: url.Values{"hub.challenge": {"abc123"}, "hub.mode": {"subscribe"}},
			want:  "challenge",
			check: func(t *testing.T, ev Event) { assert.Equal(t, "abc123", ev.(Challenge).Value) },
		},
		{
			name:  "denied",
			query: url.Values{"hub.mode": {"denied"}, "hub.topic": {"https://api.twitch.tv/helix/streams?user_id=1"}, "hub.reason": {"unauthorized"}},
			want:  "denied",
			check: func(t *testing.T, ev Event) { assert.Equal(t, "unauthorized", ev.(Denied).Reason) },
		},
		{
			name: "empty body without challenge",
			body: "  ",
			want: "malformed",
		},
		{
			name:   "offline",
			header: link,
			body:   `{"data": []}`,
			want:   "ended",
			check:  func(t *testing.T, ev Event) { assert.Equal(t, "5678", ev.(Ended).RemoteID) },
		},
		{
			name: "offline without link",
			body: `{"data": []}`,
			want: "malformed",
		},
		{
			name: "live",
			body: `{"data": [{"id": "9", "user_id": "5678", "user_login": "alice", "user_name": "Alice", "title": "hello", "started_at": "2026-03-01T12:00:00Z"}]}`,
			want: "started",
			check: func(t *testing.T, ev Event) {
				st := ev.(Started).Stream
				assert.Equal(t, "5678", st.UserID)
				assert.Equal(t, "hello", st.Title)
				assert.Equal(t, 2026, st.StartedAt.Year())
			},
		},
		{
			name: "live without user id",
			body: `{"data": [{"title": "x"}]}`,
			want: "malformed",
		},
		{
			name: "no data field",
			body: `{"foo": 1}`,
			want: "malformed",
		},
		{
			name: "invalid json",
			body: `{"data": [`,
			want: "malformed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := tt.header
			if header == nil {
				header = http.Header{}
			}
			ev := DecodeEvent(tt.query, header, []byte(tt.body))
			require.Equal(t, tt.want, ev.Kind())
			if tt.check != nil {
				tt.check(t, ev)
			}
			if m, ok := ev.(Malformed); ok {
				assert.Error(t, m.Err)
			}
		})
	}
}
