package notifier

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/live-herald/testutil"
	"github.com/onnwee/live-herald/twitchapi"
)

type engineHarness struct {
	*Engine
	hub     *fakeHub
	dir     *fakeDirectory
	poster  *fakePoster
	streams *fakeStreams
	store   *memStore
	clock   *clockwork.FakeClock
}

func newEngineHarness(t *testing.T, logins ...string) *engineHarness {
	t.Helper()
	h := &engineHarness{
		hub:     &fakeHub{},
		dir:     newDirectory(logins...),
		poster:  newPoster(),
		streams: &fakeStreams{},
		store:   newMemStore(),
		clock:   clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	h.Engine = h.rebuild()
	return h
}

// rebuild returns a fresh engine over the same collaborators, as after a restart.
func (h *engineHarness) rebuild() *Engine {
	return New(Options{
		Hub:       h.hub,
		Directory: h.dir,
		Streams:   h.streams,
		Poster:    h.poster,
		Store:     h.store,
		Clock:     h.clock,
	})
}

func TestEngineLoadEmpty(t *testing.T) {
	h := newEngineHarness(t)
	require.NoError(t, h.Load(context.Background()))
	guilds, channels := h.Registry().Counts()
	assert.Zero(t, guilds)
	assert.Zero(t, channels)
}

func TestEngineLoadCorrupt(t *testing.T) {
	h := newEngineHarness(t)
	h.store.blobs[StateKey] = []byte("not json")
	assert.Error(t, h.Load(context.Background()))
}

func TestEnginePersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, "alice", "bob")

	assert.True(t, h.ToggleHere(ctx, "g1", "c1"))
	_, err := h.Follow(ctx, "g1", "alice")
	require.NoError(t, err)
	_, err = h.Follow(ctx, "g1", "bob")
	require.NoError(t, err)
	_, err = h.PublishDigest(ctx, "g1", "d1")
	require.NoError(t, err)
	on, err := h.ToggleDigestNotify(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, on)

	restarted := h.rebuild()
	require.NoError(t, restarted.Load(ctx))

	assert.Equal(t, h.Registry().Snapshot(), restarted.Registry().Snapshot())
	assert.Equal(t, []ChannelName{"alice", "bob"}, restarted.Followed("g1"))
}

func TestEngineSaveFailureDoesNotFailCommand(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, "alice")
	h.ToggleHere(ctx, "g1", "c1")
	h.store.err = errors.New("disk full")

	_, err := h.Follow(ctx, "g1", "alice")
	require.NoError(t, err)
	assert.Error(t, h.Save(ctx))
}

func TestEngineToggleFollow(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, "alice")
	h.ToggleHere(ctx, "g1", "c1")

	display, enabled, err := h.ToggleFollow(ctx, "g1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", display)
	assert.True(t, enabled)

	display, enabled, err = h.ToggleFollow(ctx, "g1", "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "Alice", display)
	assert.False(t, enabled)

	sub, unsub := h.hub.calls()
	assert.Len(t, sub, 1)
	assert.Len(t, unsub, 1)
}

func TestEngineUnfollowDetachesLiveState(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, "alice")
	h.ToggleHere(ctx, "g1", "c1")
	_, err := h.Follow(ctx, "g1", "alice")
	require.NoError(t, err)
	ref, err := h.PublishDigest(ctx, "g1", "d1")
	require.NoError(t, err)
	h.Reconciler().Handle(ctx, Started{Stream: twitchapi.Stream{UserID: h.dir.id("alice"), UserLogin: "alice", Title: "x"}})
	require.Len(t, h.Status().Live, 1)

	_, err = h.Unfollow(ctx, "g1", "alice")
	require.NoError(t, err)

	assert.Empty(t, h.Status().Live)
	msg, _ := h.poster.post(ref)
	assert.Equal(t, EmptyDigestText, msg.Embed.Description)

	_, err = h.Unfollow(ctx, "g1", "alice")
	assert.ErrorIs(t, err, ErrNotFollowing)
}

func TestEngineInfo(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, "alice")
	h.dir.search["alic"] = twitchapi.Channel{ID: "1000", Login: "Alice", DisplayName: "Alice", IsLive: true}
	h.ToggleHere(ctx, "g1", "c1")
	_, err := h.Follow(ctx, "g1", "alice")
	require.NoError(t, err)

	got, err := h.Info(ctx, "g1", "Alic")
	require.NoError(t, err)
	assert.Equal(t, ChannelLookup{
		Login:       "alice",
		DisplayName: "Alice",
		URL:         "https://twitch.tv/alice",
		Fuzzy:       true,
		Following:   true,
		Live:        true,
	}, got)

	got, err = h.Info(ctx, "g2", "alice")
	require.NoError(t, err)
	assert.False(t, got.Fuzzy)
	assert.False(t, got.Following)

	_, err = h.Info(ctx, "g1", "nobody")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestEngineHandleWebhook(t *testing.T) {
	h := newEngineHarness(t)
	resp := h.HandleWebhook(context.Background(), url.Values{"hub.challenge": {"abc123"}}, http.Header{}, nil)
	assert.Equal(t, "abc123", resp.Body)
}

func TestEngineRenewForgetsOrphans(t *testing.T) {
	ctx := context.Background()
	h := newEngineHarness(t, "alice", "bob")
	h.ToggleHere(ctx, "g1", "c1")
	for _, l := range []string{"alice", "bob"} {
		_, err := h.Follow(ctx, "g1", l)
		require.NoError(t, err)
	}
	h.Reconciler().Handle(ctx, Started{Stream: twitchapi.Stream{UserID: h.dir.id("alice"), UserLogin: "alice"}})
	h.hub.listing = []twitchapi.WebhookSubscription{listed(h.dir.id("bob"), h.clock.Now().Add(240*time.Hour))}

	res, err := h.Renew(ctx)
	require.NoError(t, err)
	require.Len(t, res.Orphans, 1)

	assert.Empty(t, h.Status().Live)
	restarted := h.rebuild()
	require.NoError(t, restarted.Load(ctx))
	assert.Equal(t, []ChannelName{"bob"}, restarted.Followed("g1"), "orphan removal is persisted")
}

func TestEngineRunRenewer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newEngineHarness(t, "alice")
	h.ToggleHere(ctx, "g1", "c1")
	_, err := h.Follow(ctx, "g1", "alice")
	require.NoError(t, err)
	h.hub.mu.Lock()
	h.hub.listing = []twitchapi.WebhookSubscription{listed(h.dir.id("alice"), h.clock.Now().Add(2*time.Hour))}
	h.hub.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.RunRenewer(ctx)
		close(done)
	}()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(DefaultRenewInterval)

	require.Eventually(t, func() bool {
		sub, _ := h.hub.calls()
		return len(sub) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestEngineAgainstHub(t *testing.T) {
	ctx := context.Background()
	mock := testutil.NewMockTwitchServer(t)
	mock.MockUsers(map[string]string{"alice": "5678"})
	client := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: "cid", ClientSecret: "secret", HTTPClient: mock.Client()},
		ClientID:       "cid",
		HTTPClient:     mock.Client(),
	}
	hub := &twitchapi.Hub{Client: client, Callback: "https://herald.example/webhooks/twitch"}
	poster := newPoster()
	e := New(Options{Hub: hub, Directory: client, Streams: client, Poster: poster, Store: newMemStore()})

	e.ToggleHere(ctx, "g1", "c1")
	display, err := e.Follow(ctx, "g1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", display)

	calls := mock.HubCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, testutil.HubCall{
		Callback:     "https://herald.example/webhooks/twitch",
		Mode:         "subscribe",
		Topic:        "https://api.twitch.tv/helix/streams?user_id=5678",
		LeaseSeconds: "864000",
	}, calls[0])

	res, err := e.Renew(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Orphans)
	assert.Empty(t, res.Renewed)

	mock.MockStreamsResponse([]map[string]any{
		{"id": "s1", "user_id": "5678", "user_login": "alice", "user_name": "Alice", "type": "live", "title": "speedrun"},
	})
	require.NoError(t, e.Resync(ctx))
	live := e.Status().Live
	require.Len(t, live, 1)
	assert.Equal(t, "speedrun", live[0].Title)
	assert.Empty(t, poster.sentTo("c1"), "resync seeds state without announcing")

	mock.SetSubscriptions(nil)
	res, err = e.Renew(ctx)
	require.NoError(t, err)
	require.Len(t, res.Orphans, 1)
	assert.Empty(t, e.Followed("g1"))
}

func TestEnginePersistsToPostgres(t *testing.T) {
	ctx := context.Background()
	pg := testutil.SetupTestStore(t)
	h := newEngineHarness(t, "alice")
	opts := Options{Hub: h.hub, Directory: h.dir, Streams: h.streams, Poster: h.poster, Store: pg, Clock: h.clock}

	e := New(opts)
	e.ToggleHere(ctx, "g1", "c1")
	_, err := e.Follow(ctx, "g1", "alice")
	require.NoError(t, err)
	require.NoError(t, e.Save(ctx))

	restarted := New(opts)
	require.NoError(t, restarted.Load(ctx))
	assert.Equal(t, []ChannelName{"alice"}, restarted.Followed("g1"))
}
