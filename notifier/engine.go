// Package notifier is the subscription lifecycle and live-state engine: it
// tracks which guilds follow which Twitch channels, keeps hub subscriptions in
// sync with that mapping, and turns hub deliveries into go-live announcements
// and continuously edited live digest posts.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/live-herald/store"
	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/twitchapi"
)

// StateKey is the storage key of the persisted state.
const StateKey = "twitch"

// DefaultRenewInterval is the period of the renew loop.
const DefaultRenewInterval = time.Hour

// Options configures an Engine.
type Options struct {
	Hub       Hub
	Directory Directory
	Streams   StreamSource
	Poster    Poster
	Store     StateStore
	Dedup     DedupWindow
	Clock     clockwork.Clock

	RenewInterval time.Duration
	RenewWithin   time.Duration
	DedupWindow   time.Duration
}

// Engine ties the registry and reconciler together and persists state.
type Engine struct {
	reg   *Registry
	rec   *Reconciler
	dir   Directory
	store StateStore
	clock clockwork.Clock

	renewInterval time.Duration
}

// New builds an engine from opts. A nil Dedup gets an in-memory window.
func New(opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	dedup := opts.Dedup
	if dedup == nil {
		dedup = NewMemoryDedup(clock, opts.DedupWindow)
	}
	interval := opts.RenewInterval
	if interval <= 0 {
		interval = DefaultRenewInterval
	}
	reg := NewRegistry(opts.Hub, opts.Directory, clock, opts.RenewWithin)
	return &Engine{
		reg:           reg,
		rec:           NewReconciler(reg, opts.Poster, opts.Streams, dedup),
		dir:           opts.Directory,
		store:         opts.Store,
		clock:         clock,
		renewInterval: interval,
	}
}

// Registry exposes the follower registry.
func (e *Engine) Registry() *Registry { return e.reg }

// Reconciler exposes the live-state reconciler.
func (e *Engine) Reconciler() *Reconciler { return e.rec }

// Load restores state from the store. A missing key leaves the state empty.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	blob, err := e.store.Get(ctx, StateKey)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("no persisted state, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	st, err := UnmarshalState(blob)
	if err != nil {
		return err
	}
	e.reg.Restore(st)
	guilds, channels := e.reg.Counts()
	telemetry.SetFollowedChannels(channels)
	slog.Info("state loaded", slog.Int("guilds", guilds), slog.Int("channels", channels))
	return nil
}

// Save writes the current state to the store.
func (e *Engine) Save(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	blob, err := MarshalState(e.reg.Snapshot())
	if err == nil {
		err = e.store.Put(ctx, StateKey, blob)
	}
	telemetry.ObserveStateSave(err)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	_, channels := e.reg.Counts()
	telemetry.SetFollowedChannels(channels)
	return nil
}

func (e *Engine) persist(ctx context.Context) {
	if err := e.Save(ctx); err != nil {
		slog.Error("failed to persist state", slog.Any("err", err))
	}
}

// Follow subscribes gid to name and returns the channel display name.
func (e *Engine) Follow(ctx context.Context, gid GuildID, name string) (string, error) {
	display, err := e.reg.Follow(ctx, gid, name)
	if err != nil {
		return display, err
	}
	e.persist(ctx)
	return display, nil
}

// Unfollow removes gid from name's followers and its digest.
func (e *Engine) Unfollow(ctx context.Context, gid GuildID, name string) (string, error) {
	display, remoteID, err := e.reg.Unfollow(ctx, gid, name)
	if errors.Is(err, ErrNotFollowing) {
		return "", err
	}
	e.rec.Detach(ctx, gid, remoteID)
	e.persist(ctx)
	return display, err
}

// ToggleFollow follows name, or unfollows it when already followed. Reports
// whether notifications are now enabled.
func (e *Engine) ToggleFollow(ctx context.Context, gid GuildID, name string) (string, bool, error) {
	if e.reg.IsFollowing(gid, name) {
		display, err := e.Unfollow(ctx, gid, name)
		return display, false, err
	}
	display, err := e.Follow(ctx, gid, name)
	return display, err == nil, err
}

// ToggleHere sets or clears chat as gid's notify destination.
func (e *Engine) ToggleHere(ctx context.Context, gid GuildID, chat DestinationID) bool {
	enabled := e.reg.ToggleNotifyChat(gid, chat)
	e.persist(ctx)
	return enabled
}

// ToggleDigestNotify flips change pings on gid's digest.
func (e *Engine) ToggleDigestNotify(ctx context.Context, gid GuildID) (bool, error) {
	on, err := e.reg.ToggleDigestNotify(gid)
	if err != nil {
		return false, err
	}
	e.persist(ctx)
	return on, nil
}

// PublishDigest posts a new live digest for gid in chat.
func (e *Engine) PublishDigest(ctx context.Context, gid GuildID, chat DestinationID) (MessageRef, error) {
	ref, err := e.rec.PublishDigest(ctx, gid, chat)
	if err != nil {
		return ref, err
	}
	e.persist(ctx)
	return ref, nil
}

// Followed lists gid's followed channels alphabetically.
func (e *Engine) Followed(gid GuildID) []ChannelName { return e.reg.Followed(gid) }

// ChannelLookup is the result of an info query.
type ChannelLookup struct {
	Login       string
	DisplayName string
	URL         string
	// Fuzzy is set when the best match differs from the query.
	Fuzzy     bool
	Following bool
	Live      bool
}

// Info finds the channel best matching query.
func (e *Engine) Info(ctx context.Context, gid GuildID, query string) (ChannelLookup, error) {
	q := NormalizeChannel(query)
	ch, err := e.dir.SearchChannel(ctx, string(q))
	if err != nil {
		if errors.Is(err, twitchapi.ErrNotFound) {
			return ChannelLookup{}, fmt.Errorf("%s: %w", q, ErrNoMatch)
		}
		return ChannelLookup{}, err
	}
	login := strings.ToLower(ch.Login)
	return ChannelLookup{
		Login:       login,
		DisplayName: ch.DisplayName,
		URL:         ChannelURL(login),
		Fuzzy:       login != string(q),
		Following:   e.reg.IsFollowing(gid, login),
		Live:        ch.IsLive,
	}, nil
}

// HandleWebhook decodes and applies one hub delivery. Apart from the
// challenge echo the response is always an empty 200.
func (e *Engine) HandleWebhook(ctx context.Context, query url.Values, header http.Header, body []byte) WebhookResponse {
	var resp WebhookResponse
	telemetry.TimeFunc(telemetry.WebhookDuration, func() {
		resp = e.rec.Handle(ctx, DecodeEvent(query, header, body))
	})
	return resp
}

// Renew runs one reconcile pass against the hub and ends live state for
// dropped channels.
func (e *Engine) Renew(ctx context.Context) (RenewResult, error) {
	var (
		res RenewResult
		err error
	)
	telemetry.TimeFunc(telemetry.RenewDuration, func() {
		res, err = e.reg.Renew(ctx)
	})
	telemetry.ObserveRenew(len(res.Renewed), len(res.Orphans), err)
	if err != nil {
		return res, err
	}
	for _, o := range res.Orphans {
		e.rec.Forget(ctx, o.RemoteID)
	}
	if len(res.Orphans) > 0 {
		e.persist(ctx)
	}
	return res, nil
}

// Resync refreshes live state from the platform.
func (e *Engine) Resync(ctx context.Context) error {
	if err := e.rec.Resync(ctx); err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	e.persist(ctx)
	return nil
}

// RunRenewer renews subscriptions every interval until ctx is done.
func (e *Engine) RunRenewer(ctx context.Context) {
	log := slog.Default().With(slog.String("component", "renewer"))
	ticker := e.clock.NewTicker(e.renewInterval)
	defer ticker.Stop()
	log.Info("renewer started", slog.Duration("interval", e.renewInterval))
	for {
		select {
		case <-ctx.Done():
			log.Info("renewer stopped")
			return
		case <-ticker.Chan():
			res, err := e.Renew(ctx)
			if err != nil {
				log.Warn("renew failed", slog.Any("err", err))
				continue
			}
			log.Info("renew pass complete",
				slog.Int("renewed", len(res.Renewed)),
				slog.Int("failed", len(res.Failed)),
				slog.Int("orphans", len(res.Orphans)))
		}
	}
}

// Status is an operator view of the engine.
type Status struct {
	Guilds   int                `json:"guilds"`
	Channels []ChannelInfo      `json:"channels"`
	Live     []LiveChannelState `json:"live"`
}

// Status reports followed channels and live streams.
func (e *Engine) Status() Status {
	guilds, _ := e.reg.Counts()
	return Status{Guilds: guilds, Channels: e.reg.Channels(), Live: e.rec.Live()}
}
