package notifier

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/twitchapi"
)

// DefaultRenewWithin is how close to expiry a hub lease gets re-requested.
const DefaultRenewWithin = 24 * time.Hour

// Registry owns the follower mapping and keeps hub subscriptions in step with
// it. The lock is never held across a network call.
type Registry struct {
	hub         Hub
	dir         Directory
	clock       clockwork.Clock
	renewWithin time.Duration

	mu    sync.RWMutex
	state State
	// inflight holds first subscribes still waiting on the hub.
	inflight map[ChannelName]*pendingSub
}

// pendingSub lets guilds that join during a first subscribe share its outcome.
type pendingSub struct {
	done chan struct{}
	err  error
}

// NewRegistry returns an empty registry.
func NewRegistry(hub Hub, dir Directory, clock clockwork.Clock, renewWithin time.Duration) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if renewWithin <= 0 {
		renewWithin = DefaultRenewWithin
	}
	return &Registry{
		hub:         hub,
		dir:         dir,
		clock:       clock,
		renewWithin: renewWithin,
		state:       NewState(),
		inflight:    map[ChannelName]*pendingSub{},
	}
}

// guildLocked returns the guild record, creating it. Caller holds r.mu.
func (r *Registry) guildLocked(gid GuildID) *GuildConfig {
	g, ok := r.state.Guilds[gid]
	if !ok {
		g = &GuildConfig{Channels: Set[ChannelName]{}}
		r.state.Guilds[gid] = g
	}
	return g
}

// Follow adds gid to the followers of name and subscribes on the hub when it
// is the first follower. A failed subscribe rolls the addition back. Guilds
// that join while that subscribe is in flight wait for it and share its result.
func (r *Registry) Follow(ctx context.Context, gid GuildID, name string) (string, error) {
	key := NormalizeChannel(name)
	if key == "" {
		return "", ErrChannelNotFound
	}
	r.mu.RLock()
	g := r.state.Guilds[gid]
	hasDest := g != nil && g.NotifyChat != ""
	r.mu.RUnlock()
	if !hasDest {
		return "", ErrNoDestination
	}

	user, err := r.dir.GetUser(ctx, string(key))
	if err != nil {
		if errors.Is(err, twitchapi.ErrNotFound) {
			return "", fmt.Errorf("%s: %w", key, ErrChannelNotFound)
		}
		return "", fmt.Errorf("lookup %s: %w", key, err)
	}
	display := user.DisplayName
	if display == "" {
		display = string(key)
	}

	r.mu.Lock()
	sub, exists := r.state.Channels[key]
	if exists && sub.Followers.Has(gid) {
		r.mu.Unlock()
		return display, ErrAlreadyFollowing
	}
	var pending *pendingSub
	if exists {
		pending = r.inflight[key]
	} else {
		sub = &ChannelSubscription{RemoteID: user.ID, Followers: Set[GuildID]{}}
		r.state.Channels[key] = sub
		pending = &pendingSub{done: make(chan struct{})}
		r.inflight[key] = pending
	}
	sub.DisplayName = display
	sub.Followers.Add(gid)
	r.guildLocked(gid).Channels.Add(key)
	remoteID := sub.RemoteID
	r.mu.Unlock()

	if exists {
		if pending != nil {
			<-pending.done
			if pending.err != nil {
				return "", pending.err
			}
		}
		return display, nil
	}

	err = r.hub.Subscribe(ctx, remoteID)
	telemetry.ObserveHubCall(twitchapi.ModeSubscribe, err)
	r.settleSubscribe(key, sub, pending, err)
	if err != nil {
		return "", err
	}
	slog.Info("subscribed to channel", slog.String("channel", string(key)), slog.String("remote_id", remoteID))
	return display, nil
}

// settleSubscribe finishes a first subscribe. On failure the record is
// dropped together with every guild that joined while it was in flight, and
// those guilds' Follow calls return the same error.
func (r *Registry) settleSubscribe(key ChannelName, sub *ChannelSubscription, p *pendingSub, err error) {
	r.mu.Lock()
	if err != nil && r.state.Channels[key] == sub {
		for gid := range sub.Followers {
			if g, ok := r.state.Guilds[gid]; ok {
				g.Channels.Remove(key)
			}
		}
		delete(r.state.Channels, key)
	}
	if r.inflight[key] == p {
		delete(r.inflight, key)
	}
	p.err = err
	r.mu.Unlock()
	close(p.done)
}

// Unfollow removes gid from the followers of name. When it was the last
// follower the record is deleted and the hub unsubscribed once; local state
// stays removed even if that call fails, the lease then simply lapses. The
// returned remote id lets callers detach live state.
func (r *Registry) Unfollow(ctx context.Context, gid GuildID, name string) (display, remoteID string, err error) {
	key := NormalizeChannel(name)
	r.mu.Lock()
	sub, ok := r.state.Channels[key]
	if !ok || !sub.Followers.Has(gid) {
		r.mu.Unlock()
		return "", "", fmt.Errorf("%s: %w", key, ErrNotFollowing)
	}
	sub.Followers.Remove(gid)
	if g, ok := r.state.Guilds[gid]; ok {
		g.Channels.Remove(key)
	}
	last := len(sub.Followers) == 0
	if last {
		delete(r.state.Channels, key)
	}
	display, remoteID = sub.DisplayName, sub.RemoteID
	r.mu.Unlock()
	if display == "" {
		display = string(key)
	}

	if last {
		err := r.hub.Unsubscribe(ctx, remoteID)
		telemetry.ObserveHubCall(twitchapi.ModeUnsubscribe, err)
		if err != nil {
			return display, remoteID, err
		}
		slog.Info("unsubscribed from channel", slog.String("channel", string(key)), slog.String("remote_id", remoteID))
	}
	return display, remoteID, nil
}

// Orphan is a followed channel the hub no longer lists.
type Orphan struct {
	Name      ChannelName
	RemoteID  string
	Followers []GuildID
}

// RenewResult summarizes a renew pass.
type RenewResult struct {
	Orphans []Orphan
	Renewed []string
	Failed  []string
}

// Renew reconciles local follower state against the hub listing. Channels
// whose remote id is absent are removed everywhere; listed subscriptions that
// are still wanted and expire within the renew window are subscribed again.
func (r *Registry) Renew(ctx context.Context) (RenewResult, error) {
	var res RenewResult
	subs, err := r.hub.Subscriptions(ctx)
	if err != nil {
		return res, err
	}
	expires := make(map[string]time.Time, len(subs))
	for _, ws := range subs {
		id := ws.UserID()
		if id == "" {
			continue
		}
		if cur, ok := expires[id]; !ok || ws.ExpiresAt.After(cur) {
			expires[id] = ws.ExpiresAt
		}
	}

	now := r.clock.Now()
	r.mu.Lock()
	for name, sub := range r.state.Channels {
		if _, listed := expires[sub.RemoteID]; listed {
			continue
		}
		o := Orphan{Name: name, RemoteID: sub.RemoteID, Followers: sub.Followers.Sorted()}
		for _, gid := range o.Followers {
			if g, ok := r.state.Guilds[gid]; ok {
				g.Channels.Remove(name)
			}
		}
		delete(r.state.Channels, name)
		res.Orphans = append(res.Orphans, o)
	}
	wanted := make(map[string]bool, len(r.state.Channels))
	for _, sub := range r.state.Channels {
		wanted[sub.RemoteID] = true
	}
	r.mu.Unlock()

	var due []string
	for id, at := range expires {
		if wanted[id] && at.Sub(now) <= r.renewWithin {
			due = append(due, id)
		}
	}
	slices.Sort(due)
	slices.SortFunc(res.Orphans, func(a, b Orphan) int { return cmp.Compare(a.Name, b.Name) })

	for _, o := range res.Orphans {
		slog.Warn("dropping channel missing from hub subscriptions", slog.String("channel", string(o.Name)), slog.String("remote_id", o.RemoteID), slog.Int("followers", len(o.Followers)))
	}
	for _, id := range due {
		err := r.hub.Subscribe(ctx, id)
		telemetry.ObserveHubCall(twitchapi.ModeSubscribe, err)
		if err != nil {
			slog.Warn("lease renewal failed", slog.String("remote_id", id), slog.Any("err", err))
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Renewed = append(res.Renewed, id)
	}
	return res, nil
}

// ChannelInfo is a read-only view of a subscription.
type ChannelInfo struct {
	Name        ChannelName `json:"name"`
	RemoteID    string      `json:"remote_id"`
	DisplayName string      `json:"display_name"`
	Followers   []GuildID   `json:"followers"`
}

// ByRemoteID returns the subscription whose remote id matches.
func (r *Registry) ByRemoteID(remoteID string) (ChannelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, sub := range r.state.Channels {
		if sub.RemoteID == remoteID {
			return ChannelInfo{Name: name, RemoteID: sub.RemoteID, DisplayName: sub.DisplayName, Followers: sub.Followers.Sorted()}, true
		}
	}
	return ChannelInfo{}, false
}

// Channels lists every subscription sorted by name.
func (r *Registry) Channels() []ChannelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ChannelInfo, 0, len(r.state.Channels))
	for name, sub := range r.state.Channels {
		out = append(out, ChannelInfo{Name: name, RemoteID: sub.RemoteID, DisplayName: sub.DisplayName, Followers: sub.Followers.Sorted()})
	}
	slices.SortFunc(out, func(a, b ChannelInfo) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// RemoteIDs returns the remote ids of all subscriptions, sorted.
func (r *Registry) RemoteIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.state.Channels))
	for _, sub := range r.state.Channels {
		out = append(out, sub.RemoteID)
	}
	slices.Sort(out)
	return out
}

// Guild returns a copy of the guild config.
func (r *Registry) Guild(gid GuildID) (*GuildConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.state.Guilds[gid]
	if !ok {
		return nil, false
	}
	return g.clone(), true
}

// GuildsWithDigest returns the ids of guilds that have a digest configured.
func (r *Registry) GuildsWithDigest() []GuildID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []GuildID
	for id, g := range r.state.Guilds {
		if g.LiveDigest != nil {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Followed returns the guild's followed channel names, sorted.
func (r *Registry) Followed(gid GuildID) []ChannelName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.state.Guilds[gid]; ok {
		return g.Channels.Sorted()
	}
	return nil
}

// IsFollowing reports whether gid follows name.
func (r *Registry) IsFollowing(gid GuildID, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.state.Channels[NormalizeChannel(name)]
	return ok && sub.Followers.Has(gid)
}

// ToggleNotifyChat sets chat as the guild's notify destination, or clears it
// when it already is. Reports whether notifications are now enabled.
func (r *Registry) ToggleNotifyChat(gid GuildID, chat DestinationID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.guildLocked(gid)
	if g.NotifyChat == chat {
		g.NotifyChat = ""
		return false
	}
	g.NotifyChat = chat
	return true
}

// SetDigest records a new digest post and returns the previous one, if any.
// NotifyOnChange carries over.
func (r *Registry) SetDigest(gid GuildID, chat DestinationID, postID string) *LiveDigest {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.guildLocked(gid)
	prev := g.LiveDigest
	d := &LiveDigest{Chat: chat, PostID: postID}
	if prev != nil {
		d.NotifyOnChange = prev.NotifyOnChange
	}
	g.LiveDigest = d
	return prev
}

// ClearDigest removes the guild's digest config if it still points at postID.
func (r *Registry) ClearDigest(gid GuildID, postID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.state.Guilds[gid]
	if !ok || g.LiveDigest == nil || g.LiveDigest.PostID != postID {
		return false
	}
	g.LiveDigest = nil
	return true
}

// ToggleDigestNotify flips change notifications on the guild's digest.
func (r *Registry) ToggleDigestNotify(gid GuildID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.state.Guilds[gid]
	if !ok || g.LiveDigest == nil {
		return false, ErrNoDigest
	}
	g.LiveDigest.NotifyOnChange = !g.LiveDigest.NotifyOnChange
	return g.LiveDigest.NotifyOnChange, nil
}

// Snapshot returns a deep copy of the persisted state.
func (r *Registry) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

// Restore replaces the state wholesale.
func (r *Registry) Restore(s State) {
	s = s.Clone()
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Counts returns the number of guilds and followed channels.
func (r *Registry) Counts() (guilds, channels int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.state.Guilds), len(r.state.Channels)
}
