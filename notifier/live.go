package notifier

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/twitchapi"
)

// LiveChannelState is a stream known to be live. It only exists for remote
// ids that some guild follows.
type LiveChannelState struct {
	RemoteID       string    `json:"remote_id"`
	Login          string    `json:"login"`
	DisplayName    string    `json:"display_name"`
	Title          string    `json:"title"`
	GameName       string    `json:"game_name,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	NotifiedGuilds []GuildID `json:"notified_guilds"`
}

func (ls *LiveChannelState) copy() LiveChannelState {
	out := *ls
	out.NotifiedGuilds = slices.Clone(ls.NotifiedGuilds)
	return out
}

func (ls *LiveChannelState) apply(st twitchapi.Stream, ch ChannelInfo) {
	ls.Login = cmp.Or(st.UserLogin, string(ch.Name))
	ls.DisplayName = cmp.Or(st.UserName, ch.DisplayName, ls.Login)
	ls.Title = st.Title
	ls.GameName = st.GameName
	if !st.StartedAt.IsZero() {
		ls.StartedAt = st.StartedAt
	}
}

// deliveryTimeout bounds the chat fan-out of one hub delivery, which runs
// detached from the hub request.
const deliveryTimeout = 30 * time.Second

// Reconciler turns hub deliveries into live state and chat output. Work for
// one remote id is serialized in arrival order; different ids run in parallel.
// Edits of one guild's digest are serialized separately and always nest
// inside the remote id locks.
type Reconciler struct {
	reg     *Registry
	poster  Poster
	streams StreamSource
	dedup   DedupWindow
	keys    KeyedMutex
	digests KeyedMutex

	mu   sync.Mutex
	live map[string]*LiveChannelState
}

// NewReconciler wires a reconciler to its collaborators.
func NewReconciler(reg *Registry, poster Poster, streams StreamSource, dedup DedupWindow) *Reconciler {
	return &Reconciler{reg: reg, poster: poster, streams: streams, dedup: dedup, live: map[string]*LiveChannelState{}}
}

// Handle applies a decoded event and returns the response for the hub.
func (r *Reconciler) Handle(ctx context.Context, ev Event) WebhookResponse {
	telemetry.ObserveWebhook(ev.Kind())
	switch e := ev.(type) {
	case Challenge:
		return WebhookResponse{Status: http.StatusOK, ContentType: "text/plain; charset=utf-8", Body: e.Value}
	case Denied:
		slog.Warn("hub denied subscription", slog.String("topic", e.Topic), slog.String("reason", e.Reason))
	case Ended:
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
		defer cancel()
		ctx, span := telemetry.StartSpan(ctx, "notifier", "stream.ended", telemetry.RemoteIDAttr(e.RemoteID))
		r.end(ctx, e.RemoteID)
		telemetry.SetSpanSuccess(span)
		span.End()
	case Started:
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
		defer cancel()
		ctx, span := telemetry.StartSpan(ctx, "notifier", "stream.started", telemetry.RemoteIDAttr(e.Stream.UserID))
		r.start(ctx, e.Stream)
		telemetry.SetSpanSuccess(span)
		span.End()
	case Malformed:
		telemetry.LoggerWithCorr(ctx).Debug("ignoring malformed hub delivery", slog.Any("err", e.Err))
	}
	return ack()
}

func (r *Reconciler) start(ctx context.Context, st twitchapi.Stream) {
	id := st.UserID
	unlock := r.keys.Lock(id)
	defer unlock()

	ch, ok := r.reg.ByRemoteID(id)
	if !ok || len(ch.Followers) == 0 {
		slog.Debug("started event for unfollowed channel", slog.String("remote_id", id))
		return
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("channel", string(ch.Name)), slog.String("remote_id", id))

	seen, err := r.dedup.Mark(ctx, id)
	if err != nil {
		log.Warn("dedup window unavailable", slog.Any("err", err))
	}

	r.mu.Lock()
	ls, wasLive := r.live[id]
	if !wasLive {
		ls = &LiveChannelState{RemoteID: id}
		r.live[id] = ls
	}
	ls.apply(st, ch)
	snap := ls.copy()
	liveCount := len(r.live)
	r.mu.Unlock()
	telemetry.SetLiveChannels(liveCount)

	isUpdate := wasLive || seen
	if isUpdate {
		telemetry.IncDedupSuppressed()
	}
	log.Info("stream live", slog.Bool("update", isUpdate), slog.String("title", snap.Title))

	field := ChannelURL(snap.Login)
	value := fieldValue(snap.Title)
	for _, gid := range ch.Followers {
		g, ok := r.reg.Guild(gid)
		if !ok {
			continue
		}
		if !isUpdate && g.NotifyChat != "" {
			_, err := r.poster.Send(ctx, g.NotifyChat, Announcement(snap))
			telemetry.ObserveAnnouncement(err)
			if err != nil {
				log.Warn("announcement failed", slog.String("guild", string(gid)), slog.Any("err", err))
			}
		}
		if g.LiveDigest == nil {
			continue
		}
		d := *g.LiveDigest
		var added bool
		err := r.editDigest(ctx, gid, d, "add", func(m *Message) {
			added = upsertField(m, field, value)
			r.markNotified(id, gid)
		})
		if err != nil || !added || !d.NotifyOnChange {
			continue
		}
		ping, err := r.poster.Send(ctx, d.Chat, Message{Content: pingText(snap)})
		if err != nil {
			log.Warn("digest ping failed", slog.String("guild", string(gid)), slog.Any("err", err))
			continue
		}
		if err := r.poster.Delete(ctx, ping); err != nil {
			log.Warn("digest ping retract failed", slog.String("guild", string(gid)), slog.Any("err", err))
		}
	}
}

// end moves id to offline and strips it from the digests that list it.
func (r *Reconciler) end(ctx context.Context, id string) {
	unlock := r.keys.Lock(id)
	defer unlock()
	r.endLocked(ctx, id)
}

func (r *Reconciler) endLocked(ctx context.Context, id string) {
	r.mu.Lock()
	ls, ok := r.live[id]
	delete(r.live, id)
	liveCount := len(r.live)
	r.mu.Unlock()
	if !ok {
		return
	}
	telemetry.SetLiveChannels(liveCount)
	telemetry.LoggerWithCorr(ctx).Info("stream offline", slog.String("login", ls.Login), slog.String("remote_id", id))

	field := ChannelURL(ls.Login)
	for _, gid := range ls.NotifiedGuilds {
		g, ok := r.reg.Guild(gid)
		if !ok || g.LiveDigest == nil {
			continue
		}
		_ = r.editDigest(ctx, gid, *g.LiveDigest, "remove", func(m *Message) { removeField(m, field) })
	}
}

// Detach drops gid's interest in id after an unfollow: the channel leaves
// that guild's digest, and live state goes away once nobody follows it.
func (r *Reconciler) Detach(ctx context.Context, gid GuildID, id string) {
	unlock := r.keys.Lock(id)
	defer unlock()

	if _, followed := r.reg.ByRemoteID(id); !followed {
		r.endLocked(ctx, id)
		return
	}
	r.mu.Lock()
	ls, ok := r.live[id]
	var login string
	var notified bool
	if ok {
		login = ls.Login
		if i := slices.Index(ls.NotifiedGuilds, gid); i >= 0 {
			ls.NotifiedGuilds = slices.Delete(ls.NotifiedGuilds, i, i+1)
			notified = true
		}
	}
	r.mu.Unlock()
	if !notified {
		return
	}
	if g, ok := r.reg.Guild(gid); ok && g.LiveDigest != nil {
		field := ChannelURL(login)
		_ = r.editDigest(ctx, gid, *g.LiveDigest, "remove", func(m *Message) { removeField(m, field) })
	}
}

// Forget ends any live state for id; used when renew drops an orphan.
func (r *Reconciler) Forget(ctx context.Context, id string) { r.end(ctx, id) }

func (r *Reconciler) markNotified(id string, gid GuildID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ls, ok := r.live[id]; ok && !slices.Contains(ls.NotifiedGuilds, gid) {
		ls.NotifiedGuilds = append(ls.NotifiedGuilds, gid)
	}
}

// editDigest fetches the guild's digest post, applies mutate and saves it.
// A post that no longer exists clears the guild's digest config.
func (r *Reconciler) editDigest(ctx context.Context, gid GuildID, d LiveDigest, op string, mutate func(*Message)) error {
	unlock := r.digests.Lock(string(gid))
	defer unlock()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("guild", string(gid)), slog.String("post", d.PostID))
	msg, err := r.poster.Fetch(ctx, d.Ref())
	if err != nil {
		if errors.Is(err, ErrPostGone) {
			if r.reg.ClearDigest(gid, d.PostID) {
				telemetry.IncDigestCleared()
				log.Warn("digest post is gone, clearing digest config")
			}
		} else {
			log.Warn("digest fetch failed", slog.Any("err", err))
		}
		telemetry.ObserveDigestEdit(op, err)
		return err
	}
	mutate(&msg)
	err = r.poster.Edit(ctx, d.Ref(), msg)
	telemetry.ObserveDigestEdit(op, err)
	if err != nil {
		if errors.Is(err, ErrPostGone) && r.reg.ClearDigest(gid, d.PostID) {
			telemetry.IncDigestCleared()
			log.Warn("digest post is gone, clearing digest config")
			return err
		}
		log.Warn("digest edit failed", slog.Any("err", err))
	}
	return err
}

// liveFieldsFor returns digest fields for the channels gid follows that are
// live, ordered by channel name, plus their remote ids.
func (r *Reconciler) liveFieldsFor(gid GuildID) ([]Field, []string) {
	followed := r.reg.Followed(gid)
	chans := r.reg.Channels()
	byName := make(map[ChannelName]string, len(chans))
	for _, c := range chans {
		byName[c.Name] = c.RemoteID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var fields []Field
	var ids []string
	for _, name := range followed {
		id, ok := byName[name]
		if !ok {
			continue
		}
		ls, live := r.live[id]
		if !live {
			continue
		}
		fields = append(fields, Field{Name: ChannelURL(ls.Login), Value: fieldValue(ls.Title)})
		ids = append(ids, id)
	}
	return fields, ids
}

func (r *Reconciler) liveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	return ids
}

// PublishDigest posts a fresh digest of gid's live channels to chat, makes it
// the guild's digest and marks the previous post stale.
func (r *Reconciler) PublishDigest(ctx context.Context, gid GuildID, chat DestinationID) (MessageRef, error) {
	unlock := r.keys.LockAll(r.liveIDs())
	defer unlock()
	unlockDigest := r.digests.Lock(string(gid))
	defer unlockDigest()

	fields, ids := r.liveFieldsFor(gid)
	ref, err := r.poster.Send(ctx, chat, NewDigest(fields))
	telemetry.ObserveDigestEdit("publish", err)
	if err != nil {
		return MessageRef{}, err
	}
	prev := r.reg.SetDigest(gid, chat, ref.ID)
	for _, id := range ids {
		r.markNotified(id, gid)
	}
	if prev != nil && prev.PostID != ref.ID {
		if old, err := r.poster.Fetch(ctx, prev.Ref()); err == nil {
			if old.Embed == nil {
				old.Embed = &Embed{Title: DigestTitle}
			}
			old.Embed.Fields = nil
			old.Embed.Description = StaleDigestText
			if err := r.poster.Edit(ctx, prev.Ref(), old); err != nil {
				slog.Debug("could not mark old digest stale", slog.String("guild", string(gid)), slog.Any("err", err))
			}
		}
	}
	return ref, nil
}

// rebuildDigest rewrites gid's digest to exactly the live channels it follows.
func (r *Reconciler) rebuildDigest(ctx context.Context, gid GuildID) {
	g, ok := r.reg.Guild(gid)
	if !ok || g.LiveDigest == nil {
		return
	}
	fields, ids := r.liveFieldsFor(gid)
	_ = r.editDigest(ctx, gid, *g.LiveDigest, "rebuild", func(m *Message) {
		if m.Embed == nil {
			m.Embed = &Embed{Title: DigestTitle, Color: liveColor}
		}
		m.Embed.Fields = fields
		m.Embed.Description = ""
		if len(fields) == 0 {
			m.Embed.Description = EmptyDigestText
		}
		for _, id := range ids {
			r.markNotified(id, gid)
		}
	})
}

// Resync polls the platform for the live status of every followed channel,
// seeds live state without announcing, ends channels that are no longer live
// and rebuilds every digest. Started events that repeat a polled stream are
// treated as updates.
func (r *Reconciler) Resync(ctx context.Context) error {
	ids := r.reg.RemoteIDs()
	var streams []twitchapi.Stream
	if len(ids) > 0 {
		var err error
		streams, err = r.streams.GetStreams(ctx, ids)
		if err != nil {
			return err
		}
	}
	nowLive := make(map[string]bool, len(streams))
	for _, st := range streams {
		ch, ok := r.reg.ByRemoteID(st.UserID)
		if !ok {
			continue
		}
		nowLive[st.UserID] = true
		unlock := r.keys.Lock(st.UserID)
		if _, err := r.dedup.Mark(ctx, st.UserID); err != nil {
			slog.Warn("dedup window unavailable", slog.Any("err", err))
		}
		r.mu.Lock()
		ls, ok := r.live[st.UserID]
		if !ok {
			ls = &LiveChannelState{RemoteID: st.UserID}
			r.live[st.UserID] = ls
		}
		ls.apply(st, ch)
		r.mu.Unlock()
		unlock()
	}
	for _, id := range r.liveIDs() {
		if !nowLive[id] {
			r.end(ctx, id)
		}
	}
	r.mu.Lock()
	telemetry.SetLiveChannels(len(r.live))
	r.mu.Unlock()

	unlock := r.keys.LockAll(r.liveIDs())
	defer unlock()
	for _, gid := range r.reg.GuildsWithDigest() {
		r.rebuildDigest(ctx, gid)
	}
	slog.Info("live state resynced", slog.Int("followed", len(ids)), slog.Int("live", len(nowLive)))
	return nil
}

// Live returns the live channels sorted by login.
func (r *Reconciler) Live() []LiveChannelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LiveChannelState, 0, len(r.live))
	for _, ls := range r.live {
		out = append(out, ls.copy())
	}
	slices.SortFunc(out, func(a, b LiveChannelState) int { return cmp.Compare(a.Login, b.Login) })
	return out
}

// IsLive reports whether id is currently live.
func (r *Reconciler) IsLive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[id]
	return ok
}
