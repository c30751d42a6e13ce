package notifier

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// GuildID identifies a community (Discord guild).
type GuildID string

// ChannelName is a lowercase Twitch login.
type ChannelName string

// DestinationID identifies a chat (Discord text channel) posts are sent to.
type DestinationID string

// NormalizeChannel lowercases and trims a channel name.
func NormalizeChannel(s string) ChannelName {
	return ChannelName(strings.ToLower(strings.TrimSpace(s)))
}

// Set is a string-keyed set that serializes as a sorted JSON array.
type Set[T ~string] map[T]struct{}

// NewSet returns a set holding items.
func NewSet[T ~string](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s Set[T]) Has(v T) bool {
	_, ok := s[v]
	return ok
}

func (s Set[T]) Add(v T) { s[v] = struct{}{} }

func (s Set[T]) Remove(v T) { delete(s, v) }

// Sorted returns the members in ascending order.
func (s Set[T]) Sorted() []T {
	return slices.Sorted(maps.Keys(s))
}

func (s Set[T]) MarshalJSON() ([]byte, error) {
	out := s.Sorted()
	if out == nil {
		out = []T{}
	}
	return json.Marshal(out)
}

func (s *Set[T]) UnmarshalJSON(b []byte) error {
	var items []T
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*s = NewSet(items...)
	return nil
}

// MessageRef addresses a single posted message.
type MessageRef struct {
	Chat DestinationID `json:"chat"`
	ID   string        `json:"id"`
}

// LiveDigest is a guild's continuously edited list of live channels.
type LiveDigest struct {
	Chat           DestinationID `json:"chat"`
	PostID         string        `json:"post_id"`
	NotifyOnChange bool          `json:"notify_on_change"`
}

// Ref returns the digest post address.
func (d LiveDigest) Ref() MessageRef { return MessageRef{Chat: d.Chat, ID: d.PostID} }

// GuildConfig is the per-guild notifier configuration.
type GuildConfig struct {
	NotifyChat DestinationID    `json:"notify_chat,omitempty"`
	LiveDigest *LiveDigest      `json:"live_digest,omitempty"`
	Channels   Set[ChannelName] `json:"channels"`
}

func (g *GuildConfig) clone() *GuildConfig {
	c := &GuildConfig{NotifyChat: g.NotifyChat, Channels: maps.Clone(g.Channels)}
	if c.Channels == nil {
		c.Channels = Set[ChannelName]{}
	}
	if g.LiveDigest != nil {
		d := *g.LiveDigest
		c.LiveDigest = &d
	}
	return c
}

// ChannelSubscription is the follower record of one channel. It exists only
// while Followers is non-empty; len(Followers) is the hub refcount.
type ChannelSubscription struct {
	RemoteID    string       `json:"remote_id"`
	DisplayName string       `json:"display_name,omitempty"`
	Followers   Set[GuildID] `json:"followers"`
}

func (c *ChannelSubscription) clone() *ChannelSubscription {
	out := *c
	out.Followers = maps.Clone(c.Followers)
	if out.Followers == nil {
		out.Followers = Set[GuildID]{}
	}
	return &out
}

// State is the persisted root.
type State struct {
	Guilds   map[GuildID]*GuildConfig             `json:"guilds"`
	Channels map[ChannelName]*ChannelSubscription `json:"channels"`
}

// NewState returns an empty state.
func NewState() State {
	return State{Guilds: map[GuildID]*GuildConfig{}, Channels: map[ChannelName]*ChannelSubscription{}}
}

// Clone deep-copies s.
func (s State) Clone() State {
	out := NewState()
	for id, g := range s.Guilds {
		out.Guilds[id] = g.clone()
	}
	for name, c := range s.Channels {
		out.Channels[name] = c.clone()
	}
	return out
}

// MarshalState encodes s for storage.
func MarshalState(s State) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalState decodes a stored state. Channel keys are lowercased, empty
// subscriptions are dropped and every guild's channel set is rebuilt from
// the subscription followers so both sides agree.
func UnmarshalState(b []byte) (State, error) {
	var raw State
	if err := json.Unmarshal(b, &raw); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	st := NewState()
	for id, g := range raw.Guilds {
		if g == nil {
			continue
		}
		c := g.clone()
		c.Channels = Set[ChannelName]{}
		st.Guilds[id] = c
	}
	for name, sub := range raw.Channels {
		if sub == nil || sub.RemoteID == "" || len(sub.Followers) == 0 {
			continue
		}
		key := NormalizeChannel(string(name))
		if prev, ok := st.Channels[key]; ok {
			for gid := range sub.Followers {
				prev.Followers.Add(gid)
			}
			continue
		}
		st.Channels[key] = sub.clone()
	}
	for name, sub := range st.Channels {
		for gid := range sub.Followers {
			g, ok := st.Guilds[gid]
			if !ok {
				g = &GuildConfig{Channels: Set[ChannelName]{}}
				st.Guilds[gid] = g
			}
			g.Channels.Add(name)
		}
	}
	return st, nil
}
