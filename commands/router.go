// Package commands parses chat commands and dispatches them to the notifier.
//
// All commands start with the configured prefix followed by "twitch":
//
//	!twitch                     help
//	!twitch here                toggle the notify chat
//	!twitch list                followed channels
//	!twitch live                post a fresh live digest here
//	!twitch live notify         toggle digest change pings
//	!twitch follow <channel>    follow a channel
//	!twitch unfollow <channel>  unfollow a channel
//	!twitch notify <channel>    toggle following a channel
//	!twitch <channel>           channel info
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/live-herald/notifier"
	"github.com/onnwee/live-herald/telemetry"
)

// Name is the command word after the prefix.
const Name = "twitch"

// Service is the part of the notifier engine commands drive.
type Service interface {
	ToggleHere(ctx context.Context, gid notifier.GuildID, chat notifier.DestinationID) bool
	Follow(ctx context.Context, gid notifier.GuildID, name string) (string, error)
	Unfollow(ctx context.Context, gid notifier.GuildID, name string) (string, error)
	ToggleFollow(ctx context.Context, gid notifier.GuildID, name string) (string, bool, error)
	Followed(gid notifier.GuildID) []notifier.ChannelName
	PublishDigest(ctx context.Context, gid notifier.GuildID, chat notifier.DestinationID) (notifier.MessageRef, error)
	ToggleDigestNotify(ctx context.Context, gid notifier.GuildID) (bool, error)
	Info(ctx context.Context, gid notifier.GuildID, query string) (notifier.ChannelLookup, error)
}

// Invocation is one parsed command.
type Invocation struct {
	GuildID notifier.GuildID
	ChatID  notifier.DestinationID
	// Args are the words after "twitch".
	Args []string
}

// Router turns invocations into replies.
type Router struct {
	svc    Service
	prefix string
}

// NewRouter returns a router; prefix is only used in reply texts.
func NewRouter(svc Service, prefix string) *Router {
	return &Router{svc: svc, prefix: prefix}
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string { return r.prefix }

// Parse reports whether content is a twitch command and returns its
// arguments.
func (r *Router) Parse(content string) ([]string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(content), r.prefix)
	if !ok {
		return nil, false
	}
	words := strings.Fields(rest)
	if len(words) == 0 || !strings.EqualFold(words[0], Name) {
		return nil, false
	}
	return words[1:], true
}

// Handle runs inv and returns the replies to post, in order. A returned
// error has already been turned into a reply; it is passed back for logging.
func (r *Router) Handle(ctx context.Context, inv Invocation) ([]string, error) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("guild", string(inv.GuildID)))
	replies, err := r.dispatch(ctx, inv)
	telemetry.ObserveCommand(commandLabel(inv.Args), err)
	if err != nil {
		log.Warn("command failed", slog.String("args", strings.Join(inv.Args, " ")), slog.Any("err", err))
		replies = append(replies, notifier.UserMessage(err, r.prefix))
	}
	return replies, err
}

func (r *Router) dispatch(ctx context.Context, inv Invocation) ([]string, error) {
	args := inv.Args
	if len(args) == 0 {
		return []string{r.help()}, nil
	}
	sub := strings.ToLower(args[0])
	switch {
	case len(args) == 1 && sub == "here":
		return []string{r.here(ctx, inv)}, nil
	case len(args) == 1 && sub == "list":
		return []string{r.list(inv)}, nil
	case len(args) == 1 && sub == "live":
		return nil, r.live(ctx, inv)
	case len(args) == 2 && sub == "live" && strings.EqualFold(args[1], "notify"):
		return r.liveNotify(ctx, inv)
	case len(args) == 2 && sub == "follow":
		display, err := r.svc.Follow(ctx, inv.GuildID, args[1])
		if err != nil {
			return nil, err
		}
		return []string{"Notifications enabled for Twitch channel: " + display}, nil
	case len(args) == 2 && sub == "unfollow":
		display, err := r.svc.Unfollow(ctx, inv.GuildID, args[1])
		if err != nil && display == "" {
			return nil, err
		}
		if err != nil {
			// The follower is gone locally; the unused lease lapses on its own.
			telemetry.LoggerWithCorr(ctx).Warn("unsubscribe failed", slog.String("channel", args[1]), slog.Any("err", err))
		}
		return []string{"Notifications disabled for Twitch channel: " + display}, nil
	case len(args) == 2 && sub == "notify":
		return r.toggleNotify(ctx, inv, args[1])
	case len(args) == 1:
		return r.info(ctx, inv, args[0])
	default:
		return []string{r.help()}, nil
	}
}

// commandLabel bounds metric cardinality: channel names never become labels.
func commandLabel(args []string) string {
	if len(args) == 0 {
		return "help"
	}
	switch sub := strings.ToLower(args[0]); sub {
	case "here", "list", "live", "follow", "unfollow", "notify":
		return sub
	}
	return "info"
}

func (r *Router) help() string {
	p := r.prefix
	var b strings.Builder
	b.WriteString("```Commands:\n")
	for _, line := range [][2]string{
		{"twitch [channel]", "display channel info"},
		{"twitch follow [channel]", "enable channel notifications"},
		{"twitch unfollow [channel]", "disable channel notifications"},
		{"twitch notify [channel]", "toggle channel notifications"},
		{"twitch list", "list followed channels"},
		{"twitch here", "toggle notification chatroom"},
		{"twitch live", "post a live digest in this chat"},
		{"twitch live notify", "toggle pings when the live digest changes"},
	} {
		fmt.Fprintf(&b, "    %s%s\n        - %s\n", p, line[0], line[1])
	}
	b.WriteString("```")
	return b.String()
}

func (r *Router) here(ctx context.Context, inv Invocation) string {
	if r.svc.ToggleHere(ctx, inv.GuildID, inv.ChatID) {
		return "Twitch notifications will now appear in this chat!"
	}
	return "Twitch notifications will no longer appear."
}

func (r *Router) list(inv Invocation) string {
	names := r.svc.Followed(inv.GuildID)
	if len(names) == 0 {
		return "No Twitch channels are followed here."
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return "Followed Twitch channels: " + strings.Join(out, ", ")
}

// live replies with the digest post itself.
func (r *Router) live(ctx context.Context, inv Invocation) error {
	_, err := r.svc.PublishDigest(ctx, inv.GuildID, inv.ChatID)
	return err
}

func (r *Router) liveNotify(ctx context.Context, inv Invocation) ([]string, error) {
	on, err := r.svc.ToggleDigestNotify(ctx, inv.GuildID)
	if err != nil {
		return nil, err
	}
	if on {
		return []string{"The live digest will now ping when a channel goes live."}, nil
	}
	return []string{"The live digest will no longer ping."}, nil
}

func (r *Router) toggleNotify(ctx context.Context, inv Invocation, channel string) ([]string, error) {
	display, enabled, err := r.svc.ToggleFollow(ctx, inv.GuildID, channel)
	switch {
	case enabled:
		return []string{"Notifications enabled for Twitch channel: " + display}, nil
	case err != nil && (display == "" || errors.Is(err, notifier.ErrAlreadyFollowing)):
		return nil, err
	default:
		if err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("unsubscribe failed", slog.String("channel", channel), slog.Any("err", err))
		}
		return []string{"Notifications disabled for Twitch channel: " + display}, nil
	}
}

func (r *Router) info(ctx context.Context, inv Invocation, channel string) ([]string, error) {
	found, err := r.svc.Info(ctx, inv.GuildID, channel)
	if err != nil {
		return nil, err
	}
	var out []string
	if found.Fuzzy {
		out = append(out, "The channel could not be found. Did you mean this one?")
	}
	line := found.URL
	if found.Following {
		line += " (notifications enabled)"
	}
	if found.Live {
		line += " (live now)"
	}
	return append(out, line), nil
}
