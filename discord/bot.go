package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/onnwee/live-herald/commands"
	"github.com/onnwee/live-herald/notifier"
	"github.com/onnwee/live-herald/telemetry"
)

const commandTimeout = 30 * time.Second

// Bot owns the gateway session and routes guild messages to commands.
type Bot struct {
	session *discordgo.Session
	poster  *Poster
	router  *commands.Router
}

// New creates a session for token. Handlers are attached by Start.
func New(token string) (*Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	return &Bot{session: s, poster: NewPoster(s)}, nil
}

// Poster returns the message poster bound to the session.
func (b *Bot) Poster() *Poster { return b.poster }

// Start attaches router and opens the gateway connection.
func (b *Bot) Start(router *commands.Router) error {
	b.router = router
	b.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord connected", slog.String("user", r.User.Username), slog.Int("guilds", len(r.Guilds)))
	})
	b.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		b.onMessage(m.GuildID, m.ChannelID, m.Content)
	})
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error { return b.session.Close() }

// Ready reports whether the gateway handshake completed.
func (b *Bot) Ready() bool { return b.session.DataReady }

func (b *Bot) onMessage(guildID, chatID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	dispatch(ctx, b.router, b.poster, guildID, chatID, content)
}

// dispatch runs one message through router and posts the replies. Direct
// messages are ignored: every command is guild-scoped.
func dispatch(ctx context.Context, router *commands.Router, poster notifier.Poster, guildID, chatID, content string) bool {
	if guildID == "" || router == nil {
		return false
	}
	args, ok := router.Parse(content)
	if !ok {
		return false
	}
	inv := commands.Invocation{GuildID: notifier.GuildID(guildID), ChatID: notifier.DestinationID(chatID), Args: args}
	ctx, span := telemetry.StartSpan(ctx, "discord", "command", telemetry.GuildAttr(guildID))
	defer span.End()
	replies, err := router.Handle(ctx, inv)
	if err != nil {
		telemetry.RecordError(span, err)
	}
	for _, text := range replies {
		if _, err := poster.Send(ctx, inv.ChatID, notifier.Message{Content: text}); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("reply failed", slog.String("chat", chatID), slog.Any("err", err))
			return true
		}
	}
	return true
}
