// Package discord connects the notifier to Discord: it posts and edits
// messages through discordgo and feeds guild messages to the command router.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/live-herald/notifier"
)

// session is the subset of *discordgo.Session the poster uses.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// Poster implements notifier.Poster over a Discord session.
type Poster struct {
	s session
}

// NewPoster wraps s.
func NewPoster(s *discordgo.Session) *Poster { return &Poster{s: s} }

func (p *Poster) Send(ctx context.Context, chat notifier.DestinationID, msg notifier.Message) (notifier.MessageRef, error) {
	data := &discordgo.MessageSend{Content: msg.Content}
	if msg.Embed != nil {
		data.Embeds = []*discordgo.MessageEmbed{toEmbed(msg.Embed)}
	}
	m, err := p.s.ChannelMessageSendComplex(string(chat), data, discordgo.WithContext(ctx))
	if err != nil {
		return notifier.MessageRef{}, classify(fmt.Sprintf("send to %s", chat), err)
	}
	return notifier.MessageRef{Chat: chat, ID: m.ID}, nil
}

func (p *Poster) Fetch(ctx context.Context, ref notifier.MessageRef) (notifier.Message, error) {
	m, err := p.s.ChannelMessage(string(ref.Chat), ref.ID, discordgo.WithContext(ctx))
	if err != nil {
		return notifier.Message{}, classify("fetch "+ref.ID, err)
	}
	out := notifier.Message{Content: m.Content}
	if len(m.Embeds) > 0 {
		out.Embed = fromEmbed(m.Embeds[0])
	}
	return out, nil
}

func (p *Poster) Edit(ctx context.Context, ref notifier.MessageRef, msg notifier.Message) error {
	edit := discordgo.NewMessageEdit(string(ref.Chat), ref.ID).SetContent(msg.Content)
	embeds := []*discordgo.MessageEmbed{}
	if msg.Embed != nil {
		embeds = append(embeds, toEmbed(msg.Embed))
	}
	edit.SetEmbeds(embeds)
	if _, err := p.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return classify("edit "+ref.ID, err)
	}
	return nil
}

func (p *Poster) Delete(ctx context.Context, ref notifier.MessageRef) error {
	if err := p.s.ChannelMessageDelete(string(ref.Chat), ref.ID, discordgo.WithContext(ctx)); err != nil {
		return classify("delete "+ref.ID, err)
	}
	return nil
}

// classify wraps err, adding notifier.ErrPostGone when Discord reports the
// message or channel as unknown or inaccessible.
func classify(op string, err error) error {
	if isGone(err) {
		return fmt.Errorf("%s: %w: %w", op, notifier.ErrPostGone, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isGone(err error) bool {
	var re *discordgo.RESTError
	if !errors.As(err, &re) {
		return false
	}
	if re.Message != nil {
		switch re.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeMissingAccess:
			return true
		}
	}
	return re.Response != nil && re.Response.StatusCode == http.StatusNotFound
}

func toEmbed(e *notifier.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	return out
}

func fromEmbed(e *discordgo.MessageEmbed) *notifier.Embed {
	out := &notifier.Embed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		if f == nil {
			continue
		}
		out.Fields = append(out.Fields, notifier.Field{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if e.Footer != nil {
		out.Footer = e.Footer.Text
	}
	if e.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
			out.Timestamp = ts
		}
	}
	return out
}
