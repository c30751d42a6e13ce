package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/live-herald/commands"
	"github.com/onnwee/live-herald/notifier"
)

// fakeSession stores messages per channel.
type fakeSession struct {
	mu    sync.Mutex
	next  int
	msgs  map[string]*discordgo.Message
	err   error
	edits []*discordgo.MessageEdit
}

func newFakeSession() *fakeSession { return &fakeSession{msgs: map[string]*discordgo.Message{}} }

func unknownMessage() error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMessage, Message: "Unknown Message"},
	}
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.next++
	m := &discordgo.Message{ID: fmt.Sprint(f.next), ChannelID: channelID, Content: data.Content, Embeds: data.Embeds}
	f.msgs[m.ID] = m
	return m, nil
}

func (f *fakeSession) ChannelMessage(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[messageID]
	if !ok || m.ChannelID != channelID {
		return nil, unknownMessage()
	}
	return m, nil
}

func (f *fakeSession) ChannelMessageEditComplex(e *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[e.ID]
	if !ok {
		return nil, unknownMessage()
	}
	f.edits = append(f.edits, e)
	if e.Content != nil {
		m.Content = *e.Content
	}
	if e.Embeds != nil {
		m.Embeds = *e.Embeds
	}
	return m, nil
}

func (f *fakeSession) ChannelMessageDelete(_, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.msgs[messageID]; !ok {
		return unknownMessage()
	}
	delete(f.msgs, messageID)
	return nil
}

func TestPosterRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newFakeSession()
	p := &Poster{s: s}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	digest := notifier.NewDigest([]notifier.Field{{Name: "https://twitch.tv/alice", Value: "hello"}})
	digest.Embed.Timestamp = at
	digest.Embed.Footer = "updated"
	ref, err := p.Send(ctx, "chat", digest)
	require.NoError(t, err)
	assert.Equal(t, notifier.DestinationID("chat"), ref.Chat)

	got, err := p.Fetch(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, digest, got)

	got.Embed.Fields = nil
	got.Embed.Description = notifier.EmptyDigestText
	require.NoError(t, p.Edit(ctx, ref, got))
	again, err := p.Fetch(ctx, ref)
	require.NoError(t, err)
	assert.Empty(t, again.Embed.Fields)
	assert.Equal(t, notifier.EmptyDigestText, again.Embed.Description)

	require.NoError(t, p.Delete(ctx, ref))
}

func TestPosterMapsMissingPostToGone(t *testing.T) {
	ctx := context.Background()
	p := &Poster{s: newFakeSession()}
	ref := notifier.MessageRef{Chat: "chat", ID: "404"}

	_, err := p.Fetch(ctx, ref)
	assert.ErrorIs(t, err, notifier.ErrPostGone)
	assert.ErrorIs(t, p.Edit(ctx, ref, notifier.Message{Content: "x"}), notifier.ErrPostGone)
	assert.ErrorIs(t, p.Delete(ctx, ref), notifier.ErrPostGone)
}

func TestIsGone(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unknown message", unknownMessage(), true},
		{"unknown channel", &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownChannel}}, true},
		{"missing access", &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingAccess}}, true},
		{"bare 404", &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}, true},
		{"rate limited", &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}, false},
		{"network", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isGone(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	s := newFakeSession()
	p := &Poster{s: s}
	router := commands.NewRouter(notifier.New(notifier.Options{}), "!")

	assert.False(t, dispatch(ctx, router, p, "", "chat", "!twitch here"), "direct messages are ignored")
	assert.False(t, dispatch(ctx, router, p, "g1", "chat", "hello there"))
	assert.Empty(t, s.msgs)

	assert.True(t, dispatch(ctx, router, p, "g1", "chat", "!twitch here"))
	require.Len(t, s.msgs, 1)
	assert.Equal(t, "Twitch notifications will now appear in this chat!", s.msgs["1"].Content)
	assert.Equal(t, "chat", s.msgs["1"].ChannelID)
}
