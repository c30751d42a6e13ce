package notifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDigestFieldEditing(t *testing.T) {
	msg := NewDigest(nil)
	assert.Equal(t, EmptyDigestText, msg.Embed.Description)

	assert.True(t, upsertField(&msg, ChannelURL("Alice"), "hello"))
	assert.Empty(t, msg.Embed.Description)
	assert.False(t, upsertField(&msg, "https://twitch.tv/alice", "renamed"))
	assert.True(t, upsertField(&msg, ChannelURL("bob"), fieldValue("")))
	assert.Equal(t, []Field{
		{Name: "https://twitch.tv/alice", Value: "renamed"},
		{Name: "https://twitch.tv/bob", Value: untitledStream},
	}, msg.Embed.Fields)

	assert.False(t, removeField(&msg, ChannelURL("carol")))
	assert.True(t, removeField(&msg, ChannelURL("alice")))
	assert.Empty(t, msg.Embed.Description)
	assert.True(t, removeField(&msg, ChannelURL("bob")))
	assert.Equal(t, EmptyDigestText, msg.Embed.Description)
}

func TestUpsertFieldOnPlainMessage(t *testing.T) {
	var msg Message
	assert.True(t, upsertField(&msg, "https://twitch.tv/alice", "x"))
	assert.Equal(t, DigestTitle, msg.Embed.Title)
	assert.False(t, removeField(&Message{}, "https://twitch.tv/alice"))
}

func TestAnnouncement(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := Announcement(LiveChannelState{Login: "alice", DisplayName: "Alice", Title: "hello", GameName: "Chess", StartedAt: at})

	assert.Equal(t, "Alice is now live on Twitch! https://twitch.tv/alice", msg.Content)
	assert.Equal(t, "hello", msg.Embed.Title)
	assert.Equal(t, "https://twitch.tv/alice", msg.Embed.URL)
	assert.Equal(t, at, msg.Embed.Timestamp)
	assert.Equal(t, []Field{{Name: "Playing", Value: "Chess", Inline: true}}, msg.Embed.Fields)

	msg = Announcement(LiveChannelState{Login: "bob", DisplayName: "Bob"})
	assert.Equal(t, untitledStream, msg.Embed.Title)
	assert.Empty(t, msg.Embed.Fields)
}
