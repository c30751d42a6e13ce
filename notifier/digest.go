package notifier

import (
	"fmt"
	"strings"
	"time"
)

// Post texts.
const (
	DigestTitle     = "Live on Twitch"
	EmptyDigestText = "Nothing is live right now."
	StaleDigestText = "This digest is no longer updated. A newer one was posted."
	untitledStream  = "(untitled stream)"
	liveColor       = 0x9146FF
)

// Field is one embed field; in a digest Name is the channel URL.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is the rich part of a message.
type Embed struct {
	Title       string
	Description string
	URL         string
	Color       int
	Fields      []Field
	Footer      string
	Timestamp   time.Time
}

// Message is a chat message.
type Message struct {
	Content string
	Embed   *Embed
}

// ChannelURL is the public URL of a channel and the digest field title.
func ChannelURL(login string) string {
	return "https://twitch.tv/" + strings.ToLower(login)
}

func fieldValue(title string) string {
	if strings.TrimSpace(title) == "" {
		return untitledStream
	}
	return title
}

// NewDigest renders a digest listing fields in order.
func NewDigest(fields []Field) Message {
	e := &Embed{Title: DigestTitle, Color: liveColor, Fields: fields}
	if len(fields) == 0 {
		e.Description = EmptyDigestText
	}
	return Message{Embed: e}
}

func findField(fields []Field, name string) int {
	for i, f := range fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// upsertField sets the value of the field titled name, appending it when
// missing. Reports whether it was appended.
func upsertField(msg *Message, name, value string) bool {
	if msg.Embed == nil {
		msg.Embed = &Embed{Title: DigestTitle, Color: liveColor}
	}
	e := msg.Embed
	if i := findField(e.Fields, name); i >= 0 {
		e.Fields[i].Value = value
		return false
	}
	e.Fields = append(e.Fields, Field{Name: name, Value: value})
	e.Description = ""
	return true
}

// removeField drops the first field titled name. An embed left without
// fields gets the empty placeholder.
func removeField(msg *Message, name string) bool {
	if msg.Embed == nil {
		return false
	}
	e := msg.Embed
	i := findField(e.Fields, name)
	if i >= 0 {
		e.Fields = append(e.Fields[:i], e.Fields[i+1:]...)
	}
	if len(e.Fields) == 0 {
		e.Description = EmptyDigestText
	}
	return i >= 0
}

// Announcement is the one-shot go-live message.
func Announcement(ls LiveChannelState) Message {
	url := ChannelURL(ls.Login)
	e := &Embed{
		Title:     fieldValue(ls.Title),
		URL:       url,
		Color:     liveColor,
		Timestamp: ls.StartedAt,
	}
	if ls.GameName != "" {
		e.Fields = []Field{{Name: "Playing", Value: ls.GameName, Inline: true}}
	}
	return Message{
		Content: fmt.Sprintf("%s is now live on Twitch! %s", ls.DisplayName, url),
		Embed:   e,
	}
}

func pingText(ls LiveChannelState) string {
	return fmt.Sprintf("%s went live", ls.DisplayName)
}
