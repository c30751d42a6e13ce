package notifier

import (
	"errors"
	"fmt"

	"github.com/onnwee/live-herald/twitchapi"
)

var (
	ErrNoDestination    = errors.New("no notify chat configured")
	ErrAlreadyFollowing = errors.New("already following")
	ErrNotFollowing     = errors.New("not following")
	ErrChannelNotFound  = errors.New("channel does not exist")
	ErrNoMatch          = errors.New("no matching channel")
	ErrNoDigest         = errors.New("no live digest configured")
	// ErrPostGone is returned by a Poster when the message was deleted.
	ErrPostGone = errors.New("post no longer exists")
)

// UserMessage maps an engine error to the reply shown in chat. prefix is the
// command prefix used in hints.
func UserMessage(err error, prefix string) string {
	var ae *twitchapi.AuthError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoDestination):
		return fmt.Sprintf("Please first assign a chat to notify in. The command is '%stwitch here'.", prefix)
	case errors.Is(err, ErrChannelNotFound):
		return "This channel does not exist."
	case errors.Is(err, ErrNoMatch):
		return "Could not find a matching channel."
	case errors.Is(err, ErrAlreadyFollowing):
		return "This channel is already followed here."
	case errors.Is(err, ErrNotFollowing):
		return "This channel is not followed here."
	case errors.Is(err, ErrNoDigest):
		return fmt.Sprintf("There is no live digest yet. Create one with '%stwitch live'.", prefix)
	case errors.As(err, &ae), twitchapi.IsTransient(err):
		return "Could not retrieve data from Twitch, try again later."
	default:
		return "Could not send data to Twitch, try again later."
	}
}
