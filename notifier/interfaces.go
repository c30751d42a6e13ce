package notifier

import (
	"context"

	"github.com/onnwee/live-herald/twitchapi"
)

// Hub manages push subscriptions for stream changes of a remote user id.
type Hub interface {
	Subscribe(ctx context.Context, remoteID string) error
	Unsubscribe(ctx context.Context, remoteID string) error
	Subscriptions(ctx context.Context) ([]twitchapi.WebhookSubscription, error)
}

// Directory resolves channel names.
type Directory interface {
	GetUser(ctx context.Context, login string) (twitchapi.User, error)
	SearchChannel(ctx context.Context, query string) (twitchapi.Channel, error)
}

// StreamSource polls which of the given remote ids are live.
type StreamSource interface {
	GetStreams(ctx context.Context, remoteIDs []string) ([]twitchapi.Stream, error)
}

// Poster sends and edits chat messages. Fetch and Edit return an error
// wrapping ErrPostGone when the message or its chat no longer exists.
type Poster interface {
	Send(ctx context.Context, chat DestinationID, msg Message) (MessageRef, error)
	Fetch(ctx context.Context, ref MessageRef) (Message, error)
	Edit(ctx context.Context, ref MessageRef, msg Message) error
	Delete(ctx context.Context, ref MessageRef) error
}

// StateStore persists opaque blobs by key.
type StateStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, blob []byte) error
}
