package server

import (
	"context"
	"net/http"
	"net/url"

	"github.com/onnwee/live-herald/notifier"
)

// Engine is the notifier surface the HTTP layer drives.
type Engine interface {
	HandleWebhook(ctx context.Context, query url.Values, header http.Header, body []byte) notifier.WebhookResponse
	Status() notifier.Status
	Renew(ctx context.Context) (notifier.RenewResult, error)
	Resync(ctx context.Context) error
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Engine Engine
	Store  Pinger
	// ChatReady reports whether the chat gateway is connected; nil skips the check.
	ChatReady func() bool
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	engine    Engine
	store     Pinger
	chatReady func() bool
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		engine:    deps.Engine,
		store:     deps.Store,
		chatReady: deps.ChatReady,
	}
}
