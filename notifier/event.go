package notifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/onnwee/live-herald/twitchapi"
)

// Event is one decoded hub delivery.
type Event interface {
	Kind() string
	event()
}

// Challenge is the hub's subscription verification request.
type Challenge struct{ Value string }

// Denied reports that the hub refused a subscription.
type Denied struct {
	Topic  string
	Reason string
}

// Ended reports that the stream of RemoteID went offline.
type Ended struct{ RemoteID string }

// Started reports a stream going live or changing while live.
type Started struct{ Stream twitchapi.Stream }

// Malformed is any delivery that could not be decoded.
type Malformed struct{ Err error }

func (Challenge) Kind() string { return "challenge" }
func (Denied) Kind() string    { return "denied" }
func (Ended) Kind() string     { return "ended" }
func (Started) Kind() string   { return "started" }
func (Malformed) Kind() string { return "malformed" }

func (Challenge) event() {}
func (Denied) event()    {}
func (Ended) event()     {}
func (Started) event()   {}
func (Malformed) event() {}

// DecodeEvent classifies a delivery before any state is touched. An empty
// body is a hub callback (challenge or denial); otherwise the body must be
// {"data": [...]} where an empty list means offline.
func DecodeEvent(query url.Values, header http.Header, body []byte) Event {
	if len(bytes.TrimSpace(body)) == 0 {
		if v := query.Get(twitchapi.ParamChallenge); v != "" {
			return Challenge{Value: v}
		}
		if query.Get(twitchapi.ParamMode) == twitchapi.ModeDenied {
			return Denied{Topic: query.Get(twitchapi.ParamTopic), Reason: query.Get(twitchapi.ParamReason)}
		}
		return Malformed{Err: errors.New("empty body without hub.challenge")}
	}

	var payload struct {
		Data *[]twitchapi.Stream `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Malformed{Err: fmt.Errorf("decode push body: %w", err)}
	}
	if payload.Data == nil {
		return Malformed{Err: errors.New("push body has no data field")}
	}
	if len(*payload.Data) == 0 {
		id := twitchapi.RemoteIDFromLink(header)
		if id == "" {
			return Malformed{Err: errors.New("offline push without user id in Link header")}
		}
		return Ended{RemoteID: id}
	}
	st := (*payload.Data)[0]
	if st.UserID == "" {
		return Malformed{Err: errors.New("stream entry without user_id")}
	}
	return Started{Stream: st}
}

// WebhookResponse is what the HTTP layer writes back to the hub.
type WebhookResponse struct {
	Status      int
	ContentType string
	Body        string
}

func ack() WebhookResponse { return WebhookResponse{Status: http.StatusOK} }
