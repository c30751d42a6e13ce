package twitchapi

import (
	"net/http"
	"regexp"
)

// Query parameters the hub sends to the callback URL.
const (
	ParamChallenge = "hub.challenge"
	ParamMode      = "hub.mode"
	ParamTopic     = "hub.topic"
	ParamReason    = "hub.reason"
)

// ModeDenied is sent when the hub refuses a subscription.
const ModeDenied = "denied"

var linkUserID = regexp.MustCompile(`user_id=(\d+)`)

// RemoteIDFromLink extracts the subject user id from the Link header of a
// stream notification, e.g.
//
//	Link: <https://api.twitch.tv/helix/webhooks/hub>; rel="hub", <https://api.twitch.tv/helix/streams?user_id=5678>; rel="self"
//
// Returns "" when no header carries the pattern.
func RemoteIDFromLink(h http.Header) string {
	for _, v := range h.Values("Link") {
		if m := linkUserID.FindStringSubmatch(v); m != nil {
			return m[1]
		}
	}
	return ""
}
