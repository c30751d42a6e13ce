package twitchapi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrNotFound is returned when a lookup matched nothing.
var ErrNotFound = errors.New("twitch: not found")

// StatusError is a non-2xx Helix response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("twitch api status %d: %s", e.Status, e.Body)
}

// IsAuthFailure reports whether a status means the app token was rejected.
func IsAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusPaymentRequired || status == http.StatusForbidden
}

// IsTransient reports whether err is a network failure or a retryable
// server-side status. Callers surface these as "try again later".
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	var ne net.Error
	return errors.As(err, &ne)
}
