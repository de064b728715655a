// Copyright 2024-2026 Aiku AI

package pushchat

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotLoggedIn is returned when an operation needs a session token and
	// none has been set.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrClientClosed is returned by operations on a client after Close.
	ErrClientClosed = errors.New("client closed")
	// ErrNotFound matches any HTTPError with a 404 status.
	ErrNotFound = errors.New("not found")
	// ErrReconnectExhausted is emitted when the reconnect policy gives up.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

const defaultAuthFailure = "authentication failed"

// AuthError is an application-level authentication rejection, either from
// the login endpoint or from the socket authenticate acknowledgment.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return defaultAuthFailure
	}
	return e.Reason
}

// HTTPError is returned by the gateway for non-2xx responses.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, msg)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}
