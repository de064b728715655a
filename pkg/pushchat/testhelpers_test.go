// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package pushchat

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const testTimeout = 5 * time.Second

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Query  string
	Body   string
	Auth   string
}

// fakeChat is a test helper that wraps an httptest.Server simulating the
// chat service: the HTTP API plus a websocket endpoint at /ws.
type fakeChat struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Users maps user ID to the user record.
	Users map[string]RawUser
	// TokenToUser maps bearer tokens to user IDs for /users/@me.
	TokenToUser map[string]string
	// Channels maps channel ID to the channel record.
	Channels map[string]RawChannel
	// Messages maps channel ID to its history, newest first.
	Messages map[string][]RawMessage
	// Logins maps email to the login response body.
	Logins map[string]loginResponse
	// LookupResults maps a lookup query to user IDs in result order.
	LookupResults map[string][]string
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
	// ChannelDelay delays channel fetches.
	ChannelDelay time.Duration

	upgrader websocket.Upgrader
	sockets  chan *fakeSocket
	opened   []*fakeSocket
}

func newFakeChat() *fakeChat {
	f := &fakeChat{
		Users:         make(map[string]RawUser),
		TokenToUser:   make(map[string]string),
		Channels:      make(map[string]RawChannel),
		Messages:      make(map[string][]RawMessage),
		Logins:        make(map[string]loginResponse),
		LookupResults: make(map[string][]string),
		FailEndpoints: make(map[string]bool),
		sockets:       make(chan *fakeSocket, 16),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeChat) Close() {
	f.Server.Close()
}

// closeSockets closes the server side of every socket accepted so far.
func (f *fakeChat) closeSockets() {
	f.mu.Lock()
	opened := f.opened
	f.opened = nil
	f.mu.Unlock()
	for _, sock := range opened {
		sock.close()
	}
}

func (f *fakeChat) socketURL() string {
	return httpToWS(f.Server.URL) + "/ws"
}

// update mutates the fake's fixtures while requests may be in flight.
func (f *fakeChat) update(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func (f *fakeChat) record(call endpointCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeChat) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// CallCount returns how many requests hit exactly method + path.
func (f *fakeChat) CallCount(method, path string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

func (f *fakeChat) CalledPath(path string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeChat) handler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ws" {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sock := &fakeSocket{conn: conn}
		f.mu.Lock()
		f.opened = append(f.opened, sock)
		f.mu.Unlock()
		f.sockets <- sock
		return
	}

	body, _ := io.ReadAll(r.Body)
	f.record(endpointCall{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Body:   string(body),
		Auth:   r.Header.Get("Authorization"),
	})

	f.mu.Lock()
	delay := f.ChannelDelay
	f.mu.Unlock()
	if delay > 0 && r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/channels/") {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for prefix := range f.FailEndpoints {
		if strings.HasPrefix(r.URL.Path, prefix) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "fake error"})
			return
		}
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && path == "/account/login":
		var req loginRequest
		_ = json.Unmarshal(body, &req)
		resp, ok := f.Logins[req.Email]
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unknown account"})
			return
		}
		writeJSON(w, http.StatusOK, resp)

	case r.Method == http.MethodPost && path == "/account/logout":
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	case r.Method == http.MethodGet && path == "/users/@me":
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		uid, ok := f.TokenToUser[token]
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid session"})
			return
		}
		writeJSON(w, http.StatusOK, f.Users[uid])

	case r.Method == http.MethodPost && path == "/users/lookup":
		var req struct {
			Query string `json:"query"`
		}
		_ = json.Unmarshal(body, &req)
		users := []RawUser{}
		for _, id := range f.LookupResults[req.Query] {
			users = append(users, f.Users[id])
		}
		writeJSON(w, http.StatusOK, users)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/users/"):
		id := strings.TrimPrefix(path, "/users/")
		if u, ok := f.Users[id]; ok {
			writeJSON(w, http.StatusOK, u)
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})

	case strings.HasPrefix(path, "/channels/") && strings.HasSuffix(path, "/messages"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/channels/"), "/messages")
		if r.Method == http.MethodPost {
			var req sendMessageRequest
			_ = json.Unmarshal(body, &req)
			writeJSON(w, http.StatusOK, RawMessage{
				ID:      "created-message-id",
				Channel: id,
				Author:  "my-user-id",
				Content: req.Content,
				Nonce:   req.Nonce,
			})
			return
		}
		msgs := f.Messages[id]
		if msgs == nil {
			msgs = []RawMessage{}
		}
		writeJSON(w, http.StatusOK, msgs)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/channels/"):
		id := strings.TrimPrefix(path, "/channels/")
		if ch, ok := f.Channels[id]; ok {
			writeJSON(w, http.StatusOK, ch)
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "channel not found"})

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found: " + path})
	}
}

// nextSocket waits for the client to open a socket.
func (f *fakeChat) nextSocket(t *testing.T) *fakeSocket {
	t.Helper()
	select {
	case s := <-f.sockets:
		return s
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for socket connection")
		return nil
	}
}

// expectNoSocket fails if the client opens a socket within d.
func (f *fakeChat) expectNoSocket(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case s := <-f.sockets:
		_ = s.conn.Close()
		t.Fatal("unexpected socket connection")
	case <-time.After(d):
	}
}

// fakeSocket is the server side of one client socket.
type fakeSocket struct {
	conn *websocket.Conn
}

func (s *fakeSocket) readFrame(t *testing.T) map[string]any {
	t.Helper()
	_ = s.conn.SetReadDeadline(time.Now().Add(testTimeout))
	var frame map[string]any
	if err := s.conn.ReadJSON(&frame); err != nil {
		t.Fatalf("failed to read client frame: %v", err)
	}
	return frame
}

func (s *fakeSocket) send(t *testing.T, v any) {
	t.Helper()
	if err := s.conn.WriteJSON(v); err != nil {
		t.Fatalf("failed to send frame: %v", err)
	}
}

// acceptAuth reads the authenticate frame and acknowledges it.
func (s *fakeSocket) acceptAuth(t *testing.T, wantToken string) {
	t.Helper()
	frame := s.readFrame(t)
	if frame["type"] != FrameAuthenticate {
		t.Fatalf("first frame type: got %v, want %q", frame["type"], FrameAuthenticate)
	}
	if frame["token"] != wantToken {
		t.Fatalf("authenticate token: got %v, want %q", frame["token"], wantToken)
	}
	s.send(t, map[string]any{"type": FrameAuthenticate, "success": true})
}

func (s *fakeSocket) close() {
	_ = s.conn.Close()
}

// newTestClient creates a client against the fake server that reconnects
// without delay when auto-reconnect is enabled.
func newTestClient(t *testing.T, f *fakeChat, opts ...func(*Options)) *Client {
	t.Helper()
	o := Options{
		APIURL:    f.Server.URL,
		SocketURL: f.socketURL(),
		Backoff:   &backoff.ZeroBackOff{},
		Log:       zerolog.Nop(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	c := New(o)
	t.Cleanup(func() {
		_ = c.Close()
		f.closeSockets()
	})
	return c
}

func withAutoReconnect(o *Options) { o.AutoReconnect = true }

// seedAccount registers a loginable account and its profile.
func (f *fakeChat) seedAccount(email, token, userID string) {
	f.Logins[email] = loginResponse{Success: true, AccessToken: token, ID: userID}
	f.Users[userID] = RawUser{ID: userID, Username: "user-" + userID}
	f.TokenToUser[token] = userID
}

// loginAndAuthenticate logs the client in and completes the socket
// handshake, waiting until connected is observed.
func loginAndAuthenticate(t *testing.T, f *fakeChat, c *Client, rec *eventRecorder) *fakeSocket {
	t.Helper()
	f.seedAccount("a@b.com", "T", "U1")
	if err := c.Login(t.Context(), "a@b.com", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	sock := f.nextSocket(t)
	sock.acceptAuth(t, "T")
	rec.waitFor(t, "connected")
	return sock
}

// newOfflineClient creates a client whose session is authenticated on a
// fake generation so frame handlers can be driven directly.
func newOfflineClient(t *testing.T, f *fakeChat) *Client {
	t.Helper()
	c := newTestClient(t, f)
	c.setSession("T", "U1")
	c.mu.Lock()
	c.generation = 1
	c.state = StateAuthenticated
	c.mu.Unlock()
	return c
}

type recordedEvent struct {
	Kind     string
	Message  *Message
	Previous *MessageSnapshot
	ID       string
	Err      error
}

// eventRecorder captures every event emitted by a client.
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
	ch     chan recordedEvent
}

func recordEvents(c *Client) *eventRecorder {
	r := &eventRecorder{ch: make(chan recordedEvent, 256)}
	c.OnReady(func() { r.add(recordedEvent{Kind: "ready"}) })
	c.OnConnected(func() { r.add(recordedEvent{Kind: "connected"}) })
	c.OnDropped(func() { r.add(recordedEvent{Kind: "dropped"}) })
	c.OnError(func(err error) { r.add(recordedEvent{Kind: "error", Err: err}) })
	c.OnMessage(func(msg *Message) { r.add(recordedEvent{Kind: "message", Message: msg, ID: msg.ID}) })
	c.OnMessageUpdate(func(msg *Message, prev *MessageSnapshot) {
		r.add(recordedEvent{Kind: "message_update", Message: msg, Previous: prev, ID: msg.ID})
	})
	c.OnMessageDelete(func(id string, prev *MessageSnapshot) {
		r.add(recordedEvent{Kind: "message_delete", Previous: prev, ID: id})
	})
	return r
}

func (r *eventRecorder) add(evt recordedEvent) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	select {
	case r.ch <- evt:
	default:
	}
}

func (r *eventRecorder) Events() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]recordedEvent, len(r.events))
	copy(cp, r.events)
	return cp
}

func (r *eventRecorder) Count(kind string) int {
	n := 0
	for _, evt := range r.Events() {
		if evt.Kind == kind {
			n++
		}
	}
	return n
}

// next returns the next event in emission order.
func (r *eventRecorder) next(t *testing.T) recordedEvent {
	t.Helper()
	select {
	case evt := <-r.ch:
		return evt
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for event")
		return recordedEvent{}
	}
}

// waitFor skips events until one of kind arrives.
func (r *eventRecorder) waitFor(t *testing.T, kind string) recordedEvent {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case evt := <-r.ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return recordedEvent{}
		}
	}
}

// expectQuiet fails if any event is emitted within d.
func (r *eventRecorder) expectQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case evt := <-r.ch:
		t.Fatalf("unexpected %s event", evt.Kind)
	case <-time.After(d):
	}
}
