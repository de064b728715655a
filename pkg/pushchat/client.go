// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package pushchat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Client is one logical session with the chat service. It owns the session
// token, the entity cache and at most one push socket at a time.
type Client struct {
	EventBus

	opts    Options
	log     zerolog.Logger
	gateway *Gateway
	cache   *Cache
	dialer  Dialer

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	token          string
	userID         string
	state          ConnectionState
	conn           Conn
	generation     uint64
	backoff        backoff.BackOff
	reconnectTimer *time.Timer
	closed         bool

	readyOnce sync.Once
}

// New creates a client with an empty session.
func New(opts Options) *Client {
	log := opts.Log.With().Str("component", "chat_client").Logger()
	if opts.Backoff == nil {
		opts.Backoff = DefaultBackoff()
	}
	if opts.Dialer == nil {
		opts.Dialer = &WebSocketDialer{}
	}
	gateway := NewGateway(opts.APIURL, opts.HTTPClient, opts.Log)
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:    opts,
		log:     log,
		gateway: gateway,
		cache:   NewCache(gateway, opts.DedupeFetches, opts.Log),
		dialer:  opts.Dialer,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateDisconnected,
		backoff: opts.Backoff,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success     bool   `json:"success"`
	AccessToken string `json:"access_token"`
	ID          string `json:"id"`
	Error       string `json:"error,omitempty"`
}

// Login authenticates with email and password, fetches the own profile and
// connects the socket. Failures are emitted as error events and returned;
// no socket is opened after a failed login.
func (c *Client) Login(ctx context.Context, email, password string) error {
	if c.isClosed() {
		return ErrClientClosed
	}

	var resp loginResponse
	err := c.gateway.Request(ctx, http.MethodPost, "/account/login", loginRequest{
		Email:    email,
		Password: password,
	}, &resp)
	if err != nil {
		return c.failLogin(loginError(err))
	}
	if !resp.Success {
		reason := resp.Error
		if reason == "" {
			reason = "login rejected"
		}
		return c.failLogin(&AuthError{Reason: reason})
	}
	if resp.AccessToken == "" || resp.ID == "" {
		return c.failLogin(&AuthError{Reason: "login response missing access token or user id"})
	}

	c.setSession(resp.AccessToken, resp.ID)
	c.log.Info().Str("user_id", resp.ID).Msg("Logged in")

	if _, err := c.cache.FetchUser(ctx, resp.ID); err != nil {
		err = fmt.Errorf("failed to fetch own profile: %w", err)
		c.log.Error().Err(err).Msg("Profile fetch failed")
		c.emitError(err)
		return err
	}
	return c.Connect(ctx)
}

// loginError converts HTTP-level rejections of the login request into
// authentication errors.
func loginError(err error) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) &&
		(httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden) {
		return &AuthError{Reason: httpErr.Message}
	}
	return fmt.Errorf("failed to log in: %w", err)
}

func (c *Client) failLogin(err error) error {
	c.log.Error().Err(err).Msg("Login failed")
	c.resetSession()
	c.emitError(err)
	return err
}

// LoginWithToken resumes a session from an existing token: it verifies the
// token against the own profile and connects the socket.
func (c *Client) LoginWithToken(ctx context.Context, token string) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	if token == "" {
		return c.failLogin(&AuthError{Reason: "empty token"})
	}

	c.gateway.SetToken(token)
	var me RawUser
	if err := c.gateway.Request(ctx, http.MethodGet, "/users/@me", nil, &me); err != nil {
		return c.failLogin(loginError(err))
	}
	if me.ID == "" {
		return c.failLogin(&AuthError{Reason: "token did not resolve to a user"})
	}

	c.setSession(token, me.ID)
	c.cache.StoreUser(me)
	c.log.Info().Str("user_id", me.ID).Str("username", me.Username).Msg("Resumed session")
	return c.Connect(ctx)
}

// Logout invalidates the session on the server, resets the local session
// and closes the socket without reconnecting.
func (c *Client) Logout(ctx context.Context) error {
	var err error
	if c.gateway.Token() != "" {
		if err = c.gateway.Request(ctx, http.MethodPost, "/account/logout", nil, nil); err != nil {
			c.log.Warn().Err(err).Msg("Remote logout failed")
			err = fmt.Errorf("failed to log out: %w", err)
		}
	}
	c.resetSession()
	return err
}

// Close tears the client down. Pending reconnects are cancelled, the socket
// is closed and in-flight socket processing is cancelled.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopReconnectLocked()
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setSession(token, userID string) {
	c.mu.Lock()
	c.token = token
	c.userID = userID
	c.mu.Unlock()
	c.gateway.SetToken(token)
}

// resetSession clears the credentials and closes the active socket. The
// close is reported as a drop but never reconnects since no token remains.
func (c *Client) resetSession() {
	c.mu.Lock()
	c.token = ""
	c.userID = ""
	c.stopReconnectLocked()
	conn := c.conn
	c.mu.Unlock()

	c.gateway.SetToken("")
	if conn != nil {
		_ = conn.Close()
	}
}

// Token returns the session token, or "" when not logged in.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// UserID returns the id of the logged in user.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Me returns the cached profile of the logged in user.
func (c *Client) Me() (*User, bool) {
	userID := c.UserID()
	if userID == "" {
		return nil, false
	}
	return c.cache.User(userID)
}

// Cache returns the entity cache of this session.
func (c *Client) Cache() *Cache {
	return c.cache
}

// Gateway returns the HTTP gateway of this session.
func (c *Client) Gateway() *Gateway {
	return c.gateway
}

// FindUser returns a user from the cache, fetching it on a miss. Fetch
// errors are returned unchanged in kind; check errors.Is(err, ErrNotFound).
func (c *Client) FindUser(ctx context.Context, id string) (*User, error) {
	return c.cache.FindUser(ctx, id)
}

// FindChannel returns a channel from the cache, fetching it on a miss.
func (c *Client) FindChannel(ctx context.Context, id string) (*Channel, error) {
	return c.cache.FindChannel(ctx, id)
}

// Lookup searches users by query and returns them in server order.
func (c *Client) Lookup(ctx context.Context, query string) ([]*User, error) {
	return c.cache.Lookup(ctx, query)
}
