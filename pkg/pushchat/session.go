// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package pushchat

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ConnectionState is the state of the push socket.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateSocketOpen
	StateAuthenticated
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSocketOpen:
		return "socket_open"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens a new push socket and authenticates it with the session
// token. Any existing socket is closed first; events arriving on it after
// this point are ignored and its close does not count as a drop.
//
// A dial failure is reported through the error event and handled like a
// socket close, so auto-reconnect applies to it as well.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.token == "" {
		c.mu.Unlock()
		return ErrNotLoggedIn
	}
	gen, old := c.beginConnectLocked()
	c.mu.Unlock()

	if old != nil {
		c.log.Debug().Uint64("generation", gen-1).Msg("Closing previous socket")
		_ = old.Close()
	}
	return c.dial(ctx, gen)
}

// beginConnectLocked starts a new socket generation. The caller must hold
// c.mu and close the returned previous connection, if any.
func (c *Client) beginConnectLocked() (uint64, Conn) {
	c.generation++
	old := c.conn
	c.conn = nil
	c.stopReconnectLocked()
	c.state = StateConnecting
	return c.generation, old
}

func (c *Client) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

func (c *Client) dial(ctx context.Context, gen uint64) error {
	log := c.log.With().Uint64("generation", gen).Logger()
	log.Info().Str("socket_url", c.opts.SocketURL).Msg("Connecting socket")

	conn, err := c.dialer.Dial(ctx, c.opts.SocketURL)
	if err != nil {
		if !c.isCurrent(gen) {
			return err
		}
		log.Error().Err(err).Msg("Socket connection failed")
		c.emitError(err)
		c.handleClose(gen)
		return err
	}

	c.mu.Lock()
	if c.generation != gen || c.closed {
		c.mu.Unlock()
		log.Debug().Msg("Socket superseded while dialing")
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.state = StateSocketOpen
	token := c.token
	c.mu.Unlock()

	connLog := log.With().Str("conn_id", uuid.NewString()).Logger()
	connLog.Debug().Msg("Socket open, authenticating")
	go c.readLoop(gen, conn, connLog)
	if c.opts.PingInterval > 0 {
		go c.pingLoop(gen, conn, connLog)
	}

	if err := conn.WriteJSON(authenticateRequest{Type: FrameAuthenticate, Token: token}); err != nil {
		connLog.Error().Err(err).Msg("Failed to send authenticate frame")
		// The read loop observes the closed socket and handles the drop.
		_ = conn.Close()
		return fmt.Errorf("failed to send authenticate frame: %w", err)
	}
	return nil
}

func (c *Client) readLoop(gen uint64, conn Conn, log zerolog.Logger) {
	defer c.handleClose(gen)
	defer conn.Close()
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if c.isCurrent(gen) {
				log.Warn().Err(err).Msg("Socket closed")
			} else {
				log.Debug().Err(err).Msg("Superseded socket closed")
			}
			return
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to decode frame")
			continue
		}
		c.handleFrame(gen, frame, log)
	}
}

func (c *Client) pingLoop(gen uint64, conn Conn, log zerolog.Logger) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.isCurrent(gen) {
				return
			}
			if err := conn.WriteJSON(pingRequest{Type: FramePing, Data: time.Now().UnixMilli()}); err != nil {
				log.Debug().Err(err).Msg("Stopping keepalive")
				return
			}
		}
	}
}

// handleClose processes the close of the socket of generation gen. Closes
// of superseded sockets are ignored. For the active socket it moves to
// Disconnected, emits dropped and schedules exactly one reconnect when
// enabled.
func (c *Client) handleClose(gen uint64) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	// The reconnect budget is measured from the drop of a healthy socket,
	// not from the authentication that opened it.
	if c.state == StateAuthenticated {
		c.backoff.Reset()
	}
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.log.Info().Uint64("generation", gen).Msg("Socket dropped")
	c.emitDropped()
	c.scheduleReconnect(gen)
}

func (c *Client) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if !c.opts.AutoReconnect || c.closed || c.token == "" || c.generation != gen || c.reconnectTimer != nil {
		c.mu.Unlock()
		return
	}
	delay := c.backoff.NextBackOff()
	if delay == backoff.Stop {
		c.mu.Unlock()
		c.log.Error().Msg("Giving up on reconnecting")
		c.emitError(fmt.Errorf("failed to reconnect socket: %w", ErrReconnectExhausted))
		return
	}
	c.reconnectTimer = time.AfterFunc(delay, func() { c.reconnect(gen) })
	c.mu.Unlock()

	c.log.Debug().Dur("delay", delay).Msg("Scheduled reconnect")
}

func (c *Client) reconnect(prevGen uint64) {
	c.mu.Lock()
	if c.closed || c.token == "" || c.generation != prevGen {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	gen, old := c.beginConnectLocked()
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	c.log.Info().Uint64("generation", gen).Msg("Reconnecting")
	_ = c.dial(c.ctx, gen)
}

func (c *Client) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}
