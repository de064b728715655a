// Copyright 2024-2026 Aiku AI

package pushchat

import (
	"fmt"

	"github.com/rs/zerolog"
)

// handleFrame dispatches one decoded frame of socket generation gen.
func (c *Client) handleFrame(gen uint64, frame Frame, log zerolog.Logger) {
	if !c.isCurrent(gen) {
		log.Debug().Str("frame_type", frame.FrameType()).Msg("Ignoring frame from superseded socket")
		return
	}

	switch f := frame.(type) {
	case *AuthenticateFrame:
		c.handleAuthenticate(gen, f, log)
	case *PongFrame:
		log.Trace().Msg("Received pong")
	case *UnknownFrame:
		log.Trace().Str("frame_type", f.Type).Msg("Unhandled frame type")
	case *MessageFrame:
		if c.acceptPush(frame, log) {
			c.handleMessage(f, log)
		}
	case *MessageUpdateFrame:
		if c.acceptPush(frame, log) {
			c.handleMessageUpdate(f, log)
		}
	case *MessageDeleteFrame:
		if c.acceptPush(frame, log) {
			c.handleMessageDelete(f, log)
		}
	}
}

// acceptPush reports whether push events may be normalized, which is only
// the case on an authenticated socket.
func (c *Client) acceptPush(frame Frame, log zerolog.Logger) bool {
	if state := c.State(); state != StateAuthenticated {
		log.Debug().
			Str("frame_type", frame.FrameType()).
			Stringer("state", state).
			Msg("Dropping push frame on unauthenticated socket")
		return false
	}
	return true
}

func (c *Client) handleAuthenticate(gen uint64, f *AuthenticateFrame, log zerolog.Logger) {
	if !f.Success {
		reason := f.Error
		if reason == "" {
			reason = defaultAuthFailure
		}
		log.Warn().Str("reason", reason).Msg("Socket authentication rejected")
		c.emitError(&AuthError{Reason: reason})
		return
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.state = StateAuthenticated
	c.backoff.Reset()
	userID := c.userID
	c.mu.Unlock()

	log.Info().Str("user_id", userID).Msg("Socket authenticated")
	c.emitConnected()
	c.readyOnce.Do(c.emitReady)
}

func (c *Client) handleMessage(f *MessageFrame, log zerolog.Logger) {
	raw := f.Message
	channel, err := c.cache.FindChannel(c.ctx, raw.Channel)
	if err != nil {
		log.Warn().Err(err).Str("message_id", raw.ID).Msg("Failed to resolve channel for message")
		c.emitError(fmt.Errorf("failed to resolve channel for message %s: %w", raw.ID, err))
		return
	}

	log.Debug().
		Str("message_id", raw.ID).
		Str("channel_id", raw.Channel).
		Str("author_id", raw.Author).
		Msg("Received new message")

	msg := newMessage(raw, channel)
	channel.putMessage(msg)
	c.emitMessage(msg)
}

// peekSnapshot reads the cached version of a message without fetching.
// It must run before any channel resolution that could suspend.
func (c *Client) peekSnapshot(channelID, messageID string) *MessageSnapshot {
	channel, ok := c.cache.Channel(channelID)
	if !ok {
		return nil
	}
	return channel.snapshot(messageID)
}

func (c *Client) handleMessageUpdate(f *MessageUpdateFrame, log zerolog.Logger) {
	raw := f.Message
	previous := c.peekSnapshot(raw.Channel, raw.ID)

	channel, err := c.cache.FindChannel(c.ctx, raw.Channel)
	if err != nil {
		log.Warn().Err(err).Str("message_id", raw.ID).Msg("Failed to resolve channel for message update")
		c.emitError(fmt.Errorf("failed to resolve channel for message update %s: %w", raw.ID, err))
		return
	}

	log.Debug().
		Str("message_id", raw.ID).
		Str("channel_id", raw.Channel).
		Bool("had_previous", previous != nil).
		Msg("Received message update")

	msg := newMessage(raw, channel)
	channel.putMessage(msg)
	c.emitMessageUpdate(msg, previous)
}

func (c *Client) handleMessageDelete(f *MessageDeleteFrame, log zerolog.Logger) {
	previous := c.peekSnapshot(f.Channel, f.ID)

	channel, err := c.cache.FindChannel(c.ctx, f.Channel)
	if err != nil {
		log.Warn().Err(err).Str("message_id", f.ID).Msg("Failed to resolve channel for message delete")
		c.emitError(fmt.Errorf("failed to resolve channel for message delete %s: %w", f.ID, err))
		return
	}

	log.Debug().
		Str("message_id", f.ID).
		Str("channel_id", f.Channel).
		Bool("had_previous", previous != nil).
		Msg("Received message delete")

	channel.removeMessage(f.ID)
	c.emitMessageDelete(f.ID, previous)
}
