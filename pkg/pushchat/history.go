// Copyright 2024-2026 Aiku AI

package pushchat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// FetchMessagesParams selects a page of channel history.
type FetchMessagesParams struct {
	// Limit is the page size. Defaults to 50, capped at 100.
	Limit int
	// Before restricts the page to messages older than this message id.
	Before string
}

// FetchMessages loads a page of history for a channel, stores the messages
// in the channel's collection and returns them oldest first. The server
// returns pages newest first.
func (c *Client) FetchMessages(ctx context.Context, channelID string, params FetchMessagesParams) ([]*Message, error) {
	channel, err := c.cache.FindChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if params.Before != "" {
		query.Set("before", params.Before)
	}

	var raws []RawMessage
	err = c.gateway.Request(ctx, http.MethodGet, "/channels/"+url.PathEscape(channelID)+"/messages",
		nil, &raws, RequestOptions{Query: query})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages for channel %s: %w", channelID, err)
	}

	slices.Reverse(raws)
	if len(raws) > limit {
		raws = raws[len(raws)-limit:]
	}

	messages := make([]*Message, 0, len(raws))
	for _, raw := range raws {
		if raw.ID == "" {
			continue
		}
		if raw.Channel == "" {
			raw.Channel = channelID
		}
		msg := newMessage(raw, channel)
		channel.putMessage(msg)
		messages = append(messages, msg)
	}

	c.log.Debug().
		Str("channel_id", channelID).
		Int("count", len(messages)).
		Msg("Fetched message history")
	return messages, nil
}

type sendMessageRequest struct {
	Content string `json:"content"`
	Nonce   string `json:"nonce"`
}

// SendMessage posts content to a channel and caches the created message.
// No message event is emitted here; the server pushes one to every socket.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("message content is empty")
	}
	channel, err := c.cache.FindChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	var raw RawMessage
	err = c.gateway.Request(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/messages",
		sendMessageRequest{Content: content, Nonce: uuid.NewString()}, &raw)
	if err != nil {
		return nil, fmt.Errorf("failed to send message to channel %s: %w", channelID, err)
	}
	if raw.Channel == "" {
		raw.Channel = channelID
	}

	msg := newMessage(raw, channel)
	if msg.ID != "" {
		channel.putMessage(msg)
	}
	return msg, nil
}
