// Copyright 2024-2026 Aiku AI

package pushchat

import (
	"slices"
	"sync"
	"time"

	"github.com/aiku/pushchat/pkg/pushchat/markdown"
	"go.mau.fi/util/jsontime"
)

// RawUser is the wire representation of a user.
type RawUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	Bot         bool   `json:"bot,omitempty"`
}

// RawChannel is the wire representation of a channel.
type RawChannel struct {
	ID          string   `json:"id"`
	Type        string   `json:"channel_type"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Recipients  []string `json:"recipients,omitempty"`
}

// RawMessage is the wire representation of a message.
type RawMessage struct {
	ID          string              `json:"id"`
	Channel     string              `json:"channel"`
	Author      string              `json:"author,omitempty"`
	Content     string              `json:"content"`
	Attachments []string            `json:"attachments,omitempty"`
	Edited      *jsontime.UnixMilli `json:"edited,omitempty"`
	Nonce       string              `json:"nonce,omitempty"`
}

// User is a cached user. The same *User is returned for an id for the
// lifetime of the client; its fields are refreshed in place.
type User struct {
	ID string

	mu  sync.RWMutex
	raw RawUser
}

func newUser(raw RawUser) *User {
	return &User{ID: raw.ID, raw: raw}
}

func (u *User) update(raw RawUser) {
	u.mu.Lock()
	u.raw = raw
	u.mu.Unlock()
}

// Raw returns a copy of the last known representation.
func (u *User) Raw() RawUser {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.raw
}

func (u *User) Username() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.raw.Username
}

// DisplayName returns the display name, falling back to the username.
func (u *User) DisplayName() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.raw.DisplayName != "" {
		return u.raw.DisplayName
	}
	return u.raw.Username
}

// Channel is a cached channel together with the messages observed in it
// during this session.
type Channel struct {
	ID string

	mu       sync.RWMutex
	raw      RawChannel
	messages map[string]*Message
	order    []string
}

func newChannel(raw RawChannel) *Channel {
	return &Channel{
		ID:       raw.ID,
		raw:      raw,
		messages: make(map[string]*Message),
	}
}

func (c *Channel) update(raw RawChannel) {
	c.mu.Lock()
	c.raw = raw
	c.mu.Unlock()
}

// Raw returns a copy of the last known representation.
func (c *Channel) Raw() RawChannel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	raw := c.raw
	raw.Recipients = slices.Clone(raw.Recipients)
	return raw
}

func (c *Channel) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.raw.Name
}

func (c *Channel) Type() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.raw.Type
}

// Message returns the latest known version of a message in this channel.
func (c *Channel) Message(id string) (*Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msg, ok := c.messages[id]
	return msg, ok
}

// Messages returns the known messages in the order they were first seen.
func (c *Channel) Messages() []*Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Message, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.messages[id])
	}
	return out
}

// putMessage stores msg, replacing any previous version with the same id.
func (c *Channel) putMessage(msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.messages[msg.ID]; !ok {
		c.order = append(c.order, msg.ID)
	}
	c.messages[msg.ID] = msg
}

func (c *Channel) removeMessage(id string) (*Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.messages[id]
	if !ok {
		return nil, false
	}
	delete(c.messages, id)
	if idx := slices.Index(c.order, id); idx >= 0 {
		c.order = slices.Delete(c.order, idx, idx+1)
	}
	return msg, true
}

// snapshot returns a snapshot of the cached message, or nil if the message
// has not been observed.
func (c *Channel) snapshot(id string) *MessageSnapshot {
	msg, ok := c.Message(id)
	if !ok {
		return nil
	}
	return msg.Snapshot()
}

// Message is one version of a chat message. A published Message is never
// modified; updates produce a new Message.
type Message struct {
	ID          string
	ChannelID   string
	AuthorID    string
	Content     string
	Attachments []string
	EditedAt    time.Time
	Nonce       string

	// Channel is the resolved channel the message belongs to.
	Channel *Channel
}

func newMessage(raw RawMessage, channel *Channel) *Message {
	msg := &Message{
		ID:          raw.ID,
		ChannelID:   raw.Channel,
		AuthorID:    raw.Author,
		Content:     raw.Content,
		Attachments: slices.Clone(raw.Attachments),
		Nonce:       raw.Nonce,
		Channel:     channel,
	}
	if raw.Edited != nil {
		msg.EditedAt = raw.Edited.Time
	}
	if msg.ChannelID == "" && channel != nil {
		msg.ChannelID = channel.ID
	}
	return msg
}

// Edited reports whether the message has been edited.
func (m *Message) Edited() bool {
	return !m.EditedAt.IsZero()
}

// HTML renders the markdown content as HTML.
func (m *Message) HTML() (string, error) {
	return markdown.Render(m.Content)
}

// Snapshot captures the observable fields of the message.
func (m *Message) Snapshot() *MessageSnapshot {
	return &MessageSnapshot{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		AuthorID:    m.AuthorID,
		Content:     m.Content,
		Attachments: slices.Clone(m.Attachments),
		EditedAt:    m.EditedAt,
	}
}

// MessageSnapshot is an immutable copy of a message as it was immediately
// before an update or delete was applied.
type MessageSnapshot struct {
	ID          string
	ChannelID   string
	AuthorID    string
	Content     string
	Attachments []string
	EditedAt    time.Time
}
