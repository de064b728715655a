// Copyright 2024-2026 Aiku AI

package pushchat

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Frame types exchanged on the socket.
const (
	FrameAuthenticate  = "authenticate"
	FrameMessage       = "message"
	FrameMessageUpdate = "message_update"
	FrameMessageDelete = "message_delete"
	FramePing          = "ping"
	FramePong          = "pong"
)

var errInvalidFrame = errors.New("invalid frame")

// Frame is an inbound socket frame. The concrete type is one of
// *AuthenticateFrame, *MessageFrame, *MessageUpdateFrame,
// *MessageDeleteFrame, *PongFrame or *UnknownFrame.
type Frame interface {
	FrameType() string
}

// AuthenticateFrame acknowledges an authenticate request. Unlike the other
// frames its fields are not nested under "data".
type AuthenticateFrame struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// MessageFrame announces a new message.
type MessageFrame struct {
	Message RawMessage
}

// MessageUpdateFrame carries the new version of an existing message.
type MessageUpdateFrame struct {
	Message RawMessage
}

// MessageDeleteFrame announces that a message was deleted.
type MessageDeleteFrame struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
}

// PongFrame answers a keepalive ping.
type PongFrame struct {
	Data json.RawMessage
}

// UnknownFrame is any frame with an unrecognized type. It is kept so that
// newer server versions do not break older clients.
type UnknownFrame struct {
	Type string
	Raw  json.RawMessage
}

func (*AuthenticateFrame) FrameType() string  { return FrameAuthenticate }
func (*MessageFrame) FrameType() string       { return FrameMessage }
func (*MessageUpdateFrame) FrameType() string { return FrameMessageUpdate }
func (*MessageDeleteFrame) FrameType() string { return FrameMessageDelete }
func (*PongFrame) FrameType() string          { return FramePong }
func (f *UnknownFrame) FrameType() string     { return f.Type }

// DecodeFrame decodes one inbound frame.
func DecodeFrame(data []byte) (Frame, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: malformed json", errInvalidFrame)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: not an object", errInvalidFrame)
	}
	typ := root.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return nil, fmt.Errorf("%w: missing type", errInvalidFrame)
	}
	payload := root.Get("data")

	switch typ.String() {
	case FrameAuthenticate:
		var frame AuthenticateFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("failed to decode authenticate frame: %w", err)
		}
		return &frame, nil
	case FrameMessage:
		raw, err := decodeRawMessage(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode message frame: %w", err)
		}
		return &MessageFrame{Message: raw}, nil
	case FrameMessageUpdate:
		raw, err := decodeRawMessage(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode message_update frame: %w", err)
		}
		return &MessageUpdateFrame{Message: raw}, nil
	case FrameMessageDelete:
		if !payload.IsObject() {
			return nil, fmt.Errorf("%w: message_delete without data", errInvalidFrame)
		}
		var frame MessageDeleteFrame
		if err := json.Unmarshal([]byte(payload.Raw), &frame); err != nil {
			return nil, fmt.Errorf("failed to decode message_delete frame: %w", err)
		}
		if frame.ID == "" || frame.Channel == "" {
			return nil, fmt.Errorf("%w: message_delete missing id or channel", errInvalidFrame)
		}
		return &frame, nil
	case FramePong:
		return &PongFrame{Data: json.RawMessage(payload.Raw)}, nil
	default:
		return &UnknownFrame{Type: typ.String(), Raw: json.RawMessage(data)}, nil
	}
}

func decodeRawMessage(payload gjson.Result) (RawMessage, error) {
	var raw RawMessage
	if !payload.IsObject() {
		return raw, fmt.Errorf("%w: missing data", errInvalidFrame)
	}
	if err := json.Unmarshal([]byte(payload.Raw), &raw); err != nil {
		return raw, err
	}
	if raw.ID == "" || raw.Channel == "" {
		return raw, fmt.Errorf("%w: message missing id or channel", errInvalidFrame)
	}
	return raw, nil
}

// authenticateRequest is the outbound authenticate frame.
type authenticateRequest struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// pingRequest is the outbound keepalive frame.
type pingRequest struct {
	Type string `json:"type"`
	Data int64  `json:"data"`
}
