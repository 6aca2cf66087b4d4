// Package protocol defines the JSON messages exchanged over the chat websocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeIntroduce      MessageType = "introduce"
	TypeConverse       MessageType = "converse"
	TypePurge          MessageType = "purge"
	TypeAssistantReply MessageType = "assistant_reply"
	TypePurged         MessageType = "purged"
	TypeErrorEvent     MessageType = "error_event"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidMessage  = errors.New("invalid message")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// Introduce asks for the opening message of a persona session.
type Introduce struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Persona   string      `json:"persona"`
}

// Converse carries one user message.
type Converse struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Persona   string      `json:"persona"`
	Message   string      `json:"message"`
}

type Purge struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
}

// AssistantReply is one complete reply. TurnID is empty for introductions.
type AssistantReply struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Persona   string      `json:"persona"`
	TurnID    string      `json:"turn_id,omitempty"`
	Text      string      `json:"text"`
}

type Purged struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates an inbound message, returning one
// of Introduce, Converse or Purge.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeIntroduce:
		var msg Introduce
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Persona == "" {
			return nil, fmt.Errorf("%w: introduce requires persona", ErrInvalidMessage)
		}
		return msg, nil
	case TypeConverse:
		var msg Converse
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Persona == "" {
			return nil, fmt.Errorf("%w: converse requires persona", ErrInvalidMessage)
		}
		return msg, nil
	case TypePurge:
		var msg Purge
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
