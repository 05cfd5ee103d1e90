package websocket

import (
	"encoding/json"
	"fmt"
)

// MessageType is the "type" discriminator of a client frame.
type MessageType string

const (
	MessageTypeSubscribe   MessageType = "SUBSCRIBE"
	MessageTypeUnsubscribe MessageType = "UNSUBSCRIBE"
	MessageTypeSendMessage MessageType = "sendMessage"
)

func (mt MessageType) String() string {
	return string(mt)
}

// IsValid reports whether mt is one of the three client operations. Matching
// is case-sensitive.
func (mt MessageType) IsValid() bool {
	switch mt {
	case MessageTypeSubscribe, MessageTypeUnsubscribe, MessageTypeSendMessage:
		return true
	default:
		return false
	}
}

// Message is one decoded client frame. Room is set for SUBSCRIBE and
// UNSUBSCRIBE; RoomID and Text for sendMessage.
type Message struct {
	Type   MessageType
	Room   string
	RoomID string
	Text   string
}

type inboundWire struct {
	Type    MessageType `json:"type"`
	Room    *string     `json:"room"`
	RoomID  *string     `json:"roomId"`
	Message *string     `json:"message"`
}

// ParseMessage decodes and validates a client frame. Errors wrap
// ErrMalformedMessage or ErrUnknownMessageType.
func ParseMessage(data []byte) (*Message, error) {
	var wire inboundWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if !wire.Type.IsValid() {
		if wire.Type == "" {
			return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, wire.Type)
	}

	msg := &Message{Type: wire.Type}
	switch wire.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		if wire.Room == nil || *wire.Room == "" {
			return nil, fmt.Errorf("%w: %s requires room", ErrMalformedMessage, wire.Type)
		}
		msg.Room = *wire.Room
	case MessageTypeSendMessage:
		if wire.RoomID == nil || *wire.RoomID == "" {
			return nil, fmt.Errorf("%w: sendMessage requires roomId", ErrMalformedMessage)
		}
		if wire.Message == nil {
			return nil, fmt.Errorf("%w: sendMessage requires message", ErrMalformedMessage)
		}
		msg.RoomID = *wire.RoomID
		msg.Text = *wire.Message
	}
	return msg, nil
}

// Envelope is the payload carried on a room's broker channel between relay
// processes.
type Envelope struct {
	Type    MessageType `json:"type"`
	RoomID  string      `json:"roomId"`
	Message string      `json:"message"`
}

func NewEnvelope(roomID, message string) Envelope {
	return Envelope{Type: MessageTypeSendMessage, RoomID: roomID, Message: message}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes a broker payload. Only sendMessage envelopes are
// accepted.
func ParseEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type != MessageTypeSendMessage {
		return Envelope{}, fmt.Errorf("%w: envelope type %q", ErrUnknownMessageType, env.Type)
	}
	return env, nil
}
