package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the purpose of a frame
type Kind string

const (
	// KindNotification carries an opaque notification payload
	KindNotification Kind = "NOTIFICATION"

	// KindPing is a liveness probe
	KindPing Kind = "PING"

	// KindPong acknowledges a ping
	KindPong Kind = "PONG"
)

// Message is one JSON frame exchanged with the push server
type Message struct {
	Type      Kind            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New creates a message of the given kind, marshaling data into the
// frame's payload. A nil data leaves the payload empty.
func New(kind Kind, data interface{}) (*Message, error) {
	msg := &Message{
		Type:      kind,
		Timestamp: time.Now().UTC(),
	}

	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		msg.Data = payload
	}

	return msg, nil
}

// Decode parses a raw frame into a Message
func Decode(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	if msg.Type == "" {
		return nil, fmt.Errorf("frame has no type")
	}

	return &msg, nil
}

// Encode serializes the message for transmission
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return data, nil
}
