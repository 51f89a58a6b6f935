package protocol

import (
	"encoding/json"
	"time"
)

// MessageType enumerates the wire message types exchanged with clients.
type MessageType string

const (
	// Client -> server
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypePing        MessageType = "ping"

	// Server -> client
	TypeConnected    MessageType = "connected"
	TypeSubscribed   MessageType = "subscribed"
	TypeUnsubscribed MessageType = "unsubscribed"
	TypePong         MessageType = "pong"
	TypeNotification MessageType = "notification"
	TypeError        MessageType = "error"
)

// Envelope is the JSON envelope wrapping every transport message.
// Timestamp is milliseconds since the Unix epoch.
type Envelope struct {
	Type      MessageType     `json:"type"`
	UserID    *int64          `json:"userId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Message string `json:"message"`
}

// Marshal encodes an envelope of the given type, stamped with now.
// data may be nil for frames without a payload.
func Marshal(msgType MessageType, userID *int64, data any, now time.Time) ([]byte, error) {
	env := Envelope{
		Type:      msgType,
		UserID:    userID,
		Timestamp: now.UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
