package channel

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire event names, matching the backend's socket contract.
const (
	eventPing           = "ping"
	eventPong           = "pong"
	eventNewMessage     = "new_message"
	eventMessageSent    = "message_sent"
	eventMissedMessages = "get_missed_messages"
)

// frame is the JSON envelope for every channel message in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newFrame(event string, data any) (frame, error) {
	f := frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return frame{}, fmt.Errorf("encode %s payload: %w", event, err)
		}
		f.Data = raw
	}
	return f, nil
}

// messagePayload is the body of new_message and message_sent frames. The
// closed set of inbound events is validated here, at the channel boundary;
// nothing downstream presence-checks fields.
type messagePayload struct {
	CustomerID   string `json:"customerId"`
	CustomerName string `json:"customerName"`
	MessageID    string `json:"messageId"`
	ClientID     string `json:"clientId"`
	Message      string `json:"message"`
	Timestamp    int64  `json:"timestamp"`
}

func decodeMessagePayload(raw json.RawMessage) (*messagePayload, error) {
	var p messagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.CustomerID == "" {
		return nil, fmt.Errorf("payload missing customerId")
	}
	return &p, nil
}

func (p *messagePayload) sentAt() time.Time {
	if p.Timestamp == 0 {
		return time.Now()
	}
	return time.UnixMilli(p.Timestamp)
}

// catchupPayload asks the backend for events broadcast while the channel was
// down. Since bounds the replay window; zero means "everything you have".
type catchupPayload struct {
	Since int64 `json:"since,omitempty"`
}
