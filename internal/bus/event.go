package bus

import "time"

// Event kinds published on the bus. Subscribers filter by namespace prefix,
// so "channel." matches every channel event and "" matches everything.
const (
	KindChannelConnected    = "channel.connected"
	KindChannelDisconnected = "channel.disconnected"
	KindChannelStale        = "channel.stale"
	KindInboundMessage      = "message.inbound"
	KindSendConfirmed       = "message.send_confirmed"
	KindSendFailed          = "message.send_failed"
	KindQueueEnqueued       = "queue.enqueued"
	KindQueueDrained        = "queue.drained"
	KindConnectivityOnline  = "connectivity.online"
	KindConnectivityOffline = "connectivity.offline"
	KindStatusChanged       = "status.changed"
	KindUnreadChanged       = "unread.changed"
)

// Event is a domain event with a typed payload. Payload is one of the
// structs below (or nil); producers never publish raw maps.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// InboundMessage is the payload for KindInboundMessage: a customer message
// delivered over the realtime channel.
type InboundMessage struct {
	ConversationID string
	CustomerName   string
	MessageID      string
	Body           string
	SentAt         time.Time
}

// SendConfirmed is the payload for KindSendConfirmed: the backend durably
// recorded a message this dashboard sent.
type SendConfirmed struct {
	ConversationID string
	MessageID      string
	ClientID       string
	Body           string
	SentAt         time.Time
}

// SendFailed is the payload for KindSendFailed: the backend definitively
// rejected a queued message. Not emitted for network-class failures, which
// stay queued for the next flush.
type SendFailed struct {
	ConversationID string
	QueueID        int64
	Reason         string
}

// QueueChange is the payload for queue.* events.
type QueueChange struct {
	QueueID        int64
	ConversationID string
	Remaining      int
}

// UnreadChange is the payload for KindUnreadChanged.
type UnreadChange struct {
	ConversationID string
	Unread         bool
}
