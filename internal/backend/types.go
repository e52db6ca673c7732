package backend

// Conversation is a conversation summary as the backend reports it.
type Conversation struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	LastMessage   string   `json:"last_message"`
	LastMessageAt int64    `json:"last_message_at"`
	Labels        []string `json:"labels"`
	AvatarURL     string   `json:"avatar_url"`
}

// Message is one message in a conversation history.
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Body      string `json:"message"`
	FromMe    bool   `json:"from_me"`
	Timestamp int64  `json:"timestamp"`
}

// SendRequest is the send endpoint payload. ClientID lets the backend and
// the dashboard collapse duplicates when an at-least-once flush retries a
// message whose acknowledgment was lost.
type SendRequest struct {
	Message   string `json:"message"`
	Translate bool   `json:"translate"`
	ClientID  string `json:"client_id,omitempty"`
}

// SendResult is the backend's acknowledgment of a send.
type SendResult struct {
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
	MediaURL  string `json:"media_url,omitempty"`
}

// Label is a customer label.
type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// QuickReply is a canned reply.
type QuickReply struct {
	ID       string `json:"id"`
	Shortcut string `json:"shortcut"`
	Text     string `json:"text"`
}

// PushSubscription is the payload registered with the push backend.
type PushSubscription struct {
	Endpoint string            `json:"endpoint"`
	Keys     map[string]string `json:"keys"`
}
