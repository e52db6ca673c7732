package store

// Pending message statuses. Sent entries are deleted, not kept; "failed" is
// reserved for definitive backend rejections that must not be retried.
const (
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// PendingMessage is an outbound message composed while offline (or whose
// direct send hit a network failure), waiting for the flush agent.
type PendingMessage struct {
	ID             int64
	ConversationID string
	Body           string
	Translate      bool
	ClientID       string
	Status         string
	ErrorMessage   string
	CreatedAt      int64
}

// Conversation is a locally mirrored conversation summary. The mirror is a
// fallback render source for degraded mode, never authoritative.
type Conversation struct {
	ID            string
	Name          string
	LastMessage   string
	LastMessageAt int64
	Labels        []string
	AvatarURL     string
}
