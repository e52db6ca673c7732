package controller

import "time"

// ThreadMessage is one entry in the open conversation's message list.
// Pending entries are optimistic appends awaiting backend confirmation;
// Failed entries were definitively rejected.
type ThreadMessage struct {
	ID         string    `json:"id,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
	QueueID    int64     `json:"queue_id,omitempty"`
	Sender     string    `json:"sender,omitempty"`
	Body       string    `json:"body"`
	FromMe     bool      `json:"from_me"`
	SentAt     time.Time `json:"sent_at"`
	Pending    bool      `json:"pending,omitempty"`
	Failed     bool      `json:"failed,omitempty"`
	FailReason string    `json:"fail_reason,omitempty"`
}

// thread holds the focused conversation's messages. Not safe for concurrent
// use; the controller's mutex guards it.
type thread struct {
	conversationID string
	messages       []ThreadMessage
}

func (t *thread) reset(conversationID string, msgs []ThreadMessage) {
	t.conversationID = conversationID
	t.messages = msgs
}

// append adds a message unless it duplicates one already present. Identity
// is the server message ID when both sides have one, else the client ID,
// else body plus timestamp equality. Returns whether the thread changed.
func (t *thread) append(m ThreadMessage) bool {
	for i := range t.messages {
		if !t.matches(&t.messages[i], &m) {
			continue
		}
		t.confirm(&t.messages[i], &m)
		return true
	}
	t.messages = append(t.messages, m)
	return true
}

func (t *thread) matches(have, in *ThreadMessage) bool {
	if have.ID != "" && in.ID != "" {
		return have.ID == in.ID
	}
	if have.ClientID != "" && in.ClientID != "" {
		return have.ClientID == in.ClientID
	}
	if have.QueueID != 0 && in.QueueID != 0 {
		return have.QueueID == in.QueueID
	}
	// A pending optimistic append has no server identity yet; a confirmation
	// carrying the same body collapses onto it rather than duplicating.
	if have.Pending && have.FromMe == in.FromMe && have.Body == in.Body {
		return true
	}
	return have.FromMe == in.FromMe && have.Body == in.Body && have.SentAt.Equal(in.SentAt)
}

// confirm upgrades an existing entry with the authoritative identity from a
// duplicate arrival.
func (t *thread) confirm(have, in *ThreadMessage) {
	if in.ID != "" {
		have.ID = in.ID
		have.Pending = false
	}
	if in.ClientID != "" && have.ClientID == "" {
		have.ClientID = in.ClientID
	}
	if !in.SentAt.IsZero() {
		have.SentAt = in.SentAt
	}
}

// fail marks the entry with the given queue id as definitively rejected.
func (t *thread) fail(queueID int64, reason string) bool {
	for i := range t.messages {
		if t.messages[i].QueueID == queueID {
			t.messages[i].Pending = false
			t.messages[i].Failed = true
			t.messages[i].FailReason = reason
			return true
		}
	}
	return false
}

func (t *thread) snapshot() []ThreadMessage {
	out := make([]ThreadMessage, len(t.messages))
	copy(out, t.messages)
	return out
}
