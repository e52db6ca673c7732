package store

import (
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/fbdash/fbdash/internal/bus"
	"github.com/google/uuid"
)

// Queue is the persisted queue of outbound messages. The flush agent and
// the dashboard controller share one Queue; each method is a single store
// transaction, which is the only cross-context coordination required.
type Queue interface {
	// Enqueue appends a pending message and returns its assigned id.
	// A successful enqueue publishes queue.enqueued (fire-and-forget) so
	// the flush agent gets a wake-up without the caller blocking.
	Enqueue(conversationID, body string, translate bool) (int64, error)
	// ListPending returns pending entries oldest-first. Delivery order is
	// a correctness requirement: the backend renders messages in arrival
	// order.
	ListPending() ([]PendingMessage, error)
	// MarkSent removes an entry. Removing an absent id is a no-op.
	MarkSent(id int64) error
	// MarkFailed flags an entry as definitively rejected; it is kept for
	// inspection but never retried.
	MarkFailed(id int64, reason string) error
	// ClearAll drops every entry. Administrative escape hatch.
	ClearAll() error
	// CountPending returns the number of pending entries.
	CountPending() (int, error)
	// Durable reports whether entries survive a daemon restart.
	Durable() bool
}

// SQLQueue is the durable Queue backed by the app store.
type SQLQueue struct {
	db  *DB
	bus *bus.Bus
}

// NewQueue creates the durable queue.
func NewQueue(db *DB, b *bus.Bus) *SQLQueue {
	return &SQLQueue{db: db, bus: b}
}

func (q *SQLQueue) Enqueue(conversationID, body string, translate bool) (int64, error) {
	res, err := q.db.Exec(`
		INSERT INTO pending_messages (conversation_id, body, translate, client_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, body, translate, uuid.NewString(), StatusPending, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	publishEnqueued(q.bus, id, conversationID)
	return id, nil
}

func (q *SQLQueue) ListPending() ([]PendingMessage, error) {
	rows, err := q.db.Query(`
		SELECT id, conversation_id, body, translate, client_id, status, error_message, created_at
		FROM pending_messages WHERE status = ? ORDER BY created_at ASC, id ASC`, StatusPending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []PendingMessage
	for rows.Next() {
		var m PendingMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Body, &m.Translate, &m.ClientID, &m.Status, &m.ErrorMessage, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (q *SQLQueue) MarkSent(id int64) error {
	_, err := q.db.Exec(`DELETE FROM pending_messages WHERE id = ?`, id)
	return err
}

func (q *SQLQueue) MarkFailed(id int64, reason string) error {
	_, err := q.db.Exec(`UPDATE pending_messages SET status = ?, error_message = ? WHERE id = ?`,
		StatusFailed, reason, id)
	return err
}

func (q *SQLQueue) ClearAll() error {
	_, err := q.db.Exec(`DELETE FROM pending_messages`)
	return err
}

func (q *SQLQueue) CountPending() (int, error) {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM pending_messages WHERE status = ?`, StatusPending).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

func (q *SQLQueue) Durable() bool { return true }

// MemoryQueue is the degraded-mode Queue used when the durable store could
// not be opened. Entries are lost on restart; the caller surfaces a
// persistent warning when this queue is in play.
type MemoryQueue struct {
	mu   sync.Mutex
	next int64
	msgs []PendingMessage
	bus  *bus.Bus
}

// NewMemoryQueue creates the memory-only fallback queue.
func NewMemoryQueue(b *bus.Bus) *MemoryQueue {
	return &MemoryQueue{next: 1, bus: b}
}

func (q *MemoryQueue) Enqueue(conversationID, body string, translate bool) (int64, error) {
	q.mu.Lock()
	id := q.next
	q.next++
	q.msgs = append(q.msgs, PendingMessage{
		ID:             id,
		ConversationID: conversationID,
		Body:           body,
		Translate:      translate,
		ClientID:       uuid.NewString(),
		Status:         StatusPending,
		CreatedAt:      time.Now().UnixMilli(),
	})
	q.mu.Unlock()
	publishEnqueued(q.bus, id, conversationID)
	return id, nil
}

func (q *MemoryQueue) ListPending() ([]PendingMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []PendingMessage
	for _, m := range q.msgs {
		if m.Status == StatusPending {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (q *MemoryQueue) MarkSent(id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.msgs {
		if m.ID == id {
			q.msgs = append(q.msgs[:i], q.msgs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *MemoryQueue) MarkFailed(id int64, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.msgs {
		if q.msgs[i].ID == id {
			q.msgs[i].Status = StatusFailed
			q.msgs[i].ErrorMessage = reason
			return nil
		}
	}
	return nil
}

func (q *MemoryQueue) ClearAll() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = nil
	return nil
}

func (q *MemoryQueue) CountPending() (int, error) {
	msgs, _ := q.ListPending()
	return len(msgs), nil
}

func (q *MemoryQueue) Durable() bool { return false }

func publishEnqueued(b *bus.Bus, id int64, conversationID string) {
	if b == nil {
		return
	}
	b.Publish(bus.Event{
		Kind:    bus.KindQueueEnqueued,
		Payload: bus.QueueChange{QueueID: id, ConversationID: conversationID},
	})
}
