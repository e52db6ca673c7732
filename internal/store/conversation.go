package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReplaceConversations refreshes the conversation mirror wholesale from a
// backend list response, in one transaction.
func (db *DB) ReplaceConversations(convs []Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear mirror: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, c := range convs {
		labels, err := json.Marshal(c.Labels)
		if err != nil {
			return fmt.Errorf("encode labels: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, name, last_message, last_message_at, labels, avatar_url, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.LastMessage, c.LastMessageAt, string(labels), c.AvatarURL, now); err != nil {
			return fmt.Errorf("insert conversation %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListConversations returns the mirrored conversations sorted by most
// recent activity. Used only when a live fetch fails.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT id, name, last_message, last_message_at, labels, avatar_url
		FROM conversations ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var labels string
		if err := rows.Scan(&c.ID, &c.Name, &c.LastMessage, &c.LastMessageAt, &labels, &c.AvatarURL); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(labels), &c.Labels); err != nil {
			c.Labels = nil
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
