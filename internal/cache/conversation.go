package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charla-social/charla/internal/store"
)

// SaveConversation upserts a conversation's metadata.
func (db *DB) SaveConversation(c store.Conversation) error {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO conversations (id, kind, participants, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			participants = excluded.participants,
			updated_at = excluded.updated_at`,
		c.ID, string(c.Kind), string(participants), time.Now().UnixMilli())
	return err
}

// LoadConversation returns the cached metadata, or nil when the conversation
// was never cached.
func (db *DB) LoadConversation(convID string) (*store.Conversation, error) {
	var (
		c            store.Conversation
		kind         string
		participants string
	)
	err := db.QueryRow(`SELECT id, kind, participants FROM conversations WHERE id = ?`, convID).
		Scan(&c.ID, &kind, &participants)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Kind = store.ConversationKind(kind)
	if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	return &c, nil
}
