package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charla-social/charla/internal/store"
)

// SaveMessages upserts messages for a conversation, idempotent on
// (conversation_id, msg_id). An existing row keeps its seq, so the cached
// ordering matches the store's insertion order of first upsert.
func (db *DB) SaveMessages(convID string, msgs []store.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		author, attachments, replyTo, reactions, err := encodeColumns(m)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, author, body, attachments, reply_to, reactions, created_at, edited, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
				author = excluded.author,
				body = excluded.body,
				attachments = excluded.attachments,
				reply_to = excluded.reply_to,
				reactions = excluded.reactions,
				edited = excluded.edited,
				updated_at = excluded.updated_at`,
			convID, m.ID, author, m.Body, attachments, replyTo, reactions,
			m.CreatedAt.UnixMilli(), m.Edited, now); err != nil {
			return fmt.Errorf("upsert message %s: %w", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadMessages returns all cached messages for a conversation in first-save
// order.
func (db *DB) LoadMessages(convID string) ([]store.Message, error) {
	rows, err := db.Query(`
		SELECT msg_id, author, body, attachments, reply_to, reactions, created_at, edited
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC`, convID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []store.Message
	for rows.Next() {
		var (
			m           store.Message
			author      string
			attachments string
			replyTo     sql.NullString
			reactions   string
			createdAt   int64
		)
		if err := rows.Scan(&m.ID, &author, &m.Body, &attachments, &replyTo, &reactions, &createdAt, &m.Edited); err != nil {
			return nil, err
		}
		if err := decodeColumns(&m, author, attachments, replyTo, reactions); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", m.ID, err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteMessage removes one cached message. Absent rows are a no-op.
func (db *DB) DeleteMessage(convID, msgID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_id = ?`, convID, msgID)
	return err
}

func encodeColumns(m store.Message) (author, attachments string, replyTo sql.NullString, reactions string, err error) {
	a, err := json.Marshal(m.Author)
	if err != nil {
		return "", "", sql.NullString{}, "", fmt.Errorf("encode author: %w", err)
	}
	att, err := json.Marshal(m.Attachments)
	if err != nil {
		return "", "", sql.NullString{}, "", fmt.Errorf("encode attachments: %w", err)
	}
	rx, err := json.Marshal(m.Reactions)
	if err != nil {
		return "", "", sql.NullString{}, "", fmt.Errorf("encode reactions: %w", err)
	}
	if m.ReplyTo != nil {
		ref, err := json.Marshal(m.ReplyTo)
		if err != nil {
			return "", "", sql.NullString{}, "", fmt.Errorf("encode reply: %w", err)
		}
		replyTo = sql.NullString{String: string(ref), Valid: true}
	}
	return string(a), string(att), replyTo, string(rx), nil
}

func decodeColumns(m *store.Message, author, attachments string, replyTo sql.NullString, reactions string) error {
	if err := json.Unmarshal([]byte(author), &m.Author); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
		return err
	}
	if replyTo.Valid {
		m.ReplyTo = &store.ReplyReference{}
		if err := json.Unmarshal([]byte(replyTo.String), m.ReplyTo); err != nil {
			return err
		}
	}
	return nil
}
