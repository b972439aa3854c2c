package store

import (
	"fmt"
	"time"
)

// ReplaceMessages swaps the cached message list for a chat with the
// given snapshot, in a single transaction.
func (db *DB) ReplaceMessages(chatID string, msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		_, err := tx.Exec(`
			INSERT INTO messages (chat_id, msg_id, sender_uid, sender_name, body, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			chatID, m.MsgID, m.SenderUID, m.SenderName, m.Body, m.Timestamp, now)
		if err != nil {
			return fmt.Errorf("insert message %q: %w", m.MsgID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns cached messages for a chat using keyset
// pagination by timestamp, newest first.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT chat_id, msg_id, sender_uid, sender_name, body, timestamp
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC, msg_id DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ChatID, &m.MsgID, &m.SenderUID, &m.SenderName, &m.Body, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the number of cached messages for a chat.
func (db *DB) MessageCount(chatID string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&count)
	return count, err
}
