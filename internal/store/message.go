package store

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// ErrEmptyMessage is returned when a message has neither body nor attachment.
var ErrEmptyMessage = errors.New("message has no body or attachment")

// AppendMessage appends a message to its conversation. Idempotent under the
// (chat_key, sender_id, body, sent_at) dedup key: a duplicate delivery
// leaves the existing row untouched and returns inserted=false. The
// conversation row is created or refreshed in the same transaction.
func (db *DB) AppendMessage(m *Message) (inserted bool, err error) {
	if m.Body == "" && !m.HasAttachment() {
		return false, ErrEmptyMessage
	}

	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	res, err := tx.Exec(`
		INSERT INTO messages (chat_key, sender_id, sender_name, body, sent_at,
			file_data, file_url, file_name, file_type, from_me, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_key, sender_id, body, sent_at) DO NOTHING`,
		m.ChatKey, m.SenderID, m.SenderName, m.Body, m.SentAt,
		m.FileData, m.FileURL, m.FileName, m.FileType, m.FromMe, m.Status, now)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	preview := m.Body
	if preview == "" {
		preview = m.FileName
	}
	if _, err := tx.Exec(`
		INSERT INTO conversations (chat_key, peer_id, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_key) DO UPDATE SET
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			updated_at = excluded.updated_at`,
		m.ChatKey, m.PeerIDFor(), now, truncate(preview, 100), now); err != nil {
		return false, fmt.Errorf("upsert conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return n > 0, nil
}

// PeerIDFor is the conversation peer from the message's point of view: the
// sender for inbound messages, the recipient side of the chat key otherwise.
func (m *Message) PeerIDFor() string {
	if !m.FromMe {
		return m.SenderID
	}
	return PeerID(m.ChatKey, m.SenderID)
}

// ReconcileEcho matches the server's echo of an own message to its pending
// optimistic row. The server stamps its own time on the echo, so the dedup
// key cannot match the locally chosen one; instead the oldest own row with
// the same body and attachment name that has not been delivered yet takes
// the server timestamp and moves to 'delivered'. Returns whether a row was
// matched.
func (db *DB) ReconcileEcho(chatKey, body, fileName, sentAt string) (bool, error) {
	res, err := db.Exec(`
		UPDATE messages SET sent_at = ?, status = 'delivered'
		WHERE id = (
			SELECT id FROM messages
			WHERE chat_key = ? AND from_me = 1 AND body = ? AND file_name = ?
				AND status IN ('sending', 'sent', 'failed')
			ORDER BY id LIMIT 1)`,
		sentAt, chatKey, body, fileName)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListMessages returns messages for a conversation in insertion order,
// with display names resolved against the friends cache. Keyset pagination:
// pass beforeID=0 for the newest page.
func (db *DB) ListMessages(chatKey string, beforeID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeID <= 0 {
		beforeID = int64(^uint64(0) >> 1)
	}
	rows, err := db.Query(`
		SELECT m.id, m.chat_key, m.sender_id, m.sender_name,
			COALESCE(NULLIF(f.alias,''), NULLIF(f.username,''), m.sender_name) AS display_name,
			m.body, m.sent_at, m.file_data, m.file_url, m.file_name, m.file_type,
			m.from_me, m.status, m.created_at
		FROM messages m
		LEFT JOIN friends f ON m.sender_id = f.user_id
		WHERE m.chat_key = ? AND m.id < ?
		ORDER BY m.id DESC
		LIMIT ?`, chatKey, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatKey, &m.SenderID, &m.SenderName, &m.DisplayName,
			&m.Body, &m.SentAt, &m.FileData, &m.FileURL, &m.FileName, &m.FileType,
			&m.FromMe, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Oldest first within the page.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// RemoveMessages deletes all messages in a conversation whose sent_at is in
// timestamps, regardless of sender. Returns the number of rows removed.
func (db *DB) RemoveMessages(chatKey string, timestamps []string) (int64, error) {
	if len(timestamps) == 0 {
		return 0, nil
	}
	q := `DELETE FROM messages WHERE chat_key = ? AND sent_at IN (?` // first placeholder
	args := []any{chatKey, timestamps[0]}
	for _, ts := range timestamps[1:] {
		q += ",?"
		args = append(args, ts)
	}
	q += ")"
	res, err := db.Exec(q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountMessagesFrom counts remaining messages in a conversation authored by
// the given sender.
func (db *DB) CountMessagesFrom(chatKey, senderID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_key = ? AND sender_id = ?`,
		chatKey, senderID).Scan(&n)
	return n, err
}

// RenameSender rewrites the stored sender name on every message authored by
// the given user. Full-table rewrite, O(total stored messages); profile
// edits are rare enough that a streaming update is not worth the machinery.
func (db *DB) RenameSender(userID, newName string) (int64, error) {
	res, err := db.Exec(`UPDATE messages SET sender_name = ? WHERE sender_id = ? AND sender_name != ?`,
		newName, userID, newName)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	// Never split a multibyte rune.
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
