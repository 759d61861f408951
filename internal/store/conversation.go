package store

import "database/sql"

// ListConversations returns conversations sorted by last message time
// descending, with unread counts joined in.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT c.chat_key, c.peer_id, c.last_message_at, c.last_message_preview,
			COALESCE(u.count, 0)
		FROM conversations c
		LEFT JOIN unread u ON c.peer_id = u.peer_id
		ORDER BY c.last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ChatKey, &c.PeerID, &c.LastMessageAt, &c.LastMessagePreview, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation, or nil if unknown.
func (db *DB) GetConversation(chatKey string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT c.chat_key, c.peer_id, c.last_message_at, c.last_message_preview,
			COALESCE(u.count, 0)
		FROM conversations c
		LEFT JOIN unread u ON c.peer_id = u.peer_id
		WHERE c.chat_key = ?`, chatKey).
		Scan(&c.ChatKey, &c.PeerID, &c.LastMessageAt, &c.LastMessagePreview, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteConversation removes a conversation and its messages. The unread
// counter for the peer is left alone; callers that want it gone clear it
// explicitly.
func (db *DB) DeleteConversation(chatKey string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_key = ?`, chatKey); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE chat_key = ?`, chatKey); err != nil {
		return err
	}
	return tx.Commit()
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}
