package store

import "fmt"

// CascadeRemovePeer removes everything referencing a deleted account: the
// friend record, every conversation involving the peer (and its messages),
// and the peer's unread counter.
func (db *DB) CascadeRemovePeer(peerID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM friends WHERE user_id = ?`, peerID); err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}
	if _, err := tx.Exec(`
		DELETE FROM messages WHERE chat_key IN
			(SELECT chat_key FROM conversations WHERE peer_id = ?)`, peerID); err != nil {
		return fmt.Errorf("remove messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE peer_id = ?`, peerID); err != nil {
		return fmt.Errorf("remove conversations: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM unread WHERE peer_id = ?`, peerID); err != nil {
		return fmt.Errorf("remove unread: %w", err)
	}
	return tx.Commit()
}

// ClearSessionState wipes everything except conversations and messages.
// Used on forced logout: chat history survives, session-derived caches
// (friends, unread counters, pending sends) do not.
func (db *DB) ClearSessionState() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"friends", "unread", "outbox"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}
