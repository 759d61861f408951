package store

import "database/sql"

// GetUnread returns the pending-message count for a peer (0 if none).
func (db *DB) GetUnread(peerID string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT count FROM unread WHERE peer_id = ?`, peerID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// IncrementUnread bumps the pending count for a peer and returns the new value.
func (db *DB) IncrementUnread(peerID string) (int, error) {
	_, err := db.Exec(`
		INSERT INTO unread (peer_id, count) VALUES (?, 1)
		ON CONFLICT(peer_id) DO UPDATE SET count = count + 1`, peerID)
	if err != nil {
		return 0, err
	}
	return db.GetUnread(peerID)
}

// ClearUnread removes the pending counter for a peer (conversation opened
// or explicitly dismissed).
func (db *DB) ClearUnread(peerID string) error {
	_, err := db.Exec(`DELETE FROM unread WHERE peer_id = ?`, peerID)
	return err
}

// RecomputeUnread resets the peer's counter to the number of messages still
// authored by that peer in the conversation, after a delete. Counting the
// survivors instead of decrementing means the value can never go negative
// or drift. A peer with no existing counter stays without one, and a
// recompute that reaches zero removes the row.
func (db *DB) RecomputeUnread(chatKey, peerID string) (int, error) {
	existing, err := db.GetUnread(peerID)
	if err != nil {
		return 0, err
	}
	if existing == 0 {
		return 0, nil
	}
	remaining, err := db.CountMessagesFrom(chatKey, peerID)
	if err != nil {
		return 0, err
	}
	if remaining == 0 {
		if err := db.ClearUnread(peerID); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if _, err := db.Exec(`
		INSERT INTO unread (peer_id, count) VALUES (?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET count = excluded.count`, peerID, remaining); err != nil {
		return 0, err
	}
	return remaining, nil
}

// UnreadCounts returns the full peer -> pending count map.
func (db *DB) UnreadCounts() (map[string]int, error) {
	rows, err := db.Query(`SELECT peer_id, count FROM unread`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var peer string
		var n int
		if err := rows.Scan(&peer, &n); err != nil {
			return nil, err
		}
		counts[peer] = n
	}
	return counts, rows.Err()
}
