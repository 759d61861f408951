package store

// SearchMessages performs a full-text search on message bodies.
func (db *DB) SearchMessages(query string, chatKey string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.chat_key, m.sender_id, m.sender_name,
			COALESCE(NULLIF(fr.alias,''), NULLIF(fr.username,''), m.sender_name) AS display_name,
			m.body, m.sent_at, m.from_me, m.status, m.created_at,
			snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		LEFT JOIN friends fr ON m.sender_id = fr.user_id
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if chatKey != "" {
		q += " AND m.chat_key = ?"
		args = append(args, chatKey)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ChatKey, &r.Message.SenderID,
			&r.Message.SenderName, &r.Message.DisplayName, &r.Message.Body,
			&r.Message.SentAt, &r.Message.FromMe, &r.Message.Status,
			&r.Message.CreatedAt, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
