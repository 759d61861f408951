package store

import "time"

// QueueOutbox adds a message to the send outbox. A caller-supplied CreatedAt
// is kept so the entry and its optimistic local message share a timestamp.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	now := e.CreatedAt
	if now == 0 {
		now = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, chat_key, to_user_id, body,
			file_data, file_url, file_name, file_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'queued', ?, ?)`,
		e.ClientMsgID, e.ChatKey, e.ToUserID, e.Body,
		e.FileData, e.FileURL, e.FileName, e.FileType, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sending', updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent'.
func (db *DB) MarkOutboxSent(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// RequeueOutbox puts a failed entry back in the queue for another attempt.
func (db *DB) RequeueOutbox(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'queued', error_message = '', updated_at = ? WHERE client_msg_id = ? AND status = 'failed'`, now, clientMsgID)
	return err
}

// MarkMessageStatus updates the delivery status of an optimistic local
// message, matched by its conversation and timestamp. Only own messages
// carry delivery status.
func (db *DB) MarkMessageStatus(chatKey, sentAt, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE chat_key = ? AND sent_at = ? AND from_me = 1`,
		status, chatKey, sentAt)
	return err
}

// PendingOutbox returns outbox entries that are still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, chat_key, to_user_id, body,
			file_data, file_url, file_name, file_type, status, error_message, created_at
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ChatKey, &e.ToUserID, &e.Body,
			&e.FileData, &e.FileURL, &e.FileName, &e.FileType, &e.Status, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
