package store

import "time"

// QueueOutbox records an outgoing message awaiting transmission. Idempotent
// on message id so a retried enqueue never duplicates the entry.
func (db *DB) QueueOutbox(messageID string, channelID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (message_id, channel_id, status, created_at, updated_at)
		VALUES (?, ?, 'queued', ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			status = 'queued',
			error = '',
			updated_at = excluded.updated_at`,
		messageID, channelID, now, now)
	return writeErr(err)
}

// MarkOutboxSent records that the frame was written to the wire. Delivery
// confirmation still waits for the server ack.
func (db *DB) MarkOutboxSent(messageID string) error {
	return db.setOutboxStatus(messageID, OutboxSent, "")
}

// MarkOutboxAcked records the server ack for a transmitted message.
func (db *DB) MarkOutboxAcked(messageID string) error {
	return db.setOutboxStatus(messageID, OutboxAcked, "")
}

// MarkOutboxFailed records a transmit failure or ack timeout. The entry
// stays until the user asks for a resend.
func (db *DB) MarkOutboxFailed(messageID, errMsg string) error {
	return db.setOutboxStatus(messageID, OutboxFailed, errMsg)
}

func (db *DB) setOutboxStatus(messageID, status, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET status = ?, error = ?, updated_at = ? WHERE message_id = ?`,
		status, errMsg, now, messageID)
	return writeErr(err)
}

// PendingOutbox returns queued entries in enqueue order.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, message_id, channel_id, status, error
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, readErr(err)
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.MessageID, &e.ChannelID, &e.Status, &e.Error); err != nil {
			return nil, readErr(err)
		}
		entries = append(entries, e)
	}
	return entries, readErr(rows.Err())
}
