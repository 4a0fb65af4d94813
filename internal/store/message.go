package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ralph-groupscholar/slack/internal/richtext"
)

func encodeSpans(spans []richtext.Span) string {
	if len(spans) == 0 {
		return "[]"
	}
	data, err := json.Marshal(spans)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeSpans(raw string) []richtext.Span {
	if raw == "" || raw == "[]" {
		return nil
	}
	var spans []richtext.Span
	if err := json.Unmarshal([]byte(raw), &spans); err != nil {
		return nil
	}
	return spans
}

// InsertMessage stores a message and its attachments in one transaction.
// Idempotent on message id: a duplicate delivery updates body, spans and
// delivery state instead of inserting a second row.
func (db *DB) InsertMessage(m *Message, atts []Attachment) error {
	tx, err := db.Begin()
	if err != nil {
		return writeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO messages (id, channel_id, author, body, spans, created_at, delivery, reply_to, deleted, edited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			spans = excluded.spans,
			delivery = excluded.delivery`,
		m.ID, m.ChannelID, m.Author, m.Body, encodeSpans(m.Spans),
		m.CreatedAt, m.Delivery, nullable(m.ReplyTo), m.Deleted, m.EditedAt); err != nil {
		return writeErr(err)
	}

	for _, a := range atts {
		if _, err := tx.Exec(`
			INSERT INTO attachments (id, message_id, source, mime, size_bytes)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			a.ID, m.ID, a.Source, a.Mime, a.SizeBytes); err != nil {
			return writeErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return writeErr(err)
	}
	return nil
}

// RecentMessages returns the newest messages of a channel, newest first,
// ordered by creation time with the id as a stable tie-break.
func (db *DB) RecentMessages(channelID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, channel_id, author, body, spans, created_at, delivery, COALESCE(reply_to,''), deleted, edited_at
		FROM messages
		WHERE channel_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, readErr(err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, readErr(err)
		}
		msgs = append(msgs, m)
	}
	return msgs, readErr(rows.Err())
}

// GetMessage returns a single message by id, or nil if absent.
func (db *DB) GetMessage(id string) (*Message, error) {
	row := db.QueryRow(`
		SELECT id, channel_id, author, body, spans, created_at, delivery, COALESCE(reply_to,''), deleted, edited_at
		FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, readErr(err)
	}
	return &m, nil
}

// SetDelivery updates the delivery state of a message.
func (db *DB) SetDelivery(id string, d Delivery) error {
	_, err := db.Exec(`UPDATE messages SET delivery = ? WHERE id = ?`, d, id)
	return writeErr(err)
}

// EditMessage replaces the body of a message, preserving its identity and
// position. No-op on a tombstoned message.
func (db *DB) EditMessage(id, body string, spans []richtext.Span) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE messages SET body = ?, spans = ?, edited_at = ?
		WHERE id = ? AND deleted = 0`, body, encodeSpans(spans), now, id)
	return writeErr(err)
}

// DeleteMessage tombstones a message: the row keeps its id and timestamp
// so ordering is stable, but the body is cleared.
func (db *DB) DeleteMessage(id string) error {
	_, err := db.Exec(`
		UPDATE messages SET deleted = 1, body = '', spans = '[]' WHERE id = ?`, id)
	return writeErr(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (Message, error) {
	var m Message
	var spans string
	var deleted int
	err := r.Scan(&m.ID, &m.ChannelID, &m.Author, &m.Body, &spans,
		&m.CreatedAt, &m.Delivery, &m.ReplyTo, &deleted, &m.EditedAt)
	if err != nil {
		return m, err
	}
	m.Spans = decodeSpans(spans)
	m.Deleted = deleted != 0
	return m, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
