package store

import (
	"database/sql"
	"time"
)

// UpsertDraft stores the composer draft for a channel, at most one per
// channel, overwritten on every edit.
func (db *DB) UpsertDraft(channelID int64, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO drafts (channel_id, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at`,
		channelID, body, now)
	return writeErr(err)
}

// LoadDraft returns the draft for a channel. ok is false when none exists.
func (db *DB) LoadDraft(channelID int64) (body string, ok bool, err error) {
	err = db.QueryRow(`SELECT body FROM drafts WHERE channel_id = ?`, channelID).Scan(&body)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, readErr(err)
	}
	return body, true, nil
}

// DeleteDraft removes the draft for a channel. Idempotent.
func (db *DB) DeleteDraft(channelID int64) error {
	_, err := db.Exec(`DELETE FROM drafts WHERE channel_id = ?`, channelID)
	return writeErr(err)
}

// AllDrafts returns every stored draft keyed by channel id.
func (db *DB) AllDrafts() (map[int64]string, error) {
	rows, err := db.Query(`SELECT channel_id, body FROM drafts`)
	if err != nil {
		return nil, readErr(err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, readErr(err)
		}
		out[id] = body
	}
	return out, readErr(rows.Err())
}
