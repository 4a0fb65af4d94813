package store

import (
	"database/sql"
	"time"
)

// UpsertChannel inserts or updates a channel record.
func (db *DB) UpsertChannel(c *Channel) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO channels (id, name, kind, member_count, last_activity_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			member_count = excluded.member_count,
			last_activity_at = MAX(channels.last_activity_at, excluded.last_activity_at)`,
		c.ID, c.Name, c.Kind, c.MemberCount, c.LastActivityAt, now)
	return writeErr(err)
}

// TouchChannel bumps a channel's last-activity timestamp, creating a
// placeholder row when the channel is unknown. Inbound messages can race
// ahead of their "channel created" event.
func (db *DB) TouchChannel(id int64, activityAt int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO channels (id, name, kind, last_activity_at, created_at)
		VALUES (?, 'channel-' || ?, 'channel', ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_activity_at = MAX(channels.last_activity_at, excluded.last_activity_at)`,
		id, id, activityAt, now)
	return writeErr(err)
}

// ListChannels returns all channels ordered by id.
func (db *DB) ListChannels() ([]Channel, error) {
	rows, err := db.Query(`
		SELECT id, name, kind, member_count, last_activity_at
		FROM channels ORDER BY id ASC`)
	if err != nil {
		return nil, readErr(err)
	}
	defer func() { _ = rows.Close() }()

	var channels []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.Kind, &c.MemberCount, &c.LastActivityAt); err != nil {
			return nil, readErr(err)
		}
		channels = append(channels, c)
	}
	return channels, readErr(rows.Err())
}

// GetChannel returns a single channel by id, or nil if absent.
func (db *DB) GetChannel(id int64) (*Channel, error) {
	var c Channel
	err := db.QueryRow(`
		SELECT id, name, kind, member_count, last_activity_at
		FROM channels WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Kind, &c.MemberCount, &c.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, readErr(err)
	}
	return &c, nil
}
