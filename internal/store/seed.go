package store

import "time"

type seedMessage struct {
	id        string
	channelID int64
	author    string
	body      string
	minute    int
}

var seedChannels = []Channel{
	{ID: 1, Name: "general", Kind: KindChannel, MemberCount: 4},
	{ID: 2, Name: "product", Kind: KindChannel, MemberCount: 3},
	{ID: 3, Name: "mara", Kind: KindDM, MemberCount: 2},
	{ID: 4, Name: "devin", Kind: KindDM, MemberCount: 2},
}

var seedMessages = []seedMessage{
	{"seed-0001", 1, "mara", "Shipping the new hotkey flow now.", 0},
	{"seed-0002", 1, "devin", "Latency on local echo is <100ms.", 1},
	{"seed-0003", 1, "sasha", "Message search index warmed on startup.", 3},
	{"seed-0004", 1, "you", "Feels fast. Let's keep it lean.", 6},
	{"seed-0005", 2, "mara", "Next: attachments + previews.", 9},
	{"seed-0006", 2, "devin", "Profiling idle CPU now.", 12},
	{"seed-0007", 3, "mara", "Can you sanity-check the build flags?", 14},
	{"seed-0008", 4, "devin", "Want me to share flamegraph results?", 16},
}

// Seed inserts the starter channels and messages, but only when the
// channel table is empty. An existing database is never re-seeded.
func (db *DB) Seed() error {
	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM channels`).Scan(&count); err != nil {
		return readErr(err)
	}
	if count > 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return writeErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	base := time.Now().Add(-time.Hour).UnixMilli()
	now := time.Now().UnixMilli()

	for _, c := range seedChannels {
		last := base
		if _, err := tx.Exec(`
			INSERT INTO channels (id, name, kind, member_count, last_activity_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Kind, c.MemberCount, last, now); err != nil {
			return writeErr(err)
		}
	}

	for _, m := range seedMessages {
		ts := base + int64(m.minute)*time.Minute.Milliseconds()
		if _, err := tx.Exec(`
			INSERT INTO messages (id, channel_id, author, body, created_at, delivery)
			VALUES (?, ?, ?, ?, ?, 'confirmed')`,
			m.id, m.channelID, m.author, m.body, ts); err != nil {
			return writeErr(err)
		}
		if _, err := tx.Exec(`
			UPDATE channels SET last_activity_at = MAX(last_activity_at, ?) WHERE id = ?`,
			ts, m.channelID); err != nil {
			return writeErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return writeErr(err)
	}
	return nil
}
