package store

import "time"

// SetReaction adds or removes one (message, emoji, author) reaction row.
// Idempotent in both directions.
func (db *DB) SetReaction(messageID, emoji, author string, on bool) error {
	if on {
		now := time.Now().UnixMilli()
		_, err := db.Exec(`
			INSERT INTO reactions (message_id, emoji, author, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(message_id, emoji, author) DO NOTHING`,
			messageID, emoji, author, now)
		return writeErr(err)
	}
	_, err := db.Exec(`
		DELETE FROM reactions WHERE message_id = ? AND emoji = ? AND author = ?`,
		messageID, emoji, author)
	return writeErr(err)
}

// ReactionsForMessages returns raw reaction rows for the given messages,
// keyed by message id. Counts are for the caller to aggregate.
func (db *DB) ReactionsForMessages(messageIDs []string) (map[string][]Reaction, error) {
	out := make(map[string][]Reaction)
	if len(messageIDs) == 0 {
		return out, nil
	}

	q := `SELECT message_id, emoji, author, created_at FROM reactions WHERE message_id IN (?`
	args := []any{messageIDs[0]}
	for _, id := range messageIDs[1:] {
		q += ",?"
		args = append(args, id)
	}
	q += ") ORDER BY created_at ASC"

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, readErr(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.MessageID, &r.Emoji, &r.Author, &r.CreatedAt); err != nil {
			return nil, readErr(err)
		}
		out[r.MessageID] = append(out[r.MessageID], r)
	}
	return out, readErr(rows.Err())
}
