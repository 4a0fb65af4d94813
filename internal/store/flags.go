package store

import "time"

// SetPinned pins or unpins a message. Idempotent.
func (db *DB) SetPinned(messageID string, on bool) error {
	return db.setFlag("pins", "pinned_at", messageID, on)
}

// SetSaved sets or clears the saved flag on a message. Idempotent.
func (db *DB) SetSaved(messageID string, on bool) error {
	return db.setFlag("saved_flags", "saved_at", messageID, on)
}

func (db *DB) setFlag(table, tsCol, messageID string, on bool) error {
	if on {
		now := time.Now().UnixMilli()
		_, err := db.Exec(`
			INSERT INTO `+table+` (message_id, `+tsCol+`) VALUES (?, ?)
			ON CONFLICT(message_id) DO NOTHING`, messageID, now)
		return writeErr(err)
	}
	_, err := db.Exec(`DELETE FROM `+table+` WHERE message_id = ?`, messageID)
	return writeErr(err)
}

// FlaggedMessages returns the set of pinned and saved message ids among
// the given messages.
func (db *DB) FlaggedMessages(messageIDs []string) (pinned, saved map[string]bool, err error) {
	pinned = make(map[string]bool)
	saved = make(map[string]bool)
	if len(messageIDs) == 0 {
		return pinned, saved, nil
	}

	placeholders := "?"
	args := []any{messageIDs[0]}
	for _, id := range messageIDs[1:] {
		placeholders += ",?"
		args = append(args, id)
	}

	rows, err := db.Query(`SELECT message_id FROM pins WHERE message_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, nil, readErr(err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, nil, readErr(err)
		}
		pinned[id] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, readErr(err)
	}

	rows, err = db.Query(`SELECT message_id FROM saved_flags WHERE message_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, nil, readErr(err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, nil, readErr(err)
		}
		saved[id] = true
	}
	_ = rows.Close()
	return pinned, saved, readErr(rows.Err())
}
