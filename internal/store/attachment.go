package store

// InsertAttachment records attachment metadata that arrived after its
// message, e.g. on a separate sync frame. Idempotent on id.
func (db *DB) InsertAttachment(a *Attachment) error {
	_, err := db.Exec(
		`INSERT INTO attachments (id, message_id, source, mime, size_bytes)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		a.ID, a.MessageID, a.Source, a.Mime, a.SizeBytes,
	)
	return writeErr(err)
}

// AttachmentsForMessages returns the attachments of the given messages,
// keyed by owning message id.
func (db *DB) AttachmentsForMessages(messageIDs []string) (map[string][]Attachment, error) {
	out := make(map[string][]Attachment)
	if len(messageIDs) == 0 {
		return out, nil
	}

	q := `SELECT id, message_id, source, mime, size_bytes FROM attachments WHERE message_id IN (?`
	args := []any{messageIDs[0]}
	for _, id := range messageIDs[1:] {
		q += ",?"
		args = append(args, id)
	}
	q += ")"

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, readErr(err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.Source, &a.Mime, &a.SizeBytes); err != nil {
			return nil, readErr(err)
		}
		out[a.MessageID] = append(out[a.MessageID], a)
	}
	return out, readErr(rows.Err())
}
