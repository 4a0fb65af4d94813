package store

import "strings"

// SearchMessages matches message bodies against a query, optionally scoped
// to one channel (0 = all channels). No matches is an empty slice, never
// an error. Uses the FTS index; queries the tokenizer rejects fall back to
// a LIKE scan so punctuation-heavy input still returns results.
func (db *DB) SearchMessages(query string, channelID int64, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	results, err := db.searchFTS(query, channelID, limit)
	if err == nil {
		return results, nil
	}
	return db.searchLike(query, channelID, limit)
}

func (db *DB) searchFTS(query string, channelID int64, limit int) ([]SearchResult, error) {
	q := `
		SELECT m.id, m.channel_id, m.author, m.body, m.spans, m.created_at, m.delivery,
		       COALESCE(m.reply_to,''), m.deleted, m.edited_at,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.rowid = f.rowid
		WHERE messages_fts MATCH ? AND m.deleted = 0`

	args := []any{query}
	if channelID != 0 {
		q += " AND m.channel_id = ?"
		args = append(args, channelID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, readErr(err)
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var spans string
		var deleted int
		if err := rows.Scan(&r.Message.ID, &r.Message.ChannelID, &r.Message.Author,
			&r.Message.Body, &spans, &r.Message.CreatedAt, &r.Message.Delivery,
			&r.Message.ReplyTo, &deleted, &r.Message.EditedAt, &r.Snippet); err != nil {
			return nil, readErr(err)
		}
		r.Message.Spans = decodeSpans(spans)
		r.Message.Deleted = deleted != 0
		results = append(results, r)
	}
	return results, readErr(rows.Err())
}

func (db *DB) searchLike(query string, channelID int64, limit int) ([]SearchResult, error) {
	q := `
		SELECT id, channel_id, author, body, spans, created_at, delivery,
		       COALESCE(reply_to,''), deleted, edited_at
		FROM messages
		WHERE deleted = 0 AND body LIKE ? ESCAPE '\'`

	args := []any{"%" + escapeLike(query) + "%"}
	if channelID != 0 {
		q += " AND channel_id = ?"
		args = append(args, channelID)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, readErr(err)
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, readErr(err)
		}
		results = append(results, SearchResult{Message: m})
	}
	return results, readErr(rows.Err())
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
