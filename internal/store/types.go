package store

import "github.com/ralph-groupscholar/slack/internal/richtext"

// ChannelKind distinguishes group channels from direct messages.
type ChannelKind string

const (
	KindChannel ChannelKind = "channel"
	KindDM      ChannelKind = "dm"
)

// Delivery is the client-side delivery state of a message.
type Delivery string

const (
	DeliveryPending   Delivery = "pending"
	DeliveryConfirmed Delivery = "confirmed"
	DeliveryFailed    Delivery = "failed"
)

// Outbox entry statuses.
const (
	OutboxQueued = "queued"
	OutboxSent   = "sent"
	OutboxAcked  = "acked"
	OutboxFailed = "failed"
)

// Channel is a group channel or DM conversation.
type Channel struct {
	ID             int64
	Name           string
	Kind           ChannelKind
	MemberCount    int
	LastActivityAt int64
}

// Message is a single chat message. The ID is assigned by the sender
// before send, so a locally echoed message and its server copy collide on
// the same row.
type Message struct {
	ID        string
	ChannelID int64
	Author    string
	Body      string
	Spans     []richtext.Span
	CreatedAt int64 // unix millis
	Delivery  Delivery
	ReplyTo   string // parent message id, empty for top-level
	Deleted   bool   // tombstone: identity and position retained
	EditedAt  int64  // unix millis, zero if never edited
}

// Attachment is a file attached to a message. Never mutated after insert.
type Attachment struct {
	ID        string
	MessageID string
	Source    string // local path or remote reference
	Mime      string
	SizeBytes int64
}

// Reaction is one (message, emoji, author) row. Counts are derived by
// aggregation, never stored.
type Reaction struct {
	MessageID string
	Emoji     string
	Author    string
	CreatedAt int64
}

// SearchResult is a message matched by a body search, with a highlighted
// snippet when the FTS index produced one.
type SearchResult struct {
	Message Message
	Snippet string
}

// OutboxEntry is a pending or settled outgoing message.
type OutboxEntry struct {
	ID        int64
	MessageID string
	ChannelID int64
	Status    string
	Error     string
}
