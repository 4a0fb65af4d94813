// Package wire defines the JSON frame protocol spoken with the sync
// server. Every frame is one JSON object with a "type" discriminator;
// unknown types are ignored and malformed frames degrade to an explicit
// Unrecognized variant instead of killing the connection.
package wire

// Type is the frame discriminator.
type Type string

const (
	TypeAuth       Type = "auth"
	TypeAuthAck    Type = "auth_ack"
	TypeMessage    Type = "message"
	TypeAck        Type = "ack"
	TypePresence   Type = "presence"
	TypeTyping     Type = "typing"
	TypeAttachment Type = "attachment"

	// TypeUnknown marks a valid frame whose type we do not speak.
	TypeUnknown Type = "unknown"
	// TypeUnrecognized marks bytes that did not parse as a frame at all.
	TypeUnrecognized Type = "unrecognized"
)

// SyntheticChannelID is where fallback-parsed frames are filed so a
// malformed payload still surfaces somewhere visible.
const SyntheticChannelID int64 = -1

// Auth is the first outbound frame on every connection.
type Auth struct {
	Type  Type   `json:"type"`
	Token string `json:"token"`
	User  string `json:"user"`
}

// AuthAck is the server's response to Auth. A non-empty Error means the
// credentials were rejected and the client must not retry silently.
type AuthAck struct {
	Type  Type   `json:"type"`
	User  string `json:"user"`
	Error string `json:"error,omitempty"`
}

// AttachmentMeta describes one attachment carried on a message frame.
type AttachmentMeta struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Mime      string `json:"mime,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Message is a chat message frame, sent in both directions. The message
// id is generated by the sending client before transmission.
type Message struct {
	Type        Type             `json:"type"`
	ChannelID   int64            `json:"channel_id"`
	MessageID   string           `json:"message_id"`
	Author      string           `json:"author"`
	Body        string           `json:"body"`
	SentAt      int64            `json:"sent_at"` // unix millis
	ReplyTo     string           `json:"reply_to,omitempty"`
	Attachments []AttachmentMeta `json:"attachments,omitempty"`
}

// Ack confirms receipt of an outbound message, correlated by message id.
type Ack struct {
	Type      Type   `json:"type"`
	MessageID string `json:"message_id"`
}

// Presence reports a user's availability.
type Presence struct {
	Type     Type   `json:"type"`
	User     string `json:"user"`
	Status   string `json:"status"` // online | away | offline
	LastSeen int64  `json:"last_seen,omitempty"`
}

// Typing reports that a user is composing in a channel. The client owns
// the expiry; there is no explicit clear frame.
type Typing struct {
	Type      Type   `json:"type"`
	ChannelID int64  `json:"channel_id"`
	User      string `json:"user"`
}
