package wire

import "encoding/json"

// Inbound is the closed set of frames a connection can deliver. Exactly
// one payload pointer is set, matching Type; Unrecognized frames carry
// the raw bytes so the caller can fall back to a bare text message.
type Inbound struct {
	Type       Type
	AuthAck    *AuthAck
	Message    *Message
	Ack        *Ack
	Presence   *Presence
	Typing     *Typing
	Attachment *AttachmentFrame
	Raw        []byte
}

// AttachmentFrame announces attachment metadata for an earlier message.
type AttachmentFrame struct {
	Type      Type   `json:"type"`
	MessageID string `json:"message_id"`
	ID        string `json:"id"`
	Source    string `json:"source"`
	Mime      string `json:"mime,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Decode parses one frame. It never fails: bytes that are not a JSON
// object with a known shape come back as TypeUnrecognized, and a valid
// frame with an unfamiliar type comes back as TypeUnknown.
func Decode(data []byte) Inbound {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Type == "" {
		return Inbound{Type: TypeUnrecognized, Raw: data}
	}

	switch probe.Type {
	case TypeAuthAck:
		var p AuthAck
		if err := json.Unmarshal(data, &p); err != nil {
			return Inbound{Type: TypeUnrecognized, Raw: data}
		}
		return Inbound{Type: TypeAuthAck, AuthAck: &p}
	case TypeMessage:
		var p Message
		if err := json.Unmarshal(data, &p); err != nil {
			return Inbound{Type: TypeUnrecognized, Raw: data}
		}
		return Inbound{Type: TypeMessage, Message: &p}
	case TypeAck:
		var p Ack
		if err := json.Unmarshal(data, &p); err != nil {
			return Inbound{Type: TypeUnrecognized, Raw: data}
		}
		return Inbound{Type: TypeAck, Ack: &p}
	case TypePresence:
		var p Presence
		if err := json.Unmarshal(data, &p); err != nil {
			return Inbound{Type: TypeUnrecognized, Raw: data}
		}
		return Inbound{Type: TypePresence, Presence: &p}
	case TypeTyping:
		var p Typing
		if err := json.Unmarshal(data, &p); err != nil {
			return Inbound{Type: TypeUnrecognized, Raw: data}
		}
		return Inbound{Type: TypeTyping, Typing: &p}
	case TypeAttachment:
		var p AttachmentFrame
		if err := json.Unmarshal(data, &p); err != nil {
			return Inbound{Type: TypeUnrecognized, Raw: data}
		}
		return Inbound{Type: TypeAttachment, Attachment: &p}
	case TypeAuth:
		// Servers speak auth frames; a client receiving one ignores it.
		return Inbound{Type: TypeUnknown}
	default:
		return Inbound{Type: TypeUnknown}
	}
}

// Encode marshals an outbound frame.
func Encode(frame any) ([]byte, error) {
	return json.Marshal(frame)
}
