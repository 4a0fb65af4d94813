package richtext

import "strings"

// Span kinds.
const (
	KindBold   = "bold"
	KindItalic = "italic"
	KindCode   = "code"
)

// Span marks an inline formatting range over a message body. Start and End
// are byte offsets of the inner text, excluding the marker characters,
// which stay in the body verbatim.
type Span struct {
	Kind  string `json:"kind"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

var markers = []struct {
	char byte
	kind string
}{
	{'*', KindBold},
	{'_', KindItalic},
	{'`', KindCode},
}

// Extract scans a plain-text body for *bold*, _italic_ and `code` ranges.
// Markers only pair on the same kind and never nest; an unpaired marker is
// left alone. Returns nil when the body has no formatting.
func Extract(body string) []Span {
	var spans []Span
	for i := 0; i < len(body); i++ {
		c := body[i]
		kind := kindFor(c)
		if kind == "" {
			continue
		}
		j := strings.IndexByte(body[i+1:], c)
		if j < 0 {
			continue
		}
		end := i + 1 + j
		if end == i+1 {
			// Empty pair like "**": skip both markers.
			i = end
			continue
		}
		spans = append(spans, Span{Kind: kind, Start: i + 1, End: end})
		i = end
	}
	return spans
}

func kindFor(c byte) string {
	for _, m := range markers {
		if m.char == c {
			return m.kind
		}
	}
	return ""
}
