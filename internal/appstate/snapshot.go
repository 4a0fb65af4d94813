package appstate

import (
	"sort"
	"time"

	"github.com/ralph-groupscholar/slack/internal/store"
	"github.com/ralph-groupscholar/slack/internal/thumb"
)

// MessageView is one message decorated with its derived render state.
type MessageView struct {
	store.Message
	Attachments   []store.Attachment
	ReactionCount map[string]int // emoji -> count, aggregated from rows
	OwnReactions  map[string]bool
	Pinned        bool
	Saved         bool
}

// Snapshot is the immutable-for-the-frame view the render layer consumes.
// Slices and maps are fresh copies; the render layer never aliases facade
// internals.
type Snapshot struct {
	Hydrated bool
	Warning  string

	Channels        []store.Channel
	ActiveChannelID int64
	Messages        []MessageView // active channel window, ascending
	Draft           string

	Presence map[string]Presence
	Typing   []string // users typing in the active channel, expired excluded

	Conn         ConnStatus
	Search       *SearchState
	InlineErrors []string

	// Thumbs is the attachment preview cache; Lookup is the only
	// render-thread-safe operation on it.
	Thumbs *thumb.Cache
}

// Snapshot builds the current frame's view. Called once per frame after
// Drain.
func (f *Facade) Snapshot() *Snapshot {
	now := time.Now()
	s := &Snapshot{
		Hydrated:        f.hydrated,
		Warning:         f.warning,
		Channels:        append([]store.Channel(nil), f.channels...),
		ActiveChannelID: f.active,
		Draft:           f.drafts[f.active],
		Conn:            f.connState,
		Search:          f.search,
		InlineErrors:    append([]string(nil), f.inlineErrs...),
		Thumbs:          f.thumbs,
		Presence:        make(map[string]Presence, len(f.presence)),
		Typing:          f.typingUsers(f.active, now),
	}
	for user, p := range f.presence {
		s.Presence[user] = p
	}

	win := f.windows[f.active]
	s.Messages = make([]MessageView, 0, len(win))
	for _, m := range win {
		s.Messages = append(s.Messages, f.viewOf(m))
	}
	return s
}

func (f *Facade) viewOf(m store.Message) MessageView {
	v := MessageView{
		Message:     m,
		Attachments: append([]store.Attachment(nil), f.attachments[m.ID]...),
		Pinned:      f.pinned[m.ID],
		Saved:       f.saved[m.ID],
	}
	if rs := f.reactions[m.ID]; len(rs) > 0 {
		v.ReactionCount = make(map[string]int)
		v.OwnReactions = make(map[string]bool)
		for _, r := range rs {
			v.ReactionCount[r.Emoji]++
			if r.Author == f.opts.User {
				v.OwnReactions[r.Emoji] = true
			}
		}
	}
	return v
}

// typingUsers returns who is typing in a channel right now. Stale entries
// are dropped on the way out; no clear event is ever needed.
func (f *Facade) typingUsers(channelID int64, now time.Time) []string {
	var users []string
	for key, expiry := range f.typing {
		if key.channelID != channelID {
			continue
		}
		if now.After(expiry) {
			delete(f.typing, key)
			continue
		}
		users = append(users, key.user)
	}
	sort.Strings(users)
	return users
}

// NextExpiry returns the soonest typing expiry, or zero time when no
// transient state needs a timed repaint.
func (f *Facade) NextExpiry() time.Time {
	var next time.Time
	for _, expiry := range f.typing {
		if next.IsZero() || expiry.Before(next) {
			next = expiry
		}
	}
	return next
}

// TypingTTL is the configured freshness window for typing signals.
func (f *Facade) TypingTTL() time.Duration { return f.opts.TypingTTL }

// User returns the local user name.
func (f *Facade) User() string { return f.opts.User }
