package appstate

import (
	"sort"
	"time"

	"github.com/ralph-groupscholar/slack/internal/store"
)

// Update is a state mutation produced by a background worker and applied
// by the facade on the render thread. Updates are applied strictly in the
// order they were posted.
type Update interface {
	apply(f *Facade)
}

// HydrationComplete delivers the entire initial state in one atomic
// update, including ownership of the store worker. The UI never sees a
// partially hydrated channel list.
type HydrationComplete struct {
	Channels    []store.Channel
	Windows     map[int64][]store.Message // ascending by (created_at, id)
	Attachments map[string][]store.Attachment
	Reactions   map[string][]store.Reaction
	Pinned      map[string]bool
	Saved       map[string]bool
	Drafts      map[int64]string
	Warning     string
	Worker      *store.Worker
}

func (u HydrationComplete) apply(f *Facade) {
	f.hydrated = true
	f.warning = u.Warning
	f.channels = u.Channels
	f.windows = u.Windows
	if f.windows == nil {
		f.windows = make(map[int64][]store.Message)
	}
	f.attachments = u.Attachments
	if f.attachments == nil {
		f.attachments = make(map[string][]store.Attachment)
	}
	f.reactions = u.Reactions
	if f.reactions == nil {
		f.reactions = make(map[string][]store.Reaction)
	}
	f.pinned = u.Pinned
	if f.pinned == nil {
		f.pinned = make(map[string]bool)
	}
	f.saved = u.Saved
	if f.saved == nil {
		f.saved = make(map[string]bool)
	}
	f.drafts = u.Drafts
	if f.drafts == nil {
		f.drafts = make(map[int64]string)
	}
	f.worker = u.Worker
	if f.active == 0 && len(f.channels) > 0 {
		f.active = f.channels[0].ID
	}
}

// MessageUpserted merges one message (inbound or local echo confirmation)
// into its channel window.
type MessageUpserted struct {
	Msg         store.Message
	Attachments []store.Attachment
}

func (u MessageUpserted) apply(f *Facade) {
	if len(u.Attachments) > 0 {
		f.attachments[u.Msg.ID] = u.Attachments
	}
	f.mergeMessage(u.Msg)
	f.touchChannel(u.Msg.ChannelID, u.Msg.CreatedAt)
}

// AttachmentAdded attaches metadata that arrived on its own frame to an
// already merged message.
type AttachmentAdded struct {
	Attachment store.Attachment
}

func (u AttachmentAdded) apply(f *Facade) {
	for _, a := range f.attachments[u.Attachment.MessageID] {
		if a.ID == u.Attachment.ID {
			return
		}
	}
	f.attachments[u.Attachment.MessageID] = append(f.attachments[u.Attachment.MessageID], u.Attachment)
}

// DeliveryChanged moves a message between pending, confirmed and failed.
type DeliveryChanged struct {
	MessageID string
	ChannelID int64
	Delivery  store.Delivery
	Err       string
}

func (u DeliveryChanged) apply(f *Facade) {
	win := f.windows[u.ChannelID]
	for i := range win {
		if win[i].ID == u.MessageID {
			win[i].Delivery = u.Delivery
			break
		}
	}
	if u.Err != "" {
		f.pushInlineError("send", u.Err)
	}
}

// MessageEdited replaces a message body in place.
type MessageEdited struct {
	Msg store.Message
}

func (u MessageEdited) apply(f *Facade) {
	win := f.windows[u.Msg.ChannelID]
	for i := range win {
		if win[i].ID == u.Msg.ID {
			win[i] = u.Msg
			break
		}
	}
}

// ChannelUpserted adds or updates channel metadata from a sync event.
type ChannelUpserted struct {
	Channel store.Channel
}

func (u ChannelUpserted) apply(f *Facade) {
	for i := range f.channels {
		if f.channels[i].ID == u.Channel.ID {
			f.channels[i] = u.Channel
			return
		}
	}
	f.channels = append(f.channels, u.Channel)
	sort.Slice(f.channels, func(i, j int) bool { return f.channels[i].ID < f.channels[j].ID })
	if f.active == 0 {
		f.active = u.Channel.ID
	}
}

// WindowLoaded delivers a lazily loaded message window for one channel.
type WindowLoaded struct {
	ChannelID   int64
	Messages    []store.Message // ascending
	Attachments map[string][]store.Attachment
	Reactions   map[string][]store.Reaction
	Pinned      map[string]bool
	Saved       map[string]bool
}

func (u WindowLoaded) apply(f *Facade) {
	f.windows[u.ChannelID] = u.Messages
	for id, atts := range u.Attachments {
		f.attachments[id] = atts
	}
	for id, rs := range u.Reactions {
		f.reactions[id] = rs
	}
	for id := range u.Pinned {
		f.pinned[id] = true
	}
	for id := range u.Saved {
		f.saved[id] = true
	}
}

// ReactionChanged applies a remote reaction toggle.
type ReactionChanged struct {
	MessageID string
	Emoji     string
	Author    string
	On        bool
}

func (u ReactionChanged) apply(f *Facade) {
	f.setReactionLocal(u.MessageID, u.Emoji, u.Author, u.On)
}

// PresenceUpdated refreshes one user's presence. In-memory only.
type PresenceUpdated struct {
	User     string
	Status   string
	LastSeen int64
}

func (u PresenceUpdated) apply(f *Facade) {
	f.presence[u.User] = Presence{Status: u.Status, LastSeen: u.LastSeen}
}

// TypingObserved records a typing signal with its client-side expiry.
// Entries past expiry fall out of the summary with no clear event.
type TypingObserved struct {
	ChannelID int64
	User      string
	Expiry    time.Time
}

func (u TypingObserved) apply(f *Facade) {
	f.typing[typingKey{u.ChannelID, u.User}] = u.Expiry
}

// ConnStateChanged mirrors the sync client's state machine into the
// facade-owned connection status.
type ConnStateChanged struct {
	State string
	Err   string
}

func (u ConnStateChanged) apply(f *Facade) {
	f.connState = ConnStatus{State: u.State, Err: u.Err}
}

// SearchFinished delivers the results of a search intent.
type SearchFinished struct {
	Query     string
	ChannelID int64
	Results   []store.SearchResult
}

func (u SearchFinished) apply(f *Facade) {
	f.search = &SearchState{Query: u.Query, ChannelID: u.ChannelID, Results: u.Results}
}

// InlineError surfaces a non-fatal failure next to the action that
// triggered it.
type InlineError struct {
	Scope   string
	Message string
}

func (u InlineError) apply(f *Facade) {
	f.pushInlineError(u.Scope, u.Message)
}
