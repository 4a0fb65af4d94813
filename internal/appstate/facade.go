package appstate

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ralph-groupscholar/slack/internal/bus"
	"github.com/ralph-groupscholar/slack/internal/richtext"
	"github.com/ralph-groupscholar/slack/internal/store"
	"github.com/ralph-groupscholar/slack/internal/thumb"
	"go.uber.org/zap"
)

const (
	updateQueueSize = 1024
	maxInlineErrors = 8
)

// Connector is the surface of the realtime client the facade drives.
// SendTyping is fire-and-forget: a dropped typing signal is invisible.
type Connector interface {
	Connect()
	Disconnect()
	SendTyping(channelID int64)
}

// Presence is one user's availability as last reported by the server.
type Presence struct {
	Status   string
	LastSeen int64
}

// ConnStatus is the process-wide connection state plus the last error.
type ConnStatus struct {
	State string
	Err   string
}

// SearchState holds the most recent search results.
type SearchState struct {
	Query     string
	ChannelID int64
	Results   []store.SearchResult
}

type typingKey struct {
	channelID int64
	user      string
}

// Options configures a Facade.
type Options struct {
	User               string
	FetchLimit         int
	TypingTTL          time.Duration
	MaxAttachmentBytes int64
}

// Facade is the single mutable state object the render layer reads each
// frame, and the only writer of cross-component state. Background workers
// never touch the fields directly: they post Updates, and the render
// thread drains them in order once per frame.
type Facade struct {
	logger *zap.Logger
	bus    *bus.Bus
	opts   Options

	updates chan Update
	wake    chan struct{}

	worker *store.Worker // nil until hydration completes
	conn   Connector
	thumbs *thumb.Cache

	hydrated    bool
	warning     string
	channels    []store.Channel
	active      int64
	windows     map[int64][]store.Message
	attachments map[string][]store.Attachment
	reactions   map[string][]store.Reaction
	pinned      map[string]bool
	saved       map[string]bool
	drafts      map[int64]string
	presence    map[string]Presence
	typing      map[typingKey]time.Time
	connState   ConnStatus
	search      *SearchState
	inlineErrs  []string
}

// New creates the facade with empty placeholder state so the first frame
// can render before any I/O happens.
func New(opts Options, b *bus.Bus, thumbs *thumb.Cache, logger *zap.Logger) *Facade {
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 50
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = 3 * time.Second
	}
	return &Facade{
		logger:      logger,
		bus:         b,
		opts:        opts,
		updates:     make(chan Update, updateQueueSize),
		wake:        make(chan struct{}, 1),
		thumbs:      thumbs,
		windows:     make(map[int64][]store.Message),
		attachments: make(map[string][]store.Attachment),
		reactions:   make(map[string][]store.Reaction),
		pinned:      make(map[string]bool),
		saved:       make(map[string]bool),
		drafts:      make(map[int64]string),
		presence:    make(map[string]Presence),
		typing:      make(map[typingKey]time.Time),
		connState:   ConnStatus{State: "disconnected"},
	}
}

// SetConnector wires the realtime client in after construction; the
// client itself needs the facade to post updates.
func (f *Facade) SetConnector(c Connector) { f.conn = c }

// Post queues an update from a background worker. Blocks only when the
// queue is full; order of application matches order of posting.
func (f *Facade) Post(u Update) {
	f.updates <- u
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Wake signals that at least one update is waiting; the frame loop
// selects on it to request a repaint instead of polling.
func (f *Facade) Wake() <-chan struct{} { return f.wake }

// Drain applies every queued update in order. Called once per frame on
// the render thread; never blocks.
func (f *Facade) Drain() {
	for {
		select {
		case u := <-f.updates:
			u.apply(f)
		default:
			return
		}
	}
}

// --- intents (render thread only) ---

// SendMessage validates and sends a message in the active channel. The
// message appears immediately as pending-local; persistence and
// transmission happen off-thread. Never blocks the composer.
func (f *Facade) SendMessage(channelID int64, body string, attachmentPaths []string) (string, error) {
	if f.worker == nil {
		return "", ErrNotReady
	}
	body = strings.TrimSpace(body)
	if body == "" && len(attachmentPaths) == 0 {
		return "", &ValidationError{Field: "body", Reason: "empty message"}
	}

	var atts []store.Attachment
	for _, p := range attachmentPaths {
		info, err := os.Stat(p)
		if err != nil {
			return "", &ValidationError{Field: "attachment", Reason: fmt.Sprintf("unreadable: %v", err)}
		}
		if f.opts.MaxAttachmentBytes > 0 && info.Size() > f.opts.MaxAttachmentBytes {
			return "", &ValidationError{Field: "attachment", Reason: fmt.Sprintf("%s exceeds %d bytes", filepath.Base(p), f.opts.MaxAttachmentBytes)}
		}
		atts = append(atts, store.Attachment{
			ID:        uuid.NewString(),
			Source:    p,
			Mime:      mime.TypeByExtension(filepath.Ext(p)),
			SizeBytes: info.Size(),
		})
	}

	msg := store.Message{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		Author:    f.opts.User,
		Body:      body,
		Spans:     richtext.Extract(body),
		CreatedAt: time.Now().UnixMilli(),
		Delivery:  store.DeliveryPending,
	}
	for i := range atts {
		atts[i].MessageID = msg.ID
	}

	// Local echo before any I/O.
	if len(atts) > 0 {
		f.attachments[msg.ID] = atts
	}
	f.mergeMessage(msg)
	f.touchChannel(channelID, msg.CreatedAt)
	delete(f.drafts, channelID)

	f.worker.Do(func(db *store.DB) {
		if err := db.TouchChannel(channelID, msg.CreatedAt); err != nil {
			f.logger.Warn("touch channel failed", zap.Int64("channel_id", channelID), zap.Error(err))
		}
		if err := db.InsertMessage(&msg, atts); err != nil {
			f.logger.Warn("persist send failed", zap.String("message_id", msg.ID), zap.Error(err))
			f.Post(DeliveryChanged{MessageID: msg.ID, ChannelID: channelID, Delivery: store.DeliveryFailed, Err: err.Error()})
			return
		}
		if err := db.QueueOutbox(msg.ID, channelID); err != nil {
			f.Post(DeliveryChanged{MessageID: msg.ID, ChannelID: channelID, Delivery: store.DeliveryFailed, Err: err.Error()})
			return
		}
		_ = db.DeleteDraft(channelID)
		f.bus.Publish(bus.Event{Kind: "outbox.queued", Timestamp: time.Now(), Payload: msg.ID})
	})

	return msg.ID, nil
}

// ResendMessage requeues a failed message. Resend is always an explicit
// user action; nothing retries automatically after an ack timeout.
func (f *Facade) ResendMessage(messageID string) error {
	if f.worker == nil {
		return ErrNotReady
	}
	for _, win := range f.windows {
		for i := range win {
			if win[i].ID == messageID {
				win[i].Delivery = store.DeliveryPending
			}
		}
	}
	f.worker.Do(func(db *store.DB) {
		// The channel comes from the row, not the resident windows: a
		// failed message may have scrolled out of memory by the time the
		// user resends it.
		msg, err := db.GetMessage(messageID)
		if err == nil && msg == nil {
			err = fmt.Errorf("unknown message %s", messageID)
		}
		if err != nil {
			f.Post(InlineError{Scope: "resend", Message: err.Error()})
			return
		}
		if err := db.SetDelivery(messageID, store.DeliveryPending); err != nil {
			f.Post(InlineError{Scope: "resend", Message: err.Error()})
			return
		}
		if err := db.QueueOutbox(messageID, msg.ChannelID); err != nil {
			f.Post(InlineError{Scope: "resend", Message: err.Error()})
			return
		}
		f.bus.Publish(bus.Event{Kind: "outbox.queued", Timestamp: time.Now(), Payload: messageID})
	})
	return nil
}

// ToggleReaction flips the local user's reaction on a message.
func (f *Facade) ToggleReaction(messageID, emoji string) error {
	if f.worker == nil {
		return ErrNotReady
	}
	on := !f.hasOwnReaction(messageID, emoji)
	f.setReactionLocal(messageID, emoji, f.opts.User, on)
	f.worker.Do(func(db *store.DB) {
		if err := db.SetReaction(messageID, emoji, f.opts.User, on); err != nil {
			f.Post(InlineError{Scope: "reaction", Message: err.Error()})
		}
	})
	return nil
}

// TogglePin flips the pin flag on a message.
func (f *Facade) TogglePin(messageID string) error {
	return f.toggleFlag(messageID, f.pinned, "pin", (*store.DB).SetPinned)
}

// ToggleSave flips the saved flag on a message.
func (f *Facade) ToggleSave(messageID string) error {
	return f.toggleFlag(messageID, f.saved, "save", (*store.DB).SetSaved)
}

func (f *Facade) toggleFlag(messageID string, set map[string]bool, scope string, op func(*store.DB, string, bool) error) error {
	if f.worker == nil {
		return ErrNotReady
	}
	on := !set[messageID]
	if on {
		set[messageID] = true
	} else {
		delete(set, messageID)
	}
	f.worker.Do(func(db *store.DB) {
		if err := op(db, messageID, on); err != nil {
			f.Post(InlineError{Scope: scope, Message: err.Error()})
		}
	})
	return nil
}

// EditDraft records the composer text for a channel. An empty body
// deletes the draft.
func (f *Facade) EditDraft(channelID int64, body string) {
	if body == "" {
		delete(f.drafts, channelID)
	} else {
		f.drafts[channelID] = body
	}
	if f.worker == nil {
		return
	}
	f.worker.Do(func(db *store.DB) {
		var err error
		if body == "" {
			err = db.DeleteDraft(channelID)
		} else {
			err = db.UpsertDraft(channelID, body)
		}
		if err != nil {
			f.Post(InlineError{Scope: "draft", Message: err.Error()})
		}
	})
}

// EditMessage replaces a message body, keeping identity and position.
func (f *Facade) EditMessage(messageID, body string) error {
	if f.worker == nil {
		return ErrNotReady
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return &ValidationError{Field: "body", Reason: "empty edit"}
	}
	spans := richtext.Extract(body)
	now := time.Now().UnixMilli()
	for _, win := range f.windows {
		for i := range win {
			if win[i].ID == messageID {
				win[i].Body = body
				win[i].Spans = spans
				win[i].EditedAt = now
			}
		}
	}
	f.worker.Do(func(db *store.DB) {
		if err := db.EditMessage(messageID, body, spans); err != nil {
			f.Post(InlineError{Scope: "edit", Message: err.Error()})
		}
	})
	return nil
}

// DeleteMessage tombstones a message and drops its thumbnails.
func (f *Facade) DeleteMessage(messageID string) error {
	if f.worker == nil {
		return ErrNotReady
	}
	if f.thumbs != nil {
		for _, a := range f.attachments[messageID] {
			f.thumbs.Invalidate(a.ID)
		}
	}
	for _, win := range f.windows {
		for i := range win {
			if win[i].ID == messageID {
				win[i].Deleted = true
				win[i].Body = ""
				win[i].Spans = nil
			}
		}
	}
	f.worker.Do(func(db *store.DB) {
		if err := db.DeleteMessage(messageID); err != nil {
			f.Post(InlineError{Scope: "delete", Message: err.Error()})
		}
	})
	return nil
}

// Search runs a body search, optionally scoped to one channel, and posts
// the results back for the next frame.
func (f *Facade) Search(query string, channelID int64) error {
	if f.worker == nil {
		return ErrNotReady
	}
	f.worker.Do(func(db *store.DB) {
		results, err := db.SearchMessages(query, channelID, f.opts.FetchLimit)
		if err != nil {
			f.Post(InlineError{Scope: "search", Message: err.Error()})
			return
		}
		f.Post(SearchFinished{Query: query, ChannelID: channelID, Results: results})
	})
	return nil
}

// SelectChannel switches the active channel, lazily loading its window
// when it was not part of hydration.
func (f *Facade) SelectChannel(channelID int64) {
	f.active = channelID
	if _, ok := f.windows[channelID]; ok || f.worker == nil {
		return
	}
	f.worker.Do(func(db *store.DB) {
		msgs, err := db.RecentMessages(channelID, f.opts.FetchLimit)
		if err != nil {
			f.Post(InlineError{Scope: "load", Message: err.Error()})
			return
		}
		reverse(msgs)
		ids := messageIDs(msgs)
		atts, _ := db.AttachmentsForMessages(ids)
		reactions, _ := db.ReactionsForMessages(ids)
		pinned, saved, _ := db.FlaggedMessages(ids)
		f.Post(WindowLoaded{
			ChannelID:   channelID,
			Messages:    msgs,
			Attachments: atts,
			Reactions:   reactions,
			Pinned:      pinned,
			Saved:       saved,
		})
	})
}

// Connect asks the realtime client to establish the connection.
func (f *Facade) Connect() {
	if f.conn != nil {
		f.conn.Connect()
	}
}

// Disconnect tears the connection down and rests at Disconnected.
func (f *Facade) Disconnect() {
	if f.conn != nil {
		f.conn.Disconnect()
	}
}

// NotifyTyping tells the server the local user is composing. Best
// effort; silently dropped while offline.
func (f *Facade) NotifyTyping(channelID int64) {
	if f.conn != nil {
		f.conn.SendTyping(channelID)
	}
}

// --- internal helpers (render thread) ---

// mergeMessage inserts or replaces a message in its channel window,
// keeping the window sorted by (created_at, id). Inbound frames usually
// arrive in order, so the append path is the common case and a re-sort
// only happens when out-of-order arrival is detected.
func (f *Facade) mergeMessage(m store.Message) {
	win := f.windows[m.ChannelID]
	for i := range win {
		if win[i].ID == m.ID {
			win[i] = m
			return
		}
	}
	win = append(win, m)
	if n := len(win); n > 1 {
		prev := win[n-2]
		if m.CreatedAt < prev.CreatedAt || (m.CreatedAt == prev.CreatedAt && m.ID < prev.ID) {
			sort.Slice(win, func(i, j int) bool {
				if win[i].CreatedAt != win[j].CreatedAt {
					return win[i].CreatedAt < win[j].CreatedAt
				}
				return win[i].ID < win[j].ID
			})
		}
	}
	// Bound resident history; scrollback reloads from the store.
	if max := f.opts.FetchLimit * 3; len(win) > max {
		win = win[len(win)-max:]
	}
	f.windows[m.ChannelID] = win
}

func (f *Facade) touchChannel(channelID, activityAt int64) {
	for i := range f.channels {
		if f.channels[i].ID == channelID {
			if activityAt > f.channels[i].LastActivityAt {
				f.channels[i].LastActivityAt = activityAt
			}
			return
		}
	}
}

func (f *Facade) hasOwnReaction(messageID, emoji string) bool {
	for _, r := range f.reactions[messageID] {
		if r.Emoji == emoji && r.Author == f.opts.User {
			return true
		}
	}
	return false
}

func (f *Facade) setReactionLocal(messageID, emoji, author string, on bool) {
	rs := f.reactions[messageID]
	idx := -1
	for i, r := range rs {
		if r.Emoji == emoji && r.Author == author {
			idx = i
			break
		}
	}
	switch {
	case on && idx < 0:
		f.reactions[messageID] = append(rs, store.Reaction{
			MessageID: messageID, Emoji: emoji, Author: author,
			CreatedAt: time.Now().UnixMilli(),
		})
	case !on && idx >= 0:
		f.reactions[messageID] = append(rs[:idx], rs[idx+1:]...)
	}
}

func (f *Facade) pushInlineError(scope, msg string) {
	f.inlineErrs = append(f.inlineErrs, scope+": "+msg)
	if len(f.inlineErrs) > maxInlineErrors {
		f.inlineErrs = f.inlineErrs[len(f.inlineErrs)-maxInlineErrors:]
	}
}

func reverse(msgs []store.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func messageIDs(msgs []store.Message) []string {
	ids := make([]string, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	return ids
}
