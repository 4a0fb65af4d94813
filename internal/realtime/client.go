package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/ralph-groupscholar/slack/internal/appstate"
	"github.com/ralph-groupscholar/slack/internal/bus"
	"github.com/ralph-groupscholar/slack/internal/richtext"
	"github.com/ralph-groupscholar/slack/internal/store"
	"github.com/ralph-groupscholar/slack/internal/wire"
	"go.uber.org/zap"
)

const (
	dialTimeout    = 10 * time.Second
	writeTimeout   = 5 * time.Second
	maxFrameBytes  = 1 << 20
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second

	// fallbackBodyLimit bounds the text we keep from an unparseable frame.
	fallbackBodyLimit = 512
)

// ErrAuthRejected means the server refused our credentials. Terminal:
// reconnecting with the same token would just be rejected again.
var ErrAuthRejected = errors.New("authentication rejected")

var errNotConnected = errors.New("not connected")

// Options configures the sync client.
type Options struct {
	Endpoint   string
	User       string
	Token      string
	AckTimeout time.Duration
	MaxRetries int // reconnect attempts before resting at disconnected; 0 = unbounded
}

type pendingSend struct {
	timer     *time.Timer
	channelID int64
}

// Client is the websocket sync client. It owns the connection lifecycle
// and the auth handshake, turns inbound frames into persisted rows and
// facade updates, and correlates acks with outbound messages. It
// satisfies both the facade's Connector and the outbox's Transmitter.
type Client struct {
	opts    Options
	facade  *appstate.Facade
	logger  *zap.Logger
	machine *machine

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	conn    *websocket.Conn
	authed  bool
	preAuth [][]byte
	pending map[string]pendingSend
	worker  *store.Worker
}

// New creates the client. BindWorker must be called once hydration has
// produced the store worker; until then inbound state is in-memory only.
func New(opts Options, f *appstate.Facade, b *bus.Bus, logger *zap.Logger) *Client {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 10 * time.Second
	}
	c := &Client{
		opts:    opts,
		facade:  f,
		logger:  logger,
		machine: newMachine(f, b, logger),
		pending: make(map[string]pendingSend),
	}
	f.SetConnector(c)
	return c
}

// BindWorker hands the client the database worker. Called exactly once,
// after hydration.
func (c *Client) BindWorker(w *store.Worker) {
	c.mu.Lock()
	c.worker = w
	c.mu.Unlock()
}

func (c *Client) workerRef() *store.Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.worker
}

// Connect starts the connection loop. Idempotent while running.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()
	go c.run(ctx)
}

// Disconnect stops the loop and rests at Disconnected. No reconnect
// until the user asks again.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

// Ready reports whether the session is authenticated and message frames
// may be transmitted.
func (c *Client) Ready() bool {
	return c.machine.current() == StateConnected
}

// run is the connection loop: dial, handshake, serve, back off, repeat.
// Backoff doubles up to a cap and resets after any authenticated session;
// a bounded retry count keeps a dead server from spinning forever.
func (c *Client) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	backoff := initialBackoff
	attempts := 0
	for {
		if ctx.Err() != nil {
			c.machine.set(StateDisconnected, "")
			return
		}
		if !c.machine.set(StateConnecting, "") {
			return
		}
		authed, err := c.session(ctx)
		if authed {
			attempts = 0
			backoff = initialBackoff
		}
		if ctx.Err() != nil {
			c.machine.set(StateDisconnected, "")
			return
		}
		if errors.Is(err, ErrAuthRejected) {
			c.machine.set(StateDisconnected, err.Error())
			return
		}

		attempts++
		if c.opts.MaxRetries > 0 && attempts >= c.opts.MaxRetries {
			c.machine.set(StateDisconnected, fmt.Sprintf("giving up after %d attempts: %v", attempts, err))
			return
		}
		cause := ""
		if err != nil {
			cause = err.Error()
		}
		c.machine.set(StateReconnecting, cause)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			c.machine.set(StateDisconnected, "")
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// session runs one connection from dial to teardown. It returns whether
// the auth handshake completed, which resets the caller's backoff.
func (c *Client) session(ctx context.Context) (bool, error) {
	dctx, dcancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dctx, c.opts.Endpoint, nil)
	dcancel()
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.opts.Endpoint, err)
	}
	conn.SetReadLimit(maxFrameBytes)

	c.mu.Lock()
	c.conn = conn
	c.authed = false
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.authed = false
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		c.failPending("connection lost before ack")
	}()

	c.machine.set(StateAuthenticating, "")

	// The auth frame is always first on the wire; any other outbound
	// frame waits in the pre-auth queue until the server acks us.
	auth, err := wire.Encode(wire.Auth{Type: wire.TypeAuth, Token: c.opts.Token, User: c.opts.User})
	if err != nil {
		return false, fmt.Errorf("encode auth: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, auth); err != nil {
		return false, fmt.Errorf("send auth: %w", err)
	}

	authed := false
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return authed, fmt.Errorf("read: %w", err)
		}
		in := wire.Decode(data)

		if !authed {
			if in.Type != wire.TypeAuthAck {
				c.logger.Debug("dropping frame received before auth_ack", zap.String("type", string(in.Type)))
				continue
			}
			if in.AuthAck.Error != "" {
				return false, fmt.Errorf("%w: %s", ErrAuthRejected, in.AuthAck.Error)
			}
			authed = true
			c.mu.Lock()
			c.authed = true
			queued := c.preAuth
			c.preAuth = nil
			c.mu.Unlock()
			c.machine.set(StateConnected, "")
			for _, frame := range queued {
				if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
					return true, fmt.Errorf("flush pre-auth queue: %w", err)
				}
			}
			continue
		}
		c.handle(in)
	}
}

// handle dispatches one authenticated inbound frame. A frame that cannot
// be handled is logged and dropped; the connection stays up.
func (c *Client) handle(in wire.Inbound) {
	switch in.Type {
	case wire.TypeMessage:
		c.handleMessage(in.Message)
	case wire.TypeAck:
		c.handleAck(in.Ack.MessageID)
	case wire.TypePresence:
		c.facade.Post(appstate.PresenceUpdated{
			User:     in.Presence.User,
			Status:   in.Presence.Status,
			LastSeen: in.Presence.LastSeen,
		})
	case wire.TypeTyping:
		if in.Typing.User == c.opts.User {
			return
		}
		c.facade.Post(appstate.TypingObserved{
			ChannelID: in.Typing.ChannelID,
			User:      in.Typing.User,
			Expiry:    time.Now().Add(c.facade.TypingTTL()),
		})
	case wire.TypeAttachment:
		c.handleAttachment(in.Attachment)
	case wire.TypeUnrecognized:
		c.handleUnrecognized(in.Raw)
	default:
		// Forward compatibility: a type we do not speak is not an error.
		c.logger.Debug("ignoring frame of unknown type")
	}
}

func (c *Client) handleMessage(m *wire.Message) {
	if m.Author == c.opts.User {
		// Broadcast echo of our own send; the ack owns delivery state.
		return
	}
	msg := store.Message{
		ID:        m.MessageID,
		ChannelID: m.ChannelID,
		Author:    m.Author,
		Body:      m.Body,
		Spans:     richtext.Extract(m.Body),
		CreatedAt: m.SentAt,
		Delivery:  store.DeliveryConfirmed,
		ReplyTo:   m.ReplyTo,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}
	var atts []store.Attachment
	for _, am := range m.Attachments {
		atts = append(atts, store.Attachment{
			ID:        am.ID,
			MessageID: msg.ID,
			Source:    am.Source,
			Mime:      am.Mime,
			SizeBytes: am.SizeBytes,
		})
	}
	c.ingest(msg, atts)
}

// ingest persists an inbound message and then posts it to the facade, so
// anything the UI shows is already durable.
func (c *Client) ingest(msg store.Message, atts []store.Attachment) {
	w := c.workerRef()
	if w == nil {
		c.facade.Post(appstate.MessageUpserted{Msg: msg, Attachments: atts})
		return
	}
	w.Do(func(db *store.DB) {
		if err := db.TouchChannel(msg.ChannelID, msg.CreatedAt); err != nil {
			c.logger.Warn("touch channel failed", zap.Int64("channel_id", msg.ChannelID), zap.Error(err))
		}
		if err := db.InsertMessage(&msg, atts); err != nil {
			c.logger.Warn("persist inbound message failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
		c.facade.Post(appstate.MessageUpserted{Msg: msg, Attachments: atts})
	})
}

func (c *Client) handleAck(messageID string) {
	c.mu.Lock()
	p, ok := c.pending[messageID]
	if ok {
		p.timer.Stop()
		delete(c.pending, messageID)
	}
	c.mu.Unlock()
	if !ok {
		// Late ack after timeout, or ack for another session. Ignore.
		c.logger.Debug("ack for unknown message", zap.String("message_id", messageID))
		return
	}

	w := c.workerRef()
	if w == nil {
		c.facade.Post(appstate.DeliveryChanged{MessageID: messageID, ChannelID: p.channelID, Delivery: store.DeliveryConfirmed})
		return
	}
	w.Do(func(db *store.DB) {
		if err := db.SetDelivery(messageID, store.DeliveryConfirmed); err != nil {
			c.logger.Warn("record ack failed", zap.String("message_id", messageID), zap.Error(err))
		}
		_ = db.MarkOutboxAcked(messageID)
		c.facade.Post(appstate.DeliveryChanged{MessageID: messageID, ChannelID: p.channelID, Delivery: store.DeliveryConfirmed})
	})
}

func (c *Client) handleAttachment(frame *wire.AttachmentFrame) {
	a := store.Attachment{
		ID:        frame.ID,
		MessageID: frame.MessageID,
		Source:    frame.Source,
		Mime:      frame.Mime,
		SizeBytes: frame.SizeBytes,
	}
	w := c.workerRef()
	if w == nil {
		c.facade.Post(appstate.AttachmentAdded{Attachment: a})
		return
	}
	w.Do(func(db *store.DB) {
		if err := db.InsertAttachment(&a); err != nil {
			c.logger.Warn("persist attachment failed", zap.String("attachment_id", a.ID), zap.Error(err))
		}
		c.facade.Post(appstate.AttachmentAdded{Attachment: a})
	})
}

// handleUnrecognized files bytes that did not parse as a frame under the
// synthetic channel as a bare text message, so server garbage surfaces
// somewhere visible instead of vanishing.
func (c *Client) handleUnrecognized(raw []byte) {
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return
	}
	if len(body) > fallbackBodyLimit {
		body = body[:fallbackBodyLimit]
	}
	c.logger.Warn("unparseable frame, filing under synthetic channel", zap.Int("bytes", len(raw)))
	c.facade.Post(appstate.ChannelUpserted{Channel: store.Channel{
		ID:   wire.SyntheticChannelID,
		Name: "unparsed",
		Kind: store.KindChannel,
	}})
	c.ingest(store.Message{
		ID:        uuid.NewString(),
		ChannelID: wire.SyntheticChannelID,
		Author:    "server",
		Body:      body,
		CreatedAt: time.Now().UnixMilli(),
		Delivery:  store.DeliveryConfirmed,
	}, nil)
}

// --- outbound ---

// Transmit writes one message frame and arms its ack timer. Implements
// the outbox sender's Transmitter.
func (c *Client) Transmit(msg store.Message, atts []store.Attachment) error {
	frame := wire.Message{
		Type:      wire.TypeMessage,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		Author:    msg.Author,
		Body:      msg.Body,
		SentAt:    msg.CreatedAt,
		ReplyTo:   msg.ReplyTo,
	}
	for _, a := range atts {
		frame.Attachments = append(frame.Attachments, wire.AttachmentMeta{
			ID:        a.ID,
			Source:    a.Source,
			Mime:      a.Mime,
			SizeBytes: a.SizeBytes,
		})
	}
	data, err := wire.Encode(frame)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := c.write(data); err != nil {
		return err
	}
	c.armAckTimer(msg.ID, msg.ChannelID)
	return nil
}

// SendTyping announces that the local user is composing. Dropped while
// not fully connected; typing signals are not worth queueing.
func (c *Client) SendTyping(channelID int64) {
	if !c.Ready() {
		return
	}
	data, err := wire.Encode(wire.Typing{Type: wire.TypeTyping, ChannelID: channelID, User: c.opts.User})
	if err != nil {
		return
	}
	_ = c.write(data)
}

// write sends a frame on the current connection. Frames written between
// dial and auth_ack are queued and flushed by the session once the
// handshake completes; nothing but auth goes out before it.
func (c *Client) write(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return errNotConnected
	}
	if !c.authed {
		c.preAuth = append(c.preAuth, data)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) armAckTimer(messageID string, channelID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pending[messageID]; ok {
		p.timer.Stop()
	}
	timer := time.AfterFunc(c.opts.AckTimeout, func() {
		c.ackTimedOut(messageID, channelID)
	})
	c.pending[messageID] = pendingSend{timer: timer, channelID: channelID}
}

// ackTimedOut marks an unacked message failed. There is no automatic
// resend; the user decides whether to try again.
func (c *Client) ackTimedOut(messageID string, channelID int64) {
	c.mu.Lock()
	_, ok := c.pending[messageID]
	delete(c.pending, messageID)
	c.mu.Unlock()
	if !ok {
		return
	}
	c.logger.Warn("ack timeout", zap.String("message_id", messageID), zap.Duration("timeout", c.opts.AckTimeout))
	c.markFailed(messageID, channelID, "no ack within "+c.opts.AckTimeout.String())
}

// failPending settles every in-flight send when the session dies, so
// nothing stays pending forever.
func (c *Client) failPending(cause string) {
	c.mu.Lock()
	settled := c.pending
	c.pending = make(map[string]pendingSend)
	c.mu.Unlock()
	for id, p := range settled {
		p.timer.Stop()
		c.markFailed(id, p.channelID, cause)
	}
}

func (c *Client) markFailed(messageID string, channelID int64, cause string) {
	w := c.workerRef()
	if w == nil {
		c.facade.Post(appstate.DeliveryChanged{MessageID: messageID, ChannelID: channelID, Delivery: store.DeliveryFailed, Err: cause})
		return
	}
	w.Do(func(db *store.DB) {
		if err := db.SetDelivery(messageID, store.DeliveryFailed); err != nil {
			c.logger.Warn("record send failure failed", zap.String("message_id", messageID), zap.Error(err))
		}
		_ = db.MarkOutboxFailed(messageID, cause)
		c.facade.Post(appstate.DeliveryChanged{MessageID: messageID, ChannelID: channelID, Delivery: store.DeliveryFailed, Err: cause})
	})
}
