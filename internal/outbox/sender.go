// Package outbox drains queued outgoing messages to the sync client.
// Messages survive restarts in the outbox table; the sender only moves
// them from queued to sent, and the ack path settles the rest.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/ralph-groupscholar/slack/internal/bus"
	"github.com/ralph-groupscholar/slack/internal/store"
	"go.uber.org/zap"
)

const pollInterval = 500 * time.Millisecond

// Transmitter is the send side of the sync client.
type Transmitter interface {
	Ready() bool
	Transmit(msg store.Message, atts []store.Attachment) error
}

// Sender polls the outbox and transmits queued messages once the
// connection is ready. A bus nudge on enqueue or reconnect short-cuts
// the poll interval; the ticker is the fallback that makes delivery not
// depend on anyone remembering to nudge.
type Sender struct {
	tx     Transmitter
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	worker *store.Worker // nil until hydration completes

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the sender. BindWorker must be called before Start does
// any useful work.
func New(tx Transmitter, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{tx: tx, bus: b, logger: logger, done: make(chan struct{})}
}

// BindWorker hands the sender the database worker after hydration.
func (s *Sender) BindWorker(w *store.Worker) {
	s.mu.Lock()
	s.worker = w
	s.mu.Unlock()
}

func (s *Sender) workerRef() *store.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker
}

// Start launches the drain loop.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	nudges, unsubscribe := s.bus.Subscribe("outbox.queued", 16)
	reconnects, unsubscribe2 := s.bus.Subscribe("conn.state_changed", 4)

	go func() {
		defer close(s.done)
		defer unsubscribe()
		defer unsubscribe2()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-nudges:
			case <-reconnects:
			case <-ctx.Done():
				return
			}
			s.drain()
		}
	}()
}

// Stop halts the drain loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// drain transmits every queued entry in enqueue order. Runs on the store
// worker so the read and the status update see a consistent outbox.
func (s *Sender) drain() {
	w := s.workerRef()
	if w == nil || !s.tx.Ready() {
		return
	}
	w.Do(func(db *store.DB) {
		entries, err := db.PendingOutbox()
		if err != nil {
			s.logger.Warn("read outbox failed", zap.Error(err))
			return
		}
		for _, e := range entries {
			if !s.tx.Ready() {
				return
			}
			msg, err := db.GetMessage(e.MessageID)
			if err != nil || msg == nil {
				s.logger.Warn("outbox entry without message", zap.String("message_id", e.MessageID))
				_ = db.MarkOutboxFailed(e.MessageID, "message row missing")
				continue
			}
			atts, err := db.AttachmentsForMessages([]string{msg.ID})
			if err != nil {
				s.logger.Warn("load attachments failed", zap.String("message_id", msg.ID), zap.Error(err))
			}
			if err := s.tx.Transmit(*msg, atts[msg.ID]); err != nil {
				// Likely a connection drop mid-drain. Leave the entry
				// queued; the next ready drain retries it.
				s.logger.Warn("transmit failed", zap.String("message_id", msg.ID), zap.Error(err))
				return
			}
			if err := db.MarkOutboxSent(msg.ID); err != nil {
				s.logger.Warn("mark sent failed", zap.String("message_id", msg.ID), zap.Error(err))
			}
		}
	})
}
