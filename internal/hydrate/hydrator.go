// Package hydrate loads persisted state into the facade at startup. The
// first frame renders before any of this runs; hydration lands as one
// atomic update, never as a partially filled channel list.
package hydrate

import (
	"context"
	"sync"
	"time"

	"github.com/ralph-groupscholar/slack/internal/appstate"
	"github.com/ralph-groupscholar/slack/internal/bus"
	"github.com/ralph-groupscholar/slack/internal/store"
	"go.uber.org/zap"
)

// transientWarning is shown in the UI while running on the in-memory
// fallback database.
const transientWarning = "storage unavailable: running in memory, nothing will be saved"

// Options configures hydration.
type Options struct {
	DBPath     string
	FetchLimit int // messages loaded per channel
}

// Hydrator opens the database, migrates, seeds a first-run install and
// loads the initial state.
type Hydrator struct {
	opts   Options
	facade *appstate.Facade
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	worker *store.Worker
}

// New creates a hydrator.
func New(opts Options, f *appstate.Facade, b *bus.Bus, logger *zap.Logger) *Hydrator {
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 50
	}
	return &Hydrator{opts: opts, facade: f, bus: b, logger: logger}
}

// Run hydrates and returns the started store worker, which owns the
// database from here on. An unusable data file degrades to the in-memory
// fallback with a visible warning instead of refusing to start.
func (h *Hydrator) Run(ctx context.Context) (*store.Worker, error) {
	db, warning := h.openWithFallback()
	var u *appstate.HydrationComplete
	if db != nil {
		var err error
		u, err = h.prepare(db)
		if err != nil {
			h.logger.Warn("initial load failed, falling back to memory",
				zap.String("path", h.opts.DBPath), zap.Error(err))
			_ = db.Close()
			db, warning = nil, transientWarning
		}
	}
	if db == nil {
		var err error
		db, err = store.OpenMemory()
		if err != nil {
			return nil, err
		}
		if _, err := db.Migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
		u, err = h.prepare(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	u.Warning = warning

	worker := store.NewWorker(db)
	worker.Start(ctx)
	u.Worker = worker
	h.mu.Lock()
	h.worker = worker
	h.mu.Unlock()

	h.facade.Post(*u)
	h.bus.Publish(bus.Event{Kind: "hydrate.done", Timestamp: time.Now()})
	h.logger.Info("hydration complete",
		zap.Int("channels", len(u.Channels)),
		zap.Bool("transient", db.Transient))
	return worker, nil
}

// Close stops the store worker, flushing queued writes and closing the
// database. Safe to call before Run completed.
func (h *Hydrator) Close() error {
	h.mu.Lock()
	w := h.worker
	h.worker = nil
	h.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Stop()
}

// openWithFallback opens and migrates the on-disk database. Any failure
// returns nil and the warning text; the caller then builds the memory
// fallback. A nil return with empty warning never happens.
func (h *Hydrator) openWithFallback() (*store.DB, string) {
	db, err := store.Open(h.opts.DBPath)
	if err != nil {
		h.logger.Warn("open database failed, falling back to memory",
			zap.String("path", h.opts.DBPath), zap.Error(err))
		return nil, transientWarning
	}
	if _, err := db.Migrate(); err != nil {
		h.logger.Warn("migrate failed, falling back to memory",
			zap.String("path", h.opts.DBPath), zap.Error(err))
		_ = db.Close()
		return nil, transientWarning
	}
	return db, ""
}

// prepare seeds a first-run database and reads the initial state. A seed
// failure is survivable; a load failure is not, and sends a disk database
// down the memory fallback path.
func (h *Hydrator) prepare(db *store.DB) (*appstate.HydrationComplete, error) {
	if err := db.Seed(); err != nil {
		h.logger.Warn("seed failed", zap.Error(err))
	}
	return h.load(db)
}

// load reads the complete initial state in one pass.
func (h *Hydrator) load(db *store.DB) (*appstate.HydrationComplete, error) {
	channels, err := db.ListChannels()
	if err != nil {
		return nil, err
	}

	u := &appstate.HydrationComplete{
		Channels:    channels,
		Windows:     make(map[int64][]store.Message, len(channels)),
		Attachments: make(map[string][]store.Attachment),
		Reactions:   make(map[string][]store.Reaction),
		Pinned:      make(map[string]bool),
		Saved:       make(map[string]bool),
	}

	var allIDs []string
	for _, ch := range channels {
		msgs, err := db.RecentMessages(ch.ID, h.opts.FetchLimit)
		if err != nil {
			return nil, err
		}
		ascending(msgs)
		u.Windows[ch.ID] = msgs
		for i := range msgs {
			allIDs = append(allIDs, msgs[i].ID)
		}
	}

	if len(allIDs) > 0 {
		atts, err := db.AttachmentsForMessages(allIDs)
		if err != nil {
			return nil, err
		}
		u.Attachments = atts

		reactions, err := db.ReactionsForMessages(allIDs)
		if err != nil {
			return nil, err
		}
		u.Reactions = reactions

		pinned, saved, err := db.FlaggedMessages(allIDs)
		if err != nil {
			return nil, err
		}
		u.Pinned, u.Saved = pinned, saved
	}

	drafts, err := db.AllDrafts()
	if err != nil {
		return nil, err
	}
	u.Drafts = drafts
	return u, nil
}

// ascending flips a newest-first query result into display order.
func ascending(msgs []store.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
