// Package thumb bounds the memory spent on decoded attachment previews.
// The thumbnail cache and the smaller decode-error cache both evict
// strictly FIFO by insertion sequence number, independent of access
// recency: an evicted entry simply decodes again next time it is shown.
package thumb

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/ralph-groupscholar/slack/internal/bus"
	"github.com/ralph-groupscholar/slack/internal/store"
	"go.uber.org/zap"
)

// Lookup states.
type State int

const (
	StatePending State = iota
	StateHit
	StateError
)

// Lookup is the result of a cache probe.
type Lookup struct {
	State State
	Image image.Image
	Err   error
}

type entry struct {
	seq uint64
	img image.Image
}

type errEntry struct {
	seq uint64
	err error
}

// Options configures the cache.
type Options struct {
	Capacity      int // max resident thumbnails
	ErrorCapacity int // max cached decode failures
	MaxDim        int // max pixel dimension after downsampling
	Workers       int
}

// Cache is the bounded thumbnail cache. Lookup is safe to call from the
// render thread and never blocks on I/O; decoding happens on the worker
// pool and results are installed under the mutex.
type Cache struct {
	opts   Options
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	seq      uint64
	entries  map[string]entry
	errs     map[string]errEntry
	inflight map[string]bool

	jobs   chan store.Attachment
	cancel context.CancelFunc
}

// New creates the cache. Call Start to launch the decode pool.
func New(opts Options, b *bus.Bus, logger *zap.Logger) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = 64
	}
	if opts.ErrorCapacity <= 0 {
		opts.ErrorCapacity = 16
	}
	if opts.MaxDim <= 0 {
		opts.MaxDim = 512
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	return &Cache{
		opts:     opts,
		bus:      b,
		logger:   logger,
		entries:  make(map[string]entry),
		errs:     make(map[string]errEntry),
		inflight: make(map[string]bool),
		jobs:     make(chan store.Attachment, opts.Capacity),
	}
}

// Start launches the fixed-size decode worker pool.
func (c *Cache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	for i := 0; i < c.opts.Workers; i++ {
		go c.worker(ctx)
	}
}

// Stop cancels the worker pool.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Lookup returns the cached thumbnail for an attachment, schedules a
// decode when absent, or reports a cached failure without re-attempting.
// The hit path is a map probe under a mutex: bounded local time, no I/O.
func (c *Cache) Lookup(att store.Attachment) Lookup {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[att.ID]; ok {
		return Lookup{State: StateHit, Image: e.img}
	}
	if e, ok := c.errs[att.ID]; ok {
		return Lookup{State: StateError, Err: e.err}
	}
	if !c.inflight[att.ID] {
		select {
		case c.jobs <- att:
			c.inflight[att.ID] = true
		default:
			// Queue full; the next frame's lookup retries.
		}
	}
	return Lookup{State: StatePending}
}

func (c *Cache) worker(ctx context.Context) {
	for {
		select {
		case att := <-c.jobs:
			img, err := decodeFile(att.Source, c.opts.MaxDim)
			c.install(att.ID, img, err)
			c.bus.Publish(bus.Event{Kind: "thumb.decoded", Timestamp: time.Now(), Payload: att.ID})
		case <-ctx.Done():
			return
		}
	}
}

// install records a decode result. A result for an attachment no longer
// marked in flight was superseded and is discarded.
func (c *Cache) install(id string, img image.Image, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inflight[id] {
		return
	}
	delete(c.inflight, id)

	c.seq++
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("thumbnail decode failed", zap.String("attachment", id), zap.Error(err))
		}
		c.errs[id] = errEntry{seq: c.seq, err: err}
		for len(c.errs) > c.opts.ErrorCapacity {
			c.evictOldestErr()
		}
		return
	}
	c.entries[id] = entry{seq: c.seq, img: img}
	for len(c.entries) > c.opts.Capacity {
		c.evictOldest()
	}
}

// evictOldest drops the resident entry with the smallest insertion
// sequence number. The scan is O(capacity); capacity is small.
func (c *Cache) evictOldest() {
	var victim string
	var min uint64
	first := true
	for id, e := range c.entries {
		if first || e.seq < min {
			victim, min, first = id, e.seq, false
		}
	}
	delete(c.entries, victim)
}

func (c *Cache) evictOldestErr() {
	var victim string
	var min uint64
	first := true
	for id, e := range c.errs {
		if first || e.seq < min {
			victim, min, first = id, e.seq, false
		}
	}
	delete(c.errs, victim)
}

// Invalidate drops any cached result for an attachment and unmarks a
// decode still in flight for it, so the worker discards the stale result
// when it lands. Called when the owning message goes away.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	delete(c.errs, id)
	delete(c.inflight, id)
}

// Resident reports whether a decoded thumbnail is currently cached.
func (c *Cache) Resident(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Len returns the resident thumbnail count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
