package thumb

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ralph-groupscholar/slack/internal/bus"
	"github.com/ralph-groupscholar/slack/internal/store"
	"go.uber.org/zap"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

// waitFor polls until lookup leaves the pending state.
func waitFor(t *testing.T, c *Cache, att store.Attachment) Lookup {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if l := c.Lookup(att); l.State != StatePending {
			return l
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("decode of %s never completed", att.ID)
	return Lookup{}
}

func testCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	c := New(opts, bus.New(), zap.NewNop())
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	return c
}

func TestLookupDecodesAndCaches(t *testing.T) {
	dir := t.TempDir()
	c := testCache(t, Options{Capacity: 4, MaxDim: 8})
	att := store.Attachment{ID: "a1", Source: writePNG(t, dir, "a1.png", 32, 16)}

	if l := c.Lookup(att); l.State != StatePending {
		t.Fatalf("first lookup state = %d, want pending", l.State)
	}
	l := waitFor(t, c, att)
	if l.State != StateHit {
		t.Fatalf("state = %d, want hit", l.State)
	}
	b := l.Image.Bounds()
	if b.Dx() != 8 || b.Dy() != 4 {
		t.Errorf("downsampled to %dx%d, want 8x4", b.Dx(), b.Dy())
	}
}

func TestFIFOEviction(t *testing.T) {
	dir := t.TempDir()
	const capacity = 3
	c := testCache(t, Options{Capacity: capacity, MaxDim: 8, Workers: 1})

	ids := []string{"a1", "a2", "a3", "a4", "a5"}
	atts := make([]store.Attachment, len(ids))
	for i, id := range ids {
		atts[i] = store.Attachment{ID: id, Source: writePNG(t, dir, id+".png", 4, 4)}
	}

	// Fill to capacity in a deterministic insertion order.
	for _, att := range atts[:capacity] {
		c.Lookup(att)
		waitFor(t, c, att)
	}
	// Touch the oldest entry repeatedly; LRU would protect it, FIFO
	// must not.
	for i := 0; i < 5; i++ {
		if l := c.Lookup(atts[0]); l.State != StateHit {
			t.Fatalf("touch state = %d, want hit", l.State)
		}
	}
	// Overflow by two: the two oldest inserts are the victims.
	for _, att := range atts[capacity:] {
		c.Lookup(att)
		waitFor(t, c, att)
	}

	if got := c.Len(); got != capacity {
		t.Fatalf("resident = %d, want %d", got, capacity)
	}
	for _, id := range []string{"a1", "a2"} {
		if c.Resident(id) {
			t.Errorf("%s should have been evicted", id)
		}
	}
	for _, id := range []string{"a3", "a4", "a5"} {
		if !c.Resident(id) {
			t.Errorf("%s should be resident", id)
		}
	}
}

func TestDecodeFailureCached(t *testing.T) {
	dir := t.TempDir()
	c := testCache(t, Options{Capacity: 4, MaxDim: 8})

	path := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(path, []byte("not an image"), 0600); err != nil {
		t.Fatal(err)
	}
	att := store.Attachment{ID: "bad", Source: path}

	c.Lookup(att)
	l := waitFor(t, c, att)
	if l.State != StateError {
		t.Fatalf("state = %d, want error", l.State)
	}
	var de *DecodeError
	if !errors.As(l.Err, &de) {
		t.Errorf("err = %v, want DecodeError", l.Err)
	}

	// A repeat lookup reports the cached failure without pending again.
	if l := c.Lookup(att); l.State != StateError {
		t.Errorf("repeat state = %d, want error", l.State)
	}
}

func TestDecodePublishesRepaintEvent(t *testing.T) {
	dir := t.TempDir()
	b := bus.New()
	events, unsubscribe := b.Subscribe("thumb.", 4)
	defer unsubscribe()

	c := New(Options{Capacity: 4, MaxDim: 8}, b, zap.NewNop())
	c.Start(context.Background())
	t.Cleanup(c.Stop)

	att := store.Attachment{ID: "a1", Source: writePNG(t, dir, "a1.png", 4, 4)}
	c.Lookup(att)

	select {
	case evt := <-events:
		if evt.Kind != "thumb.decoded" || evt.Payload != "a1" {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no repaint event published")
	}
}

func TestInvalidateDiscardsInFlightResult(t *testing.T) {
	dir := t.TempDir()
	// No Start: the decode stays in flight, so the race with Invalidate
	// is deterministic.
	c := New(Options{Capacity: 4, MaxDim: 8}, bus.New(), zap.NewNop())
	att := store.Attachment{ID: "a1", Source: writePNG(t, dir, "a1.png", 8, 8)}

	if l := c.Lookup(att); l.State != StatePending {
		t.Fatalf("state = %d, want pending", l.State)
	}
	c.Invalidate(att.ID)

	// The worker finishing now holds a stale result; it must be dropped.
	c.install(att.ID, image.NewRGBA(image.Rect(0, 0, 1, 1)), nil)
	if c.Resident(att.ID) {
		t.Error("stale result installed after invalidation")
	}
	if l := c.Lookup(att); l.State != StatePending {
		t.Errorf("state = %d, want a fresh decode scheduled", l.State)
	}
}
