package hydrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ralph-groupscholar/slack/internal/appstate"
	"github.com/ralph-groupscholar/slack/internal/bus"
	"github.com/ralph-groupscholar/slack/internal/store"
	"go.uber.org/zap"
)

func testFacade(t *testing.T) *appstate.Facade {
	t.Helper()
	return appstate.New(appstate.Options{User: "you", FetchLimit: 50}, bus.New(), nil, zap.NewNop())
}

func TestRunHydratesSeededDatabase(t *testing.T) {
	f := testFacade(t)
	h := New(Options{DBPath: filepath.Join(t.TempDir(), "test.db"), FetchLimit: 50}, f, bus.New(), zap.NewNop())

	w, err := h.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Close() })
	if w == nil {
		t.Fatal("no worker returned")
	}

	f.Drain()
	s := f.Snapshot()
	if !s.Hydrated {
		t.Fatal("facade not hydrated")
	}
	if s.Warning != "" {
		t.Errorf("warning = %q on a healthy database", s.Warning)
	}
	if len(s.Channels) == 0 {
		t.Fatal("seeded channels missing")
	}
	if s.ActiveChannelID != s.Channels[0].ID {
		t.Errorf("active = %d, want first channel", s.ActiveChannelID)
	}
	if len(s.Messages) == 0 {
		t.Error("seeded messages missing from active window")
	}
	for i := 1; i < len(s.Messages); i++ {
		if s.Messages[i].CreatedAt < s.Messages[i-1].CreatedAt {
			t.Fatal("window not ascending")
		}
	}
}

func TestRunLoadsBoundedWindowPerChannel(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchChannel(1, 0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 200; i++ {
		m := &store.Message{
			ID: "m-" + string(rune('a'+i/26)) + string(rune('a'+i%26)), ChannelID: 1,
			Author: "mara", Body: "b", CreatedAt: int64(1000 + i), Delivery: store.DeliveryConfirmed,
		}
		if err := db.InsertMessage(m, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	f := testFacade(t)
	h := New(Options{DBPath: dbPath, FetchLimit: 50}, f, bus.New(), zap.NewNop())
	if _, err := h.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Close() })

	f.Drain()
	s := f.Snapshot()
	if len(s.Messages) != 50 {
		t.Fatalf("window = %d messages, want 50", len(s.Messages))
	}
	// The 50 most recent of 200, in display order.
	if s.Messages[0].CreatedAt != 1150 || s.Messages[49].CreatedAt != 1199 {
		t.Errorf("window spans %d..%d, want 1150..1199", s.Messages[0].CreatedAt, s.Messages[49].CreatedAt)
	}
}

func TestRunFallsBackToMemory(t *testing.T) {
	// Point the db path inside a regular file; sqlite cannot create it.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	f := testFacade(t)
	b := bus.New()
	events, unsubscribe := b.Subscribe("hydrate.", 2)
	defer unsubscribe()

	h := New(Options{DBPath: filepath.Join(blocker, "test.db"), FetchLimit: 50}, f, b, zap.NewNop())
	if _, err := h.Run(context.Background()); err != nil {
		t.Fatalf("fallback should succeed, got %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("hydrate.done not published")
	}

	f.Drain()
	s := f.Snapshot()
	if !s.Hydrated {
		t.Fatal("fallback hydration did not complete")
	}
	if s.Warning == "" {
		t.Error("transient mode must surface a warning")
	}
	if len(s.Channels) == 0 {
		t.Error("memory fallback should still seed")
	}
}

func TestRunFallsBackWhenLoadFails(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	// A migrated file with a table missing opens fine but cannot load.
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`DROP TABLE channels`); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	f := testFacade(t)
	h := New(Options{DBPath: dbPath, FetchLimit: 50}, f, bus.New(), zap.NewNop())
	w, err := h.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Close() })
	if w == nil {
		t.Fatal("no worker returned")
	}

	f.Drain()
	s := f.Snapshot()
	if !s.Hydrated {
		t.Fatal("facade not hydrated")
	}
	if s.Warning == "" {
		t.Error("no warning on the memory fallback")
	}
	if len(s.Channels) == 0 {
		t.Error("fallback database not seeded")
	}
}
