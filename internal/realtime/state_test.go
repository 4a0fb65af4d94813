package realtime

import (
	"testing"
	"time"

	"github.com/ralph-groupscholar/slack/internal/appstate"
	"github.com/ralph-groupscholar/slack/internal/bus"
	"go.uber.org/zap"
)

func testMachine(t *testing.T) (*machine, *appstate.Facade) {
	t.Helper()
	f := appstate.New(appstate.Options{User: "you"}, bus.New(), nil, zap.NewNop())
	return newMachine(f, bus.New(), zap.NewNop()), f
}

func TestValidTransitionPath(t *testing.T) {
	m, f := testMachine(t)
	path := []State{StateConnecting, StateAuthenticating, StateConnected, StateReconnecting, StateConnecting}
	for _, next := range path {
		if !m.set(next, "") {
			t.Fatalf("transition to %s refused", next)
		}
	}
	if m.current() != StateConnecting {
		t.Errorf("current = %s", m.current())
	}

	f.Drain()
	if s := f.Snapshot(); s.Conn.State != string(StateConnecting) {
		t.Errorf("facade conn = %q", s.Conn.State)
	}
}

func TestInvalidTransitionRefused(t *testing.T) {
	m, _ := testMachine(t)
	if m.set(StateConnected, "") {
		t.Error("disconnected -> connected must be refused")
	}
	if m.current() != StateDisconnected {
		t.Errorf("state moved to %s", m.current())
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	m, f := testMachine(t)
	if !m.set(StateDisconnected, "") {
		t.Error("self transition should be accepted")
	}
	f.Drain()
	// No update posted for a no-op.
	if s := f.Snapshot(); s.Conn.State != "disconnected" {
		t.Errorf("conn = %q", s.Conn.State)
	}
}

func TestTransitionAnnouncedOnBus(t *testing.T) {
	f := appstate.New(appstate.Options{User: "you"}, bus.New(), nil, zap.NewNop())
	b := bus.New()
	events, unsubscribe := b.Subscribe("conn.", 4)
	defer unsubscribe()

	m := newMachine(f, b, zap.NewNop())
	m.set(StateConnecting, "")

	select {
	case evt := <-events:
		if evt.Payload != string(StateConnecting) {
			t.Errorf("payload = %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no bus event")
	}
}
