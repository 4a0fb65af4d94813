// Package realtime maintains the websocket session with the sync server:
// connection lifecycle, the auth handshake, frame ingestion and ack
// correlation for outbound messages.
package realtime

import (
	"sync"
	"time"

	"github.com/ralph-groupscholar/slack/internal/appstate"
	"github.com/ralph-groupscholar/slack/internal/bus"
	"go.uber.org/zap"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateConnected      State = "connected"
	StateReconnecting   State = "reconnecting"
)

// validTransitions encodes the lifecycle graph. Anything not listed is a
// programming error and is refused.
var validTransitions = map[State][]State{
	StateDisconnected:   {StateConnecting},
	StateConnecting:     {StateAuthenticating, StateReconnecting, StateDisconnected},
	StateAuthenticating: {StateConnected, StateReconnecting, StateDisconnected},
	StateConnected:      {StateReconnecting, StateDisconnected},
	StateReconnecting:   {StateConnecting, StateDisconnected},
}

// machine tracks the connection state, mirrors every change into the
// facade's ordered queue and announces it on the bus for listeners that
// only need a nudge.
type machine struct {
	mu     sync.Mutex
	state  State
	facade *appstate.Facade
	bus    *bus.Bus
	logger *zap.Logger
}

func newMachine(f *appstate.Facade, b *bus.Bus, logger *zap.Logger) *machine {
	return &machine{state: StateDisconnected, facade: f, bus: b, logger: logger}
}

func (m *machine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// set moves to the next state. cause carries the error text that drove
// the transition, empty on the happy path.
func (m *machine) set(next State, cause string) bool {
	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return true
	}
	allowed := false
	for _, s := range validTransitions[m.state] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		prev := m.state
		m.mu.Unlock()
		m.logger.Warn("refused connection state transition",
			zap.String("from", string(prev)), zap.String("to", string(next)))
		return false
	}
	prev := m.state
	m.state = next
	m.mu.Unlock()

	m.logger.Info("connection state changed",
		zap.String("from", string(prev)), zap.String("to", string(next)),
		zap.String("cause", cause))
	m.facade.Post(appstate.ConnStateChanged{State: string(next), Err: cause})
	m.bus.Publish(bus.Event{Kind: "conn.state_changed", Timestamp: time.Now(), Payload: string(next)})
	return true
}
