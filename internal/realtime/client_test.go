package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/ralph-groupscholar/slack/internal/appstate"
	"github.com/ralph-groupscholar/slack/internal/bus"
	"github.com/ralph-groupscholar/slack/internal/store"
	"github.com/ralph-groupscholar/slack/internal/wire"
	"go.uber.org/zap"
)

// script is one scripted server session: it receives the auth frame,
// replies, and then runs the body with the open connection.
type script func(t *testing.T, conn *websocket.Conn, auth wire.Auth)

func testServer(t *testing.T, s script) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var auth wire.Auth
		if err := json.Unmarshal(data, &auth); err != nil || auth.Type != wire.TypeAuth {
			t.Errorf("first frame was not auth: %s", data)
			return
		}
		s(t, conn, auth)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testClient(t *testing.T, endpoint string, opts Options) (*Client, *appstate.Facade) {
	t.Helper()
	f := appstate.New(appstate.Options{User: "you", TypingTTL: 3 * time.Second}, bus.New(), nil, zap.NewNop())
	opts.Endpoint = endpoint
	if opts.User == "" {
		opts.User = "you"
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 1
	}
	c := New(opts, f, bus.New(), zap.NewNop())
	t.Cleanup(c.Disconnect)
	return c, f
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	data, err := wire.Encode(frame)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Error(err)
	}
}

func ackOK(t *testing.T, conn *websocket.Conn, auth wire.Auth) {
	sendFrame(t, conn, wire.AuthAck{Type: wire.TypeAuthAck, User: auth.User})
}

// waitSnapshot drains and polls until cond holds.
func waitSnapshot(t *testing.T, f *appstate.Facade, what string, cond func(*appstate.Snapshot) bool) *appstate.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f.Drain()
		if s := f.Snapshot(); cond(s) {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	f.Drain()
	t.Fatalf("timed out waiting for %s; snapshot: %+v", what, f.Snapshot())
	return nil
}

func TestHandshakeReachesConnected(t *testing.T) {
	srv := testServer(t, func(t *testing.T, conn *websocket.Conn, auth wire.Auth) {
		if auth.User != "you" || auth.Token != "secret" {
			t.Errorf("auth = %+v", auth)
		}
		ackOK(t, conn, auth)
		// Hold the connection open until the client goes away.
		_, _, _ = conn.Read(context.Background())
	})

	c, f := testClient(t, wsURL(srv), Options{Token: "secret"})
	c.Connect()

	waitSnapshot(t, f, "connected", func(s *appstate.Snapshot) bool {
		return s.Conn.State == string(StateConnected)
	})
	if !c.Ready() {
		t.Error("Ready() should be true while connected")
	}
}

func TestAuthRejectionIsTerminal(t *testing.T) {
	dials := make(chan struct{}, 8)
	srv := testServer(t, func(t *testing.T, conn *websocket.Conn, auth wire.Auth) {
		dials <- struct{}{}
		sendFrame(t, conn, wire.AuthAck{Type: wire.TypeAuthAck, Error: "bad token"})
	})

	c, f := testClient(t, wsURL(srv), Options{Token: "wrong", MaxRetries: 5})
	c.Connect()

	s := waitSnapshot(t, f, "disconnected with error", func(s *appstate.Snapshot) bool {
		return s.Conn.State == string(StateDisconnected) && s.Conn.Err != ""
	})
	if !strings.Contains(s.Conn.Err, "bad token") {
		t.Errorf("err = %q", s.Conn.Err)
	}

	// No silent retry with rejected credentials.
	<-dials
	select {
	case <-dials:
		t.Error("client redialed after auth rejection")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestInboundMessageIngested(t *testing.T) {
	srv := testServer(t, func(t *testing.T, conn *websocket.Conn, auth wire.Auth) {
		ackOK(t, conn, auth)
		sendFrame(t, conn, wire.Message{
			Type: wire.TypeMessage, ChannelID: 1, MessageID: "srv-1",
			Author: "mara", Body: "hello from *mara*", SentAt: 1000,
		})
		_, _, _ = conn.Read(context.Background())
	})

	c, f := testClient(t, wsURL(srv), Options{})
	f.Post(appstate.HydrationComplete{Channels: []store.Channel{{ID: 1, Name: "general"}}})
	c.Connect()

	s := waitSnapshot(t, f, "inbound message", func(s *appstate.Snapshot) bool {
		return len(s.Messages) == 1
	})
	m := s.Messages[0]
	if m.ID != "srv-1" || m.Author != "mara" {
		t.Errorf("message = %+v", m.Message)
	}
	if m.Delivery != store.DeliveryConfirmed {
		t.Errorf("delivery = %s", m.Delivery)
	}
	if len(m.Spans) != 1 {
		t.Errorf("spans = %v, want the bold range extracted", m.Spans)
	}
}

func TestMalformedFrameFallsBack(t *testing.T) {
	srv := testServer(t, func(t *testing.T, conn *websocket.Conn, auth wire.Auth) {
		ackOK(t, conn, auth)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Write(ctx, websocket.MessageText, []byte("%%% not a frame %%%"))
		// A valid frame afterwards proves the connection survived.
		sendFrame(t, conn, wire.Message{
			Type: wire.TypeMessage, ChannelID: 1, MessageID: "srv-1",
			Author: "mara", Body: "still alive", SentAt: 2000,
		})
		_, _, _ = conn.Read(context.Background())
	})

	c, f := testClient(t, wsURL(srv), Options{})
	f.Post(appstate.HydrationComplete{Channels: []store.Channel{{ID: 1, Name: "general"}}})
	c.Connect()

	s := waitSnapshot(t, f, "fallback channel", func(s *appstate.Snapshot) bool {
		for _, ch := range s.Channels {
			if ch.ID == wire.SyntheticChannelID {
				return true
			}
		}
		return false
	})
	if s.Conn.State != string(StateConnected) {
		t.Errorf("conn = %q, want connected: garbage must not kill the session", s.Conn.State)
	}

	waitSnapshot(t, f, "valid message after garbage", func(s *appstate.Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].ID == "srv-1"
	})
}

func TestTypingCarriesExpiry(t *testing.T) {
	srv := testServer(t, func(t *testing.T, conn *websocket.Conn, auth wire.Auth) {
		ackOK(t, conn, auth)
		sendFrame(t, conn, wire.Typing{Type: wire.TypeTyping, ChannelID: 1, User: "mara"})
		// Typing from the local user must be ignored.
		sendFrame(t, conn, wire.Typing{Type: wire.TypeTyping, ChannelID: 1, User: "you"})
		_, _, _ = conn.Read(context.Background())
	})

	c, f := testClient(t, wsURL(srv), Options{})
	f.Post(appstate.HydrationComplete{Channels: []store.Channel{{ID: 1, Name: "general"}}})
	c.Connect()

	s := waitSnapshot(t, f, "typing indicator", func(s *appstate.Snapshot) bool {
		return len(s.Typing) > 0
	})
	if len(s.Typing) != 1 || s.Typing[0] != "mara" {
		t.Errorf("typing = %v", s.Typing)
	}
}

func TestAckConfirmsDelivery(t *testing.T) {
	srv := testServer(t, func(t *testing.T, conn *websocket.Conn, auth wire.Auth) {
		ackOK(t, conn, auth)
		ctx := context.Background()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		in := wire.Decode(data)
		if in.Type != wire.TypeMessage {
			t.Errorf("expected message frame, got %s", in.Type)
			return
		}
		sendFrame(t, conn, wire.Ack{Type: wire.TypeAck, MessageID: in.Message.MessageID})
		_, _, _ = conn.Read(ctx)
	})

	c, f := testClient(t, wsURL(srv), Options{AckTimeout: 5 * time.Second})
	f.Post(appstate.HydrationComplete{Channels: []store.Channel{{ID: 1, Name: "general"}}})
	c.Connect()

	msg := store.Message{ID: "out-1", ChannelID: 1, Author: "you", Body: "ping", CreatedAt: 1000, Delivery: store.DeliveryPending}
	f.Post(appstate.MessageUpserted{Msg: msg})

	waitSnapshot(t, f, "connected", func(s *appstate.Snapshot) bool {
		return s.Conn.State == string(StateConnected)
	})
	if err := c.Transmit(msg, nil); err != nil {
		t.Fatal(err)
	}

	waitSnapshot(t, f, "ack", func(s *appstate.Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].Delivery == store.DeliveryConfirmed
	})
}

func TestAckTimeoutMarksFailed(t *testing.T) {
	srv := testServer(t, func(t *testing.T, conn *websocket.Conn, auth wire.Auth) {
		ackOK(t, conn, auth)
		// Swallow the message and never ack.
		_, _, _ = conn.Read(context.Background())
		_, _, _ = conn.Read(context.Background())
	})

	c, f := testClient(t, wsURL(srv), Options{AckTimeout: 100 * time.Millisecond})
	f.Post(appstate.HydrationComplete{Channels: []store.Channel{{ID: 1, Name: "general"}}})
	c.Connect()

	msg := store.Message{ID: "out-1", ChannelID: 1, Author: "you", Body: "ping", CreatedAt: 1000, Delivery: store.DeliveryPending}
	f.Post(appstate.MessageUpserted{Msg: msg})

	waitSnapshot(t, f, "connected", func(s *appstate.Snapshot) bool {
		return s.Conn.State == string(StateConnected)
	})
	if err := c.Transmit(msg, nil); err != nil {
		t.Fatal(err)
	}

	waitSnapshot(t, f, "delivery failed", func(s *appstate.Snapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].Delivery == store.DeliveryFailed
	})
}

func TestTransmitBeforeAuthAckIsQueued(t *testing.T) {
	release := make(chan struct{})
	delivered := make(chan string, 1)
	srv := testServer(t, func(t *testing.T, conn *websocket.Conn, auth wire.Auth) {
		// Hold the ack back until the test has transmitted.
		<-release
		ackOK(t, conn, auth)
		_, data, err := conn.Read(context.Background())
		if err != nil {
			t.Errorf("read queued frame: %v", err)
			return
		}
		in := wire.Decode(data)
		if in.Type != wire.TypeMessage {
			t.Errorf("first frame after ack = %s, want the queued message", in.Type)
			return
		}
		delivered <- in.Message.MessageID
		_, _, _ = conn.Read(context.Background())
	})

	c, f := testClient(t, wsURL(srv), Options{AckTimeout: 5 * time.Second})
	f.Post(appstate.HydrationComplete{Channels: []store.Channel{{ID: 1, Name: "general"}}})
	c.Connect()

	waitSnapshot(t, f, "authenticating", func(s *appstate.Snapshot) bool {
		return s.Conn.State == string(StateAuthenticating)
	})

	msg := store.Message{ID: "out-1", ChannelID: 1, Author: "you", Body: "early", CreatedAt: 1000, Delivery: store.DeliveryPending}
	if err := c.Transmit(msg, nil); err != nil {
		t.Fatal(err)
	}
	c.mu.Lock()
	queued, authed := len(c.preAuth), c.authed
	c.mu.Unlock()
	if authed {
		t.Fatal("authed before the server sent auth_ack")
	}
	if queued != 1 {
		t.Fatalf("pre-auth queue = %d frames, want the transmitted message held back", queued)
	}

	close(release)
	waitSnapshot(t, f, "connected", func(s *appstate.Snapshot) bool {
		return s.Conn.State == string(StateConnected)
	})
	select {
	case id := <-delivered:
		if id != "out-1" {
			t.Errorf("flushed message id = %q", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("queued frame never flushed after auth_ack")
	}
}

func TestRetryExhaustionRestsDisconnected(t *testing.T) {
	// Nothing listens on port 1; every dial fails immediately.
	c, f := testClient(t, "ws://127.0.0.1:1", Options{MaxRetries: 2})
	c.Connect()

	s := waitSnapshot(t, f, "give-up", func(s *appstate.Snapshot) bool {
		return s.Conn.State == string(StateDisconnected) && s.Conn.Err != ""
	})
	if !strings.Contains(s.Conn.Err, "giving up after 2 attempts") {
		t.Errorf("err = %q, want the give-up cause", s.Conn.Err)
	}
	if c.Ready() {
		t.Error("Ready() after exhausting retries")
	}
}
