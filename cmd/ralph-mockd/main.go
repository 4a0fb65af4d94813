// Command ralph-mockd is a development sync server. It speaks the same
// JSON frame protocol as the real backend: auth handshake, message
// broadcast with acks, presence and typing passthrough. State lives in
// memory and vanishes on exit.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/ralph-groupscholar/slack/internal/wire"
)

type hub struct {
	mu    sync.Mutex
	next  int
	conns map[int]*client
}

type client struct {
	conn *websocket.Conn
	user string
}

func newHub() *hub {
	return &hub{conns: make(map[int]*client)}
}

func (h *hub) add(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.conns[id] = c
	return id
}

func (h *hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

// broadcast writes a frame to every connection, including the sender:
// clients rely on the ack, not the echo, for delivery state.
func (h *hub) broadcast(data []byte) {
	h.mu.Lock()
	conns := make([]*client, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}
	id := h.add(c)
	defer h.remove(id)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	authed := false
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if authed && c.user != "" {
				h.announce(c.user, "offline")
			}
			return
		}
		if !authed {
			// Only an auth frame moves the session forward. The real
			// backend checks the token; here any non-empty user passes.
			var auth wire.Auth
			if err := json.Unmarshal(data, &auth); err != nil || auth.Type != wire.TypeAuth {
				continue
			}
			c.user = auth.User
			ack := wire.AuthAck{Type: wire.TypeAuthAck, User: auth.User}
			if auth.User == "" {
				ack.Error = "user required"
			}
			reply, _ := wire.Encode(ack)
			if werr := conn.Write(ctx, websocket.MessageText, reply); werr != nil {
				return
			}
			if ack.Error != "" {
				return
			}
			authed = true
			h.announce(c.user, "online")
			continue
		}

		in := wire.Decode(data)

		switch in.Type {
		case wire.TypeMessage:
			ack, _ := wire.Encode(wire.Ack{Type: wire.TypeAck, MessageID: in.Message.MessageID})
			_ = conn.Write(ctx, websocket.MessageText, ack)
			h.broadcast(data)
		case wire.TypeTyping, wire.TypePresence:
			h.broadcast(data)
		default:
			// Unknown or unparseable input is forwarded untouched so
			// clients can exercise their fallback path.
			h.broadcast(data)
		}
	}
}

func (h *hub) announce(user, status string) {
	frame, _ := wire.Encode(wire.Presence{
		Type:     wire.TypePresence,
		User:     user,
		Status:   status,
		LastSeen: time.Now().UnixMilli(),
	})
	h.broadcast(frame)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:9001", "listen address")
	flag.Parse()

	h := newHub()
	srv := &http.Server{Addr: *addr, Handler: http.HandlerFunc(h.serve)}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	fmt.Printf("mock sync server listening on ws://%s\n", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
