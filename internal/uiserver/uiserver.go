// Package uiserver is the fuzzer's one thin seam toward the
// out-of-scope embedded UI (spec section 1): a WebSocket broadcaster
// of generation status, adapted from the teacher's generic
// internal/network WebSocket client/server pair (websocket.go,
// websocket_server.go) down to a single-purpose, server-only
// broadcaster with no inbound message handling beyond detecting
// disconnects.
package uiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sentra-fuzz/internal/flog"
)

// client is a single connected UI observer. Unlike the teacher's
// WebSocketConn, it carries no messagesCh: this seam is broadcast-only,
// so nothing ever needs to read application messages back from it.
type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.conn.Close()
}

// Server broadcasts Status frames to every connected UI observer over
// a single upgraded endpoint.
type Server struct {
	addr     string
	upgrader websocket.Upgrader
	http     *http.Server
	log      *flog.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

// New returns a Server that will listen on addr once Start is called.
func New(addr string) *Server {
	s := &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     flog.New("uiserver"),
		clients: make(map[string]*client),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handle)
	s.http = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start runs the HTTP server in the background until ctx is cancelled,
// then shuts it down gracefully.
func (s *Server) Start(ctx context.Context) {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Printf("listen: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
	}()
}

// handle upgrades an incoming connection and registers it as a
// broadcast target; it reads (and discards) inbound frames only to
// notice when the peer closes the connection, mirroring the teacher's
// readMessages loop without the message-delivery channel it no longer
// needs.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("upgrade: %v", err)
		return
	}

	c := &client{id: fmt.Sprintf("ui_%d", time.Now().UnixNano()), conn: conn}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast marshals status and sends it to every connected observer,
// dropping any client whose write fails (the teacher's
// WebSocketBroadcast pattern, adapted to close and drop rather than
// merely mark-and-continue).
func (s *Server) Broadcast(status Status) error {
	frame, err := json.Marshal(status)
	if err != nil {
		return err
	}

	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	var dead []string
	for _, c := range targets {
		if err := c.send(frame); err != nil {
			dead = append(dead, c.id)
		}
	}

	if len(dead) > 0 {
		s.mu.Lock()
		for _, id := range dead {
			if c, ok := s.clients[id]; ok {
				c.close()
				delete(s.clients, id)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// ClientCount reports the number of currently connected observers.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
