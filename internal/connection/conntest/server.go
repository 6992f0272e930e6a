// Package conntest provides an in-process notification server for tests. It
// speaks both the long-polling and the websocket transport on one listener and
// lets tests push frames, end sessions and drop connections.
package conntest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Server is a fake notification server.
type Server struct {
	*httptest.Server
	t testing.TB

	upgrades []string
	outbox   chan []byte

	mu              sync.Mutex
	handshakeStatus int
	sessions        int
	conns           []*websocket.Conn
	received        []string
	tokens          []string
}

// Option customizes a Server.
type Option func(*Server)

// WithUpgrades sets the transports offered in the polling handshake.
func WithUpgrades(transports ...string) Option {
	return func(s *Server) { s.upgrades = transports }
}

// WithHandshakeStatus makes every handshake fail with code.
func WithHandshakeStatus(code int) Option {
	return func(s *Server) { s.handshakeStatus = code }
}

// SetHandshakeStatus makes later handshakes fail with code. Zero accepts them again.
func (s *Server) SetHandshakeStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handshakeStatus = code
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	s := &Server{t: t, outbox: make(chan []byte, 64)}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /handshake", s.handleHandshake)
	mux.HandleFunc("GET /poll", s.handlePoll)
	mux.HandleFunc("POST /poll", s.handleSend)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Push queues a frame for whichever transport polls or reads next.
func (s *Server) Push(event string, data any) {
	f := frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			s.t.Fatalf("conntest: marshal %s: %v", event, err)
		}
		f.Data = raw
	}
	raw, _ := json.Marshal(f)
	s.PushRaw(raw)
}

// PushRaw queues raw frame bytes.
func (s *Server) PushRaw(raw []byte) {
	s.outbox <- raw
}

// Kick ends the current session from the server side.
func (s *Server) Kick() {
	s.Push("disconnect", nil)
}

// DropWebSockets closes every open websocket without a close frame.
func (s *Server) DropWebSockets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.UnderlyingConn().Close()
	}
	s.conns = nil
}

// Received returns the event names of frames sent by clients, in order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Tokens returns the bearer tokens presented by clients, in order.
func (s *Server) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// Sessions returns the number of sessions created.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// WaitReceived blocks until a client has sent event or the timeout passes.
func (s *Server) WaitReceived(event string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, e := range s.Received() {
			if e == event {
				return true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (s *Server) rejectStatus() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakeStatus
}

func (s *Server) newSession(r *http.Request) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions++
	s.tokens = append(s.tokens, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	return fmt.Sprintf("sid-%d", s.sessions)
}

func (s *Server) record(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return
	}
	s.mu.Lock()
	s.received = append(s.received, f.Event)
	s.mu.Unlock()
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	if code := s.rejectStatus(); code != 0 {
		w.WriteHeader(code)
		return
	}
	sid := s.newSession(r)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"sid":          sid,
		"upgrades":     s.upgrades,
		"pingInterval": 200,
		"pingTimeout":  500,
	})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	select {
	case f := <-s.outbox:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]json.RawMessage{f})
	case <-time.After(20 * time.Millisecond):
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.record(raw)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if code := s.rejectStatus(); code != 0 {
		w.WriteHeader(code)
		return
	}

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sid := r.URL.Query().Get("sid")
	if sid == "" {
		sid = s.newSession(r)
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	greeting, _ := json.Marshal(map[string]any{"event": "connect", "data": map[string]string{"sid": sid}})
	if err := conn.WriteMessage(websocket.TextMessage, greeting); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case f := <-s.outbox:
				if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.record(data)
	}
}
