// SPDX-License-Identifier: GPL-3.0-or-later

// Package preview serves a live view of the frames a receiver consumes.
//
// Websocket clients on /ws first get a JSON status message, then one
// binary message per published frame. Each client has its own writer
// that only ever holds the latest frame, so a slow client skips frames
// and one that stops reading is dropped after a write timeout, without
// ever slowing down the publisher. /status returns the same JSON status
// and /healthz answers "ok".
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/rtframe"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 2 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// Server is the preview HTTP server.
type Server struct {
	// Logger is the [rtframe.SLogger] to use.
	Logger rtframe.SLogger

	// Status returns the value encoded as status JSON. It may be nil.
	Status func() any

	// WriteTimeout bounds a single websocket write. A client that does
	// not accept a frame within it is dropped.
	WriteTimeout time.Duration

	clients  map[*client]struct{}
	mu       sync.Mutex
	upgrader websocket.Upgrader
}

// New returns a new [*Server].
func New(status func() any, logger rtframe.SLogger) *Server {
	return &Server{
		Logger:       logger,
		Status:       status,
		WriteTimeout: writeWait,
		clients:      make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// client is a websocket connection with its own writer goroutine.
//
// The writer is fed through a single slot: a frame published while the
// previous one is still pending replaces it.
type client struct {
	conn      *websocket.Conn
	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	skipped   atomic.Uint64
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn:   conn,
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
}

// offer queues payload for the writer without blocking.
func (c *client) offer(payload []byte) {
	for {
		select {
		case c.frames <- payload:
			return
		default:
		}
		select {
		case <-c.frames:
			c.skipped.Add(1)
		default:
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		s.closeClients()
	})
	defer stop()

	s.Logger.Info("previewStart", slog.String("localAddr", addr))
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	s.Logger.Info("previewDone", slog.String("localAddr", addr), slog.Any("err", err))
	return err
}

// Publish hands the frame payload to every client writer and returns
// without waiting for the network. Safe for concurrent use.
func (s *Server) Publish(frame *rtframe.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.offer(frame.Payload)
	}
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	status, err := json.Marshal(s.status())
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
		err = conn.WriteMessage(websocket.TextMessage, status)
	}
	if err != nil {
		conn.Close()
		return
	}

	c := newClient(conn)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.Logger.Info("previewClient", slog.String("remoteAddr", conn.RemoteAddr().String()))

	go s.serveClient(c)
}

// serveClient runs the writer and discards client messages until it leaves.
func (s *Server) serveClient(c *client) {
	defer s.removeClient(c)
	go s.writeLoop(c)
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

// writeLoop is the only writer of c.conn after the status message.
func (s *Server) writeLoop(c *client) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for {
		var err error
		select {
		case <-c.done:
			return
		case payload := <-c.frames:
			err = s.write(c.conn, websocket.BinaryMessage, payload)
		case <-ticker.C:
			err = s.write(c.conn, websocket.PingMessage, nil)
		}
		if err != nil {
			s.Logger.Info(
				"previewClientDropped",
				slog.Any("err", err),
				slog.String("remoteAddr", c.conn.RemoteAddr().String()),
				slog.Uint64("skipped", c.skipped.Load()),
			)
			s.removeClient(c)
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, messageType int, payload []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	return conn.WriteMessage(messageType, payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.status())
}

func (s *Server) status() map[string]any {
	payload := map[string]any{"ws_clients": s.Clients()}
	if s.Status != nil {
		payload["session"] = s.Status()
	}
	return payload
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.removeClient(c)
	}
}
