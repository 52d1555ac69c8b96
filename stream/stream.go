// Package stream broadcasts particle snapshots to external renderers over
// websockets.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pthm-cable/mpm/mpm"
)

// writeWait bounds a single frame write to one client.
const writeWait = 2 * time.Second

// Server upgrades /ws connections and pushes binary frames to every client.
type Server struct {
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*sync.Mutex // per-connection write lock

	frameMu sync.Mutex
	last    []byte // most recent frame, sent to new clients on connect
	buf     []byte

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a server with no clients.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // renderers may be served from anywhere
			},
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Handler returns the HTTP handler serving the websocket endpoint at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("stream server stopped", "error", err)
		}
	}()
	slog.Info("stream listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connMutex := &sync.Mutex{}

	// Register under the frame lock so a concurrent Broadcast either reaches
	// this client or leaves its frame in last.
	s.frameMu.Lock()
	s.clientsMu.Lock()
	s.clients[conn] = connMutex
	s.clientsMu.Unlock()
	last := s.last
	s.frameMu.Unlock()

	defer s.remove(conn)

	if last != nil {
		connMutex.Lock()
		err := writeFrame(conn, last)
		connMutex.Unlock()
		if err != nil {
			return
		}
	}

	// Renderers only listen; reading drives ping/close handling.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) remove(conn *websocket.Conn) {
	s.clientsMu.Lock()
	delete(s.clients, conn)
	s.clientsMu.Unlock()
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast encodes one frame and sends it to every client. Clients whose
// write fails are disconnected. Returns the number of clients reached.
func (s *Server) Broadcast(tick int64, vertices []mpm.Vertex) int {
	s.frameMu.Lock()
	s.buf = EncodeFrame(s.buf[:0], tick, vertices)
	// last must survive the next encode into buf
	s.last = append(s.last[:0], s.buf...)
	frame := s.last

	var failed []*websocket.Conn
	sent := 0
	s.clientsMu.RLock()
	for conn, mu := range s.clients {
		mu.Lock()
		err := writeFrame(conn, frame)
		mu.Unlock()
		if err != nil {
			slog.Warn("dropping stream client", "remote", conn.RemoteAddr().String(), "error", err)
			failed = append(failed, conn)
			continue
		}
		sent++
	}
	s.clientsMu.RUnlock()
	s.frameMu.Unlock()

	for _, conn := range failed {
		conn.Close()
		s.remove(conn)
	}
	return sent
}

func writeFrame(conn *websocket.Conn, frame []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Close disconnects every client and stops the listener if Start was called.
func (s *Server) Close() error {
	var err error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		err = s.httpServer.Shutdown(ctx)
	}

	s.clientsMu.Lock()
	for conn, mu := range s.clients {
		mu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
			time.Now().Add(writeWait))
		mu.Unlock()
		conn.Close()
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()
	return err
}
