package ws

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/forecasthub/forecasthub/server/internal/hub"
	"github.com/forecasthub/forecasthub/server/internal/registry"
)

// Registrar is the hub side of a connection's lifetime.
type Registrar interface {
	Register(c hub.Connection) *registry.Handle[hub.Connection]
}

// Server upgrades HTTP requests to WebSocket clients of the hub.
type Server struct {
	reg      Registrar
	upgrader websocket.Upgrader
	maxConns atomic.Int64
	active   atomic.Int64
}

// NewServer creates a Server registering clients with reg. maxConns caps
// concurrent clients; zero means unlimited.
func NewServer(reg Registrar, maxConns int) *Server {
	s := &Server{
		reg: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Allow all origins; callers should apply CORS at the reverse-proxy level.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.SetMaxConnections(maxConns)
	return s
}

// SetMaxConnections changes the client cap for new upgrades. Existing clients
// are not disconnected.
func (s *Server) SetMaxConnections(n int) {
	if n < 0 {
		n = 0
	}
	s.maxConns.Store(int64(n))
}

// Count returns the number of clients currently being served.
func (s *Server) Count() int {
	return int(s.active.Load())
}

// ServeHTTP upgrades the connection, registers it with the hub and blocks
// until the client goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	if limit := s.maxConns.Load(); limit > 0 && n > limit {
		slog.Warn("ws: connection limit reached", "limit", limit, "remote", r.RemoteAddr)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := NewConn(sock)
	defer c.Close("server closing connection") //nolint:errcheck
	h := s.reg.Register(c)
	defer h.Unregister()

	slog.Debug("ws: client connected", "conn", c.ID(), "remote", r.RemoteAddr)
	go c.pingLoop()
	c.readLoop() // blocks until the connection closes
	slog.Debug("ws: client disconnected", "conn", c.ID(), "state", c.State())
}
