package wsapi

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/bwks/sherpa-sub001/internal/progress"
	"github.com/bwks/sherpa-sub001/internal/rpcapi"
	"github.com/bwks/sherpa-sub001/pkg/util"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsReadBufferSize,
	WriteBufferSize: wsWriteBufferSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns the process-wide connection registry and upgrades incoming
// HTTP requests to WebSocket connections on /ws. Grounded on the teacher's
// sync.RWMutex-guarded map pattern (mathaix-clarateach's firecracker.go
// vms map), applied here to connections instead of VM state.
type Server struct {
	Router      *rpcapi.Router
	Broadcaster *progress.Broadcaster

	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewServer(router *rpcapi.Router, broadcaster *progress.Broadcaster) *Server {
	return &Server{Router: router, Broadcaster: broadcaster, conns: make(map[string]*Connection)}
}

// ServeHTTP upgrades the request to a WebSocket connection, registers it,
// and blocks in its read loop until the socket closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Logger.WithError(err).Error("wsapi: upgrade failed")
		return
	}

	c := NewConnection(r.Context(), conn, s.Router, s.Broadcaster)
	s.register(c)
	defer s.unregister(c)

	c.Serve(r.Context())
}

func (s *Server) register(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.ID] = c
	util.WithConn(c.ID).Info("wsapi: connection registered")
}

func (s *Server) unregister(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.ID)
	util.WithConn(c.ID).Info("wsapi: connection closed")
}

// Count returns the number of currently registered connections.
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
