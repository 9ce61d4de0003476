package wsapi

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bwks/sherpa-sub001/internal/progress"
	"github.com/bwks/sherpa-sub001/internal/rpcapi"
	"github.com/bwks/sherpa-sub001/pkg/util"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Connection is one upgraded WebSocket client. Reads happen on the
// goroutine that calls Serve; every inbound rpc_request spawns its own
// handler goroutine so a slow RPC never blocks the reader, matching the
// teacher's bidirectional-proxy goroutine pair in agentapi/proxy.go,
// generalized here to a single socket multiplexing many logical streams.
type Connection struct {
	ID          string
	conn        *websocket.Conn
	router      *rpcapi.Router
	broadcaster *progress.Broadcaster

	send   chan ServerMessage
	ctx    context.Context
	cancel context.CancelFunc

	missedPongs int
	mu          sync.Mutex
}

// streamingMethods are the RPCs that run a pipeline long enough to emit
// Status/Log events; only these subscribe the connection to the target
// lab's broadcaster for the duration of the call.
var streamingMethods = map[string]bool{
	"up": true, "down": true, "resume": true, "destroy": true, "clean": true,
}

// NewConnection wraps an upgraded conn in a Connection, starts its write
// pump, and queues the initial Connected frame. Registration with the
// Server's registry is done by the caller. Call Serve to run
// the blocking read loop.
func NewConnection(ctx context.Context, conn *websocket.Conn, router *rpcapi.Router, broadcaster *progress.Broadcaster) *Connection {
	ctx, cancel := context.WithCancel(ctx)
	c := &Connection{
		ID:          uuid.NewString(),
		conn:        conn,
		router:      router,
		broadcaster: broadcaster,
		send:        make(chan ServerMessage, sendBuffer),
		ctx:         ctx,
		cancel:      cancel,
	}
	conn.SetReadDeadline(clock().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.missedPongs = 0
		c.mu.Unlock()
		conn.SetReadDeadline(clock().Add(pongWait))
		return nil
	})
	go c.writePump(ctx)
	c.send <- NewConnectedMessage(c.ID)
	return c
}

// Status implements progress.Sink. Status delivery blocks on a full
// channel rather than dropping, so a slow client still receives its
// terminal status; the ctx.Done() arm only exists so a pipeline goroutine
// does not leak forever against a connection that is already tearing down.
func (c *Connection) Status(labID string, s progress.Status) {
	select {
	case c.send <- NewStatusMessage(s):
	case <-c.ctx.Done():
	}
}

// Log implements progress.Sink. Log overflow drops the oldest buffered
// frame rather than blocking, per the ring-buffer backpressure policy;
// Status above blocks instead, since a missed terminal status is worse
// than a missed log line.
func (c *Connection) Log(labID string, l progress.LogEvent) {
	select {
	case c.send <- NewLogMessage(l):
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- NewLogMessage(l):
		default:
		}
	}
}

// Serve runs the blocking read loop until the socket closes or ctx is
// canceled. It dispatches each inbound message and returns when done.
func (c *Connection) Serve(ctx context.Context) {
	defer c.close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			util.WithConn(c.ID).WithError(err).Debug("wsapi: malformed client frame")
			continue
		}
		switch msg.Type {
		case ClientRpcRequest:
			go c.handleRPC(ctx, msg.RPC)
		case ClientPong:
			c.mu.Lock()
			c.missedPongs = 0
			c.mu.Unlock()
		case ClientSubscribeLogs, ClientUnsubscribeLogs:
			// Log streaming is delivered implicitly while an up/destroy RPC
			// is in flight on this connection; explicit subscribe/unsubscribe
			// is accepted for protocol symmetry but is a no-op today.
		}
	}
}

func (c *Connection) handleRPC(ctx context.Context, req rpcapi.Request) {
	token := extractToken(req.Params)

	if c.broadcaster != nil && streamingMethods[req.Method] {
		if labID := extractLabID(req.Params); labID != "" {
			unsubscribe := c.broadcaster.Subscribe(labID, c)
			defer unsubscribe()
		}
	}

	resp := c.router.Dispatch(ctx, req, token)
	select {
	case c.send <- NewRpcResponseMessage(resp):
	case <-ctx.Done():
	}
}

func extractToken(params json.RawMessage) string {
	var p struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return ""
	}
	return p.Token
}

func extractLabID(params json.RawMessage) string {
	var p struct {
		LabID string `json:"lab_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return ""
	}
	return p.LabID
}

func (c *Connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()
	for {
		select {
		case <-ctx.Done():
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				util.WithConn(c.ID).WithError(err).Error("wsapi: marshal outbound frame")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.mu.Lock()
			c.missedPongs++
			missed := c.missedPongs
			c.mu.Unlock()
			if missed > 2 {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) close() {
	c.cancel()
}
