// Package wsapi implements the authenticated WebSocket RPC transport (§4.K):
// connection registry, tagged-union framing, streamed status/log delivery,
// and keepalive.
//
// Grounded on mathaix-clarateach/backend/internal/agentapi/proxy.go for the
// gorilla/websocket upgrade and read/write-goroutine shape, and on
// original_source/crates/server/src/api/websocket/messages.rs for the exact
// wire shape of the tagged unions below.
package wsapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwks/sherpa-sub001/internal/progress"
	"github.com/bwks/sherpa-sub001/internal/rpcapi"
)

// ServerMessage is the tagged union of every frame the server may send.
// The private kind selects the variant, and at most one payload field (none
// for ping) is populated per kind;
// MarshalJSON renders it to the same {"type": "...", ...fields} shape as
// original_source's #[serde(tag = "type", rename_all = "snake_case")] enum.
type ServerMessage struct {
	kind serverMsgKind

	connected   *connectedMsg
	status      *progress.Status
	log         *progress.LogEvent
	rpcResponse *rpcapi.Response
}

type serverMsgKind int

const (
	kindConnected serverMsgKind = iota
	kindStatus
	kindLog
	kindPing
	kindRpcResponse
)

type connectedMsg struct {
	ConnectionID string `json:"connection_id"`
}

func NewConnectedMessage(connectionID string) ServerMessage {
	return ServerMessage{kind: kindConnected, connected: &connectedMsg{ConnectionID: connectionID}}
}

func NewStatusMessage(s progress.Status) ServerMessage {
	return ServerMessage{kind: kindStatus, status: &s}
}

func NewLogMessage(l progress.LogEvent) ServerMessage {
	return ServerMessage{kind: kindLog, log: &l}
}

func NewPingMessage() ServerMessage {
	return ServerMessage{kind: kindPing}
}

func NewRpcResponseMessage(resp rpcapi.Response) ServerMessage {
	return ServerMessage{kind: kindRpcResponse, rpcResponse: &resp}
}

func (m ServerMessage) MarshalJSON() ([]byte, error) {
	switch m.kind {
	case kindConnected:
		return json.Marshal(struct {
			Type string `json:"type"`
			connectedMsg
		}{"connected", *m.connected})
	case kindStatus:
		return json.Marshal(struct {
			Type string `json:"type"`
			progress.Status
		}{"status", *m.status})
	case kindLog:
		return json.Marshal(struct {
			Type string `json:"type"`
			progress.LogEvent
		}{"log", *m.log})
	case kindPing:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{"ping"})
	case kindRpcResponse:
		return json.Marshal(struct {
			Type string `json:"type"`
			rpcapi.Response
		}{"rpc_response", *m.rpcResponse})
	default:
		return nil, fmt.Errorf("wsapi: unknown ServerMessage kind %d", m.kind)
	}
}

// ClientMessageType discriminates an inbound frame before it is decoded into
// its concrete payload.
type ClientMessageType string

const (
	ClientSubscribeLogs   ClientMessageType = "subscribe_logs"
	ClientUnsubscribeLogs ClientMessageType = "unsubscribe_logs"
	ClientPong            ClientMessageType = "pong"
	ClientRpcRequest      ClientMessageType = "rpc_request"
)

// ClientMessage is the tagged union of every frame the server accepts.
// UnmarshalJSON reads the "type" discriminator first and only then decodes
// the fields relevant to that variant, mirroring the Rust
// #[serde(tag = "type")] enum it is grounded on.
type ClientMessage struct {
	Type ClientMessageType

	// Populated only when Type == ClientRpcRequest.
	RPC rpcapi.Request
}

func (m *ClientMessage) UnmarshalJSON(data []byte) error {
	var head struct {
		Type ClientMessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("wsapi: decode message type: %w", err)
	}
	m.Type = head.Type
	switch head.Type {
	case ClientRpcRequest:
		var req rpcapi.Request
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("wsapi: decode rpc_request: %w", err)
		}
		m.RPC = req
	case ClientSubscribeLogs, ClientUnsubscribeLogs, ClientPong:
		// No payload beyond the discriminator.
	default:
		return fmt.Errorf("wsapi: unknown client message type %q", head.Type)
	}
	return nil
}

// clock supplies the current time for a connection's read deadlines; it is
// a variable so tests can override it.
var clock = time.Now
