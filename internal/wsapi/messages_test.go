package wsapi

import (
	"encoding/json"
	"testing"

	"github.com/bwks/sherpa-sub001/internal/progress"
	"github.com/bwks/sherpa-sub001/internal/rpcapi"
)

func TestServerMessageMarshalConnected(t *testing.T) {
	data, err := json.Marshal(NewConnectedMessage("conn-1"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["type"] != "connected" {
		t.Errorf("type = %v, want connected", got["type"])
	}
	if got["connection_id"] != "conn-1" {
		t.Errorf("connection_id = %v, want conn-1", got["connection_id"])
	}
}

func TestServerMessageMarshalStatus(t *testing.T) {
	s := progress.ForPhase(progress.PhaseVMCreation, "Creating VMs")
	data, err := json.Marshal(NewStatusMessage(s))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["type"] != "status" {
		t.Errorf("type = %v, want status", got["type"])
	}
	if got["kind"] != "progress" {
		t.Errorf("kind = %v, want progress", got["kind"])
	}
	if got["phase"] != string(progress.PhaseVMCreation) {
		t.Errorf("phase = %v, want %v", got["phase"], progress.PhaseVMCreation)
	}
}

func TestServerMessageMarshalRpcResponse(t *testing.T) {
	resp := rpcapi.Response{ID: "req-1", Error: &rpcapi.Error{Code: rpcapi.CodeNotFound, Message: "lab not found"}}
	data, err := json.Marshal(NewRpcResponseMessage(resp))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["type"] != "rpc_response" {
		t.Errorf("type = %v, want rpc_response", got["type"])
	}
	if got["id"] != "req-1" {
		t.Errorf("id = %v, want req-1", got["id"])
	}
	errObj, ok := got["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("error field missing or wrong shape: %v", got["error"])
	}
	if errObj["code"] != float64(rpcapi.CodeNotFound) {
		t.Errorf("error.code = %v, want %d", errObj["code"], rpcapi.CodeNotFound)
	}
	if _, hasResult := got["result"]; hasResult {
		t.Errorf("result field should be omitted when nil, got %v", got["result"])
	}
}

func TestClientMessageUnmarshalRpcRequest(t *testing.T) {
	raw := []byte(`{"type":"rpc_request","id":"test-001","method":"inspect","params":{"lab_id":"abc123"}}`)
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msg.Type != ClientRpcRequest {
		t.Fatalf("Type = %v, want rpc_request", msg.Type)
	}
	if msg.RPC.ID != "test-001" || msg.RPC.Method != "inspect" {
		t.Errorf("RPC = %+v", msg.RPC)
	}
	var params struct {
		LabID string `json:"lab_id"`
	}
	if err := json.Unmarshal(msg.RPC.Params, &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if params.LabID != "abc123" {
		t.Errorf("lab_id = %q, want abc123", params.LabID)
	}
}

func TestClientMessageUnmarshalSubscribeLogs(t *testing.T) {
	var msg ClientMessage
	if err := json.Unmarshal([]byte(`{"type":"subscribe_logs"}`), &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msg.Type != ClientSubscribeLogs {
		t.Errorf("Type = %v, want subscribe_logs", msg.Type)
	}
}

func TestClientMessageUnmarshalUnknownTypeErrors(t *testing.T) {
	var msg ClientMessage
	if err := json.Unmarshal([]byte(`{"type":"nonsense"}`), &msg); err == nil {
		t.Fatal("expected error for unknown client message type")
	}
}

func TestExtractTokenAndLabID(t *testing.T) {
	params := json.RawMessage(`{"lab_id":"abc123","token":"tok-1"}`)
	if got := extractToken(params); got != "tok-1" {
		t.Errorf("extractToken = %q, want tok-1", got)
	}
	if got := extractLabID(params); got != "abc123" {
		t.Errorf("extractLabID = %q, want abc123", got)
	}
}
