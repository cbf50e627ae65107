package jsonrpc

import (
	"testing"
)

func TestID_IntRoundTrip(t *testing.T) {
	req, err := NewRequest("eth_call", []interface{}{"0x1"}, NewIDInt(7))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	data, err := req.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	parsed, err := ParseRequest(data)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	id, ok := parsed.ID.Int()
	if !ok || id != 7 {
		t.Errorf("ID = %v ok=%v, want 7", id, ok)
	}
}

func TestParseBatchResponse(t *testing.T) {
	data := []byte(`[
		{"jsonrpc": "2.0", "result": "0x1", "id": 0},
		{"jsonrpc": "2.0", "error": {"code": 3, "message": "execution reverted"}, "id": 1}
	]`)

	resps, isBatch, err := ParseBatchResponse(data)
	if err != nil {
		t.Fatalf("ParseBatchResponse: %v", err)
	}
	if !isBatch {
		t.Error("isBatch = false")
	}
	if len(resps) != 2 {
		t.Fatalf("len = %d, want 2", len(resps))
	}
	if resps[0].HasError() {
		t.Errorf("resps[0] has error: %v", resps[0].Error)
	}
	if !resps[1].HasError() || resps[1].Error.Message != "execution reverted" {
		t.Errorf("resps[1].Error = %v", resps[1].Error)
	}
}

func TestParseBatchResponse_Single(t *testing.T) {
	resps, isBatch, err := ParseBatchResponse([]byte(`{"jsonrpc": "2.0", "result": "0x1", "id": 1}`))
	if err != nil {
		t.Fatalf("ParseBatchResponse: %v", err)
	}
	if isBatch {
		t.Error("isBatch = true for single response")
	}
	if len(resps) != 1 || resps[0].ResultIsNull() {
		t.Errorf("resps = %+v", resps)
	}
}

func TestValidate(t *testing.T) {
	req := &Request{JSONRPC: Version, Method: "eth_call", ID: NewIDInt(1)}
	if err := req.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	bad := &Request{JSONRPC: "1.0", Method: "eth_call"}
	if err := bad.Validate(); err == nil {
		t.Error("Validate accepted wrong version")
	}

	noMethod := &Request{JSONRPC: Version}
	if err := noMethod.Validate(); err == nil {
		t.Error("Validate accepted empty method")
	}
}
