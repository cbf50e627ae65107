package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"defidata/internal/jsonrpc"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		Name:           "test",
		RPCURL:         url,
		RequestTimeout: 2 * time.Second,
		Logger:         zerolog.Nop(),
	})
}

func TestBatchCall_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var reqs []*jsonrpc.Request
		if err := json.Unmarshal(body, &reqs); err != nil {
			t.Errorf("server got non-batch payload: %v", err)
		}

		resps := make([]*jsonrpc.Response, len(reqs))
		for i, req := range reqs {
			resps[i] = jsonrpc.NewResponseRaw(req.ID, json.RawMessage(`"0x1"`))
		}
		json.NewEncoder(w).Encode(resps)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	reqs := make([]*jsonrpc.Request, 3)
	for i := range reqs {
		req, _ := jsonrpc.NewRequest("eth_call", nil, jsonrpc.NewIDInt(int64(i)))
		reqs[i] = req
	}

	resps, err := client.BatchCall(context.Background(), reqs)
	if err != nil {
		t.Fatalf("BatchCall: %v", err)
	}
	if len(resps) != 3 {
		t.Fatalf("len = %d, want 3", len(resps))
	}
	if n := client.SwapRequestCount(); n != 1 {
		t.Errorf("request count = %d, want 1 (one HTTP round-trip)", n)
	}
}

func TestBatchCall_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	req, _ := jsonrpc.NewRequest("eth_call", nil, jsonrpc.NewIDInt(1))

	if _, err := client.BatchCall(context.Background(), []*jsonrpc.Request{req}); err == nil {
		t.Fatal("BatchCall succeeded on HTTP 429")
	}
}

func TestBatchCall_SizeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"jsonrpc": "2.0", "result": "0x1", "id": 0}]`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	reqs := make([]*jsonrpc.Request, 2)
	for i := range reqs {
		req, _ := jsonrpc.NewRequest("eth_call", nil, jsonrpc.NewIDInt(int64(i)))
		reqs[i] = req
	}

	if _, err := client.BatchCall(context.Background(), reqs); err == nil {
		t.Fatal("BatchCall accepted undersized batch response")
	}
}

func TestBatchCall_Empty(t *testing.T) {
	client := newTestClient("http://unreachable.invalid")
	resps, err := client.BatchCall(context.Background(), nil)
	if err != nil {
		t.Fatalf("BatchCall: %v", err)
	}
	if len(resps) != 0 {
		t.Fatalf("len = %d, want 0", len(resps))
	}
}
