package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"defidata/internal/jsonrpc"
)

// Client is an HTTP JSON-RPC client for a single upstream endpoint.
// It implements the "one round-trip carrying many calls" primitive the
// call aggregator builds on.
type Client struct {
	name   string
	rpcURL string

	httpClient *http.Client
	logger     zerolog.Logger

	requestCount uint64
}

// Config for creating a new Client
type Config struct {
	Name           string
	RPCURL         string
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// NewClient creates a new upstream client
func NewClient(cfg Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}

	return &Client{
		name:   cfg.Name,
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		logger: cfg.Logger.With().Str("upstream", cfg.Name).Logger(),
	}
}

// Name returns the upstream name
func (c *Client) Name() string {
	return c.name
}

// RPCURL returns the HTTP RPC URL
func (c *Client) RPCURL() string {
	return c.rpcURL
}

// SwapRequestCount returns the current request count and resets it to zero
func (c *Client) SwapRequestCount() uint64 {
	return atomic.SwapUint64(&c.requestCount, 0)
}

// Call sends a single JSON-RPC request
func (c *Client) Call(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	reqBytes, err := req.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.post(ctx, reqBytes)
	if err != nil {
		return nil, err
	}

	resp, err := jsonrpc.ParseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp, nil
}

// BatchCall sends a batch of JSON-RPC requests as one round-trip.
// The whole batch fails together on transport or decode errors; per-call
// errors stay inside the individual responses.
func (c *Client) BatchCall(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	reqBytes, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	body, err := c.post(ctx, reqBytes)
	if err != nil {
		return nil, err
	}

	resps, _, err := jsonrpc.ParseBatchResponse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse batch response: %w", err)
	}
	if len(resps) != len(reqs) {
		return nil, fmt.Errorf("batch response size mismatch: expected %d, got %d", len(reqs), len(resps))
	}
	return resps, nil
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// One HTTP call = one request to the upstream
	atomic.AddUint64(&c.requestCount, 1)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
