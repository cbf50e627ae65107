package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"defidata/internal/config"
	"defidata/internal/jsonrpc"
	"defidata/internal/multicall"
	"defidata/internal/store"
	"defidata/internal/swr"
	"defidata/internal/tokens"
)

const (
	testSelectorDecimals = "0x313ce567"
	testSelectorSymbol   = "0x95d89b41"
)

// chainCaller simulates a pair contract plus its two tokens
type chainCaller struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func encodeWords(words ...*big.Int) json.RawMessage {
	out := "0x"
	for _, w := range words {
		out += fmt.Sprintf("%064x", w)
	}
	raw, _ := json.Marshal(out)
	return raw
}

func encodeABIString(s string) json.RawMessage {
	padded := make([]byte, (len(s)+31)/32*32)
	copy(padded, s)
	out := fmt.Sprintf("0x%064x%064x%x", 32, len(s), padded)
	raw, _ := json.Marshal(out)
	return raw
}

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func (c *chainCaller) BatchCall(ctx context.Context, reqs []*jsonrpc.Request) ([]*jsonrpc.Response, error) {
	c.mu.Lock()
	c.calls++
	fail := c.fail
	c.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("connection refused")
	}

	resps := make([]*jsonrpc.Response, len(reqs))
	for i, req := range reqs {
		var params []json.RawMessage
		json.Unmarshal(req.Params, &params)
		var call struct {
			To   string `json:"to"`
			Data string `json:"data"`
		}
		json.Unmarshal(params[0], &call)

		var result json.RawMessage
		switch call.Data {
		case selectorGetReserves:
			// 1.5 USDC (6 decimals) and 2 WETH (18 decimals)
			result = encodeWords(
				new(big.Int).Mul(big.NewInt(15), pow10(5)),
				new(big.Int).Mul(big.NewInt(2), pow10(18)),
				big.NewInt(1700000000),
			)
		case selectorTotalSupply:
			result = encodeWords(new(big.Int).Mul(big.NewInt(3), pow10(18)))
		case testSelectorDecimals:
			if call.To == "0xusdc" {
				result = encodeWords(big.NewInt(6))
			} else {
				result = encodeWords(big.NewInt(18))
			}
		case testSelectorSymbol:
			if call.To == "0xusdc" {
				result = encodeABIString("USDC")
			} else {
				result = encodeABIString("WETH")
			}
		default:
			resps[i] = jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(3, "unknown selector"))
			continue
		}
		resps[i] = jsonrpc.NewResponseRaw(req.ID, result)
	}
	return resps, nil
}

func (c *chainCaller) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// stubVolumes returns fixed stats for every pool
type stubVolumes struct{}

func (stubVolumes) Volume24h(ctx context.Context, pool config.PoolConfig) (VolumeStats, error) {
	return VolumeStats{VolumeUSD: 1000, TVLUSD: 10000}, nil
}

func newTestPools(t *testing.T, caller *chainCaller) *Pools {
	t.Helper()
	logger := zerolog.Nop()

	agg := multicall.NewAggregator([]*multicall.Destination{
		{Name: "mainnet", Caller: caller},
	}, 2, logger)

	registry, err := tokens.NewRegistry("mainnet", agg, 16, logger)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	return NewPools(PoolsDeps{
		Cache:      swr.New(store.NewMemoryStore(), logger),
		Aggregator: agg,
		Registries: map[string]*tokens.Registry{"mainnet": registry},
		Volumes:    stubVolumes{},
		Pools: []config.PoolConfig{{
			Name:      "usdc-weth",
			Network:   "mainnet",
			Address:   "0xpool",
			Token0:    "0xusdc",
			Token1:    "0xweth",
			FeeBps:    30,
			VolumeURL: "http://volumes.test/usdc-weth",
		}},
		CacheOpts:   swr.Options{MaxAge: time.Minute},
		VolumeLimit: 2,
		Logger:      logger,
	})
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPools_AssemblesMetrics(t *testing.T) {
	caller := &chainCaller{}
	h := newTestPools(t, caller)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pools", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp PoolsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Pools) != 1 {
		t.Fatalf("pools = %d, want 1", len(resp.Pools))
	}

	pool := resp.Pools[0]
	if pool.Error != "" {
		t.Fatalf("pool error: %s", pool.Error)
	}
	if !approxEqual(pool.Reserve0, 1.5) {
		t.Errorf("Reserve0 = %v, want 1.5", pool.Reserve0)
	}
	if !approxEqual(pool.Reserve1, 2) {
		t.Errorf("Reserve1 = %v, want 2", pool.Reserve1)
	}
	if !approxEqual(pool.TotalSupply, 3) {
		t.Errorf("TotalSupply = %v, want 3", pool.TotalSupply)
	}
	if pool.Token0 == nil || pool.Token0.Symbol != "USDC" || pool.Token0.Decimals != 6 {
		t.Errorf("Token0 = %+v", pool.Token0)
	}
	if pool.Token1 == nil || pool.Token1.Symbol != "WETH" {
		t.Errorf("Token1 = %+v", pool.Token1)
	}

	// volume 1000 at 30 bps over 10000 TVL, annualized
	wantAPY := 1000 * 0.003 / 10000 * 365 * 100
	if !approxEqual(pool.FeeAPY, wantAPY) {
		t.Errorf("FeeAPY = %v, want %v", pool.FeeAPY, wantAPY)
	}
}

func TestPools_SecondRequestServedFromCache(t *testing.T) {
	caller := &chainCaller{}
	h := newTestPools(t, caller)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/pools", nil))
	cold := caller.callCount()
	if cold == 0 {
		t.Fatal("no upstream calls on cold request")
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/pools", nil))
	if caller.callCount() != cold {
		t.Errorf("upstream calls = %d after warm request, want %d", caller.callCount(), cold)
	}
}

func TestPools_AllPoolsFailingFailsOutward(t *testing.T) {
	caller := &chainCaller{fail: true}
	h := newTestPools(t, caller)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pools", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}
