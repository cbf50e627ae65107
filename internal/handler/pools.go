package handler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"defidata/internal/batch"
	"defidata/internal/config"
	"defidata/internal/multicall"
	"defidata/internal/swr"
	"defidata/internal/tokens"
)

// Pair contract selectors
const (
	selectorGetReserves = "0x0902f1ac"
	selectorTotalSupply = "0x18160ddd"
)

// LP tokens are minted with 18 decimals
const lpDecimals = 18

// Pools serves aggregated pool metrics as cached JSON. The compute path
// fans out through the call aggregator for on-chain reads and the batch
// executor for off-chain volume fetches; the revalidating cache in front
// absorbs request bursts.
type Pools struct {
	cache      *swr.Cache
	agg        *multicall.Aggregator
	registries map[string]*tokens.Registry
	heads      map[string]HeadSource
	volumes    VolumeFetcher
	pools      []config.PoolConfig

	cacheOpts   swr.Options
	volumeLimit int
	logger      zerolog.Logger
}

// PoolsDeps carries the collaborators for NewPools
type PoolsDeps struct {
	Cache       *swr.Cache
	Aggregator  *multicall.Aggregator
	Registries  map[string]*tokens.Registry
	Heads       map[string]HeadSource
	Volumes     VolumeFetcher
	Pools       []config.PoolConfig
	CacheOpts   swr.Options
	VolumeLimit int
	Logger      zerolog.Logger
}

// NewPools creates the /pools handler
func NewPools(deps PoolsDeps) *Pools {
	return &Pools{
		cache:       deps.Cache,
		agg:         deps.Aggregator,
		registries:  deps.Registries,
		heads:       deps.Heads,
		volumes:     deps.Volumes,
		pools:       deps.Pools,
		cacheOpts:   deps.CacheOpts,
		volumeLimit: deps.VolumeLimit,
		logger:      deps.Logger.With().Str("component", "pools").Logger(),
	}
}

// ServeHTTP implements http.Handler
func (h *Pools) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := h.cache.Get(r.Context(), h.cacheKey(), h.compute, h.cacheOpts)
	if err != nil {
		h.logger.Error().Err(err).Msg("pools computation failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{"error": "upstream data unavailable"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

// cacheKey embeds the latest observed block of every subscribed network,
// so fresh blocks roll the key over instead of waiting out the TTL.
func (h *Pools) cacheKey() string {
	if len(h.heads) == 0 {
		return "pools"
	}
	names := make([]string, 0, len(h.heads))
	for name := range h.heads {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("pools")
	for _, name := range names {
		fmt.Fprintf(&b, ":%s/%d", name, h.heads[name].LatestBlock())
	}
	return b.String()
}

// compute assembles the full response from upstream data
func (h *Pools) compute(ctx context.Context) ([]byte, error) {
	reserves, supplies := h.readChainState(ctx)
	metadata := h.readTokenMetadata(ctx)
	volumes := h.readVolumes(ctx)

	resp := PoolsResponse{Pools: make([]PoolMetrics, len(h.pools))}
	failures := 0
	for i, pool := range h.pools {
		m := &resp.Pools[i]
		m.Name = pool.Name
		m.Network = pool.Network
		m.Address = pool.Address

		if err := h.fillPool(m, pool, reserves[i], supplies[i], metadata, volumes[i]); err != nil {
			m.Error = err.Error()
			failures++
		}
	}

	// An all-failure response would poison the cache for maxAge; fail the
	// computation instead so a still-valid stale entry keeps serving.
	if len(h.pools) > 0 && failures == len(h.pools) {
		return nil, fmt.Errorf("all %d pools failed", failures)
	}

	for _, head := range h.heads {
		if block := head.LatestBlock(); block > resp.Block {
			resp.Block = block
		}
	}

	return json.Marshal(resp)
}

// readChainState issues one aggregated multicall for every pool's
// reserves and total supply, returning per-pool results by input index
func (h *Pools) readChainState(ctx context.Context) (reserves, supplies []multicall.CallResult) {
	descs := make([]multicall.CallDescriptor, 0, len(h.pools)*2)
	for i, pool := range h.pools {
		for _, selector := range []string{selectorGetReserves, selectorTotalSupply} {
			descs = append(descs, multicall.CallDescriptor{
				Network: pool.Network,
				Method:  "eth_call",
				Params: []interface{}{
					map[string]string{"to": pool.Address, "data": selector},
					"latest",
				},
				Meta: i,
			})
		}
	}

	results := h.agg.MultiCall(ctx, descs)

	reserves = make([]multicall.CallResult, len(h.pools))
	supplies = make([]multicall.CallResult, len(h.pools))
	for n, res := range results {
		i := res.Meta.(int)
		if n%2 == 0 {
			reserves[i] = res
		} else {
			supplies[i] = res
		}
	}
	return reserves, supplies
}

// readTokenMetadata resolves token metadata per network
func (h *Pools) readTokenMetadata(ctx context.Context) map[string]tokens.Metadata {
	byNetwork := make(map[string][]string)
	for _, pool := range h.pools {
		if pool.Token0 != "" {
			byNetwork[pool.Network] = append(byNetwork[pool.Network], pool.Token0)
		}
		if pool.Token1 != "" {
			byNetwork[pool.Network] = append(byNetwork[pool.Network], pool.Token1)
		}
	}

	out := make(map[string]tokens.Metadata)
	for network, addrs := range byNetwork {
		registry := h.registries[network]
		if registry == nil {
			continue
		}
		for addr, meta := range registry.Metadata(ctx, addrs) {
			out[network+"|"+addr] = meta
		}
	}
	return out
}

// readVolumes fans out to the off-chain volume source with bounded
// concurrency; one outcome per pool, failures isolated
func (h *Pools) readVolumes(ctx context.Context) []batch.Outcome[VolumeStats] {
	if h.volumes == nil {
		return make([]batch.Outcome[VolumeStats], len(h.pools))
	}

	tasks := make([]batch.Task[VolumeStats], len(h.pools))
	for i, pool := range h.pools {
		if pool.VolumeURL == "" {
			tasks[i] = func(ctx context.Context) (VolumeStats, error) {
				return VolumeStats{}, nil
			}
			continue
		}
		tasks[i] = func(ctx context.Context) (VolumeStats, error) {
			return h.volumes.Volume24h(ctx, pool)
		}
	}

	return batch.Run(ctx, tasks, h.volumeLimit)
}

func (h *Pools) fillPool(m *PoolMetrics, pool config.PoolConfig, reserves, supply multicall.CallResult, metadata map[string]tokens.Metadata, volume batch.Outcome[VolumeStats]) error {
	if reserves.Err != nil {
		return fmt.Errorf("reserves: %w", reserves.Err)
	}
	if supply.Err != nil {
		return fmt.Errorf("total supply: %w", supply.Err)
	}

	dec0, dec1 := uint8(18), uint8(18)
	if meta, ok := metadata[pool.Network+"|"+strings.ToLower(pool.Token0)]; ok {
		m.Token0 = &meta
		dec0 = meta.Decimals
	}
	if meta, ok := metadata[pool.Network+"|"+strings.ToLower(pool.Token1)]; ok {
		m.Token1 = &meta
		dec1 = meta.Decimals
	}

	r0, r1, err := decodeReserves(reserves.Value)
	if err != nil {
		return fmt.Errorf("reserves: %w", err)
	}
	m.Reserve0 = normalizeUnits(r0, dec0)
	m.Reserve1 = normalizeUnits(r1, dec1)

	ts, err := decodeWord(supply.Value, 0)
	if err != nil {
		return fmt.Errorf("total supply: %w", err)
	}
	m.TotalSupply = normalizeUnits(ts, lpDecimals)

	if volume.Err != nil {
		// Off-chain volume is an enrichment; its failure degrades the
		// pool to on-chain data only
		h.logger.Warn().Err(volume.Err).Str("pool", pool.Name).Msg("volume fetch failed")
		return nil
	}
	m.VolumeUSD = volume.Value.VolumeUSD
	m.TVLUSD = volume.Value.TVLUSD
	if m.TVLUSD > 0 {
		feeRate := float64(pool.FeeBps) / 10000
		m.FeeAPY = m.VolumeUSD * feeRate / m.TVLUSD * 365 * 100
	}
	return nil
}

// decodeReserves decodes a getReserves return: two reserve words followed
// by the last-update timestamp (ignored)
func decodeReserves(raw json.RawMessage) (*big.Int, *big.Int, error) {
	r0, err := decodeWord(raw, 0)
	if err != nil {
		return nil, nil, err
	}
	r1, err := decodeWord(raw, 1)
	if err != nil {
		return nil, nil, err
	}
	return r0, r1, nil
}

// decodeWord extracts the n-th 32-byte word of a hex return value
func decodeWord(raw json.RawMessage, n int) (*big.Int, error) {
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, fmt.Errorf("result is not a string: %w", err)
	}
	data, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
	if err != nil {
		return nil, fmt.Errorf("bad hex: %w", err)
	}
	if len(data) < (n+1)*32 {
		return nil, fmt.Errorf("return data too short: %d bytes, want word %d", len(data), n)
	}
	return new(big.Int).SetBytes(data[n*32 : (n+1)*32]), nil
}

// normalizeUnits converts a raw token amount to a float in whole-token units
func normalizeUnits(amount *big.Int, decimals uint8) float64 {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value := new(big.Float).SetInt(amount)
	out, _ := new(big.Float).Quo(value, scale).Float64()
	return out
}
