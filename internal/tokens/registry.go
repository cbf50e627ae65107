package tokens

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"defidata/internal/multicall"
)

// ERC-20 function selectors
const (
	selectorDecimals = "0x313ce567"
	selectorSymbol   = "0x95d89b41"
)

// Metadata describes one token. It is immutable on chain, so cached
// entries never need revalidation; the LRU only bounds memory.
type Metadata struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Registry resolves token metadata through the call aggregator with an
// LRU-bounded lookaside cache in front.
type Registry struct {
	network string
	agg     *multicall.Aggregator
	cache   *lru.Cache[string, Metadata]
	logger  zerolog.Logger
}

// NewRegistry creates a token metadata registry
func NewRegistry(network string, agg *multicall.Aggregator, size int, logger zerolog.Logger) (*Registry, error) {
	cache, err := lru.New[string, Metadata](size)
	if err != nil {
		return nil, err
	}
	return &Registry{
		network: network,
		agg:     agg,
		cache:   cache,
		logger:  logger.With().Str("component", "tokens").Logger(),
	}, nil
}

// callMeta tags each descriptor with the token and field it resolves
type callMeta struct {
	address string
	field   string
}

// Metadata resolves metadata for the given token addresses. Cached tokens
// are served from the LRU; the rest are fetched in one aggregated call.
// Tokens whose reads fail are simply absent from the result.
func (r *Registry) Metadata(ctx context.Context, addresses []string) map[string]Metadata {
	out := make(map[string]Metadata, len(addresses))
	var missing []string
	for _, addr := range addresses {
		key := strings.ToLower(addr)
		if m, ok := r.cache.Get(key); ok {
			out[key] = m
		} else {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return out
	}

	fields := []struct {
		selector string
		name     string
	}{
		{selectorDecimals, "decimals"},
		{selectorSymbol, "symbol"},
	}

	descs := make([]multicall.CallDescriptor, 0, len(missing)*2)
	for _, addr := range missing {
		for _, f := range fields {
			descs = append(descs, multicall.CallDescriptor{
				Network: r.network,
				Method:  "eth_call",
				Params: []interface{}{
					map[string]string{"to": addr, "data": f.selector},
					"latest",
				},
				Meta: callMeta{address: addr, field: f.name},
			})
		}
	}

	results := r.agg.MultiCall(ctx, descs)

	partial := make(map[string]*Metadata, len(missing))
	failed := make(map[string]bool)
	for _, res := range results {
		meta := res.Meta.(callMeta)
		if res.Err != nil {
			r.logger.Warn().
				Err(res.Err).
				Str("token", meta.address).
				Str("field", meta.field).
				Msg("metadata read failed")
			failed[meta.address] = true
			continue
		}

		m := partial[meta.address]
		if m == nil {
			m = &Metadata{Address: meta.address}
			partial[meta.address] = m
		}

		switch meta.field {
		case "decimals":
			d, err := decodeUint8(res.Value)
			if err != nil {
				r.logger.Warn().Err(err).Str("token", meta.address).Msg("bad decimals value")
				failed[meta.address] = true
				continue
			}
			m.Decimals = d
		case "symbol":
			sym, err := decodeString(res.Value)
			if err != nil {
				r.logger.Warn().Err(err).Str("token", meta.address).Msg("bad symbol value")
				failed[meta.address] = true
				continue
			}
			m.Symbol = sym
		}
	}

	for addr, m := range partial {
		if failed[addr] {
			continue
		}
		r.cache.Add(addr, *m)
		out[addr] = *m
	}
	return out
}

// decodeHexWords unquotes a JSON hex string and returns its raw bytes
func decodeHexWords(raw json.RawMessage) ([]byte, error) {
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return nil, fmt.Errorf("result is not a string: %w", err)
	}
	hexStr = strings.TrimPrefix(hexStr, "0x")
	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("bad hex: %w", err)
	}
	return data, nil
}

// decodeUint8 decodes a single uint word, keeping only the low byte
func decodeUint8(raw json.RawMessage) (uint8, error) {
	data, err := decodeHexWords(raw)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("empty return data")
	}
	return data[len(data)-1], nil
}

// decodeString decodes an ABI-encoded string return value. Some older
// tokens return a bytes32 instead; both shapes are handled.
func decodeString(raw json.RawMessage) (string, error) {
	data, err := decodeHexWords(raw)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty return data")
	}

	// bytes32 symbol: a single right-padded word
	if len(data) == 32 {
		return string(trimRightZeros(data)), nil
	}

	// string symbol: offset word, length word, then the bytes
	if len(data) < 64 {
		return "", fmt.Errorf("return data too short for string: %d bytes", len(data))
	}
	length := int(wordToUint(data[32:64]))
	if 64+length > len(data) {
		return "", fmt.Errorf("string length %d exceeds return data", length)
	}
	return string(data[64 : 64+length]), nil
}

func trimRightZeros(data []byte) []byte {
	end := len(data)
	for end > 0 && data[end-1] == 0 {
		end--
	}
	return data[:end]
}

func wordToUint(word []byte) uint64 {
	var v uint64
	for _, b := range word {
		v = v<<8 | uint64(b)
	}
	return v
}
