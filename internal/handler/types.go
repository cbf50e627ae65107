package handler

import (
	"context"

	"defidata/internal/config"
	"defidata/internal/tokens"
)

// PoolMetrics is one pool's share of the /pools response
type PoolMetrics struct {
	Name        string           `json:"name"`
	Network     string           `json:"network"`
	Address     string           `json:"address"`
	Token0      *tokens.Metadata `json:"token0,omitempty"`
	Token1      *tokens.Metadata `json:"token1,omitempty"`
	Reserve0    float64          `json:"reserve0"`
	Reserve1    float64          `json:"reserve1"`
	TotalSupply float64          `json:"totalSupply"`
	VolumeUSD   float64          `json:"volumeUsd24h,omitempty"`
	TVLUSD      float64          `json:"tvlUsd,omitempty"`
	FeeAPY      float64          `json:"feeApy,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// PoolsResponse is the full /pools payload
type PoolsResponse struct {
	Block uint64        `json:"block,omitempty"`
	Pools []PoolMetrics `json:"pools"`
}

// VolumeStats is the shape returned by an off-chain volume source
type VolumeStats struct {
	VolumeUSD float64 `json:"volumeUsd24h"`
	TVLUSD    float64 `json:"tvlUsd"`
}

// VolumeFetcher is the async "fetch one item" primitive for off-chain
// trading volume. Implementations decide the transport.
type VolumeFetcher interface {
	Volume24h(ctx context.Context, pool config.PoolConfig) (VolumeStats, error)
}

// HeadSource reports the latest observed block number for a network
type HeadSource interface {
	LatestBlock() uint64
}
