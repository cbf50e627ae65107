package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"defidata/internal/config"
)

// HTTPVolumeFetcher reads 24h volume stats from a per-pool HTTP endpoint
type HTTPVolumeFetcher struct {
	httpClient *http.Client
}

// NewHTTPVolumeFetcher creates a volume fetcher with the given timeout
func NewHTTPVolumeFetcher(timeout time.Duration) *HTTPVolumeFetcher {
	return &HTTPVolumeFetcher{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Volume24h fetches the pool's configured volume URL
func (f *HTTPVolumeFetcher) Volume24h(ctx context.Context, pool config.PoolConfig) (VolumeStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pool.VolumeURL, nil)
	if err != nil {
		return VolumeStats{}, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return VolumeStats{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return VolumeStats{}, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	var stats VolumeStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return VolumeStats{}, fmt.Errorf("failed to parse volume response: %w", err)
	}
	return stats, nil
}
