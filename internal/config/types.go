package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Host                string          `json:"host"`
	Port                int             `json:"port"`
	LogLevel            string          `json:"logLevel"`
	RequestTimeout      int             `json:"requestTimeout"`      // ms
	MaxConcurrentGroups int             `json:"maxConcurrentGroups"` // concurrent destination round-trips
	VolumeFetchLimit    int             `json:"volumeFetchLimit"`    // concurrent off-chain volume fetches
	TokenCacheSize      int             `json:"tokenCacheSize"`      // LRU entries for token metadata
	Cache               CacheConfig     `json:"cache"`
	Redis               *RedisConfig    `json:"redis,omitempty"`
	Networks            []NetworkConfig `json:"networks"`
	Pools               []PoolConfig    `json:"pools"`
}

// CacheConfig controls the revalidating response cache
type CacheConfig struct {
	MaxAge         int `json:"maxAge"`         // seconds - hard expiry
	MinTimeToStale int `json:"minTimeToStale"` // seconds - soft staleness, 0 means same as maxAge
	Retention      int `json:"retention"`      // seconds - how long the backing store keeps entries
}

// RedisConfig enables the Redis-backed durable store
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"keyPrefix"`
}

// NetworkConfig is the capability record for one destination network
type NetworkConfig struct {
	Name          string   `json:"name"`
	RPCURL        string   `json:"rpcUrl"`
	WSURL         string   `json:"wsUrl"`
	MaxBatchCalls int      `json:"maxBatchCalls"` // calls per round-trip, 0 means no cap
	BatchAddress  string   `json:"batchAddress"`  // default address calls are batched against
	Methods       []string `json:"methods"`       // supported operations, empty means all
}

// PoolConfig describes one pool served by the metrics endpoint
type PoolConfig struct {
	Name      string `json:"name"`
	Network   string `json:"network"`
	Address   string `json:"address"`
	Token0    string `json:"token0"`
	Token1    string `json:"token1"`
	FeeBps    int    `json:"feeBps"`
	VolumeURL string `json:"volumeUrl"` // off-chain 24h volume source, optional
}

// Default values
const (
	DefaultHost                = "localhost"
	DefaultPort                = 8080
	DefaultLogLevel            = "info"
	DefaultRequestTimeout      = 5000 // ms
	DefaultMaxConcurrentGroups = 4
	DefaultVolumeFetchLimit    = 5
	DefaultTokenCacheSize      = 1000
	DefaultCacheMaxAge         = 300 // s
	DefaultMaxBatchCalls       = 100
	DefaultRedisKeyPrefix      = "defidata:"
)

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetMaxAgeDuration returns the cache hard expiry as time.Duration
func (c *CacheConfig) GetMaxAgeDuration() time.Duration {
	return time.Duration(c.MaxAge) * time.Second
}

// GetMinTimeToStaleDuration returns the soft staleness boundary as time.Duration
func (c *CacheConfig) GetMinTimeToStaleDuration() time.Duration {
	return time.Duration(c.MinTimeToStale) * time.Second
}

// GetRetentionDuration returns the store retention as time.Duration
func (c *CacheConfig) GetRetentionDuration() time.Duration {
	return time.Duration(c.Retention) * time.Second
}

// IsRedisEnabled returns true if a Redis store is configured
func (c *Config) IsRedisEnabled() bool {
	return c.Redis != nil && c.Redis.Addr != ""
}
