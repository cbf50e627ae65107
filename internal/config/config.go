package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxConcurrentGroups == 0 {
		cfg.MaxConcurrentGroups = DefaultMaxConcurrentGroups
	}
	if cfg.VolumeFetchLimit == 0 {
		cfg.VolumeFetchLimit = DefaultVolumeFetchLimit
	}
	if cfg.TokenCacheSize == 0 {
		cfg.TokenCacheSize = DefaultTokenCacheSize
	}
	if cfg.Cache.MaxAge == 0 {
		cfg.Cache.MaxAge = DefaultCacheMaxAge
	}
	// MinTimeToStale of 0 means "same as maxAge"; left as-is
	if cfg.Cache.Retention == 0 {
		cfg.Cache.Retention = cfg.Cache.MaxAge * 2
	}
	if cfg.Redis != nil && cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	for i := range cfg.Networks {
		if cfg.Networks[i].MaxBatchCalls == 0 {
			cfg.Networks[i].MaxBatchCalls = DefaultMaxBatchCalls
		}
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if len(cfg.Networks) == 0 {
		return errors.New("at least one network is required")
	}

	networkNames := make(map[string]bool)
	for i, network := range cfg.Networks {
		if network.Name == "" {
			return fmt.Errorf("network[%d]: name is required", i)
		}
		if networkNames[network.Name] {
			return fmt.Errorf("network[%d]: duplicate network name '%s'", i, network.Name)
		}
		networkNames[network.Name] = true

		if network.RPCURL == "" {
			return fmt.Errorf("network[%d]: rpcUrl is required", i)
		}
		if network.MaxBatchCalls < 0 {
			return fmt.Errorf("network[%d]: maxBatchCalls must not be negative", i)
		}
	}

	if cfg.Cache.MaxAge < 0 || cfg.Cache.MinTimeToStale < 0 {
		return errors.New("cache durations must not be negative")
	}
	if cfg.Cache.MinTimeToStale > cfg.Cache.MaxAge {
		return errors.New("cache minTimeToStale must not exceed maxAge")
	}
	if cfg.Cache.Retention < cfg.Cache.MaxAge {
		return errors.New("cache retention must be at least maxAge")
	}

	poolNames := make(map[string]bool)
	for i, pool := range cfg.Pools {
		if pool.Name == "" {
			return fmt.Errorf("pool[%d]: name is required", i)
		}
		if poolNames[pool.Name] {
			return fmt.Errorf("pool[%d]: duplicate pool name '%s'", i, pool.Name)
		}
		poolNames[pool.Name] = true

		if pool.Address == "" {
			return fmt.Errorf("pool[%d]: address is required", i)
		}
		if !networkNames[pool.Network] {
			return fmt.Errorf("pool[%d]: unknown network '%s'", i, pool.Network)
		}
		if pool.FeeBps < 0 || pool.FeeBps > 10000 {
			return fmt.Errorf("pool[%d]: feeBps must be within [0, 10000]", i)
		}
	}

	return nil
}
