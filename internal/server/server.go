package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"defidata/internal/config"
	"defidata/internal/handler"
	"defidata/internal/headsub"
	"defidata/internal/multicall"
	"defidata/internal/store"
	"defidata/internal/swr"
	"defidata/internal/tokens"
	"defidata/internal/upstream"
)

// Server wires the cache, aggregator and handlers behind one HTTP listener
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	cache       *swr.Cache
	aggregator  *multicall.Aggregator
	subscribers map[string]*headsub.Subscriber
	redisClient *redis.Client

	httpServer *http.Server
}

// New creates a new Server
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	// Durable store: Redis when configured, process memory otherwise
	var (
		st          store.Store
		redisClient *redis.Client
	)
	if cfg.IsRedisEnabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		st = store.NewRedisStore(redisClient, cfg.Redis.KeyPrefix, cfg.Cache.GetRetentionDuration())
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using Redis store")
	} else {
		st = store.NewMemoryStore()
		logger.Info().Msg("using in-memory store")
	}

	cache := swr.New(st, logger)

	// Capability records per network, resolved once here
	destinations := make([]*multicall.Destination, 0, len(cfg.Networks))
	for _, network := range cfg.Networks {
		methods := make(map[string]bool, len(network.Methods))
		for _, m := range network.Methods {
			methods[m] = true
		}
		destinations = append(destinations, &multicall.Destination{
			Name:          network.Name,
			MaxBatchCalls: network.MaxBatchCalls,
			Methods:       methods,
			Caller: upstream.NewClient(upstream.Config{
				Name:           network.Name,
				RPCURL:         network.RPCURL,
				RequestTimeout: cfg.GetRequestTimeoutDuration(),
				Logger:         logger,
			}),
		})
	}
	aggregator := multicall.NewAggregator(destinations, cfg.MaxConcurrentGroups, logger)

	subscribers := make(map[string]*headsub.Subscriber)
	for _, network := range cfg.Networks {
		if network.WSURL == "" {
			continue
		}
		subscribers[network.Name] = headsub.New(headsub.Config{
			Name:   network.Name,
			WSURL:  network.WSURL,
			Logger: logger,
		})
	}

	return &Server{
		cfg:         cfg,
		logger:      logger,
		cache:       cache,
		aggregator:  aggregator,
		subscribers: subscribers,
		redisClient: redisClient,
	}, nil
}

// Start launches the head subscriptions and the HTTP listener
func (s *Server) Start() error {
	for _, sub := range s.subscribers {
		sub.Start()
	}

	registries := make(map[string]*tokens.Registry, len(s.cfg.Networks))
	for _, network := range s.cfg.Networks {
		registry, err := tokens.NewRegistry(network.Name, s.aggregator, s.cfg.TokenCacheSize, s.logger)
		if err != nil {
			return fmt.Errorf("failed to create token registry: %w", err)
		}
		registries[network.Name] = registry
	}

	heads := make(map[string]handler.HeadSource, len(s.subscribers))
	for name, sub := range s.subscribers {
		heads[name] = sub
	}

	poolsHandler := handler.NewPools(handler.PoolsDeps{
		Cache:      s.cache,
		Aggregator: s.aggregator,
		Registries: registries,
		Heads:      heads,
		Volumes:    handler.NewHTTPVolumeFetcher(s.cfg.GetRequestTimeoutDuration()),
		Pools:      s.cfg.Pools,
		CacheOpts: swr.Options{
			MaxAge:         s.cfg.Cache.GetMaxAgeDuration(),
			MinTimeToStale: s.cfg.Cache.GetMinTimeToStaleDuration(),
		},
		VolumeLimit: s.cfg.VolumeFetchLimit,
		Logger:      s.logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/pools", poolsHandler)
	mux.HandleFunc("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("addr", addr).
			Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// handleHealth reports liveness and the latest observed block per network
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	blocks := make(map[string]uint64, len(s.subscribers))
	for name, sub := range s.subscribers {
		blocks[name] = sub.LatestBlock()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"blocks": blocks,
	})
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	var httpErr error
	if s.httpServer != nil {
		httpErr = s.httpServer.Shutdown(ctx)
	}

	for name, sub := range s.subscribers {
		sub.Close()
		s.logger.Debug().Str("network", name).Msg("closed head subscription")
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error().Err(err).Msg("error closing Redis client")
		}
	}

	if httpErr != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", httpErr)
	}

	s.logger.Info().Msg("server stopped")
	return nil
}
