package swr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"defidata/internal/store"
)

// ComputeFn produces the value for a cache key. It may fan out through the
// call aggregator or batch executor; the cache treats it as opaque.
type ComputeFn func(ctx context.Context) ([]byte, error)

// Options control the two staleness signals of an entry.
type Options struct {
	// MaxAge is the hard expiry: past this age a value must not be
	// returned without a fresh computation, except while a refresh is
	// already in flight.
	MaxAge time.Duration

	// MinTimeToStale is the soft staleness boundary: past this age a
	// value is still returned but triggers a single background
	// recomputation. Zero defaults to MaxAge.
	MinTimeToStale time.Duration
}

// flight is one in-flight computation for a key. value and err are written
// once before done is closed and only read after.
type flight struct {
	done  chan struct{}
	value []byte
	err   error
}

// Cache wraps an arbitrary compute function with stale-while-revalidate
// semantics keyed by an opaque string. At most one computation per key is
// in flight at any instant; callers racing the same recomputation all
// receive the same settled outcome.
type Cache struct {
	store  store.Store
	logger zerolog.Logger

	mu       sync.Mutex
	inflight map[string]*flight
}

// New creates a revalidating cache on top of a durable store
func New(st store.Store, logger zerolog.Logger) *Cache {
	return &Cache{
		store:    st,
		logger:   logger.With().Str("component", "swr").Logger(),
		inflight: make(map[string]*flight),
	}
}

// Get returns the value for key, computing it if needed.
//
// Entry states:
//   - fresh (age < MinTimeToStale): stored value, no computation
//   - soft-stale (age < MaxAge): stored value, one background refresh
//   - hard-expired with a refresh in flight: stored value bridges the gap
//   - hard-expired or absent otherwise: compute synchronously; concurrent
//     callers for the same key share the single in-flight result
//
// A failed synchronous computation with no servable value propagates to
// the caller. A failed background refresh leaves the entry untouched and
// is only logged.
func (c *Cache) Get(ctx context.Context, key string, compute ComputeFn, opts Options) ([]byte, error) {
	staleAfter := opts.MinTimeToStale
	if staleAfter <= 0 || staleAfter > opts.MaxAge {
		staleAfter = opts.MaxAge
	}

	value, computedAt, ok, err := c.store.Read(ctx, key)
	if err != nil {
		// A broken store read degrades to a miss
		c.logger.Warn().Err(err).Str("key", key).Msg("store read failed")
		ok = false
	}

	if ok {
		age := time.Since(computedAt)
		switch {
		case age < staleAfter:
			return value, nil

		case age < opts.MaxAge:
			c.refreshInBackground(key, compute)
			return value, nil

		default:
			c.mu.Lock()
			_, running := c.inflight[key]
			c.mu.Unlock()
			if running {
				// Past hard expiry, but a refresh is already underway:
				// serve the old value rather than failing every
				// concurrent reader.
				return value, nil
			}
		}
	}

	return c.computeShared(ctx, key, compute)
}

// computeShared runs compute synchronously, deduplicating concurrent
// callers for the same key onto a single invocation.
func (c *Cache) computeShared(ctx context.Context, key string, compute ComputeFn) ([]byte, error) {
	c.mu.Lock()
	if fl, running := c.inflight[key]; running {
		c.mu.Unlock()
		select {
		case <-fl.done:
			return fl.value, fl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	fl := &flight{done: make(chan struct{})}
	c.inflight[key] = fl
	c.mu.Unlock()

	value, err := compute(ctx)
	if err != nil {
		err = fmt.Errorf("compute for key %q: %w", key, err)
	} else if werr := c.store.Write(ctx, key, value, time.Now()); werr != nil {
		c.logger.Warn().Err(werr).Str("key", key).Msg("store write failed")
	}

	c.settle(key, fl, value, err)
	return value, err
}

// refreshInBackground starts a detached recomputation for key unless one
// is already in flight.
func (c *Cache) refreshInBackground(key string, compute ComputeFn) {
	c.mu.Lock()
	if _, running := c.inflight[key]; running {
		c.mu.Unlock()
		return
	}
	fl := &flight{done: make(chan struct{})}
	c.inflight[key] = fl
	c.mu.Unlock()

	go func() {
		// Detached from the triggering read's context: the refresh runs
		// to settlement after that read has returned.
		ctx := context.Background()

		value, err := compute(ctx)
		if err != nil {
			// The stored value and timestamps stay untouched, so the
			// entry goes stale again and the next read may retry.
			c.logger.Warn().Err(err).Str("key", key).Msg("background refresh failed")
		} else if werr := c.store.Write(ctx, key, value, time.Now()); werr != nil {
			c.logger.Warn().Err(werr).Str("key", key).Msg("store write failed")
		}

		c.settle(key, fl, value, err)
	}()
}

// settle publishes the outcome and clears the in-flight marker as one
// transition: the marker is removed only after the store reflects the
// result, and waiters are released last.
func (c *Cache) settle(key string, fl *flight, value []byte, err error) {
	fl.value = value
	fl.err = err

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	close(fl.done)
}
