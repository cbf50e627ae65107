package store

import (
	"context"
	"time"
)

// Store is the durable key-value store backing the revalidating cache.
// A value is stored together with the time it was computed; staleness
// decisions are made by the cache layer, not the store.
// Implementations may keep data in process memory or delegate to a
// networked store.
type Store interface {
	// Read returns the stored value and its computation time.
	// ok is false if the key is absent.
	Read(ctx context.Context, key string) (value []byte, computedAt time.Time, ok bool, err error)

	// Write stores a value and its computation time, replacing any
	// previous entry for the key.
	Write(ctx context.Context, key string, value []byte, computedAt time.Time) error
}
