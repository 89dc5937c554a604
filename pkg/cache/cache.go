// Package cache maps canonical generation keys to materialized asset references.
package cache

import (
	"context"
	"errors"

	"github.com/pario-ai/meshbridge/pkg/models"
)

// ErrConflict is returned by Put when the key already maps to a different
// reference. The stored reference is left untouched.
var ErrConflict = errors.New("cache key already maps to a different asset")

// Cache is a content-addressed asset index. Implementations must be safe for
// concurrent use and must never replace an existing mapping.
type Cache interface {
	// Get returns the asset reference stored under key.
	Get(ctx context.Context, key string) (string, bool, error)
	// Put stores ref under key. Repeating an identical Put is a no-op.
	Put(ctx context.Context, key, ref string) error
	// Stats returns entry count and hit/miss counters.
	Stats(ctx context.Context) (models.CacheStats, error)
	// Close releases resources.
	Close() error
}
