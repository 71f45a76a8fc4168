// Package metadata stores small key/value facts about the local store, such
// as the sync watermark and the store key verifier.
package metadata

import (
	"context"
)

type Repository interface {
	// Get returns (nil, nil) when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error

	// SetMany writes all pairs atomically.
	SetMany(ctx context.Context, values map[string][]byte) error
}
