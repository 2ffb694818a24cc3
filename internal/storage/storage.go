// Package storage provides the small key/value persistence layer the
// session and MFA enrollment stores are built on. It plays the part a
// browser's local and session storage play for a web front-end.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key is absent or has expired.
var ErrNotFound = errors.New("storage: key not found")

// ErrCorrupt is returned by Get when a stored record cannot be decoded.
// Callers may delete the key and carry on as if it were absent.
var ErrCorrupt = errors.New("storage: corrupt record")

// KV is a byte-oriented key/value store with optional expiry.
// A zero ttl means the value never expires.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
