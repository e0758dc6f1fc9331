// Package kv is the general-purpose persistent key-value store that backs the
// session metadata and the offline queues.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string-to-string persistent map.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// MultiSet writes every pair or none of them.
	MultiSet(ctx context.Context, pairs map[string]string) error
	// MultiRemove deletes the keys that exist; missing keys are ignored.
	MultiRemove(ctx context.Context, keys ...string) error
	Close() error
}
