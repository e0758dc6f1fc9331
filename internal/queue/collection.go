package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonero-cloud/safeguard/internal/kv"
)

// collection is a JSON array persisted under one kv key. Every
// read-modify-write holds mu, so concurrent mutations cannot lose updates.
type collection[T any] struct {
	mu     sync.Mutex
	store  kv.Store
	key    string
	logger *slog.Logger
}

// read returns the stored items. A missing key or unparsable value is an
// empty collection; only a failing store is an error.
func (c *collection[T]) read(ctx context.Context) ([]T, error) {
	raw, err := c.store.Get(ctx, c.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.key, err)
	}
	if raw == "" {
		return nil, nil
	}

	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		c.logger.Warn("discarding corrupt queue", "key", c.key, "error", err)
		return nil, nil
	}
	return items, nil
}

func (c *collection[T]) write(ctx context.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, c.key, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", c.key, err)
	}
	return nil
}

// snapshot returns the items, or nothing if the store cannot be read.
func (c *collection[T]) snapshot(ctx context.Context) []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	items, err := c.read(ctx)
	if err != nil {
		c.logger.Error("queue read failed", "key", c.key, "error", err)
		return nil
	}
	return items
}

// mutate applies fn to the stored items and writes the result back when fn
// reports a change.
func (c *collection[T]) mutate(ctx context.Context, fn func([]T) ([]T, bool)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	items, err := c.read(ctx)
	if err != nil {
		return err
	}
	next, changed := fn(items)
	if !changed {
		return nil
	}
	return c.write(ctx, next)
}

// settle removes a delivered item, trying twice. When both removals fail
// it falls back to mark, so recovery drops the item instead of resending it.
// The returned error means the item may still be sent again.
func (c *collection[T]) settle(ctx context.Context, match func(T) bool, mark func(*T)) error {
	remove := func(items []T) ([]T, bool) {
		n := len(items)
		items = slices.DeleteFunc(items, match)
		return items, len(items) != n
	}
	err := c.mutate(ctx, remove)
	if err == nil {
		return nil
	}
	c.logger.Warn("removing delivered item failed, retrying", "key", c.key, "error", err)
	if err = c.mutate(ctx, remove); err == nil {
		return nil
	}

	merr := c.mutate(ctx, func(items []T) ([]T, bool) {
		i := slices.IndexFunc(items, match)
		if i < 0 {
			return items, false
		}
		mark(&items[i])
		return items, true
	})
	if merr != nil {
		return errors.Join(err, merr)
	}
	c.logger.Warn("delivered item kept, marked for recovery", "key", c.key, "error", err)
	return nil
}

// newID is a millisecond timestamp plus a short random suffix.
func newID() string {
	return fmt.Sprintf("%d_%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString()[:8], "-", ""))
}
