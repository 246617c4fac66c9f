package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/vcscsvcscs/medication-engine/internal/storage"
	"go.uber.org/zap"
)

// collection stores a set of records as one JSON object keyed by id.
// Every load/mutate/persist cycle holds mu so concurrent writers never
// overwrite each other.
type collection[T any] struct {
	store  storage.Store
	key    string
	logger *zap.Logger

	mu sync.Mutex
}

func newCollection[T any](store storage.Store, key string, logger *zap.Logger) *collection[T] {
	return &collection[T]{store: store, key: key, logger: logger}
}

func (c *collection[T]) load(ctx context.Context) (map[string]T, error) {
	data, err := c.store.Get(ctx, c.key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return make(map[string]T), nil
		}
		return nil, fmt.Errorf("failed to load %s: %w", c.key, err)
	}

	records := make(map[string]T)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", c.key, err)
	}
	return records, nil
}

func (c *collection[T]) save(ctx context.Context, records map[string]T) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", c.key, err)
	}
	if err := c.store.Set(ctx, c.key, data); err != nil {
		return fmt.Errorf("failed to persist %s: %w", c.key, err)
	}
	return nil
}

// get returns the record stored under id
func (c *collection[T]) get(ctx context.Context, id string) (T, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	records, err := c.load(ctx)
	if err != nil {
		return zero, false, err
	}
	rec, ok := records[id]
	return rec, ok, nil
}

// all returns every record; storage errors are logged and yield an empty result
func (c *collection[T]) all(ctx context.Context) map[string]T {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load(ctx)
	if err != nil {
		c.logger.Error("storage read failed, returning empty result",
			zap.String("collection", c.key),
			zap.Error(err),
		)
		return map[string]T{}
	}
	return records
}

// mutate applies fn to the loaded records and persists them if fn succeeds
func (c *collection[T]) mutate(ctx context.Context, fn func(records map[string]T) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(records); err != nil {
		return err
	}
	return c.save(ctx, records)
}
