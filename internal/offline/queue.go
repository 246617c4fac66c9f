package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vcscsvcscs/medication-engine/internal/storage"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

const (
	// QueueKey is the store key holding the serialized queue
	QueueKey = "offline_queue"

	// DefaultCapacity bounds the number of queued actions
	DefaultCapacity = 500
)

// Queue is the durable FIFO of actions awaiting transmission. The whole list is
// stored as one JSON document, so every load/mutate/persist cycle holds mu.
type Queue struct {
	store    storage.Store
	capacity int
	logger   *zap.Logger
	now      func() time.Time

	mu sync.Mutex
}

// NewQueue creates a queue persisted in store
func NewQueue(store storage.Store, capacity int, logger *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		store:    store,
		capacity: capacity,
		logger:   logger,
		now:      time.Now,
	}
}

// Enqueue appends action to the tail. When the queue exceeds its capacity,
// exact duplicates are dropped first and then the oldest entries.
func (q *Queue) Enqueue(ctx context.Context, action Action) (model.OfflineQueueItem, error) {
	item, err := NewItem(action, q.now())
	if err != nil {
		return model.OfflineQueueItem{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return model.OfflineQueueItem{}, err
	}

	items = append(items, item)
	if len(items) > q.capacity {
		before := len(items)
		items = trim(dedupe(items), q.capacity)
		q.logger.Warn("offline queue over capacity",
			zap.Int("capacity", q.capacity),
			zap.Int("dropped", before-len(items)),
		)
	}

	if err := q.save(ctx, items); err != nil {
		return model.OfflineQueueItem{}, err
	}

	q.logger.Debug("action queued",
		zap.String("id", item.ID),
		zap.String("action", item.Action),
		zap.Int("queue_length", len(items)),
	)
	return item, nil
}

// Items returns a snapshot of the queue in FIFO order
func (q *Queue) Items(ctx context.Context) ([]model.OfflineQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.load(ctx)
}

// Len returns the number of queued actions
func (q *Queue) Len(ctx context.Context) (int, error) {
	items, err := q.Items(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Peek returns up to n items from the head without removing them
func (q *Queue) Peek(ctx context.Context, n int) ([]model.OfflineQueueItem, error) {
	if n <= 0 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	if n > len(items) {
		n = len(items)
	}
	return append([]model.OfflineQueueItem(nil), items[:n]...), nil
}

// Remove deletes the items with the given IDs and returns how many were found.
// IDs no longer queued (trimmed or deduplicated meanwhile) are ignored.
func (q *Queue) Remove(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return 0, err
	}

	kept := make([]model.OfflineQueueItem, 0, len(items))
	for _, item := range items {
		if !drop[item.ID] {
			kept = append(kept, item)
		}
	}
	removed := len(items) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	if err := q.save(ctx, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// DequeueBatch removes and returns up to n items from the head. The removal is
// persisted before the items are returned; drains that must survive a crash
// use Peek and Remove instead.
func (q *Queue) DequeueBatch(ctx context.Context, n int) ([]model.OfflineQueueItem, error) {
	if n <= 0 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	if n > len(items) {
		n = len(items)
	}

	batch := append([]model.OfflineQueueItem(nil), items[:n]...)
	if err := q.save(ctx, items[n:]); err != nil {
		return nil, err
	}
	return batch, nil
}

// PushFront puts items back at the head, keeping their relative order. The
// capacity bound applies as it does for Enqueue.
func (q *Queue) PushFront(ctx context.Context, items ...model.OfflineQueueItem) error {
	if len(items) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	current, err := q.load(ctx)
	if err != nil {
		return err
	}

	merged := make([]model.OfflineQueueItem, 0, len(items)+len(current))
	merged = append(merged, items...)
	merged = append(merged, current...)
	if len(merged) > q.capacity {
		before := len(merged)
		merged = trim(dedupe(merged), q.capacity)
		q.logger.Warn("offline queue over capacity",
			zap.Int("capacity", q.capacity),
			zap.Int("dropped", before-len(merged)),
		)
	}
	return q.save(ctx, merged)
}

// Optimize removes exact (action, payload) duplicates, keeping the most recent,
// then trims the queue to its most recent capacity entries. It returns how many
// entries were removed.
func (q *Queue) Optimize(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.load(ctx)
	if err != nil {
		return 0, err
	}

	optimized := trim(dedupe(items), q.capacity)
	removed := len(items) - len(optimized)
	if removed == 0 {
		return 0, nil
	}

	if err := q.save(ctx, optimized); err != nil {
		return 0, err
	}

	q.logger.Info("offline queue optimized",
		zap.Int("removed", removed),
		zap.Int("remaining", len(optimized)),
	)
	return removed, nil
}

// Clear drops every queued action
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.Delete(ctx, QueueKey)
}

func (q *Queue) load(ctx context.Context) ([]model.OfflineQueueItem, error) {
	data, err := q.store.Get(ctx, QueueKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, nil
		}
		q.logger.Error("failed to load offline queue", zap.Error(err))
		return nil, fmt.Errorf("failed to load offline queue: %w", err)
	}

	var items []model.OfflineQueueItem
	if err := json.Unmarshal(data, &items); err != nil {
		q.logger.Error("offline queue is corrupt", zap.Error(err))
		return nil, fmt.Errorf("failed to decode offline queue: %w", err)
	}
	return items, nil
}

func (q *Queue) save(ctx context.Context, items []model.OfflineQueueItem) error {
	if items == nil {
		items = []model.OfflineQueueItem{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode offline queue: %w", err)
	}

	if err := q.store.Set(ctx, QueueKey, data); err != nil {
		q.logger.Error("failed to persist offline queue", zap.Error(err))
		return fmt.Errorf("failed to persist offline queue: %w", err)
	}
	return nil
}

// dedupe keeps the last occurrence of each (action, payload) pair in FIFO order
func dedupe(items []model.OfflineQueueItem) []model.OfflineQueueItem {
	last := make(map[string]int, len(items))
	for i, item := range items {
		last[identity(item)] = i
	}

	out := make([]model.OfflineQueueItem, 0, len(last))
	for i, item := range items {
		if last[identity(item)] == i {
			out = append(out, item)
		}
	}
	return out
}

func identity(item model.OfflineQueueItem) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, item.Payload); err != nil {
		return item.Action + "\x00" + string(item.Payload)
	}
	return item.Action + "\x00" + compact.String()
}

// trim keeps the most recent limit items
func trim(items []model.OfflineQueueItem, limit int) []model.OfflineQueueItem {
	if len(items) <= limit {
		return items
	}
	return items[len(items)-limit:]
}
