package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vcscsvcscs/medication-engine/internal/storage"
	"go.uber.org/zap"
)

// StateRepository reads and writes small JSON documents such as sync
// metadata and user preferences
type StateRepository struct {
	store  storage.Store
	logger *zap.Logger
}

// NewStateRepository creates a new StateRepository
func NewStateRepository(store storage.Store, logger *zap.Logger) *StateRepository {
	return &StateRepository{store: store, logger: logger}
}

// Load decodes the document under key into v. It reports false when the key
// is absent or unreadable; read failures are logged, not returned.
func (r *StateRepository) Load(ctx context.Context, key string, v any) bool {
	data, err := r.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			r.logger.Error("failed to read state", zap.String("key", key), zap.Error(err))
		}
		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		r.logger.Error("failed to decode state", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Save encodes v under key
func (r *StateRepository) Save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	if err := r.store.Set(ctx, key, data); err != nil {
		r.logger.Error("failed to write state", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
