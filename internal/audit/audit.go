package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vcscsvcscs/medication-engine/internal/storage"
	"go.uber.org/zap"
)

// auditKey holds the persisted trail
const auditKey = "audit_log"

// MaxEntries bounds the persisted trail; older entries are dropped first
const MaxEntries = 2000

// OperationType represents the type of operation performed
type OperationType string

const (
	OperationCreate     OperationType = "CREATE"
	OperationUpdate     OperationType = "UPDATE"
	OperationDeactivate OperationType = "DEACTIVATE"
	OperationTransition OperationType = "TRANSITION"
	OperationSnooze     OperationType = "SNOOZE"
	OperationSync       OperationType = "SYNC"
)

// ResourceType represents the type of resource being changed
type ResourceType string

const (
	ResourceSchedule ResourceType = "schedule"
	ResourceDose     ResourceType = "dose"
	ResourceQueue    ResourceType = "offline_queue"
)

// Entry represents an audit log entry
type Entry struct {
	ID             string                 `json:"id"`
	OperationType  OperationType          `json:"operation_type"`
	ResourceType   ResourceType           `json:"resource_type"`
	ResourceID     string                 `json:"resource_id"`
	Timestamp      time.Time              `json:"timestamp"`
	AdditionalData map[string]interface{} `json:"additional_data,omitempty"`
}

// Logger records changes to schedules and doses
type Logger struct {
	store      storage.Store
	logger     *zap.Logger
	maxEntries int

	mu sync.Mutex
}

// NewLogger creates a new audit logger
func NewLogger(store storage.Store, logger *zap.Logger) *Logger {
	return &Logger{
		store:      store,
		logger:     logger,
		maxEntries: MaxEntries,
	}
}

// Log appends an audit entry
func (l *Logger) Log(ctx context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	// Log to structured logger first
	l.logger.Info("Audit log entry",
		zap.String("operation", string(entry.OperationType)),
		zap.String("resource_type", string(entry.ResourceType)),
		zap.String("resource_id", entry.ResourceID),
		zap.Time("timestamp", entry.Timestamp),
		zap.Any("details", entry.AdditionalData),
	)

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err == nil {
		entries = append(entries, entry)
		if len(entries) > l.maxEntries {
			entries = entries[len(entries)-l.maxEntries:]
		}
		err = l.save(ctx, entries)
	}

	if err != nil {
		l.logger.Error("Failed to persist audit log entry",
			zap.Error(err),
			zap.String("operation", string(entry.OperationType)),
			zap.String("resource_id", entry.ResourceID),
		)
		return err
	}

	return nil
}

// LogTransition records a dose leaving pending
func (l *Logger) LogTransition(ctx context.Context, doseID, from, to string) error {
	return l.Log(ctx, Entry{
		OperationType:  OperationTransition,
		ResourceType:   ResourceDose,
		ResourceID:     doseID,
		AdditionalData: map[string]interface{}{"from": from, "to": to},
	})
}

// LogSnooze records a snooze and the resulting scheduled time
func (l *Logger) LogSnooze(ctx context.Context, doseID string, minutes, count int, scheduledTime time.Time) error {
	return l.Log(ctx, Entry{
		OperationType: OperationSnooze,
		ResourceType:  ResourceDose,
		ResourceID:    doseID,
		AdditionalData: map[string]interface{}{
			"minutes":        minutes,
			"snooze_count":   count,
			"scheduled_time": scheduledTime.Format(time.RFC3339),
		},
	})
}

// LogSchedule records a schedule create, update or deactivation
func (l *Logger) LogSchedule(ctx context.Context, op OperationType, scheduleID string) error {
	return l.Log(ctx, Entry{
		OperationType: op,
		ResourceType:  ResourceSchedule,
		ResourceID:    scheduleID,
	})
}

// Recent returns up to limit entries, newest first
func (l *Logger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (l *Logger) load(ctx context.Context) ([]Entry, error) {
	data, err := l.store.Get(ctx, auditKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load audit log: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode audit log: %w", err)
	}
	return entries, nil
}

func (l *Logger) save(ctx context.Context, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode audit log: %w", err)
	}
	return l.store.Set(ctx, auditKey, data)
}
