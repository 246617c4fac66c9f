package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vcscsvcscs/medication-engine/internal/storage"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

const doseLogsKey = "dose_logs"

// DoseLogRepository stores the immutable dose history
type DoseLogRepository struct {
	records *collection[model.DoseLog]
	logger  *zap.Logger
}

// NewDoseLogRepository creates a new DoseLogRepository
func NewDoseLogRepository(store storage.Store, logger *zap.Logger) *DoseLogRepository {
	return &DoseLogRepository{
		records: newCollection[model.DoseLog](store, doseLogsKey, logger),
		logger:  logger,
	}
}

// FindSince lists logs with scheduled time at or after since, oldest first.
// A zero since returns the full history.
func (r *DoseLogRepository) FindSince(ctx context.Context, since time.Time) []model.DoseLog {
	records := r.records.all(ctx)

	logs := make([]model.DoseLog, 0, len(records))
	for _, l := range records {
		if !since.IsZero() && l.ScheduledTime.Before(since) {
			continue
		}
		logs = append(logs, l)
	}
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].ScheduledTime.Equal(logs[j].ScheduledTime) {
			return logs[i].ID < logs[j].ID
		}
		return logs[i].ScheduledTime.Before(logs[j].ScheduledTime)
	})

	return logs
}

// FindBySchedule lists the history of one schedule, oldest first
func (r *DoseLogRepository) FindBySchedule(ctx context.Context, scheduleID string) []model.DoseLog {
	var logs []model.DoseLog
	for _, l := range r.FindSince(ctx, time.Time{}) {
		if l.ScheduleID == scheduleID {
			logs = append(logs, l)
		}
	}
	return logs
}

// Upsert stores logs keyed by ID. Lifecycle transitions derive log IDs from
// the dose, so a retried transition rewrites the same entry; reconciliation
// replaces entries with the merged version.
func (r *DoseLogRepository) Upsert(ctx context.Context, logs []model.DoseLog) error {
	if len(logs) == 0 {
		return nil
	}

	err := r.records.mutate(ctx, func(records map[string]model.DoseLog) error {
		for _, l := range logs {
			records[l.ID] = l
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to upsert dose logs", zap.Error(err), zap.Int("count", len(logs)))
		return fmt.Errorf("failed to upsert dose logs: %w", err)
	}

	return nil
}
