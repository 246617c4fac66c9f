package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/vcscsvcscs/medication-engine/internal/storage"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

const schedulesKey = "schedules"

// ScheduleRepository manages medication schedules
type ScheduleRepository struct {
	records *collection[model.MedicationSchedule]
	locks   *keyedMutex
	logger  *zap.Logger
}

// NewScheduleRepository creates a new ScheduleRepository
func NewScheduleRepository(store storage.Store, logger *zap.Logger) *ScheduleRepository {
	return &ScheduleRepository{
		records: newCollection[model.MedicationSchedule](store, schedulesKey, logger),
		locks:   newKeyedMutex(),
		logger:  logger,
	}
}

// Lock serializes read-modify-write work on one schedule and the doses
// expanded from it. Callers must release it with the returned function.
func (r *ScheduleRepository) Lock(scheduleID string) func() {
	return r.locks.lock(scheduleID)
}

// Create stores a new schedule
func (r *ScheduleRepository) Create(ctx context.Context, schedule *model.MedicationSchedule) error {
	err := r.records.mutate(ctx, func(records map[string]model.MedicationSchedule) error {
		if _, exists := records[schedule.ID]; exists {
			return fmt.Errorf("schedule %s already exists", schedule.ID)
		}
		records[schedule.ID] = *schedule
		return nil
	})
	if err != nil {
		r.logger.Error("failed to create schedule",
			zap.Error(err),
			zap.String("schedule_id", schedule.ID),
			zap.String("medication_id", schedule.MedicationID),
		)
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	return nil
}

// Update replaces an existing schedule
func (r *ScheduleRepository) Update(ctx context.Context, schedule *model.MedicationSchedule) error {
	err := r.records.mutate(ctx, func(records map[string]model.MedicationSchedule) error {
		if _, exists := records[schedule.ID]; !exists {
			return fmt.Errorf("schedule %s: %w", schedule.ID, model.ErrNotFound)
		}
		records[schedule.ID] = *schedule
		return nil
	})
	if err != nil {
		r.logger.Error("failed to update schedule", zap.Error(err), zap.String("schedule_id", schedule.ID))
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	return nil
}

// FindByID retrieves a schedule by ID
func (r *ScheduleRepository) FindByID(ctx context.Context, scheduleID string) (*model.MedicationSchedule, error) {
	schedule, ok, err := r.records.get(ctx, scheduleID)
	if err != nil {
		r.logger.Error("failed to find schedule", zap.Error(err), zap.String("schedule_id", scheduleID))
		return nil, fmt.Errorf("failed to find schedule: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, model.ErrNotFound)
	}

	return &schedule, nil
}

// FindAll retrieves every schedule, newest start date first
func (r *ScheduleRepository) FindAll(ctx context.Context) []model.MedicationSchedule {
	records := r.records.all(ctx)

	schedules := make([]model.MedicationSchedule, 0, len(records))
	for _, s := range records {
		schedules = append(schedules, s)
	}
	sort.Slice(schedules, func(i, j int) bool {
		if schedules[i].StartDate.Equal(schedules[j].StartDate) {
			return schedules[i].ID < schedules[j].ID
		}
		return schedules[i].StartDate.After(schedules[j].StartDate)
	})

	return schedules
}

// FindActive retrieves schedules whose IsActive flag is set
func (r *ScheduleRepository) FindActive(ctx context.Context) []model.MedicationSchedule {
	var active []model.MedicationSchedule
	for _, s := range r.FindAll(ctx) {
		if s.IsActive {
			active = append(active, s)
		}
	}
	return active
}
