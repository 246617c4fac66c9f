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

const dosesKey = "doses"

// DoseFilter narrows a dose listing; zero fields match everything
type DoseFilter struct {
	ScheduleID string
	Status     model.DoseStatus
	From       time.Time
	To         time.Time
}

func (f DoseFilter) matches(d model.ScheduledDose) bool {
	if f.ScheduleID != "" && d.ScheduleID != f.ScheduleID {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && d.ScheduledTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && d.ScheduledTime.After(f.To) {
		return false
	}
	return true
}

// DoseRepository manages materialized doses
type DoseRepository struct {
	records *collection[model.ScheduledDose]
	locks   *keyedMutex
	logger  *zap.Logger
}

// NewDoseRepository creates a new DoseRepository
func NewDoseRepository(store storage.Store, logger *zap.Logger) *DoseRepository {
	return &DoseRepository{
		records: newCollection[model.ScheduledDose](store, dosesKey, logger),
		locks:   newKeyedMutex(),
		logger:  logger,
	}
}

// Lock serializes read-modify-write work on one dose across services.
// Callers must release it with the returned function.
func (r *DoseRepository) Lock(doseID string) func() {
	return r.locks.lock(doseID)
}

// InsertMissing stores the doses whose IDs are not yet known. Existing doses
// keep their state, which makes re-materialization idempotent.
func (r *DoseRepository) InsertMissing(ctx context.Context, doses []model.ScheduledDose) ([]model.ScheduledDose, error) {
	var inserted []model.ScheduledDose
	err := r.records.mutate(ctx, func(records map[string]model.ScheduledDose) error {
		for _, d := range doses {
			if _, exists := records[d.ID]; exists {
				continue
			}
			records[d.ID] = d
			inserted = append(inserted, d)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to insert doses", zap.Error(err), zap.Int("count", len(doses)))
		return nil, fmt.Errorf("failed to insert doses: %w", err)
	}

	return inserted, nil
}

// Save replaces a dose in one write so readers never see a partial update
func (r *DoseRepository) Save(ctx context.Context, dose *model.ScheduledDose) error {
	err := r.records.mutate(ctx, func(records map[string]model.ScheduledDose) error {
		records[dose.ID] = *dose
		return nil
	})
	if err != nil {
		r.logger.Error("failed to save dose", zap.Error(err), zap.String("dose_id", dose.ID))
		return fmt.Errorf("failed to save dose: %w", err)
	}

	return nil
}

// Delete removes doses by ID
func (r *DoseRepository) Delete(ctx context.Context, doseIDs ...string) error {
	if len(doseIDs) == 0 {
		return nil
	}

	err := r.records.mutate(ctx, func(records map[string]model.ScheduledDose) error {
		for _, id := range doseIDs {
			delete(records, id)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to delete doses", zap.Error(err), zap.Int("count", len(doseIDs)))
		return fmt.Errorf("failed to delete doses: %w", err)
	}

	return nil
}

// FindByID retrieves a dose by ID
func (r *DoseRepository) FindByID(ctx context.Context, doseID string) (*model.ScheduledDose, error) {
	dose, ok, err := r.records.get(ctx, doseID)
	if err != nil {
		r.logger.Error("failed to find dose", zap.Error(err), zap.String("dose_id", doseID))
		return nil, fmt.Errorf("failed to find dose: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("dose %s: %w", doseID, model.ErrNotFound)
	}

	return &dose, nil
}

// Find lists doses matching filter ordered by scheduled time
func (r *DoseRepository) Find(ctx context.Context, filter DoseFilter) []model.ScheduledDose {
	records := r.records.all(ctx)

	doses := make([]model.ScheduledDose, 0, len(records))
	for _, d := range records {
		if filter.matches(d) {
			doses = append(doses, d)
		}
	}
	sort.Slice(doses, func(i, j int) bool {
		if doses[i].ScheduledTime.Equal(doses[j].ScheduledTime) {
			return doses[i].ID < doses[j].ID
		}
		return doses[i].ScheduledTime.Before(doses[j].ScheduledTime)
	})

	return doses
}

// FindPending lists pending doses ordered by scheduled time
func (r *DoseRepository) FindPending(ctx context.Context) []model.ScheduledDose {
	return r.Find(ctx, DoseFilter{Status: model.DoseStatusPending})
}
