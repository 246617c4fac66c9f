package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/vcscsvcscs/medication-engine/internal/audit"
	"github.com/vcscsvcscs/medication-engine/internal/offline"
	"github.com/vcscsvcscs/medication-engine/internal/repository"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

// DefaultMaxSnoozes is how many times a dose may be snoozed
const DefaultMaxSnoozes = 3

const autoMissedNote = "automatically marked missed after grace period"

// ActionQueue receives the remote actions produced by local changes
type ActionQueue interface {
	Enqueue(ctx context.Context, action offline.Action) (model.OfflineQueueItem, error)
}

// DoseManagerConfig tunes the dose lifecycle
type DoseManagerConfig struct {
	MaxSnoozes int
	// MissedGrace, when positive, lets the overdue pass mark doses missed
	// once they are this far past their scheduled time
	MissedGrace time.Duration
}

// OverdueSnapshot is the result of the latest overdue pass
type OverdueSnapshot struct {
	ComputedAt time.Time `json:"computed_at"`
	DoseIDs    []string  `json:"dose_ids"`
}

// DoseLifecycleManager owns dose state transitions: pending to taken, missed
// or skipped, plus snoozing and overdue detection
type DoseLifecycleManager struct {
	doses     *repository.DoseRepository
	logs      *repository.DoseLogRepository
	schedules *repository.ScheduleRepository
	reminders *ReminderScheduler
	queue     ActionQueue
	audit     *audit.Logger
	sanitizer *bluemonday.Policy
	cfg       DoseManagerConfig
	now       func() time.Time
	logger    *zap.Logger

	overdueMu sync.RWMutex
	overdue   OverdueSnapshot
}

// NewDoseLifecycleManager creates a new DoseLifecycleManager
func NewDoseLifecycleManager(
	doses *repository.DoseRepository,
	logs *repository.DoseLogRepository,
	schedules *repository.ScheduleRepository,
	reminders *ReminderScheduler,
	queue ActionQueue,
	auditLogger *audit.Logger,
	cfg DoseManagerConfig,
	logger *zap.Logger,
) *DoseLifecycleManager {
	if cfg.MaxSnoozes <= 0 {
		cfg.MaxSnoozes = DefaultMaxSnoozes
	}

	return &DoseLifecycleManager{
		doses:     doses,
		logs:      logs,
		schedules: schedules,
		reminders: reminders,
		queue:     queue,
		audit:     auditLogger,
		sanitizer: bluemonday.StrictPolicy(),
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// MarkTaken records that the dose was taken at actualTime (now when zero)
func (m *DoseLifecycleManager) MarkTaken(ctx context.Context, doseID string, actualTime time.Time, notes string) (model.DoseView, error) {
	if actualTime.IsZero() {
		actualTime = m.now()
	}
	return m.transition(ctx, doseID, model.DoseStatusTaken, &actualTime, notes)
}

// MarkMissed records that the dose was missed
func (m *DoseLifecycleManager) MarkMissed(ctx context.Context, doseID, notes string) (model.DoseView, error) {
	return m.transition(ctx, doseID, model.DoseStatusMissed, nil, notes)
}

// MarkSkipped records that the patient chose to skip the dose
func (m *DoseLifecycleManager) MarkSkipped(ctx context.Context, doseID, notes string) (model.DoseView, error) {
	return m.transition(ctx, doseID, model.DoseStatusSkipped, nil, notes)
}

// transition moves a pending dose to a terminal status. Terminal doses are
// rejected with ErrInvalidTransition and left unchanged.
func (m *DoseLifecycleManager) transition(ctx context.Context, doseID string, to model.DoseStatus, actualTime *time.Time, notes string) (model.DoseView, error) {
	unlock := m.doses.Lock(doseID)
	defer unlock()

	dose, err := m.doses.FindByID(ctx, doseID)
	if err != nil {
		return model.DoseView{}, err
	}
	if dose.Status != model.DoseStatusPending {
		return model.DoseView{}, fmt.Errorf("dose %s is already %s: %w", doseID, dose.Status, model.ErrInvalidTransition)
	}

	now := m.now()
	notes = m.sanitizer.Sanitize(notes)

	updated := *dose
	updated.ReminderHandles = nil
	updated.Status = to
	updated.UpdatedAt = now

	log := model.DoseLog{
		ID:            doseLogID(doseID),
		DoseID:        doseID,
		ScheduleID:    dose.ScheduleID,
		MedicationID:  dose.MedicationID,
		Status:        to,
		ScheduledTime: dose.ScheduledTime,
		ActualTime:    actualTime,
		Notes:         notes,
		CreatedAt:     now,
	}
	if err := m.logs.Upsert(ctx, []model.DoseLog{log}); err != nil {
		return model.DoseView{}, fmt.Errorf("failed to record dose log: %w", err)
	}
	if err := m.doses.Save(ctx, &updated); err != nil {
		return model.DoseView{}, fmt.Errorf("failed to update dose: %w", err)
	}

	// the stored dose keeps its reminders until the terminal state is committed
	if err := m.reminders.Cancel(ctx, dose); err != nil {
		m.logger.Warn("reminders not fully cancelled", zap.String("dose_id", doseID), zap.Error(err))
	}

	m.enqueue(ctx, transitionAction(&updated, actualTime, notes))
	if err := m.audit.LogTransition(ctx, doseID, string(model.DoseStatusPending), string(to)); err != nil {
		m.logger.Warn("failed to audit dose transition", zap.String("dose_id", doseID), zap.Error(err))
	}

	m.logger.Info("dose status updated",
		zap.String("dose_id", doseID),
		zap.String("schedule_id", dose.ScheduleID),
		zap.String("status", string(to)),
	)

	return model.NewDoseView(updated, now), nil
}

func transitionAction(d *model.ScheduledDose, actualTime *time.Time, notes string) offline.Action {
	switch d.Status {
	case model.DoseStatusTaken:
		return offline.DoseTakenAction{
			DoseID:        d.ID,
			ScheduleID:    d.ScheduleID,
			MedicationID:  d.MedicationID,
			ScheduledTime: d.ScheduledTime,
			ActualTime:    *actualTime,
			Notes:         notes,
		}
	case model.DoseStatusMissed:
		return offline.DoseMissedAction{
			DoseID:        d.ID,
			ScheduleID:    d.ScheduleID,
			MedicationID:  d.MedicationID,
			ScheduledTime: d.ScheduledTime,
			Notes:         notes,
		}
	default:
		return offline.DoseSkippedAction{
			DoseID:        d.ID,
			ScheduleID:    d.ScheduleID,
			MedicationID:  d.MedicationID,
			ScheduledTime: d.ScheduledTime,
			Notes:         notes,
		}
	}
}

// Snooze shifts a pending dose forward by minutes. The new time, the snooze
// count and the re-armed reminders are committed in a single write.
func (m *DoseLifecycleManager) Snooze(ctx context.Context, doseID string, minutes int) (model.DoseView, error) {
	if minutes <= 0 {
		return model.DoseView{}, fmt.Errorf("snooze minutes must be positive, got %d: %w", minutes, model.ErrInvalidInput)
	}

	unlock := m.doses.Lock(doseID)
	defer unlock()

	dose, err := m.doses.FindByID(ctx, doseID)
	if err != nil {
		return model.DoseView{}, err
	}
	if dose.Status != model.DoseStatusPending {
		return model.DoseView{}, fmt.Errorf("dose %s is already %s: %w", doseID, dose.Status, model.ErrInvalidTransition)
	}
	if dose.SnoozeCount >= m.cfg.MaxSnoozes {
		return model.DoseView{}, fmt.Errorf("dose %s reached the limit of %d snoozes: %w", doseID, m.cfg.MaxSnoozes, model.ErrInvalidTransition)
	}

	now := m.now()
	updated := *dose
	updated.ReminderHandles = append([]string(nil), dose.ReminderHandles...)
	updated.ScheduledTime = dose.ScheduledTime.Add(time.Duration(minutes) * time.Minute)
	updated.SnoozeCount++
	updated.UpdatedAt = now

	if err := m.reminders.Rearm(ctx, &updated); err != nil {
		m.logger.Warn("reminders not fully re-armed", zap.String("dose_id", doseID), zap.Error(err))
	}

	if err := m.doses.Save(ctx, &updated); err != nil {
		// old reminders are gone; restore them for the unchanged dose
		restored := *dose
		restored.ReminderHandles = nil
		if rerr := m.reminders.Cancel(ctx, &updated); rerr != nil {
			m.logger.Warn("failed to cancel reminders after failed snooze", zap.Error(rerr))
		}
		if rerr := m.reminders.Arm(ctx, &restored); rerr == nil {
			if serr := m.doses.Save(ctx, &restored); serr != nil {
				m.logger.Error("failed to restore dose reminders", zap.String("dose_id", doseID), zap.Error(serr))
			}
		}
		return model.DoseView{}, fmt.Errorf("failed to snooze dose: %w", err)
	}

	m.enqueue(ctx, offline.DoseSnoozedAction{
		DoseID:        updated.ID,
		ScheduleID:    updated.ScheduleID,
		Minutes:       minutes,
		ScheduledTime: updated.ScheduledTime,
		SnoozeCount:   updated.SnoozeCount,
	})
	if err := m.audit.LogSnooze(ctx, doseID, minutes, updated.SnoozeCount, updated.ScheduledTime); err != nil {
		m.logger.Warn("failed to audit snooze", zap.String("dose_id", doseID), zap.Error(err))
	}

	m.logger.Info("dose snoozed",
		zap.String("dose_id", doseID),
		zap.Int("minutes", minutes),
		zap.Int("snooze_count", updated.SnoozeCount),
		zap.Time("scheduled_time", updated.ScheduledTime),
	)

	return model.NewDoseView(updated, now), nil
}

// RecomputeOverdue refreshes the overdue snapshot from pending doses. It never
// changes a dose's status unless a missed grace period is configured.
func (m *DoseLifecycleManager) RecomputeOverdue(ctx context.Context, now time.Time) OverdueSnapshot {
	snapshot := OverdueSnapshot{ComputedAt: now, DoseIDs: []string{}}
	var expired []string

	for _, d := range m.doses.FindPending(ctx) {
		if !d.IsOverdue(now) {
			continue
		}
		if m.cfg.MissedGrace > 0 && now.Sub(d.ScheduledTime) >= m.cfg.MissedGrace {
			expired = append(expired, d.ID)
			continue
		}
		snapshot.DoseIDs = append(snapshot.DoseIDs, d.ID)
	}

	for _, id := range expired {
		if _, err := m.MarkMissed(ctx, id, autoMissedNote); err != nil {
			m.logger.Warn("failed to auto-mark dose missed", zap.String("dose_id", id), zap.Error(err))
		}
	}

	m.overdueMu.Lock()
	m.overdue = snapshot
	m.overdueMu.Unlock()

	if len(snapshot.DoseIDs) > 0 || len(expired) > 0 {
		m.logger.Debug("overdue pass completed",
			zap.Int("overdue", len(snapshot.DoseIDs)),
			zap.Int("auto_missed", len(expired)),
		)
	}
	return snapshot
}

// Overdue returns the latest overdue snapshot
func (m *DoseLifecycleManager) Overdue() OverdueSnapshot {
	m.overdueMu.RLock()
	defer m.overdueMu.RUnlock()

	return OverdueSnapshot{
		ComputedAt: m.overdue.ComputedAt,
		DoseIDs:    append([]string(nil), m.overdue.DoseIDs...),
	}
}

// CreateAsNeededDose records an explicit dose for an as_needed schedule.
// Creating the same dose twice returns the existing one.
func (m *DoseLifecycleManager) CreateAsNeededDose(ctx context.Context, scheduleID string, at time.Time) (model.DoseView, error) {
	schedule, err := m.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		return model.DoseView{}, err
	}
	if schedule.Pattern.Type != model.PatternAsNeeded {
		return model.DoseView{}, fmt.Errorf("schedule %s is %s, not as_needed: %w", scheduleID, schedule.Pattern.Type, model.ErrInvalidTransition)
	}
	if !schedule.IsActive {
		return model.DoseView{}, fmt.Errorf("schedule %s is inactive: %w", scheduleID, model.ErrInvalidTransition)
	}

	now := m.now()
	if at.IsZero() {
		at = now
	}
	at = at.Truncate(time.Second)

	dose := newDose(schedule, at, now)
	dose.AsNeeded = true

	unlock := m.doses.Lock(dose.ID)
	defer unlock()

	inserted, err := m.doses.InsertMissing(ctx, []model.ScheduledDose{dose})
	if err != nil {
		return model.DoseView{}, err
	}
	if len(inserted) == 0 {
		existing, err := m.doses.FindByID(ctx, dose.ID)
		if err != nil {
			return model.DoseView{}, err
		}
		return model.NewDoseView(*existing, now), nil
	}

	if err := m.reminders.Arm(ctx, &dose); err != nil {
		m.logger.Warn("failed to arm reminders for as-needed dose", zap.String("dose_id", dose.ID), zap.Error(err))
	}
	if len(dose.ReminderHandles) > 0 {
		if err := m.doses.Save(ctx, &dose); err != nil {
			return model.DoseView{}, err
		}
	}

	m.logger.Info("as-needed dose created",
		zap.String("dose_id", dose.ID),
		zap.String("schedule_id", scheduleID),
		zap.Time("scheduled_time", at),
	)
	return model.NewDoseView(dose, now), nil
}

// GetDose returns one dose with its computed fields
func (m *DoseLifecycleManager) GetDose(ctx context.Context, doseID string) (model.DoseView, error) {
	dose, err := m.doses.FindByID(ctx, doseID)
	if err != nil {
		return model.DoseView{}, err
	}
	return model.NewDoseView(*dose, m.now()), nil
}

// ListDoses returns doses matching filter with their computed fields
func (m *DoseLifecycleManager) ListDoses(ctx context.Context, filter repository.DoseFilter) []model.DoseView {
	now := m.now()
	doses := m.doses.Find(ctx, filter)

	views := make([]model.DoseView, 0, len(doses))
	for _, d := range doses {
		views = append(views, model.NewDoseView(d, now))
	}
	return views
}

// PendingDoses returns every pending dose
func (m *DoseLifecycleManager) PendingDoses(ctx context.Context) []model.DoseView {
	return m.ListDoses(ctx, repository.DoseFilter{Status: model.DoseStatusPending})
}

func (m *DoseLifecycleManager) enqueue(ctx context.Context, action offline.Action) {
	if _, err := m.queue.Enqueue(ctx, action); err != nil {
		m.logger.Error("failed to queue remote action",
			zap.String("action", string(action.Kind())),
			zap.Error(err),
		)
	}
}

// newDose builds the pending dose for schedule s at the given time
func newDose(s *model.MedicationSchedule, at, now time.Time) model.ScheduledDose {
	return model.ScheduledDose{
		ID:              DoseID(s.ID, at),
		ScheduleID:      s.ID,
		MedicationID:    s.MedicationID,
		MedicationName:  s.MedicationName,
		OriginalTime:    at,
		ScheduledTime:   at,
		Status:          model.DoseStatusPending,
		Priority:        s.Priority,
		FoodRequirement: s.FoodRequirement,
		UpdatedAt:       now,
	}
}
