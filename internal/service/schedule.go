package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vcscsvcscs/medication-engine/internal/adherence"
	"github.com/vcscsvcscs/medication-engine/internal/audit"
	"github.com/vcscsvcscs/medication-engine/internal/offline"
	"github.com/vcscsvcscs/medication-engine/internal/repository"
	"github.com/vcscsvcscs/medication-engine/internal/schedule"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

// ScheduleService manages medication schedules and the doses materialized from them
type ScheduleService struct {
	schedules *repository.ScheduleRepository
	doses     *repository.DoseRepository
	logs      *repository.DoseLogRepository
	expander  *schedule.Expander
	detector  *schedule.ConflictDetector
	reminders *ReminderScheduler
	queue     ActionQueue
	audit     *audit.Logger
	adherence adherence.Options
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

// ScheduleServiceConfig tunes expansion and read-side queries
type ScheduleServiceConfig struct {
	Lookahead      time.Duration
	ConflictWindow time.Duration
	Adherence      adherence.Options
	Location       *time.Location
}

// NewScheduleService creates a new ScheduleService
func NewScheduleService(
	schedules *repository.ScheduleRepository,
	doses *repository.DoseRepository,
	logs *repository.DoseLogRepository,
	reminders *ReminderScheduler,
	queue ActionQueue,
	auditLogger *audit.Logger,
	cfg ScheduleServiceConfig,
	logger *zap.Logger,
) *ScheduleService {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	return &ScheduleService{
		schedules: schedules,
		doses:     doses,
		logs:      logs,
		expander:  schedule.NewExpander(cfg.Lookahead).In(loc),
		detector:  schedule.NewConflictDetector(cfg.ConflictWindow),
		reminders: reminders,
		queue:     queue,
		audit:     auditLogger,
		adherence: cfg.Adherence,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
}

// CreateSchedule validates and stores a schedule, then materializes its doses
func (s *ScheduleService) CreateSchedule(ctx context.Context, sched *model.MedicationSchedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}

	// Generate ID if not provided
	if sched.ID == "" {
		sched.ID = uuid.New().String()
	}

	unlock := s.schedules.Lock(sched.ID)
	defer unlock()

	now := s.now()
	sched.IsActive = !expired(sched, now.In(s.loc))
	sched.CreatedAt = now
	sched.UpdatedAt = now

	if err := s.schedules.Create(ctx, sched); err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	s.enqueue(ctx, offline.ScheduleUpsertAction{Schedule: *sched})
	s.auditSchedule(ctx, audit.OperationCreate, sched.ID)

	created := 0
	if sched.IsActive {
		n, err := s.materialize(ctx, sched, now)
		if err != nil {
			s.logger.Warn("schedule created but doses not materialized", zap.String("schedule_id", sched.ID), zap.Error(err))
		}
		created = n
	}

	s.logger.Info("schedule created successfully",
		zap.String("schedule_id", sched.ID),
		zap.String("medication_id", sched.MedicationID),
		zap.String("pattern", string(sched.Pattern.Type)),
		zap.Int("doses", created),
	)

	return nil
}

// UpdateSchedule replaces the editable fields of a schedule and re-expands it.
// Future pending doses no longer produced by the new pattern are removed along
// with their reminders; doses that already left pending are kept.
func (s *ScheduleService) UpdateSchedule(ctx context.Context, scheduleID string, updates *model.MedicationSchedule) (*model.MedicationSchedule, error) {
	unlock := s.schedules.Lock(scheduleID)
	defer unlock()

	existing, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	updated := *existing
	updated.MedicationName = updates.MedicationName
	updated.Dosage = updates.Dosage
	updated.Pattern = updates.Pattern
	updated.EndDate = updates.EndDate
	updated.Priority = updates.Priority
	updated.FoodRequirement = updates.FoodRequirement
	if updates.MedicationID != "" {
		updated.MedicationID = updates.MedicationID
	}
	if !updates.StartDate.IsZero() {
		updated.StartDate = updates.StartDate
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	updated.UpdatedAt = now
	if expired(&updated, now.In(s.loc)) {
		updated.IsActive = false
	}

	if err := s.schedules.Update(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}

	var wanted []schedule.Occurrence
	if updated.IsActive {
		wanted, err = s.expander.Expand(&updated, now, now.Add(s.expander.Lookahead), now)
		if err != nil {
			return nil, err
		}
	}
	keep := make(map[string]bool, len(wanted))
	for _, occ := range wanted {
		keep[DoseID(updated.ID, occ.ScheduledTime)] = true
	}

	removed, err := s.reconcileFutureDoses(ctx, &updated, keep, now)
	if err != nil {
		return nil, err
	}

	created := 0
	if updated.IsActive {
		created, err = s.materialize(ctx, &updated, now)
		if err != nil {
			return nil, err
		}
	}

	s.enqueue(ctx, offline.ScheduleUpsertAction{Schedule: updated})
	s.auditSchedule(ctx, audit.OperationUpdate, updated.ID)

	s.logger.Info("schedule updated successfully",
		zap.String("schedule_id", updated.ID),
		zap.Int("doses_removed", removed),
		zap.Int("doses_created", created),
	)

	return &updated, nil
}

// reconcileFutureDoses drops future pending doses not in keep and refreshes
// the schedule-derived fields of the ones that stay
func (s *ScheduleService) reconcileFutureDoses(ctx context.Context, sched *model.MedicationSchedule, keep map[string]bool, now time.Time) (int, error) {
	var stale []string
	for _, d := range s.doses.Find(ctx, repository.DoseFilter{ScheduleID: sched.ID, Status: model.DoseStatusPending}) {
		if !d.OriginalTime.After(now) || d.AsNeeded {
			continue
		}

		if err := s.refreshDose(ctx, sched, d.ID, !keep[d.ID], now); err != nil {
			return len(stale), err
		}
		if !keep[d.ID] {
			stale = append(stale, d.ID)
		}
	}
	return len(stale), nil
}

// refreshDose removes a still-pending dose or copies the schedule's fields onto it,
// holding the dose lock so concurrent transitions are not overwritten
func (s *ScheduleService) refreshDose(ctx context.Context, sched *model.MedicationSchedule, doseID string, remove bool, now time.Time) error {
	unlock := s.doses.Lock(doseID)
	defer unlock()

	d, err := s.doses.FindByID(ctx, doseID)
	if err != nil || d.Status != model.DoseStatusPending {
		return nil
	}

	if remove {
		if err := s.reminders.Cancel(ctx, d); err != nil {
			s.logger.Warn("reminders not fully cancelled", zap.String("dose_id", d.ID), zap.Error(err))
		}
		return s.doses.Delete(ctx, d.ID)
	}

	if d.Priority == sched.Priority && d.FoodRequirement == sched.FoodRequirement && d.MedicationName == sched.MedicationName {
		return nil
	}
	d.Priority = sched.Priority
	d.FoodRequirement = sched.FoodRequirement
	d.MedicationName = sched.MedicationName
	d.UpdatedAt = now
	return s.doses.Save(ctx, d)
}

// DeactivateSchedule stops a schedule and removes its future pending doses
func (s *ScheduleService) DeactivateSchedule(ctx context.Context, scheduleID string) (*model.MedicationSchedule, error) {
	unlock := s.schedules.Lock(scheduleID)
	defer unlock()

	sched, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sched.IsActive = false
	sched.UpdatedAt = now
	if err := s.schedules.Update(ctx, sched); err != nil {
		return nil, fmt.Errorf("failed to deactivate schedule: %w", err)
	}

	removed, err := s.reconcileFutureDoses(ctx, sched, nil, now)
	if err != nil {
		return nil, err
	}

	s.enqueue(ctx, offline.ScheduleDeactivatedAction{ScheduleID: sched.ID, DeactivatedAt: now})
	s.auditSchedule(ctx, audit.OperationDeactivate, sched.ID)

	s.logger.Info("schedule deactivated",
		zap.String("schedule_id", sched.ID),
		zap.Int("doses_removed", removed),
	)

	return sched, nil
}

// GetSchedule retrieves a schedule by ID
func (s *ScheduleService) GetSchedule(ctx context.Context, scheduleID string) (*model.MedicationSchedule, error) {
	return s.schedules.FindByID(ctx, scheduleID)
}

// ListSchedules lists schedules, optionally only active ones
func (s *ScheduleService) ListSchedules(ctx context.Context, activeOnly bool) []model.MedicationSchedule {
	if activeOnly {
		return s.schedules.FindActive(ctx)
	}
	return s.schedules.FindAll(ctx)
}

// Materialize extends every active schedule's doses over the look-ahead window.
// It is idempotent: doses that already exist keep their state. Schedules whose
// end date has passed are deactivated.
func (s *ScheduleService) Materialize(ctx context.Context) (int, error) {
	now := s.now()
	total := 0

	for _, sched := range s.schedules.FindActive(ctx) {
		n, err := s.materializeLocked(ctx, sched.ID, now)
		if err != nil {
			s.logger.Error("failed to materialize schedule", zap.String("schedule_id", sched.ID), zap.Error(err))
			continue
		}
		total += n
	}

	s.logger.Info("doses materialized", zap.Int("created", total))
	return total, nil
}

// materializeLocked re-reads the schedule under its lock so a concurrent
// update or deactivation is never undone by a stale copy
func (s *ScheduleService) materializeLocked(ctx context.Context, scheduleID string, now time.Time) (int, error) {
	unlock := s.schedules.Lock(scheduleID)
	defer unlock()

	sched, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		return 0, err
	}
	if !sched.IsActive {
		return 0, nil
	}

	if expired(sched, now.In(s.loc)) {
		sched.IsActive = false
		sched.UpdatedAt = now
		if err := s.schedules.Update(ctx, sched); err != nil {
			s.logger.Warn("failed to update schedule active status", zap.String("schedule_id", sched.ID), zap.Error(err))
		}
		return 0, nil
	}

	return s.materialize(ctx, sched, now)
}

// materialize inserts the schedule's missing future doses and arms their reminders
func (s *ScheduleService) materialize(ctx context.Context, sched *model.MedicationSchedule, now time.Time) (int, error) {
	occurrences, err := s.expander.Expand(sched, now, now.Add(s.expander.Lookahead), now)
	if err != nil {
		return 0, err
	}
	if len(occurrences) == 0 {
		return 0, nil
	}

	candidates := make([]model.ScheduledDose, 0, len(occurrences))
	for _, occ := range occurrences {
		candidates = append(candidates, newDose(sched, occ.ScheduledTime, now))
	}

	inserted, err := s.doses.InsertMissing(ctx, candidates)
	if err != nil {
		return 0, err
	}

	for _, d := range inserted {
		if err := s.armNew(ctx, d.ID); err != nil {
			s.logger.Warn("failed to arm reminders", zap.String("dose_id", d.ID), zap.Error(err))
		}
	}

	return len(inserted), nil
}

// armNew arms reminders for a freshly inserted dose if it is still pending
func (s *ScheduleService) armNew(ctx context.Context, doseID string) error {
	unlock := s.doses.Lock(doseID)
	defer unlock()

	d, err := s.doses.FindByID(ctx, doseID)
	if err != nil {
		return err
	}
	if d.Status != model.DoseStatusPending || len(d.ReminderHandles) > 0 {
		return nil
	}

	armErr := s.reminders.Arm(ctx, d)
	if len(d.ReminderHandles) == 0 {
		return armErr
	}
	if err := s.doses.Save(ctx, d); err != nil {
		return err
	}
	return armErr
}

// Conflicts groups pending doses that fall into the same window
func (s *ScheduleService) Conflicts(ctx context.Context) []model.ConflictRecord {
	return s.detector.Detect(s.doses.FindPending(ctx))
}

// Adherence computes adherence over the configured window, optionally for one schedule
func (s *ScheduleService) Adherence(ctx context.Context, scheduleID string) adherence.Stats {
	now := s.now()
	return adherence.Calculate(s.history(ctx, scheduleID), now, s.adherence)
}

// AdherenceByMedication breaks adherence down per medication
func (s *ScheduleService) AdherenceByMedication(ctx context.Context) map[string]adherence.Stats {
	return adherence.ByMedication(s.history(ctx, ""), s.now(), s.adherence)
}

// History returns dose logs, optionally for one schedule
func (s *ScheduleService) History(ctx context.Context, scheduleID string) []model.DoseLog {
	return s.history(ctx, scheduleID)
}

func (s *ScheduleService) history(ctx context.Context, scheduleID string) []model.DoseLog {
	if scheduleID != "" {
		return s.logs.FindBySchedule(ctx, scheduleID)
	}
	return s.logs.FindSince(ctx, time.Time{})
}

func (s *ScheduleService) enqueue(ctx context.Context, action offline.Action) {
	if _, err := s.queue.Enqueue(ctx, action); err != nil {
		s.logger.Error("failed to queue remote action",
			zap.String("action", string(action.Kind())),
			zap.Error(err),
		)
	}
}

func (s *ScheduleService) auditSchedule(ctx context.Context, op audit.OperationType, scheduleID string) {
	if err := s.audit.LogSchedule(ctx, op, scheduleID); err != nil {
		s.logger.Warn("failed to audit schedule change", zap.String("schedule_id", scheduleID), zap.Error(err))
	}
}

// expired reports whether the schedule's effective end date is before today
func expired(sched *model.MedicationSchedule, today time.Time) bool {
	end := sched.EffectiveEndDate()
	if end == nil {
		return false
	}
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	todayDay := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return endDay.Before(todayDay)
}
