package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vcscsvcscs/medication-engine/internal/adherence"
	"github.com/vcscsvcscs/medication-engine/internal/audit"
	"github.com/vcscsvcscs/medication-engine/internal/notify"
	"github.com/vcscsvcscs/medication-engine/internal/offline"
	"github.com/vcscsvcscs/medication-engine/internal/repository"
	"github.com/vcscsvcscs/medication-engine/internal/storage"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

// testClock is a settable clock shared by every component of a test engine
type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// testEngine wires the services over in-memory collaborators
type testEngine struct {
	clock      *testClock
	store      *storage.MemoryStore
	dispatcher *notify.MemoryDispatcher
	queue      *offline.Queue
	schedules  *repository.ScheduleRepository
	doses      *repository.DoseRepository
	logs       *repository.DoseLogRepository
	state      *repository.StateRepository
	audit      *audit.Logger
	reminders  *ReminderScheduler
	manager    *DoseLifecycleManager
	service    *ScheduleService
}

func newTestEngine(t *testing.T, now time.Time) *testEngine {
	t.Helper()
	return newTestEngineIn(t, now, time.UTC)
}

// newTestEngineIn builds a test engine whose schedules expand in loc
func newTestEngineIn(t *testing.T, now time.Time, loc *time.Location) *testEngine {
	t.Helper()
	logger := zap.NewNop()

	e := &testEngine{
		clock:      &testClock{t: now},
		store:      storage.NewMemoryStore(logger),
		dispatcher: notify.NewMemoryDispatcher(),
	}
	e.queue = offline.NewQueue(e.store, offline.DefaultCapacity, logger)
	e.schedules = repository.NewScheduleRepository(e.store, logger)
	e.doses = repository.NewDoseRepository(e.store, logger)
	e.logs = repository.NewDoseLogRepository(e.store, logger)
	e.state = repository.NewStateRepository(e.store, logger)
	e.audit = audit.NewLogger(e.store, logger)

	reminders, err := NewReminderScheduler(e.dispatcher, nil, "", "", time.UTC, logger)
	require.NoError(t, err)
	reminders.now = e.clock.Now
	e.reminders = reminders

	e.manager = NewDoseLifecycleManager(e.doses, e.logs, e.schedules, e.reminders, e.queue, e.audit, DoseManagerConfig{MaxSnoozes: 3}, logger)
	e.manager.now = e.clock.Now

	e.service = NewScheduleService(e.schedules, e.doses, e.logs, e.reminders, e.queue, e.audit, ScheduleServiceConfig{
		Lookahead: 3 * 24 * time.Hour,
		Adherence: adherence.DefaultOptions(),
		Location:  loc,
	}, logger)
	e.service.now = e.clock.Now

	return e
}

func dailySchedule(start time.Time, times ...string) *model.MedicationSchedule {
	return &model.MedicationSchedule{
		MedicationID:   "med-1",
		MedicationName: "Metformin",
		Dosage:         "500mg",
		Pattern:        model.SchedulePattern{Type: model.PatternDaily, Times: times},
		StartDate:      start,
	}
}

// pendingDose stores a pending dose at the given time with reminders armed
func (e *testEngine) pendingDose(t *testing.T, id string, at time.Time) model.ScheduledDose {
	t.Helper()
	d := model.ScheduledDose{
		ID:            id,
		ScheduleID:    "sched-1",
		MedicationID:  "med-1",
		OriginalTime:  at,
		ScheduledTime: at,
		Status:        model.DoseStatusPending,
		Priority:      model.PriorityNormal,
	}
	require.NoError(t, e.reminders.Arm(t.Context(), &d))
	_, err := e.doses.InsertMissing(t.Context(), []model.ScheduledDose{d})
	require.NoError(t, err)
	return d
}
