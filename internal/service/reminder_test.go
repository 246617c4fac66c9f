package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcscsvcscs/medication-engine/internal/notify"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

func TestQuietHours(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name       string
		start, end string
		t          time.Time
		quiet      bool
	}{
		{"inside same-day window", "12:00", "14:00", at(13, 0), true},
		{"end is exclusive", "12:00", "14:00", at(14, 0), false},
		{"before same-day window", "12:00", "14:00", at(11, 59), false},
		{"wraparound late evening", "22:00", "07:00", at(23, 30), true},
		{"wraparound early morning", "22:00", "07:00", at(6, 59), true},
		{"wraparound daytime", "22:00", "07:00", at(12, 0), false},
		{"equal bounds disable", "08:00", "08:00", at(8, 0), false},
		{"unset", "", "", at(3, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := parseQuietHours(tt.start, tt.end)
			require.NoError(t, err)
			assert.Equal(t, tt.quiet, q.contains(tt.t))
		})
	}

	_, err := parseQuietHours("25:00", "07:00")
	assert.Error(t, err)
}

func TestReminderScheduler_Arm(t *testing.T) {
	now := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	dispatcher := notify.NewMemoryDispatcher()

	r, err := NewReminderScheduler(dispatcher, []int{15, 5, 0}, "22:00", "07:00", time.UTC, zap.NewNop())
	require.NoError(t, err)
	r.now = func() time.Time { return now }

	dose := &model.ScheduledDose{
		ID:            "dose-1",
		ScheduleID:    "sched-1",
		MedicationID:  "med-1",
		ScheduledTime: time.Date(2026, 3, 2, 7, 10, 0, 0, time.UTC),
		Status:        model.DoseStatusPending,
	}
	require.NoError(t, r.Arm(context.Background(), dose))

	// 06:55 falls in quiet hours; 07:05 and 07:10 survive
	active := dispatcher.ActiveFor("dose-1")
	require.Len(t, active, 2)
	assert.Equal(t, 5, active[0].Payload.OffsetMinutes)
	assert.Equal(t, 0, active[1].Payload.OffsetMinutes)
	assert.Equal(t, "sched-1", active[0].Payload.ScheduleID)
	assert.Equal(t, "med-1", active[0].Payload.MedicationID)
	assert.Len(t, dose.ReminderHandles, 2)
	assert.Equal(t, 2, dose.RemindersSent)
}

func TestReminderScheduler_SkipsPastTriggers(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 58, 0, 0, time.UTC)
	dispatcher := notify.NewMemoryDispatcher()

	r, err := NewReminderScheduler(dispatcher, nil, "", "", time.UTC, zap.NewNop())
	require.NoError(t, err)
	r.now = func() time.Time { return now }

	dose := &model.ScheduledDose{ID: "d", ScheduledTime: now.Add(2 * time.Minute), Status: model.DoseStatusPending}
	require.NoError(t, r.Arm(context.Background(), dose))

	active := dispatcher.Active()
	require.Len(t, active, 1)
	assert.Equal(t, 0, active[0].Payload.OffsetMinutes)

	terminal := &model.ScheduledDose{ID: "t", ScheduledTime: now.Add(time.Hour), Status: model.DoseStatusTaken}
	require.NoError(t, r.Arm(context.Background(), terminal))
	assert.Empty(t, terminal.ReminderHandles)
}

func TestReminderScheduler_RearmCancelsFirst(t *testing.T) {
	now := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	dispatcher := notify.NewMemoryDispatcher()

	r, err := NewReminderScheduler(dispatcher, nil, "", "", time.UTC, zap.NewNop())
	require.NoError(t, err)
	r.now = func() time.Time { return now }

	dose := &model.ScheduledDose{ID: "d", ScheduledTime: now.Add(time.Hour), Status: model.DoseStatusPending}
	require.NoError(t, r.Arm(context.Background(), dose))
	old := append([]string(nil), dose.ReminderHandles...)
	require.Len(t, old, 3)

	dose.ScheduledTime = dose.ScheduledTime.Add(10 * time.Minute)
	require.NoError(t, r.Rearm(context.Background(), dose))

	cancelled := dispatcher.Cancelled()
	require.Len(t, cancelled, 3)
	for i, h := range old {
		assert.Equal(t, notify.Handle(h), cancelled[i])
	}

	active := dispatcher.ActiveFor("d")
	require.Len(t, active, 3, "no duplicate reminders after re-arming")
	assert.True(t, active[2].At.Equal(dose.ScheduledTime))
}

func TestNewReminderScheduler_RejectsNegativeOffsets(t *testing.T) {
	_, err := NewReminderScheduler(notify.NewMemoryDispatcher(), []int{-5}, "", "", time.UTC, zap.NewNop())
	assert.Error(t, err)
}
