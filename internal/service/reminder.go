package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vcscsvcscs/medication-engine/internal/notify"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

// DefaultReminderOffsets are minutes before the scheduled time
var DefaultReminderOffsets = []int{15, 5, 0}

// quietHours is a daily window in minutes since midnight; start > end wraps past midnight
type quietHours struct {
	start, end int
	enabled    bool
}

func parseQuietHours(start, end string) (quietHours, error) {
	if start == "" || end == "" {
		return quietHours{}, nil
	}

	sh, sm, err := model.ParseTimeOfDay(start)
	if err != nil {
		return quietHours{}, fmt.Errorf("invalid quiet hours start: %w", err)
	}
	eh, em, err := model.ParseTimeOfDay(end)
	if err != nil {
		return quietHours{}, fmt.Errorf("invalid quiet hours end: %w", err)
	}

	q := quietHours{start: sh*60 + sm, end: eh*60 + em}
	q.enabled = q.start != q.end
	return q, nil
}

func (q quietHours) contains(t time.Time) bool {
	if !q.enabled {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if q.start < q.end {
		return m >= q.start && m < q.end
	}
	return m >= q.start || m < q.end
}

// trigger is one reminder to arm for a dose
type trigger struct {
	at     time.Time
	offset int
}

// ReminderScheduler maps doses to notification triggers. Reminders for a dose
// are always cancelled explicitly before new ones are armed.
type ReminderScheduler struct {
	dispatcher notify.Dispatcher
	offsets    []int
	quiet      quietHours
	loc        *time.Location
	now        func() time.Time
	logger     *zap.Logger
}

// NewReminderScheduler creates a scheduler. Quiet hours are "HH:MM" in loc;
// empty or equal bounds disable them.
func NewReminderScheduler(dispatcher notify.Dispatcher, offsets []int, quietStart, quietEnd string, loc *time.Location, logger *zap.Logger) (*ReminderScheduler, error) {
	quiet, err := parseQuietHours(quietStart, quietEnd)
	if err != nil {
		return nil, err
	}
	if len(offsets) == 0 {
		offsets = DefaultReminderOffsets
	}
	for _, o := range offsets {
		if o < 0 {
			return nil, fmt.Errorf("reminder offset %d must not be negative", o)
		}
	}
	if loc == nil {
		loc = time.Local
	}

	sorted := append([]int(nil), offsets...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	return &ReminderScheduler{
		dispatcher: dispatcher,
		offsets:    sorted,
		quiet:      quiet,
		loc:        loc,
		now:        time.Now,
		logger:     logger,
	}, nil
}

// triggers lists the reminders to arm for dose, skipping past and quiet-hour times
func (r *ReminderScheduler) triggers(dose *model.ScheduledDose, now time.Time) []trigger {
	var out []trigger
	for _, offset := range r.offsets {
		at := dose.ScheduledTime.Add(-time.Duration(offset) * time.Minute)
		if !at.After(now) {
			continue
		}
		if r.quiet.contains(at.In(r.loc)) {
			continue
		}
		out = append(out, trigger{at: at, offset: offset})
	}
	return out
}

// Arm schedules reminders for a pending dose and records their handles on it
func (r *ReminderScheduler) Arm(ctx context.Context, dose *model.ScheduledDose) error {
	if dose.Status != model.DoseStatusPending {
		return nil
	}

	var errs []error
	for _, t := range r.triggers(dose, r.now()) {
		handle, err := r.dispatcher.Schedule(ctx, t.at, notify.Payload{
			DoseID:         dose.ID,
			ScheduleID:     dose.ScheduleID,
			MedicationID:   dose.MedicationID,
			MedicationName: dose.MedicationName,
			OffsetMinutes:  t.offset,
			ScheduledTime:  dose.ScheduledTime,
		})
		if err != nil {
			r.logger.Warn("failed to arm reminder",
				zap.String("dose_id", dose.ID),
				zap.Int("offset_minutes", t.offset),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		dose.ReminderHandles = append(dose.ReminderHandles, string(handle))
		dose.RemindersSent++
	}

	return errors.Join(errs...)
}

// Cancel cancels every reminder armed for dose and clears its handles.
// Handles that fail to cancel are logged and dropped; delivery is best effort.
func (r *ReminderScheduler) Cancel(ctx context.Context, dose *model.ScheduledDose) error {
	var errs []error
	for _, h := range dose.ReminderHandles {
		if err := r.dispatcher.Cancel(ctx, notify.Handle(h)); err != nil {
			r.logger.Warn("failed to cancel reminder",
				zap.String("dose_id", dose.ID),
				zap.String("handle", h),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	dose.ReminderHandles = nil

	return errors.Join(errs...)
}

// Rearm cancels the dose's reminders and arms new ones for its current time
func (r *ReminderScheduler) Rearm(ctx context.Context, dose *model.ScheduledDose) error {
	cancelErr := r.Cancel(ctx, dose)
	armErr := r.Arm(ctx, dose)
	return errors.Join(cancelErr, armErr)
}
