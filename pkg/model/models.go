package model

import (
	"encoding/json"
	"time"
)

// PatternType represents the recurrence rule of a schedule
type PatternType string

const (
	PatternDaily    PatternType = "daily"
	PatternWeekly   PatternType = "weekly"
	PatternMonthly  PatternType = "monthly"
	PatternInterval PatternType = "interval"
	PatternAsNeeded PatternType = "as_needed"
)

// Priority represents how important it is that a dose is not missed
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// FoodRequirement represents the meal constraint attached to a medication
type FoodRequirement string

const (
	FoodWithFood     FoodRequirement = "with_food"
	FoodWithoutFood  FoodRequirement = "without_food"
	FoodEmptyStomach FoodRequirement = "empty_stomach"
	FoodAny          FoodRequirement = "any"
)

// DoseStatus represents the lifecycle state of a scheduled dose
type DoseStatus string

const (
	DoseStatusPending DoseStatus = "pending"
	DoseStatusTaken   DoseStatus = "taken"
	DoseStatusMissed  DoseStatus = "missed"
	DoseStatusSkipped DoseStatus = "skipped"
)

// IsTerminal reports whether no further transition is allowed from the status
func (s DoseStatus) IsTerminal() bool {
	return s == DoseStatusTaken || s == DoseStatusMissed || s == DoseStatusSkipped
}

// Severity represents how serious a scheduling conflict is
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Escalate returns the next severity level, saturating at high
func (s Severity) Escalate() Severity {
	if s == SeverityLow {
		return SeverityMedium
	}
	return SeverityHigh
}

// Rank orders severities for comparison
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// SchedulePattern is the recurrence rule plus the time-of-day list
type SchedulePattern struct {
	Type        PatternType `json:"type"`
	Times       []string    `json:"times,omitempty"`         // "HH:MM"
	DaysOfWeek  [7]bool     `json:"days_of_week"`            // indexed by time.Weekday
	DaysOfMonth []int       `json:"days_of_month,omitempty"` // 1..31
	Interval    int         `json:"interval,omitempty"`      // days, interval type only
	EndDate     *time.Time  `json:"end_date,omitempty"`
}

// MedicationSchedule represents a recurring dosing plan for one medication
type MedicationSchedule struct {
	ID              string          `json:"id"`
	MedicationID    string          `json:"medication_id"`
	MedicationName  string          `json:"medication_name"`
	Dosage          string          `json:"dosage,omitempty"`
	Pattern         SchedulePattern `json:"pattern"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         *time.Time      `json:"end_date,omitempty"`
	Priority        Priority        `json:"priority"`
	FoodRequirement FoodRequirement `json:"food_requirement,omitempty"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// EffectiveEndDate returns the earlier of the schedule and pattern end dates
func (s *MedicationSchedule) EffectiveEndDate() *time.Time {
	end := s.EndDate
	if p := s.Pattern.EndDate; p != nil && (end == nil || p.Before(*end)) {
		end = p
	}
	return end
}

// ScheduledDose is one concrete, timed occurrence derived from a schedule
type ScheduledDose struct {
	ID              string          `json:"id"`
	ScheduleID      string          `json:"schedule_id"`
	MedicationID    string          `json:"medication_id"`
	MedicationName  string          `json:"medication_name,omitempty"`
	OriginalTime    time.Time       `json:"original_time"`
	ScheduledTime   time.Time       `json:"scheduled_time"`
	Status          DoseStatus      `json:"status"`
	SnoozeCount     int             `json:"snooze_count"`
	RemindersSent   int             `json:"reminders_sent"`
	ReminderHandles []string        `json:"reminder_handles,omitempty"`
	Priority        Priority        `json:"priority"`
	FoodRequirement FoodRequirement `json:"food_requirement,omitempty"`
	AsNeeded        bool            `json:"as_needed,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsOverdue is a view: pending and scheduled before now
func (d *ScheduledDose) IsOverdue(now time.Time) bool {
	return d.Status == DoseStatusPending && d.ScheduledTime.Before(now)
}

// DoseView is a dose as returned to readers, with computed fields filled in
type DoseView struct {
	ScheduledDose
	IsOverdue bool `json:"is_overdue"`
}

// NewDoseView computes the read-side fields of a dose
func NewDoseView(d ScheduledDose, now time.Time) DoseView {
	return DoseView{ScheduledDose: d, IsOverdue: d.IsOverdue(now)}
}

// DoseLog is the immutable record written when a dose leaves pending
type DoseLog struct {
	ID            string     `json:"id"`
	DoseID        string     `json:"dose_id"`
	ScheduleID    string     `json:"schedule_id"`
	MedicationID  string     `json:"medication_id"`
	Status        DoseStatus `json:"status"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	ActualTime    *time.Time `json:"actual_time,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// OfflineQueueItem is a pending remote action awaiting transmission
type OfflineQueueItem struct {
	ID       string          `json:"id"`
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload"`
	QueuedAt time.Time       `json:"queued_at"`
}

// ConflictRecord groups pending doses that fall into the same short window
type ConflictRecord struct {
	Time     time.Time       `json:"time"`
	Doses    []ScheduledDose `json:"doses"`
	Severity Severity        `json:"severity"`
}
