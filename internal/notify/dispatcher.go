package notify

import (
	"context"
	"time"
)

// Handle identifies an armed notification so it can be cancelled later
type Handle string

// Payload carries enough context for the notification to identify its dose
type Payload struct {
	DoseID         string    `json:"doseId"`
	ScheduleID     string    `json:"scheduleId"`
	MedicationID   string    `json:"medicationId"`
	MedicationName string    `json:"medicationName,omitempty"`
	OffsetMinutes  int       `json:"offsetMinutes"`
	ScheduledTime  time.Time `json:"scheduledTime"`
}

// Dispatcher is the push-notification capability the engine arms reminders through.
// Delivery is best-effort and implementations never deduplicate.
type Dispatcher interface {
	Schedule(ctx context.Context, at time.Time, payload Payload) (Handle, error)
	Cancel(ctx context.Context, handle Handle) error
}
