package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
)

// ErrUnknownAction is returned when a queued item carries an unrecognised kind
var ErrUnknownAction = errors.New("unknown offline action")

// Kind names a remote action
type Kind string

const (
	KindDoseTaken           Kind = "dose_taken"
	KindDoseMissed          Kind = "dose_missed"
	KindDoseSkipped         Kind = "dose_skipped"
	KindDoseSnoozed         Kind = "dose_snoozed"
	KindScheduleUpsert      Kind = "schedule_upsert"
	KindScheduleDeactivated Kind = "schedule_deactivated"
)

// Action is the closed set of remote actions the engine queues.
// Only types in this package implement it.
type Action interface {
	Kind() Kind
	isAction()
}

// DoseTakenAction reports a dose the patient took
type DoseTakenAction struct {
	DoseID        string    `json:"dose_id"`
	ScheduleID    string    `json:"schedule_id"`
	MedicationID  string    `json:"medication_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	ActualTime    time.Time `json:"actual_time"`
	Notes         string    `json:"notes,omitempty"`
}

// DoseMissedAction reports a dose marked missed
type DoseMissedAction struct {
	DoseID        string    `json:"dose_id"`
	ScheduleID    string    `json:"schedule_id"`
	MedicationID  string    `json:"medication_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Notes         string    `json:"notes,omitempty"`
}

// DoseSkippedAction reports a dose the patient chose to skip
type DoseSkippedAction struct {
	DoseID        string    `json:"dose_id"`
	ScheduleID    string    `json:"schedule_id"`
	MedicationID  string    `json:"medication_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Notes         string    `json:"notes,omitempty"`
}

// DoseSnoozedAction reports a snooze and the dose's new scheduled time
type DoseSnoozedAction struct {
	DoseID        string    `json:"dose_id"`
	ScheduleID    string    `json:"schedule_id"`
	Minutes       int       `json:"minutes"`
	ScheduledTime time.Time `json:"scheduled_time"`
	SnoozeCount   int       `json:"snooze_count"`
}

// ScheduleUpsertAction carries a created or edited schedule
type ScheduleUpsertAction struct {
	Schedule model.MedicationSchedule `json:"schedule"`
}

// ScheduleDeactivatedAction reports an explicit deactivation
type ScheduleDeactivatedAction struct {
	ScheduleID    string    `json:"schedule_id"`
	DeactivatedAt time.Time `json:"deactivated_at"`
}

func (DoseTakenAction) Kind() Kind           { return KindDoseTaken }
func (DoseMissedAction) Kind() Kind          { return KindDoseMissed }
func (DoseSkippedAction) Kind() Kind         { return KindDoseSkipped }
func (DoseSnoozedAction) Kind() Kind         { return KindDoseSnoozed }
func (ScheduleUpsertAction) Kind() Kind      { return KindScheduleUpsert }
func (ScheduleDeactivatedAction) Kind() Kind { return KindScheduleDeactivated }

func (DoseTakenAction) isAction()           {}
func (DoseMissedAction) isAction()          {}
func (DoseSkippedAction) isAction()         {}
func (DoseSnoozedAction) isAction()         {}
func (ScheduleUpsertAction) isAction()      {}
func (ScheduleDeactivatedAction) isAction() {}

// NewItem wraps action in a queue item with a fresh id
func NewItem(action Action, queuedAt time.Time) (model.OfflineQueueItem, error) {
	payload, err := json.Marshal(action)
	if err != nil {
		return model.OfflineQueueItem{}, fmt.Errorf("failed to marshal %s action: %w", action.Kind(), err)
	}

	return model.OfflineQueueItem{
		ID:       uuid.New().String(),
		Action:   string(action.Kind()),
		Payload:  payload,
		QueuedAt: queuedAt,
	}, nil
}

// Decode restores the typed action carried by item
func Decode(item model.OfflineQueueItem) (Action, error) {
	var action Action
	switch Kind(item.Action) {
	case KindDoseTaken:
		action = &DoseTakenAction{}
	case KindDoseMissed:
		action = &DoseMissedAction{}
	case KindDoseSkipped:
		action = &DoseSkippedAction{}
	case KindDoseSnoozed:
		action = &DoseSnoozedAction{}
	case KindScheduleUpsert:
		action = &ScheduleUpsertAction{}
	case KindScheduleDeactivated:
		action = &ScheduleDeactivatedAction{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, item.Action)
	}

	if err := json.Unmarshal(item.Payload, action); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", item.Action, err)
	}

	return deref(action), nil
}

func deref(action Action) Action {
	switch a := action.(type) {
	case *DoseTakenAction:
		return *a
	case *DoseMissedAction:
		return *a
	case *DoseSkippedAction:
		return *a
	case *DoseSnoozedAction:
		return *a
	case *ScheduleUpsertAction:
		return *a
	case *ScheduleDeactivatedAction:
		return *a
	}
	return action
}
