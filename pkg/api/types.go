// Package api holds the HTTP contract of the medication engine: request and
// response types, the server interface and its gin registration.
package api

import (
	"encoding/json"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

// ErrorResponse defines model for ErrorResponse.
type ErrorResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Details *string `json:"details,omitempty"`
}

// SchedulePattern defines model for SchedulePattern.
type SchedulePattern struct {
	Type  string   `json:"type" binding:"required"`
	Times []string `json:"times,omitempty"`

	// DaysOfWeek lists weekdays, 0 = Sunday
	DaysOfWeek  []int               `json:"days_of_week,omitempty"`
	DaysOfMonth []int               `json:"days_of_month,omitempty"`
	Interval    *int                `json:"interval,omitempty"`
	EndDate     *openapi_types.Date `json:"end_date,omitempty"`
}

// CreateScheduleRequest defines model for CreateScheduleRequest.
type CreateScheduleRequest struct {
	MedicationId    string              `json:"medication_id" binding:"required"`
	MedicationName  string              `json:"medication_name"`
	Dosage          *string             `json:"dosage,omitempty"`
	Pattern         SchedulePattern     `json:"pattern" binding:"required"`
	StartDate       openapi_types.Date  `json:"start_date" binding:"required"`
	EndDate         *openapi_types.Date `json:"end_date,omitempty"`
	Priority        *string             `json:"priority,omitempty"`
	FoodRequirement *string             `json:"food_requirement,omitempty"`
}

// UpdateScheduleRequest defines model for UpdateScheduleRequest.
type UpdateScheduleRequest struct {
	MedicationId    *string             `json:"medication_id,omitempty"`
	MedicationName  string              `json:"medication_name"`
	Dosage          *string             `json:"dosage,omitempty"`
	Pattern         SchedulePattern     `json:"pattern" binding:"required"`
	StartDate       *openapi_types.Date `json:"start_date,omitempty"`
	EndDate         *openapi_types.Date `json:"end_date,omitempty"`
	Priority        *string             `json:"priority,omitempty"`
	FoodRequirement *string             `json:"food_requirement,omitempty"`
}

// ScheduleResponse defines model for ScheduleResponse.
type ScheduleResponse struct {
	Id              openapi_types.UUID  `json:"id"`
	MedicationId    string              `json:"medication_id"`
	MedicationName  *string             `json:"medication_name,omitempty"`
	Dosage          *string             `json:"dosage,omitempty"`
	Pattern         SchedulePattern     `json:"pattern"`
	StartDate       openapi_types.Date  `json:"start_date"`
	EndDate         *openapi_types.Date `json:"end_date,omitempty"`
	Priority        string              `json:"priority"`
	FoodRequirement *string             `json:"food_requirement,omitempty"`
	IsActive        bool                `json:"is_active"`
	CreatedAt       *time.Time          `json:"created_at,omitempty"`
	UpdatedAt       *time.Time          `json:"updated_at,omitempty"`
}

// DoseResponse defines model for DoseResponse.
type DoseResponse struct {
	Id              openapi_types.UUID `json:"id"`
	ScheduleId      openapi_types.UUID `json:"schedule_id"`
	MedicationId    string             `json:"medication_id"`
	MedicationName  *string            `json:"medication_name,omitempty"`
	OriginalTime    time.Time          `json:"original_time"`
	ScheduledTime   time.Time          `json:"scheduled_time"`
	Status          string             `json:"status"`
	SnoozeCount     int                `json:"snooze_count"`
	RemindersSent   int                `json:"reminders_sent"`
	Priority        string             `json:"priority"`
	FoodRequirement *string            `json:"food_requirement,omitempty"`
	AsNeeded        bool               `json:"as_needed"`
	IsOverdue       bool               `json:"is_overdue"`
}

// CreateDoseRequest defines model for CreateDoseRequest.
type CreateDoseRequest struct {
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
}

// MarkTakenRequest defines model for MarkTakenRequest.
type MarkTakenRequest struct {
	ActualTime *time.Time `json:"actual_time,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
}

// DoseNoteRequest defines model for DoseNoteRequest.
type DoseNoteRequest struct {
	Notes *string `json:"notes,omitempty"`
}

// SnoozeRequest defines model for SnoozeRequest.
type SnoozeRequest struct {
	Minutes int `json:"minutes" binding:"required"`
}

// OverdueResponse defines model for OverdueResponse.
type OverdueResponse struct {
	ComputedAt *time.Time           `json:"computed_at,omitempty"`
	DoseIds    []openapi_types.UUID `json:"dose_ids"`
}

// ConflictResponse defines model for ConflictResponse.
type ConflictResponse struct {
	Time     time.Time      `json:"time"`
	Severity string         `json:"severity"`
	Doses    []DoseResponse `json:"doses"`
}

// AdherenceResponse defines model for AdherenceResponse.
type AdherenceResponse struct {
	AdherenceRate   float64   `json:"adherence_rate"`
	TakenCount      int       `json:"taken_count"`
	MissedCount     int       `json:"missed_count"`
	SkippedCount    int       `json:"skipped_count"`
	TotalCount      int       `json:"total_count"`
	Streak          int       `json:"streak"`
	LongestStreak   int       `json:"longest_streak"`
	WeeklyAdherence []float64 `json:"weekly_adherence"`

	ByMedication map[string]AdherenceResponse `json:"by_medication,omitempty"`
}

// SyncResultResponse defines model for SyncResultResponse.
type SyncResultResponse struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Online     bool      `json:"online"`
	RttMs      *int64    `json:"rtt_ms,omitempty"`
	Mode       string    `json:"mode"`
	BatchSize  *int      `json:"batch_size,omitempty"`
	Dispatched int       `json:"dispatched"`
	Requeued   int       `json:"requeued"`
	Optimized  int       `json:"optimized"`
	Remaining  int       `json:"remaining"`
	Reconciled bool      `json:"reconciled"`
	Error      *string   `json:"error,omitempty"`
}

// SyncStatusResponse defines model for SyncStatusResponse.
type SyncStatusResponse struct {
	InProgress  bool                `json:"in_progress"`
	QueueLength int                 `json:"queue_length"`
	LastSync    *SyncResultResponse `json:"last_sync,omitempty"`
}

// Preferences defines model for Preferences.
type Preferences map[string]json.RawMessage

// AuditEntryResponse defines model for AuditEntryResponse.
type AuditEntryResponse struct {
	Id             string                 `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	OperationType  string                 `json:"operation_type"`
	ResourceType   string                 `json:"resource_type"`
	ResourceId     *string                `json:"resource_id,omitempty"`
	AdditionalData map[string]interface{} `json:"additional_data,omitempty"`
}

// HealthResponse defines model for HealthResponse.
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// GetApiV1SchedulesParams defines parameters for GetApiV1Schedules.
type GetApiV1SchedulesParams struct {
	Active *bool `form:"active,omitempty" json:"active,omitempty"`
}

// GetApiV1DosesParams defines parameters for GetApiV1Doses.
type GetApiV1DosesParams struct {
	ScheduleId *openapi_types.UUID `form:"schedule_id,omitempty" json:"schedule_id,omitempty"`
	Status     *string             `form:"status,omitempty" json:"status,omitempty"`
	From       *time.Time          `form:"from,omitempty" json:"from,omitempty"`
	To         *time.Time          `form:"to,omitempty" json:"to,omitempty"`
}

// GetApiV1AdherenceParams defines parameters for GetApiV1Adherence.
type GetApiV1AdherenceParams struct {
	ScheduleId   *openapi_types.UUID `form:"schedule_id,omitempty" json:"schedule_id,omitempty"`
	ByMedication *bool               `form:"by_medication,omitempty" json:"by_medication,omitempty"`
}

// GetApiV1ReportsAdherenceParams defines parameters for the adherence report downloads.
type GetApiV1ReportsAdherenceParams struct {
	Patient *string `form:"patient,omitempty" json:"patient,omitempty"`
}

// GetApiV1AuditParams defines parameters for GetApiV1Audit.
type GetApiV1AuditParams struct {
	Limit *int `form:"limit,omitempty" json:"limit,omitempty"`
}
