package handler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime/types"
	"github.com/vcscsvcscs/medication-engine/internal/adherence"
	"github.com/vcscsvcscs/medication-engine/internal/audit"
	"github.com/vcscsvcscs/medication-engine/internal/service"
	"github.com/vcscsvcscs/medication-engine/pkg/api"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
)

// Helper functions for type conversions between API types and internal models

func stringPtr(s string) *string {
	return &s
}

func intPtr(i int) *int {
	return &i
}

// optionalString returns nil for the empty string
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func uuidToString(u types.UUID) string {
	return uuid.UUID(u).String()
}

// stringToUUID parses an engine ID; IDs that are not UUIDs map to the nil UUID
func stringToUUID(s string) types.UUID {
	u, err := uuid.Parse(s)
	if err != nil {
		return types.UUID(uuid.Nil)
	}
	return types.UUID(u)
}

// dateIn places a calendar date at local midnight in loc
func dateIn(d types.Date, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

func datePtrIn(d *types.Date, loc *time.Location) *time.Time {
	if d == nil {
		return nil
	}
	t := dateIn(*d, loc)
	return &t
}

func timeToDate(t time.Time) types.Date {
	return types.Date{Time: t}
}

func timePtrToDate(t *time.Time) *types.Date {
	if t == nil {
		return nil
	}
	return &types.Date{Time: *t}
}

func patternFromAPI(p api.SchedulePattern, loc *time.Location) (model.SchedulePattern, error) {
	pattern := model.SchedulePattern{
		Type:        model.PatternType(p.Type),
		Times:       append([]string(nil), p.Times...),
		DaysOfMonth: append([]int(nil), p.DaysOfMonth...),
		EndDate:     datePtrIn(p.EndDate, loc),
	}
	if p.Interval != nil {
		pattern.Interval = *p.Interval
	}
	for _, d := range p.DaysOfWeek {
		if d < 0 || d > 6 {
			return model.SchedulePattern{}, fmt.Errorf("%w: day of week %d out of range 0..6", model.ErrInvalidInput, d)
		}
		pattern.DaysOfWeek[d] = true
	}
	return pattern, nil
}

func patternToAPI(p model.SchedulePattern) api.SchedulePattern {
	resp := api.SchedulePattern{
		Type:        string(p.Type),
		Times:       p.Times,
		DaysOfMonth: p.DaysOfMonth,
		EndDate:     timePtrToDate(p.EndDate),
	}
	if p.Interval > 0 {
		resp.Interval = intPtr(p.Interval)
	}
	for day, on := range p.DaysOfWeek {
		if on {
			resp.DaysOfWeek = append(resp.DaysOfWeek, day)
		}
	}
	return resp
}

func scheduleToAPI(s *model.MedicationSchedule) api.ScheduleResponse {
	created, updated := s.CreatedAt, s.UpdatedAt
	return api.ScheduleResponse{
		Id:              stringToUUID(s.ID),
		MedicationId:    s.MedicationID,
		MedicationName:  optionalString(s.MedicationName),
		Dosage:          optionalString(s.Dosage),
		Pattern:         patternToAPI(s.Pattern),
		StartDate:       timeToDate(s.StartDate),
		EndDate:         timePtrToDate(s.EndDate),
		Priority:        string(s.Priority),
		FoodRequirement: optionalString(string(s.FoodRequirement)),
		IsActive:        s.IsActive,
		CreatedAt:       &created,
		UpdatedAt:       &updated,
	}
}

func doseToAPI(d model.DoseView) api.DoseResponse {
	return api.DoseResponse{
		Id:              stringToUUID(d.ID),
		ScheduleId:      stringToUUID(d.ScheduleID),
		MedicationId:    d.MedicationID,
		MedicationName:  optionalString(d.MedicationName),
		OriginalTime:    d.OriginalTime,
		ScheduledTime:   d.ScheduledTime,
		Status:          string(d.Status),
		SnoozeCount:     d.SnoozeCount,
		RemindersSent:   d.RemindersSent,
		Priority:        string(d.Priority),
		FoodRequirement: optionalString(string(d.FoodRequirement)),
		AsNeeded:        d.AsNeeded,
		IsOverdue:       d.IsOverdue,
	}
}

func dosesToAPI(doses []model.DoseView) []api.DoseResponse {
	response := make([]api.DoseResponse, 0, len(doses))
	for _, d := range doses {
		response = append(response, doseToAPI(d))
	}
	return response
}

func statsToAPI(s adherence.Stats) api.AdherenceResponse {
	weekly := s.WeeklyAdherence
	if weekly == nil {
		weekly = []float64{}
	}
	return api.AdherenceResponse{
		AdherenceRate:   s.AdherenceRate,
		TakenCount:      s.TakenCount,
		MissedCount:     s.MissedCount,
		SkippedCount:    s.SkippedCount,
		TotalCount:      s.TotalCount,
		Streak:          s.Streak,
		LongestStreak:   s.LongestStreak,
		WeeklyAdherence: weekly,
	}
}

func syncResultToAPI(r service.SyncResult) api.SyncResultResponse {
	resp := api.SyncResultResponse{
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Online:     r.Online,
		Mode:       r.Mode,
		Dispatched: r.Dispatched,
		Requeued:   r.Requeued,
		Optimized:  r.Optimized,
		Remaining:  r.Remaining,
		Reconciled: r.Reconciled,
		Error:      optionalString(r.Error),
	}
	if r.Online {
		rtt := r.RTTMillis
		resp.RttMs = &rtt
	}
	if r.BatchSize > 0 {
		resp.BatchSize = intPtr(r.BatchSize)
	}
	return resp
}

func auditToAPI(e audit.Entry) api.AuditEntryResponse {
	return api.AuditEntryResponse{
		Id:             e.ID,
		Timestamp:      e.Timestamp,
		OperationType:  string(e.OperationType),
		ResourceType:   string(e.ResourceType),
		ResourceId:     optionalString(e.ResourceID),
		AdditionalData: e.AdditionalData,
	}
}
