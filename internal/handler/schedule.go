package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oapi-codegen/runtime/types"
	"github.com/vcscsvcscs/medication-engine/internal/service"
	"github.com/vcscsvcscs/medication-engine/pkg/api"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

// ScheduleHandler implements schedule, conflict and adherence endpoints
type ScheduleHandler struct {
	service *service.ScheduleService
	doses   *service.DoseLifecycleManager
	loc     *time.Location
	logger  *zap.Logger
}

// NewScheduleHandler creates a new ScheduleHandler. Dates in requests are
// interpreted as calendar days in loc.
func NewScheduleHandler(service *service.ScheduleService, doses *service.DoseLifecycleManager, loc *time.Location, logger *zap.Logger) *ScheduleHandler {
	if loc == nil {
		loc = time.Local
	}
	return &ScheduleHandler{
		service: service,
		doses:   doses,
		loc:     loc,
		logger:  logger,
	}
}

// PostApiV1Schedules creates a schedule and materializes its doses
func (h *ScheduleHandler) PostApiV1Schedules(c *gin.Context) {
	var req api.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, h.logger, msgInvalidBody, err)
		return
	}

	pattern, err := patternFromAPI(req.Pattern, h.loc)
	if err != nil {
		respondValidation(c, h.logger, msgInvalidBody, err)
		return
	}

	sched := &model.MedicationSchedule{
		MedicationID:    req.MedicationId,
		MedicationName:  req.MedicationName,
		Dosage:          derefString(req.Dosage),
		Pattern:         pattern,
		StartDate:       dateIn(req.StartDate, h.loc),
		EndDate:         datePtrIn(req.EndDate, h.loc),
		Priority:        model.Priority(derefString(req.Priority)),
		FoodRequirement: model.FoodRequirement(derefString(req.FoodRequirement)),
	}

	if err := h.service.CreateSchedule(c.Request.Context(), sched); err != nil {
		respondError(c, h.logger, err, "Failed to create schedule",
			zap.String("medication_id", req.MedicationId),
		)
		return
	}

	h.logger.Info("schedule created",
		zap.String("schedule_id", sched.ID),
		zap.String("medication_id", sched.MedicationID),
	)

	c.JSON(http.StatusCreated, scheduleToAPI(sched))
}

// GetApiV1Schedules lists schedules, optionally only the active ones
func (h *ScheduleHandler) GetApiV1Schedules(c *gin.Context, params api.GetApiV1SchedulesParams) {
	activeOnly := params.Active != nil && *params.Active

	schedules := h.service.ListSchedules(c.Request.Context(), activeOnly)

	response := make([]api.ScheduleResponse, 0, len(schedules))
	for i := range schedules {
		response = append(response, scheduleToAPI(&schedules[i]))
	}

	c.JSON(http.StatusOK, response)
}

// GetApiV1SchedulesId returns one schedule
func (h *ScheduleHandler) GetApiV1SchedulesId(c *gin.Context, id types.UUID) {
	scheduleID := uuidToString(id)

	sched, err := h.service.GetSchedule(c.Request.Context(), scheduleID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to get schedule", zap.String("schedule_id", scheduleID))
		return
	}

	c.JSON(http.StatusOK, scheduleToAPI(sched))
}

// PutApiV1SchedulesId replaces the editable fields of a schedule
func (h *ScheduleHandler) PutApiV1SchedulesId(c *gin.Context, id types.UUID) {
	scheduleID := uuidToString(id)

	var req api.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, h.logger, msgInvalidBody, err)
		return
	}

	pattern, err := patternFromAPI(req.Pattern, h.loc)
	if err != nil {
		respondValidation(c, h.logger, msgInvalidBody, err)
		return
	}

	updates := &model.MedicationSchedule{
		MedicationID:    derefString(req.MedicationId),
		MedicationName:  req.MedicationName,
		Dosage:          derefString(req.Dosage),
		Pattern:         pattern,
		EndDate:         datePtrIn(req.EndDate, h.loc),
		Priority:        model.Priority(derefString(req.Priority)),
		FoodRequirement: model.FoodRequirement(derefString(req.FoodRequirement)),
	}
	if req.StartDate != nil {
		updates.StartDate = dateIn(*req.StartDate, h.loc)
	}

	updated, err := h.service.UpdateSchedule(c.Request.Context(), scheduleID, updates)
	if err != nil {
		respondError(c, h.logger, err, "Failed to update schedule", zap.String("schedule_id", scheduleID))
		return
	}

	h.logger.Info("schedule updated", zap.String("schedule_id", scheduleID))

	c.JSON(http.StatusOK, scheduleToAPI(updated))
}

// PostApiV1SchedulesIdDeactivate stops a schedule and clears its future reminders
func (h *ScheduleHandler) PostApiV1SchedulesIdDeactivate(c *gin.Context, id types.UUID) {
	scheduleID := uuidToString(id)

	if _, err := h.service.DeactivateSchedule(c.Request.Context(), scheduleID); err != nil {
		respondError(c, h.logger, err, "Failed to deactivate schedule", zap.String("schedule_id", scheduleID))
		return
	}

	h.logger.Info("schedule deactivated", zap.String("schedule_id", scheduleID))

	c.Status(http.StatusNoContent)
}

// PostApiV1SchedulesIdDoses records a dose for an as_needed schedule
func (h *ScheduleHandler) PostApiV1SchedulesIdDoses(c *gin.Context, id types.UUID) {
	scheduleID := uuidToString(id)

	var req api.CreateDoseRequest
	if !bindOptionalJSON(c, h.logger, &req) {
		return
	}

	var at time.Time
	if req.ScheduledTime != nil {
		at = *req.ScheduledTime
	}

	dose, err := h.doses.CreateAsNeededDose(c.Request.Context(), scheduleID, at)
	if err != nil {
		respondError(c, h.logger, err, "Failed to create dose", zap.String("schedule_id", scheduleID))
		return
	}

	c.JSON(http.StatusCreated, doseToAPI(dose))
}

// GetApiV1Conflicts lists pending doses that fall into the same short window
func (h *ScheduleHandler) GetApiV1Conflicts(c *gin.Context) {
	conflicts := h.service.Conflicts(c.Request.Context())

	response := make([]api.ConflictResponse, 0, len(conflicts))
	for _, conflict := range conflicts {
		doses := make([]api.DoseResponse, 0, len(conflict.Doses))
		for _, d := range conflict.Doses {
			doses = append(doses, doseToAPI(model.DoseView{ScheduledDose: d}))
		}
		response = append(response, api.ConflictResponse{
			Time:     conflict.Time,
			Severity: string(conflict.Severity),
			Doses:    doses,
		})
	}

	c.JSON(http.StatusOK, response)
}

// GetApiV1Adherence returns adherence over the configured window, overall or
// for one schedule, optionally broken down by medication
func (h *ScheduleHandler) GetApiV1Adherence(c *gin.Context, params api.GetApiV1AdherenceParams) {
	ctx := c.Request.Context()

	scheduleID := ""
	if params.ScheduleId != nil {
		scheduleID = uuidToString(*params.ScheduleId)
		if _, err := h.service.GetSchedule(ctx, scheduleID); err != nil {
			respondError(c, h.logger, err, "Failed to compute adherence", zap.String("schedule_id", scheduleID))
			return
		}
	}

	response := statsToAPI(h.service.Adherence(ctx, scheduleID))

	if params.ByMedication != nil && *params.ByMedication {
		byMedication := h.service.AdherenceByMedication(ctx)
		response.ByMedication = make(map[string]api.AdherenceResponse, len(byMedication))
		for medicationID, stats := range byMedication {
			response.ByMedication[medicationID] = statsToAPI(stats)
		}
	}

	c.JSON(http.StatusOK, response)
}
