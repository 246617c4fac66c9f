package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oapi-codegen/runtime/types"
	"github.com/vcscsvcscs/medication-engine/internal/repository"
	"github.com/vcscsvcscs/medication-engine/internal/service"
	"github.com/vcscsvcscs/medication-engine/pkg/api"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

// DoseHandler implements dose lifecycle endpoints
type DoseHandler struct {
	service *service.DoseLifecycleManager
	logger  *zap.Logger
}

// NewDoseHandler creates a new DoseHandler
func NewDoseHandler(service *service.DoseLifecycleManager, logger *zap.Logger) *DoseHandler {
	return &DoseHandler{
		service: service,
		logger:  logger,
	}
}

// GetApiV1Doses lists doses matching the optional filters
func (h *DoseHandler) GetApiV1Doses(c *gin.Context, params api.GetApiV1DosesParams) {
	var filter repository.DoseFilter
	if params.ScheduleId != nil {
		filter.ScheduleID = uuidToString(*params.ScheduleId)
	}
	if params.Status != nil {
		status := model.DoseStatus(*params.Status)
		switch status {
		case model.DoseStatusPending, model.DoseStatusTaken, model.DoseStatusMissed, model.DoseStatusSkipped:
		default:
			respondValidation(c, h.logger, msgInvalidParams, fmt.Errorf("unknown dose status %q", *params.Status))
			return
		}
		filter.Status = status
	}
	if params.From != nil {
		filter.From = *params.From
	}
	if params.To != nil {
		filter.To = *params.To
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		respondValidation(c, h.logger, "from must be before or equal to to", nil)
		return
	}

	doses := h.service.ListDoses(c.Request.Context(), filter)

	c.JSON(http.StatusOK, dosesToAPI(doses))
}

// GetApiV1DosesId returns one dose
func (h *DoseHandler) GetApiV1DosesId(c *gin.Context, id types.UUID) {
	doseID := uuidToString(id)

	dose, err := h.service.GetDose(c.Request.Context(), doseID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to get dose", zap.String("dose_id", doseID))
		return
	}

	c.JSON(http.StatusOK, doseToAPI(dose))
}

// PostApiV1DosesIdTaken marks a pending dose taken
func (h *DoseHandler) PostApiV1DosesIdTaken(c *gin.Context, id types.UUID) {
	doseID := uuidToString(id)

	var req api.MarkTakenRequest
	if !bindOptionalJSON(c, h.logger, &req) {
		return
	}

	var actual time.Time
	if req.ActualTime != nil {
		actual = *req.ActualTime
	}

	dose, err := h.service.MarkTaken(c.Request.Context(), doseID, actual, derefString(req.Notes))
	if err != nil {
		respondError(c, h.logger, err, "Failed to mark dose taken", zap.String("dose_id", doseID))
		return
	}

	c.JSON(http.StatusOK, doseToAPI(dose))
}

// PostApiV1DosesIdMissed marks a pending dose missed
func (h *DoseHandler) PostApiV1DosesIdMissed(c *gin.Context, id types.UUID) {
	doseID := uuidToString(id)

	var req api.DoseNoteRequest
	if !bindOptionalJSON(c, h.logger, &req) {
		return
	}

	dose, err := h.service.MarkMissed(c.Request.Context(), doseID, derefString(req.Notes))
	if err != nil {
		respondError(c, h.logger, err, "Failed to mark dose missed", zap.String("dose_id", doseID))
		return
	}

	c.JSON(http.StatusOK, doseToAPI(dose))
}

// PostApiV1DosesIdSkipped marks a pending dose skipped
func (h *DoseHandler) PostApiV1DosesIdSkipped(c *gin.Context, id types.UUID) {
	doseID := uuidToString(id)

	var req api.DoseNoteRequest
	if !bindOptionalJSON(c, h.logger, &req) {
		return
	}

	dose, err := h.service.MarkSkipped(c.Request.Context(), doseID, derefString(req.Notes))
	if err != nil {
		respondError(c, h.logger, err, "Failed to mark dose skipped", zap.String("dose_id", doseID))
		return
	}

	c.JSON(http.StatusOK, doseToAPI(dose))
}

// PostApiV1DosesIdSnooze shifts a pending dose forward
func (h *DoseHandler) PostApiV1DosesIdSnooze(c *gin.Context, id types.UUID) {
	doseID := uuidToString(id)

	var req api.SnoozeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, h.logger, msgInvalidBody, err)
		return
	}
	if req.Minutes < 1 {
		respondValidation(c, h.logger, "minutes must be positive", nil)
		return
	}

	dose, err := h.service.Snooze(c.Request.Context(), doseID, req.Minutes)
	if err != nil {
		respondError(c, h.logger, err, "Failed to snooze dose",
			zap.String("dose_id", doseID),
			zap.Int("minutes", req.Minutes),
		)
		return
	}

	c.JSON(http.StatusOK, doseToAPI(dose))
}

// GetApiV1Overdue returns the latest overdue snapshot
func (h *DoseHandler) GetApiV1Overdue(c *gin.Context) {
	snapshot := h.service.Overdue()

	response := api.OverdueResponse{DoseIds: make([]types.UUID, 0, len(snapshot.DoseIDs))}
	if !snapshot.ComputedAt.IsZero() {
		computed := snapshot.ComputedAt
		response.ComputedAt = &computed
	}
	for _, id := range snapshot.DoseIDs {
		response.DoseIds = append(response.DoseIds, stringToUUID(id))
	}

	c.JSON(http.StatusOK, response)
}
