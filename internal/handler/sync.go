package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vcscsvcscs/medication-engine/internal/audit"
	"github.com/vcscsvcscs/medication-engine/internal/service"
	"github.com/vcscsvcscs/medication-engine/pkg/api"
	"go.uber.org/zap"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// Resumer is notified when the app returns to the foreground
type Resumer interface {
	Resume()
}

// SyncHandler implements sync, preference, lifecycle and audit endpoints
type SyncHandler struct {
	coordinator *service.SyncCoordinator
	resumer     Resumer
	audit       *audit.Logger
	logger      *zap.Logger
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(coordinator *service.SyncCoordinator, resumer Resumer, auditLogger *audit.Logger, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		coordinator: coordinator,
		resumer:     resumer,
		audit:       auditLogger,
		logger:      logger,
	}
}

// PostApiV1Sync runs one sync cycle. A cycle that ran but failed to drain the
// queue answers 502 with its result so the caller sees what was requeued.
func (h *SyncHandler) PostApiV1Sync(c *gin.Context) {
	result, err := h.coordinator.SmartSync(c.Request.Context())
	if err != nil {
		if errors.Is(err, service.ErrSyncInProgress) {
			respondError(c, h.logger, err, "Sync already in progress")
			return
		}
		h.logger.Warn("sync finished with errors",
			zap.Error(err),
			zap.Int("dispatched", result.Dispatched),
			zap.Int("requeued", result.Requeued),
		)
		c.JSON(http.StatusBadGateway, syncResultToAPI(result))
		return
	}

	c.JSON(http.StatusOK, syncResultToAPI(result))
}

// GetApiV1SyncStatus reports whether a sync is running and the last outcome
func (h *SyncHandler) GetApiV1SyncStatus(c *gin.Context) {
	status := h.coordinator.Status(c.Request.Context())

	response := api.SyncStatusResponse{
		InProgress:  status.InProgress,
		QueueLength: status.QueueLength,
	}
	if status.LastSync != nil {
		last := syncResultToAPI(*status.LastSync)
		response.LastSync = &last
	}

	c.JSON(http.StatusOK, response)
}

// GetApiV1Preferences returns the stored preferences
func (h *SyncHandler) GetApiV1Preferences(c *gin.Context) {
	prefs := h.coordinator.Preferences(c.Request.Context())
	if prefs == nil {
		prefs = api.Preferences{}
	}

	c.JSON(http.StatusOK, api.Preferences(prefs))
}

// PutApiV1Preferences replaces the stored preferences
func (h *SyncHandler) PutApiV1Preferences(c *gin.Context) {
	var req api.Preferences
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, h.logger, msgInvalidBody, err)
		return
	}

	if err := h.coordinator.SetPreferences(c.Request.Context(), req); err != nil {
		respondError(c, h.logger, err, "Failed to store preferences")
		return
	}

	h.logger.Info("preferences updated", zap.Int("keys", len(req)))

	c.JSON(http.StatusOK, req)
}

// PostApiV1LifecycleResume schedules a sync in the background
func (h *SyncHandler) PostApiV1LifecycleResume(c *gin.Context) {
	if h.resumer != nil {
		h.resumer.Resume()
	}

	c.Status(http.StatusAccepted)
}

// GetApiV1Audit returns the most recent audit entries, newest first
func (h *SyncHandler) GetApiV1Audit(c *gin.Context, params api.GetApiV1AuditParams) {
	limit := defaultAuditLimit
	if params.Limit != nil {
		limit = *params.Limit
	}
	if limit < 1 || limit > maxAuditLimit {
		respondValidation(c, h.logger, "limit must be between 1 and 500", nil)
		return
	}

	entries, err := h.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err, "Failed to read audit log")
		return
	}

	response := make([]api.AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		response = append(response, auditToAPI(e))
	}

	c.JSON(http.StatusOK, response)
}
