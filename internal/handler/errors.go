package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vcscsvcscs/medication-engine/internal/service"
	"github.com/vcscsvcscs/medication-engine/pkg/api"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

const (
	codeValidation   = "VALIDATION_ERROR"
	codeNotFound     = "NOT_FOUND"
	codeConflict     = "INVALID_TRANSITION"
	codeSyncRunning  = "SYNC_IN_PROGRESS"
	codeInternal     = "INTERNAL_ERROR"
	msgInvalidBody   = "Invalid request body"
	msgInvalidParams = "Invalid request parameters"
)

// statusFor maps engine errors onto HTTP statuses and error codes
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, model.ErrInvalidPattern), errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, codeValidation
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, codeConflict
	case errors.Is(err, service.ErrSyncInProgress):
		return http.StatusConflict, codeSyncRunning
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// respondError writes the standard error body for err. Server errors are
// logged at error level, client errors at info.
func respondError(c *gin.Context, logger *zap.Logger, err error, message string, fields ...zap.Field) {
	status, code := statusFor(err)

	fields = append(fields, zap.Error(err), zap.Int("status", status))
	if status >= http.StatusInternalServerError {
		logger.Error(message, fields...)
	} else {
		logger.Info(message, fields...)
	}

	c.JSON(status, api.ErrorResponse{
		Code:    code,
		Message: message,
		Details: stringPtr(err.Error()),
	})
}

// respondValidation writes a 400 for a request rejected before reaching the engine
func respondValidation(c *gin.Context, logger *zap.Logger, message string, err error) {
	logger.Error("invalid request", zap.String("reason", message), zap.Error(err))

	resp := api.ErrorResponse{
		Code:    codeValidation,
		Message: message,
	}
	if err != nil {
		resp.Details = stringPtr(err.Error())
	}
	c.JSON(http.StatusBadRequest, resp)
}

// bindOptionalJSON binds a JSON body when one was sent; an empty body leaves dest zero
func bindOptionalJSON(c *gin.Context, logger *zap.Logger, dest interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dest); err != nil && !errors.Is(err, io.EOF) {
		respondValidation(c, logger, msgInvalidBody, err)
		return false
	}
	return true
}
