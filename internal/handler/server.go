package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vcscsvcscs/medication-engine/internal/storage"
	"github.com/vcscsvcscs/medication-engine/pkg/api"
	"go.uber.org/zap"
)

const healthProbeKey = "health_probe"

// Server implements api.ServerInterface by composing the endpoint handlers
type Server struct {
	*ScheduleHandler
	*DoseHandler
	*SyncHandler
	*ReportHandler

	store   storage.Store
	service string
	version string
	logger  *zap.Logger
}

var _ api.ServerInterface = (*Server)(nil)

// NewServer creates a new Server. store backs the health check.
func NewServer(
	schedules *ScheduleHandler,
	doses *DoseHandler,
	sync *SyncHandler,
	reports *ReportHandler,
	store storage.Store,
	serviceName, version string,
	logger *zap.Logger,
) *Server {
	return &Server{
		ScheduleHandler: schedules,
		DoseHandler:     doses,
		SyncHandler:     sync,
		ReportHandler:   reports,
		store:           store,
		service:         serviceName,
		version:         version,
		logger:          logger,
	}
}

// GetHealth reports whether the durable store answers reads
func (s *Server) GetHealth(c *gin.Context) {
	response := api.HealthResponse{
		Status:  "healthy",
		Storage: "connected",
		Service: s.service,
		Version: s.version,
	}

	if _, err := s.store.Get(c.Request.Context(), healthProbeKey); err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		s.logger.Error("health check failed: storage unreachable", zap.Error(err))
		response.Status = "unhealthy"
		response.Storage = "disconnected"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetOpenAPISpec serves the OpenAPI document as JSON
func (s *Server) GetOpenAPISpec(c *gin.Context) {
	doc, err := api.GetSwagger()
	if err != nil {
		respondError(c, s.logger, err, "Failed to load API document")
		return
	}

	c.JSON(http.StatusOK, doc)
}
