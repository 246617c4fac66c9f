package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /health)
	GetHealth(c *gin.Context)

	// (GET /api/v1/schedules)
	GetApiV1Schedules(c *gin.Context, params GetApiV1SchedulesParams)
	// (POST /api/v1/schedules)
	PostApiV1Schedules(c *gin.Context)
	// (GET /api/v1/schedules/{id})
	GetApiV1SchedulesId(c *gin.Context, id openapi_types.UUID)
	// (PUT /api/v1/schedules/{id})
	PutApiV1SchedulesId(c *gin.Context, id openapi_types.UUID)
	// (POST /api/v1/schedules/{id}/deactivate)
	PostApiV1SchedulesIdDeactivate(c *gin.Context, id openapi_types.UUID)
	// (POST /api/v1/schedules/{id}/doses)
	PostApiV1SchedulesIdDoses(c *gin.Context, id openapi_types.UUID)

	// (GET /api/v1/doses)
	GetApiV1Doses(c *gin.Context, params GetApiV1DosesParams)
	// (GET /api/v1/doses/{id})
	GetApiV1DosesId(c *gin.Context, id openapi_types.UUID)
	// (POST /api/v1/doses/{id}/taken)
	PostApiV1DosesIdTaken(c *gin.Context, id openapi_types.UUID)
	// (POST /api/v1/doses/{id}/missed)
	PostApiV1DosesIdMissed(c *gin.Context, id openapi_types.UUID)
	// (POST /api/v1/doses/{id}/skipped)
	PostApiV1DosesIdSkipped(c *gin.Context, id openapi_types.UUID)
	// (POST /api/v1/doses/{id}/snooze)
	PostApiV1DosesIdSnooze(c *gin.Context, id openapi_types.UUID)
	// (GET /api/v1/overdue)
	GetApiV1Overdue(c *gin.Context)

	// (GET /api/v1/conflicts)
	GetApiV1Conflicts(c *gin.Context)
	// (GET /api/v1/adherence)
	GetApiV1Adherence(c *gin.Context, params GetApiV1AdherenceParams)
	// (GET /api/v1/reports/adherence.pdf)
	GetApiV1ReportsAdherencePdf(c *gin.Context, params GetApiV1ReportsAdherenceParams)
	// (GET /api/v1/reports/adherence.xlsx)
	GetApiV1ReportsAdherenceXlsx(c *gin.Context, params GetApiV1ReportsAdherenceParams)
	// (GET /api/v1/audit)
	GetApiV1Audit(c *gin.Context, params GetApiV1AuditParams)

	// (POST /api/v1/sync)
	PostApiV1Sync(c *gin.Context)
	// (GET /api/v1/sync/status)
	GetApiV1SyncStatus(c *gin.Context)
	// (GET /api/v1/preferences)
	GetApiV1Preferences(c *gin.Context)
	// (PUT /api/v1/preferences)
	PutApiV1Preferences(c *gin.Context)
	// (POST /api/v1/lifecycle/resume)
	PostApiV1LifecycleResume(c *gin.Context)
}

// ServerInterfaceWrapper converts gin contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler      ServerInterface
	ErrorHandler func(*gin.Context, error, int)
}

// pathID binds the {id} path parameter, reporting a failure through the error handler
func (siw *ServerInterfaceWrapper) pathID(c *gin.Context) (openapi_types.UUID, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "id", c.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandler(c, fmt.Errorf("Invalid format for parameter id: %w", err), http.StatusBadRequest)
		return id, false
	}
	return id, true
}

// query binds one optional form-style query parameter
func (siw *ServerInterfaceWrapper) query(c *gin.Context, name string, dest interface{}) bool {
	if err := runtime.BindQueryParameter("form", true, false, name, c.Request.URL.Query(), dest); err != nil {
		siw.ErrorHandler(c, fmt.Errorf("Invalid format for parameter %s: %w", name, err), http.StatusBadRequest)
		return false
	}
	return true
}

// withID adapts a handler taking the {id} path parameter
func (siw *ServerInterfaceWrapper) withID(h func(*gin.Context, openapi_types.UUID)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := siw.pathID(c); ok {
			h(c, id)
		}
	}
}

// GetApiV1Schedules operation middleware
func (siw *ServerInterfaceWrapper) GetApiV1Schedules(c *gin.Context) {
	var params GetApiV1SchedulesParams
	if !siw.query(c, "active", &params.Active) {
		return
	}
	siw.Handler.GetApiV1Schedules(c, params)
}

// GetApiV1Doses operation middleware
func (siw *ServerInterfaceWrapper) GetApiV1Doses(c *gin.Context) {
	var params GetApiV1DosesParams
	if !siw.query(c, "schedule_id", &params.ScheduleId) ||
		!siw.query(c, "status", &params.Status) ||
		!siw.query(c, "from", &params.From) ||
		!siw.query(c, "to", &params.To) {
		return
	}
	siw.Handler.GetApiV1Doses(c, params)
}

// GetApiV1Adherence operation middleware
func (siw *ServerInterfaceWrapper) GetApiV1Adherence(c *gin.Context) {
	var params GetApiV1AdherenceParams
	if !siw.query(c, "schedule_id", &params.ScheduleId) || !siw.query(c, "by_medication", &params.ByMedication) {
		return
	}
	siw.Handler.GetApiV1Adherence(c, params)
}

// GetApiV1ReportsAdherencePdf operation middleware
func (siw *ServerInterfaceWrapper) GetApiV1ReportsAdherencePdf(c *gin.Context) {
	var params GetApiV1ReportsAdherenceParams
	if !siw.query(c, "patient", &params.Patient) {
		return
	}
	siw.Handler.GetApiV1ReportsAdherencePdf(c, params)
}

// GetApiV1ReportsAdherenceXlsx operation middleware
func (siw *ServerInterfaceWrapper) GetApiV1ReportsAdherenceXlsx(c *gin.Context) {
	var params GetApiV1ReportsAdherenceParams
	if !siw.query(c, "patient", &params.Patient) {
		return
	}
	siw.Handler.GetApiV1ReportsAdherenceXlsx(c, params)
}

// GetApiV1Audit operation middleware
func (siw *ServerInterfaceWrapper) GetApiV1Audit(c *gin.Context) {
	var params GetApiV1AuditParams
	if !siw.query(c, "limit", &params.Limit) {
		return
	}
	siw.Handler.GetApiV1Audit(c, params)
}

// GinServerOptions provides options for the Gin server.
type GinServerOptions struct {
	BaseURL      string
	ErrorHandler func(*gin.Context, error, int)
}

// RegisterHandlers creates http.Handler with routing matching OpenAPI spec.
func RegisterHandlers(router gin.IRouter, si ServerInterface) {
	RegisterHandlersWithOptions(router, si, GinServerOptions{})
}

// RegisterHandlersWithOptions creates http.Handler with additional options
func RegisterHandlersWithOptions(router gin.IRouter, si ServerInterface, options GinServerOptions) {
	errorHandler := options.ErrorHandler
	if errorHandler == nil {
		errorHandler = func(c *gin.Context, err error, statusCode int) {
			details := err.Error()
			c.JSON(statusCode, ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "Invalid request parameters",
				Details: &details,
			})
		}
	}

	wrapper := ServerInterfaceWrapper{
		Handler:      si,
		ErrorHandler: errorHandler,
	}
	base := options.BaseURL

	router.GET(base+"/health", si.GetHealth)

	router.GET(base+"/api/v1/schedules", wrapper.GetApiV1Schedules)
	router.POST(base+"/api/v1/schedules", si.PostApiV1Schedules)
	router.GET(base+"/api/v1/schedules/:id", wrapper.withID(si.GetApiV1SchedulesId))
	router.PUT(base+"/api/v1/schedules/:id", wrapper.withID(si.PutApiV1SchedulesId))
	router.POST(base+"/api/v1/schedules/:id/deactivate", wrapper.withID(si.PostApiV1SchedulesIdDeactivate))
	router.POST(base+"/api/v1/schedules/:id/doses", wrapper.withID(si.PostApiV1SchedulesIdDoses))

	router.GET(base+"/api/v1/doses", wrapper.GetApiV1Doses)
	router.GET(base+"/api/v1/doses/:id", wrapper.withID(si.GetApiV1DosesId))
	router.POST(base+"/api/v1/doses/:id/taken", wrapper.withID(si.PostApiV1DosesIdTaken))
	router.POST(base+"/api/v1/doses/:id/missed", wrapper.withID(si.PostApiV1DosesIdMissed))
	router.POST(base+"/api/v1/doses/:id/skipped", wrapper.withID(si.PostApiV1DosesIdSkipped))
	router.POST(base+"/api/v1/doses/:id/snooze", wrapper.withID(si.PostApiV1DosesIdSnooze))
	router.GET(base+"/api/v1/overdue", si.GetApiV1Overdue)

	router.GET(base+"/api/v1/conflicts", si.GetApiV1Conflicts)
	router.GET(base+"/api/v1/adherence", wrapper.GetApiV1Adherence)
	router.GET(base+"/api/v1/reports/adherence.pdf", wrapper.GetApiV1ReportsAdherencePdf)
	router.GET(base+"/api/v1/reports/adherence.xlsx", wrapper.GetApiV1ReportsAdherenceXlsx)
	router.GET(base+"/api/v1/audit", wrapper.GetApiV1Audit)

	router.POST(base+"/api/v1/sync", si.PostApiV1Sync)
	router.GET(base+"/api/v1/sync/status", si.GetApiV1SyncStatus)
	router.GET(base+"/api/v1/preferences", si.GetApiV1Preferences)
	router.PUT(base+"/api/v1/preferences", si.PutApiV1Preferences)
	router.POST(base+"/api/v1/lifecycle/resume", si.PostApiV1LifecycleResume)
}
