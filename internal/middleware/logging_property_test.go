package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcscsvcscs/medication-engine/pkg/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// All requests are logged with method, path, device, status and timing
func TestProperty_RequestLogging(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("all requests are logged with required fields", prop.ForAll(
		func(method string, path string, deviceID string) bool {
			core, logs := observer.New(zapcore.InfoLevel)
			logger := zap.New(core)

			gin.SetMode(gin.TestMode)
			router := gin.New()
			router.Use(DeviceMiddleware("engine-default"))
			router.Use(RequestLoggingMiddleware(logger))
			router.Handle(method, path, func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(method, path, nil)
			if deviceID != "" {
				req.Header.Set(DeviceIDHeader, deviceID)
			}
			router.ServeHTTP(httptest.NewRecorder(), req)

			var requestLog *observer.LoggedEntry
			for _, entry := range logs.All() {
				if entry.Message == "Request completed" {
					requestLog = &entry
					break
				}
			}
			if requestLog == nil {
				t.Logf("Request log entry not found")
				return false
			}

			fields := requestLog.ContextMap()
			wantDevice := deviceID
			if wantDevice == "" {
				wantDevice = "engine-default"
			}

			if fields["method"] != method || fields["path"] != path || fields["route"] != path {
				t.Logf("request identity mismatch: %v", fields)
				return false
			}
			if fields["device_id"] != wantDevice {
				t.Logf("device mismatch: expected %s, got %v", wantDevice, fields["device_id"])
				return false
			}
			for _, key := range []string{"timestamp", "duration", "status"} {
				if _, ok := fields[key]; !ok {
					t.Logf("%s field missing", key)
					return false
				}
			}
			return true
		},
		gen.OneConstOf("GET", "POST", "PUT"),
		gen.OneConstOf("/api/v1/doses", "/api/v1/schedules", "/api/v1/sync"),
		gen.AlphaString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Errors attached to the context are logged with stack traces and context
func TestProperty_ErrorLoggingDetail(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("errors are logged with stack traces and context", prop.ForAll(
		func(errorMessage string, path string) bool {
			core, logs := observer.New(zapcore.ErrorLevel)
			logger := zap.New(core)

			gin.SetMode(gin.TestMode)
			router := gin.New()
			router.Use(RequestIDMiddleware())
			router.Use(ErrorLoggingMiddleware(logger))
			router.GET(path, func(c *gin.Context) {
				c.Error(errors.New(errorMessage))
				c.Status(http.StatusInternalServerError)
			})

			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))

			entries := logs.FilterMessage("Request error occurred").All()
			if len(entries) != 1 {
				t.Logf("expected one error entry, got %d", len(entries))
				return false
			}

			fields := entries[0].ContextMap()
			if fields["error"] != errorMessage || fields["method"] != http.MethodGet || fields["path"] != path {
				t.Logf("unexpected fields %v", fields)
				return false
			}
			if _, ok := fields["stack_trace"]; !ok {
				t.Logf("stack_trace field missing")
				return false
			}
			if id, _ := fields["request_id"].(string); id == "" {
				t.Logf("request_id field missing")
				return false
			}
			return true
		},
		gen.AlphaString(),
		gen.OneConstOf("/api/v1/doses", "/api/v1/sync", "/api/v1/reports/adherence.pdf"),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestRequestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status  int
		level   zapcore.Level
		message string
	}{
		{http.StatusOK, zapcore.InfoLevel, "Request completed"},
		{http.StatusConflict, zapcore.WarnLevel, "Request completed with client error"},
		{http.StatusBadGateway, zapcore.ErrorLevel, "Request completed with server error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			gin.SetMode(gin.TestMode)
			router := gin.New()
			router.Use(RequestLoggingMiddleware(zap.New(core)))
			router.GET("/x", func(c *gin.Context) { c.Status(tt.status) })

			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, tt.message, entry.Message)
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(requestIDKey)) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	generated := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(generated)
	require.NoError(t, err)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "caller-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "caller-123", w.Header().Get(RequestIDHeader))
}

func TestRecoveryMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.New(core)))
	router.GET("/panic", func(c *gin.Context) { panic("reminder table corrupted") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body api.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body.Code)

	require.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
}

func TestSlowRequestMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SlowRequestMiddleware(zap.New(core), 10*time.Millisecond))
	router.GET("/fast", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/slow", func(c *gin.Context) {
		time.Sleep(30 * time.Millisecond)
		c.Status(http.StatusOK)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fast", nil))
	assert.Zero(t, logs.Len())

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))
	entries := logs.FilterMessage("Slow request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/slow", entries[0].ContextMap()["route"])
}
