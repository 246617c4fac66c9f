package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcscsvcscs/medication-engine/internal/adherence"
	"github.com/vcscsvcscs/medication-engine/internal/audit"
	"github.com/vcscsvcscs/medication-engine/internal/network"
	"github.com/vcscsvcscs/medication-engine/internal/notify"
	"github.com/vcscsvcscs/medication-engine/internal/offline"
	"github.com/vcscsvcscs/medication-engine/internal/report"
	"github.com/vcscsvcscs/medication-engine/internal/repository"
	"github.com/vcscsvcscs/medication-engine/internal/service"
	"github.com/vcscsvcscs/medication-engine/internal/storage"
	"github.com/vcscsvcscs/medication-engine/pkg/api"
	"go.uber.org/zap"
)

// offlineProber reports the network as unreachable
type offlineProber struct{}

func (offlineProber) CheckNetworkQuality(context.Context, time.Duration) network.Quality {
	return network.Quality{}
}

type countingResumer struct {
	calls atomic.Int32
}

func (r *countingResumer) Resume() { r.calls.Add(1) }

type testAPI struct {
	router     *gin.Engine
	store      *storage.MemoryStore
	dispatcher *notify.MemoryDispatcher
	resumer    *countingResumer
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	store := storage.NewMemoryStore(logger)
	dispatcher := notify.NewMemoryDispatcher()
	queue := offline.NewQueue(store, offline.DefaultCapacity, logger)
	schedules := repository.NewScheduleRepository(store, logger)
	doses := repository.NewDoseRepository(store, logger)
	logs := repository.NewDoseLogRepository(store, logger)
	state := repository.NewStateRepository(store, logger)
	auditLogger := audit.NewLogger(store, logger)

	reminders, err := service.NewReminderScheduler(dispatcher, nil, "", "", time.UTC, logger)
	require.NoError(t, err)

	manager := service.NewDoseLifecycleManager(doses, logs, schedules, reminders, queue, auditLogger, service.DoseManagerConfig{MaxSnoozes: 3}, logger)
	scheduleService := service.NewScheduleService(schedules, doses, logs, reminders, queue, auditLogger, service.ScheduleServiceConfig{
		Lookahead: 48 * time.Hour,
		Adherence: adherence.DefaultOptions(),
		Location:  time.UTC,
	}, logger)
	coordinator := service.NewSyncCoordinator(offlineProber{}, queue, nil, nil, nil, logs, schedules, state, auditLogger, service.SyncConfig{}, logger)
	reports := service.NewReportService(scheduleService, report.NewPDFGenerator(logger), report.NewXLSXGenerator(logger), adherence.DefaultOptions(), logger)

	resumer := &countingResumer{}
	server := NewServer(
		NewScheduleHandler(scheduleService, manager, time.UTC, logger),
		NewDoseHandler(manager, logger),
		NewSyncHandler(coordinator, resumer, auditLogger, logger),
		NewReportHandler(reports, logger),
		store,
		"medication-engine",
		"test",
		logger,
	)

	router := gin.New()
	api.RegisterHandlers(router, server)
	router.GET("/api/v1/openapi.json", server.GetOpenAPISpec)

	return &testAPI{
		router:     router,
		store:      store,
		dispatcher: dispatcher,
		resumer:    resumer,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

func (a *testAPI) createSchedule(t *testing.T, body map[string]interface{}) api.ScheduleResponse {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/schedules", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[api.ScheduleResponse](t, w)
}

func (a *testAPI) asNeededDose(t *testing.T, at time.Time) api.DoseResponse {
	t.Helper()
	sched := a.createSchedule(t, map[string]interface{}{
		"medication_id":   "med-ibuprofen",
		"medication_name": "Ibuprofen",
		"pattern":         map[string]interface{}{"type": "as_needed"},
		"start_date":      today(),
	})

	w := a.do(t, http.MethodPost, "/api/v1/schedules/"+sched.Id.String()+"/doses", map[string]interface{}{
		"scheduled_time": at.UTC().Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[api.DoseResponse](t, w)
}

func TestScheduleEndpoints(t *testing.T) {
	a := newTestAPI(t)

	created := a.createSchedule(t, map[string]interface{}{
		"medication_id":   "med-metformin",
		"medication_name": "Metformin",
		"dosage":          "500mg",
		"pattern":         map[string]interface{}{"type": "daily", "times": []string{"20:00", "08:00", "08:00"}},
		"start_date":      today(),
		"priority":        "high",
	})
	assert.True(t, created.IsActive)
	assert.Equal(t, "high", created.Priority)
	assert.Equal(t, []string{"08:00", "20:00"}, created.Pattern.Times)
	assert.Equal(t, "any", *created.FoodRequirement)

	path := "/api/v1/schedules/" + created.Id.String()

	w := a.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.Id, decode[api.ScheduleResponse](t, w).Id)

	w = a.do(t, http.MethodGet, "/api/v1/schedules?active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]api.ScheduleResponse](t, w), 1)

	w = a.do(t, http.MethodGet, "/api/v1/doses?schedule_id="+created.Id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	doses := decode[[]api.DoseResponse](t, w)
	require.NotEmpty(t, doses)
	for _, d := range doses {
		assert.Equal(t, "pending", d.Status)
		assert.Equal(t, created.Id, d.ScheduleId)
	}
	assert.NotEmpty(t, a.dispatcher.Active(), "materialized doses arm reminders")

	w = a.do(t, http.MethodPut, path, map[string]interface{}{
		"medication_name": "Metformin XR",
		"pattern":         map[string]interface{}{"type": "weekly", "times": []string{"09:00"}, "days_of_week": []int{1, 3}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[api.ScheduleResponse](t, w)
	assert.Equal(t, []int{1, 3}, updated.Pattern.DaysOfWeek)
	assert.Equal(t, "Metformin XR", *updated.MedicationName)
	assert.Equal(t, created.StartDate.Format("2006-01-02"), updated.StartDate.Format("2006-01-02"))

	w = a.do(t, http.MethodPost, path+"/deactivate", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[api.ScheduleResponse](t, w).IsActive)

	w = a.do(t, http.MethodGet, "/api/v1/schedules?active=true", nil)
	assert.Empty(t, decode[[]api.ScheduleResponse](t, w))
}

func TestScheduleEndpoints_Errors(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{
			name:       "unknown schedule",
			method:     http.MethodGet,
			path:       "/api/v1/schedules/" + uuid.NewString(),
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "missing medication",
			method:     http.MethodPost,
			path:       "/api/v1/schedules",
			body:       map[string]interface{}{"pattern": map[string]interface{}{"type": "daily", "times": []string{"08:00"}}, "start_date": today()},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:   "unknown pattern type",
			method: http.MethodPost,
			path:   "/api/v1/schedules",
			body: map[string]interface{}{
				"medication_id": "med-1",
				"pattern":       map[string]interface{}{"type": "hourly", "times": []string{"08:00"}},
				"start_date":    today(),
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:   "day of week out of range",
			method: http.MethodPost,
			path:   "/api/v1/schedules",
			body: map[string]interface{}{
				"medication_id": "med-1",
				"pattern":       map[string]interface{}{"type": "weekly", "times": []string{"08:00"}, "days_of_week": []int{9}},
				"start_date":    today(),
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:   "unknown priority",
			method: http.MethodPost,
			path:   "/api/v1/schedules",
			body: map[string]interface{}{
				"medication_id": "med-1",
				"pattern":       map[string]interface{}{"type": "daily", "times": []string{"08:00"}},
				"start_date":    today(),
				"priority":      "urgent",
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "deactivate unknown schedule",
			method:     http.MethodPost,
			path:       "/api/v1/schedules/" + uuid.NewString() + "/deactivate",
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "adherence for unknown schedule",
			method:     http.MethodGet,
			path:       "/api/v1/adherence?schedule_id=" + uuid.NewString(),
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decode[api.ErrorResponse](t, w).Code)
		})
	}
}

func TestDoseEndpoints_Transitions(t *testing.T) {
	a := newTestAPI(t)

	dose := a.asNeededDose(t, time.Now().Add(-time.Hour))
	assert.True(t, dose.AsNeeded)
	assert.True(t, dose.IsOverdue)
	assert.Equal(t, "pending", dose.Status)

	path := "/api/v1/doses/" + dose.Id.String()

	w := a.do(t, http.MethodPost, path+"/taken", map[string]interface{}{"notes": "<b>with</b> breakfast"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	taken := decode[api.DoseResponse](t, w)
	assert.Equal(t, "taken", taken.Status)
	assert.False(t, taken.IsOverdue)
	assert.Empty(t, a.dispatcher.ActiveFor(dose.Id.String()), "reminders cancelled once taken")

	for _, action := range []string{"taken", "missed", "skipped"} {
		w = a.do(t, http.MethodPost, path+"/"+action, nil)
		assert.Equal(t, http.StatusConflict, w.Code, action)
		assert.Equal(t, "INVALID_TRANSITION", decode[api.ErrorResponse](t, w).Code)
	}

	w = a.do(t, http.MethodPost, path+"/snooze", map[string]int{"minutes": 10})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "taken", decode[api.DoseResponse](t, w).Status)

	w = a.do(t, http.MethodGet, "/api/v1/adherence?by_medication=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[api.AdherenceResponse](t, w)
	assert.Equal(t, 1, stats.TakenCount)
	assert.Equal(t, 100.0, stats.AdherenceRate)
	assert.Contains(t, stats.ByMedication, "med-ibuprofen")

	w = a.do(t, http.MethodGet, "/api/v1/doses/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDoseEndpoints_MissedAndSkipped(t *testing.T) {
	a := newTestAPI(t)

	missed := a.asNeededDose(t, time.Now().Add(-2*time.Hour))
	w := a.do(t, http.MethodPost, "/api/v1/doses/"+missed.Id.String()+"/missed", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "missed", decode[api.DoseResponse](t, w).Status)

	skipped := a.asNeededDose(t, time.Now().Add(-time.Hour))
	w = a.do(t, http.MethodPost, "/api/v1/doses/"+skipped.Id.String()+"/skipped", map[string]string{"notes": "nausea"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "skipped", decode[api.DoseResponse](t, w).Status)

	w = a.do(t, http.MethodGet, "/api/v1/doses?status=missed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[[]api.DoseResponse](t, w)
	require.Len(t, listed, 1)
	assert.Equal(t, missed.Id, listed[0].Id)
}

func TestDoseEndpoints_Snooze(t *testing.T) {
	a := newTestAPI(t)

	dose := a.asNeededDose(t, time.Now().Add(time.Hour))
	path := "/api/v1/doses/" + dose.Id.String() + "/snooze"

	w := a.do(t, http.MethodPost, path, map[string]int{"minutes": 15})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snoozed := decode[api.DoseResponse](t, w)
	assert.Equal(t, 1, snoozed.SnoozeCount)
	assert.Equal(t, dose.ScheduledTime.Add(15*time.Minute), snoozed.ScheduledTime)
	assert.Equal(t, dose.OriginalTime, snoozed.OriginalTime)

	w = a.do(t, http.MethodPost, path, map[string]int{"minutes": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, path, `{"minutes":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for i := 0; i < 2; i++ {
		w = a.do(t, http.MethodPost, path, map[string]int{"minutes": 5})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = a.do(t, http.MethodPost, path, map[string]int{"minutes": 5})
	assert.Equal(t, http.StatusConflict, w.Code, "snooze limit reached")
	assert.Equal(t, "INVALID_TRANSITION", decode[api.ErrorResponse](t, w).Code)
}

func TestDoseEndpoints_ListValidation(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/v1/doses?status=forgotten", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/doses?from=2026-03-02T10:00:00Z&to=2026-03-01T10:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/doses", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestOverdueAndConflicts(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/v1/overdue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snapshot := decode[api.OverdueResponse](t, w)
	assert.Nil(t, snapshot.ComputedAt, "no pass has run yet")
	assert.Empty(t, snapshot.DoseIds)

	at := time.Now().Add(2 * time.Hour)
	a.asNeededDose(t, at)
	a.asNeededDose(t, at)

	w = a.do(t, http.MethodGet, "/api/v1/conflicts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	conflicts := decode[[]api.ConflictResponse](t, w)
	require.Len(t, conflicts, 1)
	assert.Len(t, conflicts[0].Doses, 2)
}

func TestSyncEndpoints(t *testing.T) {
	a := newTestAPI(t)
	a.asNeededDose(t, time.Now())

	w := a.do(t, http.MethodPost, "/api/v1/sync", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[api.SyncResultResponse](t, w)
	assert.False(t, result.Online)
	assert.Equal(t, service.ModeOffline, result.Mode)
	assert.Nil(t, result.RttMs)

	w = a.do(t, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[api.SyncStatusResponse](t, w)
	assert.False(t, status.InProgress)
	assert.Positive(t, status.QueueLength, "offline actions stay queued")
	require.NotNil(t, status.LastSync)
	assert.Equal(t, service.ModeOffline, status.LastSync.Mode)

	w = a.do(t, http.MethodPost, "/api/v1/lifecycle/resume", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, int32(1), a.resumer.calls.Load())
}

func TestPreferencesEndpoints(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/v1/preferences", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())

	w = a.do(t, http.MethodPut, "/api/v1/preferences", `{"theme":"dark","reminder_sound":{"volume":7}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/api/v1/preferences", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"theme":"dark","reminder_sound":{"volume":7}}`, w.Body.String())

	w = a.do(t, http.MethodPut, "/api/v1/preferences", `["not","an","object"]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditEndpoint(t *testing.T) {
	a := newTestAPI(t)
	a.asNeededDose(t, time.Now())

	w := a.do(t, http.MethodGet, "/api/v1/audit?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]api.AuditEntryResponse](t, w)
	require.NotEmpty(t, entries)
	assert.Equal(t, string(audit.OperationCreate), entries[len(entries)-1].OperationType)
	assert.Equal(t, string(audit.ResourceSchedule), entries[len(entries)-1].ResourceType)

	w = a.do(t, http.MethodGet, "/api/v1/audit?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportEndpoints(t *testing.T) {
	a := newTestAPI(t)
	dose := a.asNeededDose(t, time.Now().Add(-time.Hour))
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/v1/doses/"+dose.Id.String()+"/taken", nil).Code)

	w := a.do(t, http.MethodGet, "/api/v1/reports/adherence.pdf?patient=Jane%20Doe", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, contentTypePDF, w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "adherence_report.pdf")

	w = a.do(t, http.MethodGet, "/api/v1/reports/adherence.xlsx", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, contentTypeXLSX, w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")), "xlsx is a zip container")
}

func TestHealthAndAPIDocument(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[api.HealthResponse](t, w)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)

	w = a.do(t, http.MethodGet, "/api/v1/openapi.json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"/api/v1/doses/{id}/snooze"`)

	a.store.FailWith = errors.New("disk unavailable")
	w = a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "disconnected", decode[api.HealthResponse](t, w).Storage)
}
