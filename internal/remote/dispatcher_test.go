package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcscsvcscs/medication-engine/internal/offline"
	"github.com/vcscsvcscs/medication-engine/internal/resolver"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

type recordedRequest struct {
	method         string
	path           string
	idempotencyKey string
	body           []byte
}

func newTestServer(t *testing.T, status int, requests *[]recordedRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*requests = append(*requests, recordedRequest{
			method:         r.Method,
			path:           r.URL.Path,
			idempotencyKey: r.Header.Get("Idempotency-Key"),
			body:           body,
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDispatch_Routes(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		action offline.Action
		method string
		path   string
	}{
		{"taken", offline.DoseTakenAction{DoseID: "d1", ActualTime: now}, http.MethodPost, "/api/v1/doses/d1/taken"},
		{"missed", offline.DoseMissedAction{DoseID: "d1"}, http.MethodPost, "/api/v1/doses/d1/missed"},
		{"skipped", offline.DoseSkippedAction{DoseID: "d1"}, http.MethodPost, "/api/v1/doses/d1/skipped"},
		{"snoozed", offline.DoseSnoozedAction{DoseID: "d1", Minutes: 10}, http.MethodPost, "/api/v1/doses/d1/snooze"},
		{"schedule upsert", offline.ScheduleUpsertAction{Schedule: model.MedicationSchedule{ID: "s1"}}, http.MethodPut, "/api/v1/schedules/s1"},
		{"schedule deactivated", offline.ScheduleDeactivatedAction{ScheduleID: "s1"}, http.MethodPost, "/api/v1/schedules/s1/deactivate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests []recordedRequest
			server := newTestServer(t, http.StatusOK, &requests)
			d := NewDispatcher(server.URL, time.Second, "device-1", zap.NewNop())

			item, err := offline.NewItem(tt.action, now)
			require.NoError(t, err)

			require.NoError(t, d.Dispatch(context.Background(), item))
			require.Len(t, requests, 1)
			assert.Equal(t, tt.method, requests[0].method)
			assert.Equal(t, tt.path, requests[0].path)
			assert.Equal(t, item.ID, requests[0].idempotencyKey)
			assert.JSONEq(t, string(item.Payload), string(requests[0].body))
		})
	}
}

func TestDispatch_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusConflict, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var requests []recordedRequest
			server := newTestServer(t, tt.status, &requests)
			d := NewDispatcher(server.URL, time.Second, "device-1", zap.NewNop())

			item, err := offline.NewItem(offline.DoseMissedAction{DoseID: "d1"}, time.Now())
			require.NoError(t, err)

			err = d.Dispatch(context.Background(), item)
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, !tt.transient, IsPermanent(err))
		})
	}
}

func TestDispatch_NetworkErrorIsTransient(t *testing.T) {
	d := NewDispatcher("http://127.0.0.1:1", 200*time.Millisecond, "device-1", zap.NewNop())

	item, err := offline.NewItem(offline.DoseMissedAction{DoseID: "d1"}, time.Now())
	require.NoError(t, err)

	assert.True(t, IsTransient(d.Dispatch(context.Background(), item)))
}

func TestDispatch_UnknownActionIsPermanent(t *testing.T) {
	d := NewDispatcher("http://127.0.0.1:1", time.Second, "device-1", zap.NewNop())

	err := d.Dispatch(context.Background(), model.OfflineQueueItem{ID: "x", Action: "refill", Payload: json.RawMessage(`{}`)})
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, offline.ErrUnknownAction)
}

func TestSnapshotExchange(t *testing.T) {
	var pushed resolver.Snapshot
	stored := resolver.Snapshot{
		Logs: []resolver.LogRecord{{ID: "1", UpdatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, syncStatePath, r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(stored)
		case http.MethodPut:
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&pushed))
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	d := NewDispatcher(server.URL, time.Second, "device-1", zap.NewNop())

	snapshot, err := d.FetchSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Logs, 1)
	assert.Equal(t, "1", snapshot.Logs[0].ID)

	snapshot.Preferences = map[string]json.RawMessage{"theme": json.RawMessage(`"dark"`)}
	require.NoError(t, d.PushSnapshot(context.Background(), snapshot))
	assert.Equal(t, json.RawMessage(`"dark"`), pushed.Preferences["theme"])
}

func TestFetchSnapshot_NotFoundIsEmpty(t *testing.T) {
	var requests []recordedRequest
	server := newTestServer(t, http.StatusNotFound, &requests)
	d := NewDispatcher(server.URL, time.Second, "device-1", zap.NewNop())

	snapshot, err := d.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snapshot.Logs)
}
