package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vcscsvcscs/medication-engine/internal/config"
	"github.com/vcscsvcscs/medication-engine/internal/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig() *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{Service: "medication-engine-test"},
		Storage: config.StorageConfig{Backend: "memory"},
		Engine: config.EngineConfig{
			Timezone:        "UTC",
			Lookahead:       48 * time.Hour,
			MaxSnoozes:      3,
			ReminderOffsets: []int{15, 0},
			ConflictWindow:  15 * time.Minute,
			OverdueInterval: time.Hour,
			AdherenceWeeks:  4,
		},
		Sync: config.SyncConfig{
			Interval:             time.Hour,
			ConnectivityInterval: time.Hour,
			ProbeTimeout:         100 * time.Millisecond,
			BatchSize:            50,
			PowerSavingBatchSize: 10,
			QueueCapacity:        100,
			ResolvePolicy:        "medical_priority",
			DeviceID:             "device-test",
		},
		Notify: config.NotifyConfig{Transport: "memory"},
	}
}

func TestNew_ServesHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	a, err := New(context.Background(), testConfig(), zap.New(core))
	require.NoError(t, err)
	defer a.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "medication-engine-test", body["service"])
	assert.Equal(t, Version, body["version"])

	wired := logs.FilterMessage("engine wired").All()
	require.Len(t, wired, 1)
	assert.Equal(t, "medical_priority", wired[0].ContextMap()["policy"])
	assert.Equal(t, "UTC", wired[0].ContextMap()["timezone"])
}

func TestNew_CORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	a, err := New(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/schedules", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNew_ServesOpenAPIDocument(t *testing.T) {
	gin.SetMode(gin.TestMode)

	a, err := New(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/openapi.json", nil)
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"openapi"`)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		errMsg string
	}{
		{
			name:   "unknown policy",
			mutate: func(c *config.Config) { c.Sync.ResolvePolicy = "coin_flip" },
			errMsg: "coin_flip",
		},
		{
			name:   "unknown timezone",
			mutate: func(c *config.Config) { c.Engine.Timezone = "Mars/Olympus" },
			errMsg: "invalid timezone",
		},
		{
			name:   "unknown storage",
			mutate: func(c *config.Config) { c.Storage.Backend = "floppy" },
			errMsg: "failed to open storage",
		},
		{
			name:   "unknown transport",
			mutate: func(c *config.Config) { c.Notify.Transport = "pigeon" },
			errMsg: "pigeon",
		},
		{
			name:   "bad quiet hours",
			mutate: func(c *config.Config) { c.Engine.QuietHoursStart, c.Engine.QuietHoursEnd = "25:00", "07:00" },
			errMsg: "quiet hours",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)

			a, err := New(context.Background(), cfg, zap.NewNop())
			require.Error(t, err)
			assert.Nil(t, a)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}
