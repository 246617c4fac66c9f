package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/vcscsvcscs/medication-engine/internal/adherence"
	"github.com/vcscsvcscs/medication-engine/internal/audit"
	"github.com/vcscsvcscs/medication-engine/internal/config"
	"github.com/vcscsvcscs/medication-engine/internal/handler"
	"github.com/vcscsvcscs/medication-engine/internal/middleware"
	"github.com/vcscsvcscs/medication-engine/internal/network"
	"github.com/vcscsvcscs/medication-engine/internal/notify"
	"github.com/vcscsvcscs/medication-engine/internal/offline"
	"github.com/vcscsvcscs/medication-engine/internal/remote"
	"github.com/vcscsvcscs/medication-engine/internal/report"
	"github.com/vcscsvcscs/medication-engine/internal/repository"
	"github.com/vcscsvcscs/medication-engine/internal/resolver"
	"github.com/vcscsvcscs/medication-engine/internal/service"
	"github.com/vcscsvcscs/medication-engine/internal/storage"
	"github.com/vcscsvcscs/medication-engine/pkg/api"
	"go.uber.org/zap"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

const slowRequestThreshold = time.Second

// App holds the wired engine: the HTTP router and the background runner
type App struct {
	Router *gin.Engine
	Runner *service.Runner

	// Exposed for callers that drive the engine without HTTP
	Schedules *service.ScheduleService
	Doses     *service.DoseLifecycleManager
	Sync      *service.SyncCoordinator

	closers []func()
	logger  *zap.Logger
}

// New opens storage and builds every engine component from cfg
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	loc, err := cfg.Engine.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}

	policy, err := resolver.ParsePolicy(cfg.Sync.ResolvePolicy)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := storage.Open(ctx, cfg.Storage, cfg.Sync.DeviceID, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	dispatcher, err := a.notifier(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	// Repositories
	scheduleRepo := repository.NewScheduleRepository(store, logger)
	doseRepo := repository.NewDoseRepository(store, logger)
	logRepo := repository.NewDoseLogRepository(store, logger)
	stateRepo := repository.NewStateRepository(store, logger)
	auditLogger := audit.NewLogger(store, logger)
	queue := offline.NewQueue(store, cfg.Sync.QueueCapacity, logger)

	// Services
	reminders, err := service.NewReminderScheduler(
		dispatcher,
		cfg.Engine.ReminderOffsets,
		cfg.Engine.QuietHoursStart,
		cfg.Engine.QuietHoursEnd,
		loc,
		logger,
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Doses = service.NewDoseLifecycleManager(doseRepo, logRepo, scheduleRepo, reminders, queue, auditLogger, service.DoseManagerConfig{
		MaxSnoozes:  cfg.Engine.MaxSnoozes,
		MissedGrace: cfg.Engine.MissedGrace,
	}, logger)

	adherenceOpts := adherence.Options{
		Window: cfg.Engine.AdherenceWindow,
		Weeks:  cfg.Engine.AdherenceWeeks,
	}
	a.Schedules = service.NewScheduleService(scheduleRepo, doseRepo, logRepo, reminders, queue, auditLogger, service.ScheduleServiceConfig{
		Lookahead:      cfg.Engine.Lookahead,
		ConflictWindow: cfg.Engine.ConflictWindow,
		Adherence:      adherenceOpts,
		Location:       loc,
	}, logger)

	healthURL := cfg.Sync.HealthURL
	if healthURL == "" && cfg.Sync.RemoteBaseURL != "" {
		healthURL = strings.TrimSuffix(cfg.Sync.RemoteBaseURL, "/") + "/health"
	}
	monitor := network.NewMonitor(healthURL, logger)
	remoteAPI := remote.NewDispatcher(cfg.Sync.RemoteBaseURL, cfg.Sync.RemoteTimeout, cfg.Sync.DeviceID, logger)

	var battery service.BatteryProvider = service.NoBattery{}
	if cfg.Sync.BatteryPath != "" {
		battery = service.SysfsBattery{Dir: cfg.Sync.BatteryPath}
	}

	a.Sync = service.NewSyncCoordinator(monitor, queue, remoteAPI, remoteAPI, battery, logRepo, scheduleRepo, stateRepo, auditLogger, service.SyncConfig{
		ProbeTimeout:         cfg.Sync.ProbeTimeout,
		BatchSize:            cfg.Sync.BatchSize,
		PowerSavingBatchSize: cfg.Sync.PowerSavingBatchSize,
		LowBatteryThreshold:  cfg.Sync.LowBatteryThreshold,
		Policy:               policy,
	}, logger)

	a.Runner = service.NewRunner(a.Doses, a.Schedules, a.Sync, monitor, service.RunnerConfig{
		OverdueInterval:      cfg.Engine.OverdueInterval,
		SyncInterval:         cfg.Sync.Interval,
		ConnectivityInterval: cfg.Sync.ConnectivityInterval,
		ProbeTimeout:         cfg.Sync.ProbeTimeout,
	}, logger)

	reports := service.NewReportService(a.Schedules, report.NewPDFGenerator(logger), report.NewXLSXGenerator(logger), adherenceOpts, logger)

	// Handlers
	server := handler.NewServer(
		handler.NewScheduleHandler(a.Schedules, a.Doses, loc, logger),
		handler.NewDoseHandler(a.Doses, logger),
		handler.NewSyncHandler(a.Sync, a.Runner, auditLogger, logger),
		handler.NewReportHandler(reports, logger),
		store,
		cfg.Logging.Service,
		Version,
		logger,
	)

	a.Router = newRouter(server, cfg.Sync.DeviceID, logger)

	logger.Info("engine wired",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("notify", cfg.Notify.Transport),
		zap.String("policy", string(policy)),
		zap.String("timezone", loc.String()),
	)

	return a, nil
}

// notifier builds the configured notification transport
func (a *App) notifier(cfg *config.Config) (notify.Dispatcher, error) {
	switch cfg.Notify.Transport {
	case "mqtt":
		d, err := notify.NewMQTTDispatcher(cfg.Notify.MQTT, cfg.Sync.DeviceID, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect notification broker: %w", err)
		}
		a.closers = append(a.closers, d.Close)
		return d, nil
	case "memory", "":
		return notify.NewMemoryDispatcher(), nil
	default:
		return nil, fmt.Errorf("unknown notification transport %q", cfg.Notify.Transport)
	}
}

func newRouter(server *handler.Server, deviceID string, logger *zap.Logger) *gin.Engine {
	r := gin.New()

	// Recovery must be first
	r.Use(middleware.RecoveryMiddleware(logger))

	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader, middleware.DeviceIDHeader},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))

	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.DeviceMiddleware(deviceID))
	r.Use(middleware.RequestLoggingMiddleware(logger))
	r.Use(middleware.ErrorLoggingMiddleware(logger))
	r.Use(middleware.SlowRequestMiddleware(logger, slowRequestThreshold))

	api.RegisterHandlers(r, server)
	r.GET("/api/v1/openapi.json", server.GetOpenAPISpec)

	return r
}

// Run blocks in the background runner until ctx is cancelled
func (a *App) Run(ctx context.Context) {
	a.Runner.Run(ctx)
}

// Close releases storage and transport connections in reverse order
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
