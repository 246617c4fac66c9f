package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vcscsvcscs/medication-engine/internal/network"
	"go.uber.org/zap"
)

// ConnectivityWatcher polls connectivity and reports when it comes back
type ConnectivityWatcher interface {
	Poll(ctx context.Context, timeout time.Duration) (network.Quality, bool)
}

// RunnerConfig sets the cadence of background passes
type RunnerConfig struct {
	OverdueInterval      time.Duration
	SyncInterval         time.Duration
	ConnectivityInterval time.Duration
	MaterializeInterval  time.Duration
	ProbeTimeout         time.Duration
}

// Runner drives the periodic engine work: overdue recomputation, dose
// materialization, and syncs on an interval, on resume and on connectivity regain
type Runner struct {
	doses     *DoseLifecycleManager
	schedules *ScheduleService
	sync      *SyncCoordinator
	watcher   ConnectivityWatcher
	cfg       RunnerConfig
	logger    *zap.Logger

	resume chan struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a new Runner
func NewRunner(doses *DoseLifecycleManager, schedules *ScheduleService, coordinator *SyncCoordinator, watcher ConnectivityWatcher, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if cfg.OverdueInterval <= 0 {
		cfg.OverdueInterval = time.Minute
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 15 * time.Minute
	}
	if cfg.ConnectivityInterval <= 0 {
		cfg.ConnectivityInterval = 30 * time.Second
	}
	if cfg.MaterializeInterval <= 0 {
		cfg.MaterializeInterval = 24 * time.Hour
	}

	return &Runner{
		doses:     doses,
		schedules: schedules,
		sync:      coordinator,
		watcher:   watcher,
		cfg:       cfg,
		logger:    logger,
		resume:    make(chan struct{}, 1),
	}
}

// Resume requests a sync, as when the app returns to the foreground
func (r *Runner) Resume() {
	select {
	case r.resume <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled and in-flight syncs have finished
func (r *Runner) Run(ctx context.Context) {
	overdue := time.NewTicker(r.cfg.OverdueInterval)
	syncTick := time.NewTicker(r.cfg.SyncInterval)
	connectivity := time.NewTicker(r.cfg.ConnectivityInterval)
	materialize := time.NewTicker(r.cfg.MaterializeInterval)
	defer func() {
		overdue.Stop()
		syncTick.Stop()
		connectivity.Stop()
		materialize.Stop()
		r.wg.Wait()
	}()

	r.logger.Info("engine runner started",
		zap.Duration("overdue_interval", r.cfg.OverdueInterval),
		zap.Duration("sync_interval", r.cfg.SyncInterval),
		zap.Duration("connectivity_interval", r.cfg.ConnectivityInterval),
	)

	r.materialize(ctx)
	r.doses.RecomputeOverdue(ctx, time.Now())
	r.triggerSync(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("engine runner stopped")
			return
		case now := <-overdue.C:
			r.doses.RecomputeOverdue(ctx, now)
		case <-materialize.C:
			r.materialize(ctx)
		case <-syncTick.C:
			r.triggerSync(ctx, "interval")
		case <-r.resume:
			r.triggerSync(ctx, "resume")
		case <-connectivity.C:
			if _, regained := r.watcher.Poll(ctx, r.cfg.ProbeTimeout); regained {
				r.triggerSync(ctx, "connectivity_regained")
			}
		}
	}
}

func (r *Runner) materialize(ctx context.Context) {
	if _, err := r.schedules.Materialize(ctx); err != nil {
		r.logger.Error("dose materialization failed", zap.Error(err))
	}
}

// triggerSync starts a cycle in the background; overlapping triggers are dropped
func (r *Runner) triggerSync(ctx context.Context, reason string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		_, err := r.sync.SmartSync(ctx)
		switch {
		case errors.Is(err, ErrSyncInProgress):
			r.logger.Debug("sync already running, trigger dropped", zap.String("reason", reason))
		case err != nil:
			r.logger.Warn("sync cycle failed", zap.String("reason", reason), zap.Error(err))
		}
	}()
}
