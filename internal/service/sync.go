package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vcscsvcscs/medication-engine/internal/audit"
	"github.com/vcscsvcscs/medication-engine/internal/network"
	"github.com/vcscsvcscs/medication-engine/internal/remote"
	"github.com/vcscsvcscs/medication-engine/internal/repository"
	"github.com/vcscsvcscs/medication-engine/internal/resolver"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

// ErrSyncInProgress is returned when a sync cycle is already running
var ErrSyncInProgress = errors.New("sync already in progress")

const (
	lastSyncKey     = "last_sync"
	preferencesKey  = "preferences"
	syncSnapshotKey = "sync_snapshot"

	ModeNormal      = "normal"
	ModePowerSaving = "power_saving"
	ModeOffline     = "offline"
)

// ConnectivityProber probes the remote health endpoint
type ConnectivityProber interface {
	CheckNetworkQuality(ctx context.Context, timeout time.Duration) network.Quality
}

// ActionDispatcher delivers one queued action to the remote system
type ActionDispatcher interface {
	Dispatch(ctx context.Context, item model.OfflineQueueItem) error
}

// SnapshotExchanger reads and writes the server's reconciliation state
type SnapshotExchanger interface {
	FetchSnapshot(ctx context.Context) (resolver.Snapshot, error)
	PushSnapshot(ctx context.Context, snapshot resolver.Snapshot) error
}

// SyncQueue is the queue surface the coordinator drains
type SyncQueue interface {
	Peek(ctx context.Context, n int) ([]model.OfflineQueueItem, error)
	Remove(ctx context.Context, ids ...string) (int, error)
	Optimize(ctx context.Context) (int, error)
	Len(ctx context.Context) (int, error)
}

// SyncConfig tunes the sync cycle
type SyncConfig struct {
	ProbeTimeout         time.Duration
	BatchSize            int
	PowerSavingBatchSize int
	LowBatteryThreshold  int
	Policy               resolver.Policy
}

// SyncResult describes one sync cycle
type SyncResult struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Online     bool      `json:"online"`
	RTTMillis  int64     `json:"rtt_ms,omitempty"`
	Mode       string    `json:"mode"`
	BatchSize  int       `json:"batch_size,omitempty"`
	Dispatched int       `json:"dispatched"`
	Requeued   int       `json:"requeued"`
	Optimized  int       `json:"optimized"`
	Remaining  int       `json:"remaining"`
	Reconciled bool      `json:"reconciled"`
	Error      string    `json:"error,omitempty"`
}

// SyncStatus is the coordinator state exposed to the UI
type SyncStatus struct {
	InProgress  bool        `json:"in_progress"`
	QueueLength int         `json:"queue_length"`
	LastSync    *SyncResult `json:"last_sync,omitempty"`
}

// SyncCoordinator drains the offline queue to the remote system and reconciles
// state. At most one cycle runs at a time.
type SyncCoordinator struct {
	prober     ConnectivityProber
	queue      SyncQueue
	dispatcher ActionDispatcher
	exchanger  SnapshotExchanger
	battery    BatteryProvider
	logs       *repository.DoseLogRepository
	schedules  *repository.ScheduleRepository
	state      *repository.StateRepository
	audit      *audit.Logger
	cfg        SyncConfig
	now        func() time.Time
	logger     *zap.Logger

	running  atomic.Bool
	statusMu sync.RWMutex
	last     *SyncResult
}

// NewSyncCoordinator creates a new SyncCoordinator
func NewSyncCoordinator(
	prober ConnectivityProber,
	queue SyncQueue,
	dispatcher ActionDispatcher,
	exchanger SnapshotExchanger,
	battery BatteryProvider,
	logs *repository.DoseLogRepository,
	schedules *repository.ScheduleRepository,
	state *repository.StateRepository,
	auditLogger *audit.Logger,
	cfg SyncConfig,
	logger *zap.Logger,
) *SyncCoordinator {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = network.DefaultProbeTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PowerSavingBatchSize <= 0 {
		cfg.PowerSavingBatchSize = 10
	}
	if cfg.LowBatteryThreshold <= 0 {
		cfg.LowBatteryThreshold = 20
	}
	if cfg.Policy == "" {
		cfg.Policy = resolver.PolicyMedicalPriority
	}
	if battery == nil {
		battery = NoBattery{}
	}

	c := &SyncCoordinator{
		prober:     prober,
		queue:      queue,
		dispatcher: dispatcher,
		exchanger:  exchanger,
		battery:    battery,
		logs:       logs,
		schedules:  schedules,
		state:      state,
		audit:      auditLogger,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}

	var last SyncResult
	if state.Load(context.Background(), lastSyncKey, &last) {
		c.last = &last
	}
	return c
}

// SmartSync runs one sync cycle: probe, then drain and reconcile when online or
// compact the queue when offline. A concurrent call returns ErrSyncInProgress.
func (c *SyncCoordinator) SmartSync(ctx context.Context) (SyncResult, error) {
	if !c.running.CompareAndSwap(false, true) {
		return SyncResult{}, ErrSyncInProgress
	}
	defer c.running.Store(false)

	result := SyncResult{StartedAt: c.now()}
	quality := c.prober.CheckNetworkQuality(ctx, c.cfg.ProbeTimeout)
	result.Online = quality.IsOnline
	result.RTTMillis = quality.RTTMillis()

	var err error
	if quality.IsOnline {
		err = c.syncOnline(ctx, &result)
	} else {
		err = c.optimizeOfflineStorage(ctx, &result)
	}
	if err != nil {
		result.Error = err.Error()
	}

	if n, lerr := c.queue.Len(ctx); lerr == nil {
		result.Remaining = n
	}
	result.FinishedAt = c.now()
	c.record(ctx, result)

	c.logger.Info("sync cycle completed",
		zap.Bool("online", result.Online),
		zap.String("mode", result.Mode),
		zap.Int("dispatched", result.Dispatched),
		zap.Int("requeued", result.Requeued),
		zap.Int("remaining", result.Remaining),
		zap.Bool("reconciled", result.Reconciled),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
	)

	return result, err
}

// batchSize picks the drain size from the battery signal. An unavailable
// signal selects normal mode.
func (c *SyncCoordinator) batchSize(ctx context.Context) (int, string) {
	status, err := c.battery.Battery(ctx)
	if err != nil {
		c.logger.Debug("battery level unavailable, using normal sync mode", zap.Error(err))
		return c.cfg.BatchSize, ModeNormal
	}
	if status.Level < c.cfg.LowBatteryThreshold && !status.Charging {
		return c.cfg.PowerSavingBatchSize, ModePowerSaving
	}
	return c.cfg.BatchSize, ModeNormal
}

func (c *SyncCoordinator) syncOnline(ctx context.Context, result *SyncResult) error {
	size, mode := c.batchSize(ctx)
	result.Mode = mode
	result.BatchSize = size

	drainErr := c.drain(ctx, size, result)

	if err := c.reconcile(ctx); err != nil {
		c.logger.Warn("reconciliation failed", zap.Error(err))
	} else {
		result.Reconciled = true
	}

	return drainErr
}

// drain dispatches up to size items in order and then removes the dispatched
// prefix. Items stay queued until delivered, so a crash mid-drain redelivers
// rather than loses them. On the first failure the drain stops and the failing
// item keeps the head, so a stuck head blocks the items behind it.
func (c *SyncCoordinator) drain(ctx context.Context, size int, result *SyncResult) error {
	batch, err := c.queue.Peek(ctx, size)
	if err != nil {
		return fmt.Errorf("failed to read offline queue: %w", err)
	}

	var dispatchErr error
	delivered := make([]string, 0, len(batch))
	for i, item := range batch {
		err := c.dispatcher.Dispatch(ctx, item)
		if err == nil {
			delivered = append(delivered, item.ID)
			continue
		}

		result.Requeued = len(batch) - i
		fields := []zap.Field{
			zap.String("id", item.ID),
			zap.String("action", item.Action),
			zap.Int("requeued", result.Requeued),
			zap.Error(err),
		}
		if remote.IsPermanent(err) {
			c.logger.Error("remote rejected queued action, queue head is blocked", fields...)
		} else {
			c.logger.Warn("dispatch failed, will retry next cycle", fields...)
		}
		dispatchErr = fmt.Errorf("dispatch of %s failed: %w", item.ID, err)
		break
	}
	result.Dispatched = len(delivered)

	if _, err := c.queue.Remove(ctx, delivered...); err != nil {
		// the remote deduplicates redelivered items by Idempotency-Key
		c.logger.Error("failed to remove dispatched actions, they will be redelivered",
			zap.Int("count", len(delivered)),
			zap.Error(err),
		)
		return errors.Join(dispatchErr, fmt.Errorf("failed to remove dispatched actions: %w", err))
	}
	if dispatchErr != nil {
		return dispatchErr
	}

	if len(batch) > 0 {
		if err := c.audit.Log(ctx, audit.Entry{
			OperationType:  audit.OperationSync,
			ResourceType:   audit.ResourceQueue,
			AdditionalData: map[string]interface{}{"dispatched": result.Dispatched},
		}); err != nil {
			c.logger.Warn("failed to audit sync", zap.Error(err))
		}
	}
	return nil
}

func (c *SyncCoordinator) optimizeOfflineStorage(ctx context.Context, result *SyncResult) error {
	result.Mode = ModeOffline

	removed, err := c.queue.Optimize(ctx)
	if err != nil {
		return fmt.Errorf("failed to optimize offline queue: %w", err)
	}
	result.Optimized = removed
	return nil
}

// reconcile merges local and server state, applies the merge locally and
// pushes it back
func (c *SyncCoordinator) reconcile(ctx context.Context) error {
	server, err := c.exchanger.FetchSnapshot(ctx)
	if err != nil {
		return err
	}

	local := c.localSnapshot(ctx)
	merged, err := resolver.Resolve(local, server, c.cfg.Policy)
	if err != nil {
		return err
	}

	c.apply(ctx, merged)
	if err := c.state.Save(ctx, syncSnapshotKey, merged); err != nil {
		return err
	}
	return c.exchanger.PushSnapshot(ctx, merged)
}

// localSnapshot assembles the device's view: dose logs, schedules as
// prescriptions, preferences and whatever else the last merge carried
func (c *SyncCoordinator) localSnapshot(ctx context.Context) resolver.Snapshot {
	var previous resolver.Snapshot
	c.state.Load(ctx, syncSnapshotKey, &previous)

	snapshot := resolver.Snapshot{Extra: previous.Extra}

	for _, l := range c.logs.FindSince(ctx, time.Time{}) {
		record, err := json.Marshal(l)
		if err != nil {
			continue
		}
		snapshot.Logs = append(snapshot.Logs, resolver.LogRecord{ID: l.ID, UpdatedAt: l.CreatedAt, Record: record})
	}

	for _, s := range c.schedules.FindAll(ctx) {
		record, err := json.Marshal(s)
		if err != nil {
			continue
		}
		if snapshot.Prescriptions == nil {
			snapshot.Prescriptions = make(map[string]json.RawMessage)
		}
		snapshot.Prescriptions[s.ID] = record
	}

	var prefs map[string]json.RawMessage
	if c.state.Load(ctx, preferencesKey, &prefs) {
		snapshot.Preferences = prefs
	}
	return snapshot
}

// apply writes merged logs and preferences back to local storage. Server
// prescriptions are kept in the persisted snapshot and not applied to local
// schedules.
func (c *SyncCoordinator) apply(ctx context.Context, merged resolver.Snapshot) {
	logs := make([]model.DoseLog, 0, len(merged.Logs))
	for _, rec := range merged.Logs {
		var l model.DoseLog
		if err := json.Unmarshal(rec.Record, &l); err != nil || l.ID == "" {
			c.logger.Warn("skipping undecodable merged log", zap.String("id", rec.ID))
			continue
		}
		logs = append(logs, l)
	}
	if err := c.logs.Upsert(ctx, logs); err != nil {
		c.logger.Error("failed to apply merged logs", zap.Error(err))
	}

	if merged.Preferences != nil {
		if err := c.state.Save(ctx, preferencesKey, merged.Preferences); err != nil {
			c.logger.Error("failed to apply merged preferences", zap.Error(err))
		}
	}
}

func (c *SyncCoordinator) record(ctx context.Context, result SyncResult) {
	c.statusMu.Lock()
	c.last = &result
	c.statusMu.Unlock()

	if err := c.state.Save(ctx, lastSyncKey, result); err != nil {
		c.logger.Warn("failed to persist sync metadata", zap.Error(err))
	}
}

// Status reports whether a cycle is running, the queue length and the last result
func (c *SyncCoordinator) Status(ctx context.Context) SyncStatus {
	status := SyncStatus{InProgress: c.running.Load()}

	if n, err := c.queue.Len(ctx); err == nil {
		status.QueueLength = n
	}

	c.statusMu.RLock()
	if c.last != nil {
		last := *c.last
		status.LastSync = &last
	}
	c.statusMu.RUnlock()

	return status
}

// Preferences returns the locally stored user preferences
func (c *SyncCoordinator) Preferences(ctx context.Context) map[string]json.RawMessage {
	var prefs map[string]json.RawMessage
	c.state.Load(ctx, preferencesKey, &prefs)
	return prefs
}

// SetPreferences replaces the locally stored user preferences
func (c *SyncCoordinator) SetPreferences(ctx context.Context, prefs map[string]json.RawMessage) error {
	return c.state.Save(ctx, preferencesKey, prefs)
}
