package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/vcscsvcscs/medication-engine/internal/offline"
	"github.com/vcscsvcscs/medication-engine/internal/resolver"
	"github.com/vcscsvcscs/medication-engine/pkg/model"
	"go.uber.org/zap"
)

const syncStatePath = "/api/v1/sync/state"

// Dispatcher delivers queued actions to the remote API. Every call is
// idempotent on the server side through the Idempotency-Key header.
type Dispatcher struct {
	client *resty.Client
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher for the API at baseURL
func NewDispatcher(baseURL string, timeout time.Duration, deviceID string, logger *zap.Logger) *Dispatcher {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("X-Device-ID", deviceID)

	return &Dispatcher{
		client: client,
		logger: logger,
	}
}

// route resolves the HTTP method and path for a queued action
func route(action offline.Action) (string, string, error) {
	switch a := action.(type) {
	case offline.DoseTakenAction:
		return http.MethodPost, fmt.Sprintf("/api/v1/doses/%s/taken", a.DoseID), nil
	case offline.DoseMissedAction:
		return http.MethodPost, fmt.Sprintf("/api/v1/doses/%s/missed", a.DoseID), nil
	case offline.DoseSkippedAction:
		return http.MethodPost, fmt.Sprintf("/api/v1/doses/%s/skipped", a.DoseID), nil
	case offline.DoseSnoozedAction:
		return http.MethodPost, fmt.Sprintf("/api/v1/doses/%s/snooze", a.DoseID), nil
	case offline.ScheduleUpsertAction:
		return http.MethodPut, fmt.Sprintf("/api/v1/schedules/%s", a.Schedule.ID), nil
	case offline.ScheduleDeactivatedAction:
		return http.MethodPost, fmt.Sprintf("/api/v1/schedules/%s/deactivate", a.ScheduleID), nil
	}
	return "", "", fmt.Errorf("%w: %T", offline.ErrUnknownAction, action)
}

// Dispatch sends one queued action. Unknown actions are permanent failures.
func (d *Dispatcher) Dispatch(ctx context.Context, item model.OfflineQueueItem) error {
	action, err := offline.Decode(item)
	if err != nil {
		return &PermanentError{Err: err}
	}

	method, path, err := route(action)
	if err != nil {
		return &PermanentError{Err: err}
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", item.ID).
		SetBody([]byte(item.Payload)).
		Execute(method, path)

	status := 0
	body := ""
	if resp != nil {
		status = resp.StatusCode()
		body = resp.String()
	}

	if err := classify(status, body, err); err != nil {
		d.logger.Warn("action dispatch failed",
			zap.String("id", item.ID),
			zap.String("action", item.Action),
			zap.String("path", path),
			zap.Int("status_code", status),
			zap.Error(err),
		)
		return err
	}

	d.logger.Debug("action dispatched",
		zap.String("id", item.ID),
		zap.String("action", item.Action),
		zap.Int("status_code", status),
	)
	return nil
}

// FetchSnapshot reads the server's reconciliation state; a 404 yields an empty snapshot
func (d *Dispatcher) FetchSnapshot(ctx context.Context) (resolver.Snapshot, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		Get(syncStatePath)

	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return resolver.Snapshot{}, nil
	}

	status, body := 0, ""
	if resp != nil {
		status, body = resp.StatusCode(), resp.String()
	}
	if err := classify(status, body, err); err != nil {
		return resolver.Snapshot{}, fmt.Errorf("failed to fetch sync state: %w", err)
	}

	var snapshot resolver.Snapshot
	if err := json.Unmarshal(resp.Body(), &snapshot); err != nil {
		return resolver.Snapshot{}, &PermanentError{StatusCode: status, Err: fmt.Errorf("failed to decode sync state: %w", err)}
	}
	return snapshot, nil
}

// PushSnapshot uploads the merged reconciliation state
func (d *Dispatcher) PushSnapshot(ctx context.Context, snapshot resolver.Snapshot) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(snapshot).
		Put(syncStatePath)

	status, body := 0, ""
	if resp != nil {
		status, body = resp.StatusCode(), resp.String()
	}
	if err := classify(status, body, err); err != nil {
		return fmt.Errorf("failed to push sync state: %w", err)
	}
	return nil
}
