package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// DefaultProbeTimeout bounds a probe when the caller passes no timeout
const DefaultProbeTimeout = 5 * time.Second

// Quality is the outcome of a connectivity probe
type Quality struct {
	IsOnline bool          `json:"is_online"`
	RTT      time.Duration `json:"rtt"`
}

// RTTMillis reports the round trip in milliseconds
func (q Quality) RTTMillis() int64 {
	return q.RTT.Milliseconds()
}

// Monitor probes a lightweight health endpoint with HEAD requests
type Monitor struct {
	client    *resty.Client
	healthURL string
	logger    *zap.Logger

	mu     sync.Mutex
	known  bool
	online bool
}

// NewMonitor creates a monitor probing healthURL
func NewMonitor(healthURL string, logger *zap.Logger) *Monitor {
	client := resty.New().
		SetRetryCount(0).
		SetHeader("Cache-Control", "no-cache")

	return &Monitor{
		client:    client,
		healthURL: healthURL,
		logger:    logger,
	}
}

// CheckNetworkQuality probes the health endpoint. Timeouts, transport errors
// and non-2xx/3xx statuses all report offline; it never fails.
func (m *Monitor) CheckNetworkQuality(ctx context.Context, timeout time.Duration) Quality {
	quality, _ := m.probe(ctx, timeout)
	return quality
}

// Poll probes like CheckNetworkQuality and reports whether connectivity came
// back since the last probe of any kind. A transition first seen by
// CheckNetworkQuality is not reported by a later Poll.
func (m *Monitor) Poll(ctx context.Context, timeout time.Duration) (Quality, bool) {
	return m.probe(ctx, timeout)
}

func (m *Monitor) probe(ctx context.Context, timeout time.Duration) (Quality, bool) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := m.client.R().SetContext(ctx).Head(m.healthURL)
	rtt := time.Since(start)

	quality := Quality{}
	switch {
	case err != nil:
		m.logger.Debug("connectivity probe failed", zap.Error(err))
	case resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusBadRequest:
		quality = Quality{IsOnline: true, RTT: rtt}
	default:
		m.logger.Debug("connectivity probe rejected", zap.Int("status_code", resp.StatusCode()))
	}

	return quality, m.record(quality.IsOnline)
}

// record stores the probe outcome and reports an offline to online transition
func (m *Monitor) record(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	regained := m.known && !m.online && online
	if regained {
		m.logger.Info("connectivity regained")
	}
	if m.known && m.online && !online {
		m.logger.Info("connectivity lost")
	}

	m.known = true
	m.online = online
	return regained
}

// LastKnown returns the result of the latest probe; ok is false before the first one
func (m *Monitor) LastKnown() (online, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.online, m.known
}
