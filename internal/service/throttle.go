package service

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
)

// ThrottleController carries throttle overage signals from the billing
// calculator to the ingestion path. While a signal is active for a
// tenant/metric, ingestion of that metric is rate limited instead of blocked.
type ThrottleController struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	logger   *logger.Logger
}

func NewThrottleController(cfg *config.Configuration, log *logger.Logger) *ThrottleController {
	return &ThrottleController{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(cfg.Ingestion.ThrottleRatePerSec),
		burst:    cfg.Ingestion.ThrottleBurst,
		logger:   log,
	}
}

func throttleKey(tenantID, metricName string) string {
	return tenantID + ":" + metricName
}

// Activate raises a throttle signal for a tenant/metric. Idempotent.
func (t *ThrottleController) Activate(tenantID, metricName string) {
	key := throttleKey(tenantID, metricName)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.limiters[key]; ok {
		return
	}
	t.limiters[key] = rate.NewLimiter(t.rate, t.burst)
	t.logger.Infow("throttle signal activated",
		"tenant_id", tenantID,
		"metric_name", metricName,
		"rate_per_sec", float64(t.rate),
	)
}

// Deactivate clears a throttle signal for a tenant/metric
func (t *ThrottleController) Deactivate(tenantID, metricName string) {
	key := throttleKey(tenantID, metricName)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.limiters[key]; !ok {
		return
	}
	delete(t.limiters, key)
	t.logger.Infow("throttle signal cleared",
		"tenant_id", tenantID,
		"metric_name", metricName,
	)
}

// Allow reports whether an event for the tenant/metric may be accepted now.
// With no active signal every event is allowed.
func (t *ThrottleController) Allow(tenantID, metricName string) bool {
	t.mu.RLock()
	limiter, ok := t.limiters[throttleKey(tenantID, metricName)]
	t.mu.RUnlock()

	if !ok {
		return true
	}
	return limiter.Allow()
}

// Active reports whether a throttle signal is raised for the tenant/metric
func (t *ThrottleController) Active(tenantID, metricName string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.limiters[throttleKey(tenantID, metricName)]
	return ok
}
