package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the overall health state.
type HealthStatus string

const (
	// HealthStatusHealthy indicates all checks are passing.
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded indicates the library works but with reduced guarantees,
	// for example when the fallback randomness backend is in use.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusUnhealthy indicates critical checks are failing.
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck runs named self-checks against the randomness and crypto subsystems.
type HealthCheck struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	degraded  map[string]CheckFunc
	collector *Collector
	startTime time.Time
	version   string
}

// CheckFunc is a function that performs a health check.
// Returns nil if healthy, or an error describing the problem.
type CheckFunc func() error

// HealthReport is the result of running all checks.
type HealthReport struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Metrics   *HealthMetrics         `json:"metrics,omitempty"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// HealthMetrics contains key counters for health reporting.
type HealthMetrics struct {
	FallbackActivations uint64  `json:"fallback_activations"`
	EncryptOps          uint64  `json:"encrypt_ops"`
	DecryptOps          uint64  `json:"decrypt_ops"`
	IntegrityFailures   uint64  `json:"integrity_failures"`
	ErrorRate           float64 `json:"error_rate,omitempty"`
}

// NewHealthCheck creates a new health check instance.
func NewHealthCheck(collector *Collector, version string) *HealthCheck {
	return &HealthCheck{
		checks:    make(map[string]CheckFunc),
		degraded:  make(map[string]CheckFunc),
		collector: collector,
		startTime: time.Now(),
		version:   version,
	}
}

// AddCheck registers a named critical check. A failure marks the report unhealthy.
func (h *HealthCheck) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// AddAdvisoryCheck registers a named check whose failure only degrades the report.
func (h *HealthCheck) AddAdvisoryCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.degraded[name] = check
}

// RemoveCheck removes a named check of either kind.
func (h *HealthCheck) RemoveCheck(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.checks, name)
	delete(h.degraded, name)
}

// Check performs all health checks and returns the overall status.
func (h *HealthCheck) Check() HealthReport {
	h.mu.RLock()
	critical := make(map[string]CheckFunc, len(h.checks))
	for k, v := range h.checks {
		critical[k] = v
	}
	advisory := make(map[string]CheckFunc, len(h.degraded))
	for k, v := range h.degraded {
		advisory[k] = v
	}
	h.mu.RUnlock()

	report := HealthReport{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Uptime:    formatDuration(time.Since(h.startTime)),
		Version:   h.version,
		Checks:    make(map[string]CheckResult),
	}

	hasUnhealthy := false
	hasDegraded := false

	run := func(name string, check CheckFunc, failStatus HealthStatus) bool {
		start := time.Now()
		err := check()
		result := CheckResult{
			Status:  HealthStatusHealthy,
			Latency: time.Since(start).String(),
		}
		if err != nil {
			result.Status = failStatus
			result.Message = err.Error()
		}
		report.Checks[name] = result
		return err != nil
	}

	for name, check := range critical {
		if run(name, check, HealthStatusUnhealthy) {
			hasUnhealthy = true
		}
	}
	for name, check := range advisory {
		if run(name, check, HealthStatusDegraded) {
			hasDegraded = true
		}
	}

	if h.collector != nil {
		snap := h.collector.Snapshot()
		report.Metrics = &HealthMetrics{
			FallbackActivations: snap.FallbackActivations,
			EncryptOps:          snap.EncryptOps,
			DecryptOps:          snap.DecryptOps,
			IntegrityFailures:   snap.IntegrityFailures,
		}

		if snap.FallbackActivations > 0 {
			hasDegraded = true
		}

		totalOps := snap.EncryptOps + snap.DecryptOps
		totalErrors := snap.EncryptErrors + snap.DecryptErrors
		if totalOps+totalErrors > 0 {
			report.Metrics.ErrorRate = float64(totalErrors) / float64(totalOps+totalErrors)
			if report.Metrics.ErrorRate > 0.01 {
				hasDegraded = true
			}
		}
	}

	if hasUnhealthy {
		report.Status = HealthStatusUnhealthy
	} else if hasDegraded {
		report.Status = HealthStatusDegraded
	}

	return report
}

// CheckNames returns the names of the results in the report, sorted.
func (r HealthReport) CheckNames() []string {
	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd%02dh%02dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh%02dm%02ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%02ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
