package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Check is a named health probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) Status
}

// Reporter receives serving status changes. *grpc/health.Server satisfies it.
type Reporter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithCheckTimeout bounds each round of checks.
func WithCheckTimeout(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithServices reports the combined status under each named service in
// addition to the server-wide "" service.
func WithServices(names ...string) MonitorOption {
	return func(m *Monitor) {
		m.services = append(m.services, names...)
	}
}

// Monitor runs checks periodically and reports the combined result.
// Healthy and degraded map to SERVING; unhealthy maps to NOT_SERVING.
type Monitor struct {
	checks   []Check
	reporter Reporter
	services []string
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	last    Status
	results map[string]Status
}

func NewMonitor(reporter Reporter, checks []Check, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		checks:   checks,
		reporter: reporter,
		services: []string{""},
		interval: DefaultInterval,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "health")
	return m
}

// CheckOnce runs every check, reports the combined status and returns it.
func (m *Monitor) CheckOnce(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	results := make(map[string]Status, len(m.checks))
	statuses := make([]Status, 0, len(m.checks))
	for _, c := range m.checks {
		st := c.Run(ctx)
		results[c.Name] = st
		statuses = append(statuses, st)
	}
	combined := Combine(statuses...)

	m.mu.Lock()
	prev := m.last
	m.last = combined
	m.results = results
	m.mu.Unlock()

	if prev.State != combined.State {
		attrs := []any{"from", prev.State, "to", combined.State, "message", combined.Message}
		for name, st := range results {
			if !st.IsHealthy() {
				attrs = append(attrs, name, st.Message)
			}
		}
		if combined.IsHealthy() {
			m.logger.Info("health changed", attrs...)
		} else {
			m.logger.Warn("health changed", attrs...)
		}
	}

	if m.reporter != nil {
		serving := healthpb.HealthCheckResponse_SERVING
		if combined.IsUnhealthy() {
			serving = healthpb.HealthCheckResponse_NOT_SERVING
		}
		for _, svc := range m.services {
			m.reporter.SetServingStatus(svc, serving)
		}
	}
	return combined
}

// Run checks immediately, then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.CheckOnce(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// Last returns the most recent combined status and per-check results.
func (m *Monitor) Last() (Status, map[string]Status) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make(map[string]Status, len(m.results))
	for k, v := range m.results {
		results[k] = v
	}
	return m.last, results
}
