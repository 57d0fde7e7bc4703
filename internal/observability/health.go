package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/solflow/solflow/internal/jupiter"
	"github.com/solflow/solflow/internal/solana"
)

// ComponentStatus represents the health status of a component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// severity orders statuses so the aggregate can take the worst one.
func (s ComponentStatus) severity() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	case StatusHealthy:
		return 0
	}
	return -1
}

// HealthCheck is a function that checks component health.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the health report for a single component.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	Latency     time.Duration   `json:"latency_ms"`
}

// SystemHealth is the aggregate health of the daemon.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	Uptime     time.Duration              `json:"uptime"`
}

// HealthMonitor probes all registered components on a fixed interval.
// Checks run concurrently since a slow RPC probe should not delay the
// others.
type HealthMonitor struct {
	interval  time.Duration
	startTime time.Time

	mu      sync.RWMutex
	checks  map[string]HealthCheck
	results map[string]ComponentHealth

	stopCh  chan struct{}
	stopped sync.Once
}

func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	return &HealthMonitor{
		interval:  interval,
		startTime: time.Now(),
		checks:    map[string]HealthCheck{},
		results:   map[string]ComponentHealth{},
		stopCh:    make(chan struct{}),
	}
}

// Register adds a named health check. Must be called before Start.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	m.checks[name] = check
	m.mu.Unlock()
}

// Start probes immediately and then on every tick, until the context
// is cancelled or Stop is called.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.runChecks(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runChecks(ctx)
		}
	}
}

// Stop signals the monitor to cease periodic checks.
func (m *HealthMonitor) Stop() {
	m.stopped.Do(func() { close(m.stopCh) })
}

// Check probes everything synchronously and returns the aggregate.
// Backs the HTTP /health handler.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.runChecks(ctx)
	return m.snapshot()
}

func (m *HealthMonitor) runChecks(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	fns := make([]HealthCheck, 0, len(m.checks))
	for name, fn := range m.checks {
		names = append(names, name)
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	fresh := make([]ComponentHealth, len(fns))
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func(i int, fn HealthCheck) {
			defer wg.Done()
			began := time.Now()
			h := fn(ctx)
			h.Name = names[i]
			h.Latency = time.Since(began)
			h.LastChecked = time.Now()
			fresh[i] = h
		}(i, fn)
	}
	wg.Wait()

	m.mu.Lock()
	m.results = make(map[string]ComponentHealth, len(fresh))
	for _, h := range fresh {
		m.results[h.Name] = h
	}
	m.mu.Unlock()
}

func (m *HealthMonitor) snapshot() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := SystemHealth{
		Status:     StatusHealthy,
		Components: make(map[string]ComponentHealth, len(m.results)),
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.startTime),
	}
	for name, h := range m.results {
		out.Components[name] = h
		if h.Status.severity() > out.Status.severity() {
			out.Status = h.Status
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Component checks
// ---------------------------------------------------------------------------

// RPCCheck reports on the Solana RPC endpoint.
func RPCCheck(rpc solana.RPCClient) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := rpc.Health(ctx); err != nil {
			return ComponentHealth{
				Status:  StatusUnhealthy,
				Message: fmt.Sprintf("rpc health: %v", err),
			}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// JupiterCheck degrades when the aggregator circuit breaker is open.
// The breaker recovers on its own, so this is degraded, not down.
func JupiterCheck(client *jupiter.Client) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if client.Stats().CircuitOpen {
			return ComponentHealth{
				Status:  StatusDegraded,
				Message: "circuit breaker open",
			}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

// BreakerCheck wraps any open-circuit probe as a degraded status.
func BreakerCheck(open func() bool) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if open() {
			return ComponentHealth{
				Status:  StatusDegraded,
				Message: "circuit breaker open",
			}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}
