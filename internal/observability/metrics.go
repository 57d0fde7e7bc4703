package observability

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Minimal in-process metrics, exported in Prometheus text format
// ---------------------------------------------------------------------------

// Counter is a monotonically increasing counter. The value is stored
// as int64 * 1000 so fractional increments stay lock-free.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	value  atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1000) }

// Add increments the counter by delta. Negative deltas are ignored.
func (c *Counter) Add(delta float64) {
	if delta < 0 {
		return
	}
	c.value.Add(int64(math.Round(delta * 1000)))
}

func (c *Counter) Value() float64 {
	return float64(c.value.Load()) / 1000.0
}

// Gauge can go up and down.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	mu     sync.Mutex
	value  float64
}

func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

func (g *Gauge) Inc() { g.Add(1) }
func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) Add(delta float64) {
	g.mu.Lock()
	g.value += delta
	g.mu.Unlock()
}

func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Histogram tracks value distributions. Buckets are upper-bound
// inclusive: a value <= bucket[i] increments counts[i].
type Histogram struct {
	name    string
	help    string
	labels  map[string]string
	mu      sync.Mutex
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// BucketCounts returns a snapshot of (upper-bound, cumulative-count)
// pairs for the exporter.
func (h *Histogram) BucketCounts() (buckets []float64, counts []int64, sum float64, count int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := make([]float64, len(h.buckets))
	c := make([]int64, len(h.counts))
	copy(b, h.buckets)
	copy(c, h.counts)
	return b, c, h.sum, h.count
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry manages all metrics. Safe for concurrent use; registering
// an existing name returns the existing metric.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

func (r *Registry) NewCounter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[name]; ok {
		return existing
	}
	c := &Counter{name: name, help: help, labels: copyLabels(labels)}
	r.counters[name] = c
	return c
}

func (r *Registry) NewGauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.gauges[name]; ok {
		return existing
	}
	g := &Gauge{name: name, help: help, labels: copyLabels(labels)}
	r.gauges[name] = g
	return g
}

func (r *Registry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[name]; ok {
		return existing
	}
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)

	h := &Histogram{
		name:    name,
		help:    help,
		labels:  copyLabels(labels),
		buckets: sorted,
		counts:  make([]int64, len(sorted)),
	}
	r.histograms[name] = h
	return h
}

// DefaultLatencyBuckets for latency histograms, in milliseconds.
var DefaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}

// ---------------------------------------------------------------------------
// SOLFLOW metrics
// ---------------------------------------------------------------------------

// Metrics is the pre-wired metric set for the swap pipeline.
type Metrics struct {
	reg *Registry

	SwapsConfirmed *Counter
	SwapsFailed    *Counter
	SwapsDenied    *Counter
	DryRuns        *Counter

	InFlight      *Gauge
	DailySpentSOL *Gauge
	DailyPnLSOL   *Gauge
	WalletSOL     *Gauge

	SwapLatency *Histogram

	RPCRequests *Counter
	RPCErrors   *Counter
}

// NewMetrics builds the SOLFLOW registry.
func NewMetrics() *Metrics {
	r := NewRegistry()
	return &Metrics{
		reg: r,

		SwapsConfirmed: r.NewCounter("solflow_swaps_confirmed_total",
			"Swaps that reached the configured commitment", nil),
		SwapsFailed: r.NewCounter("solflow_swaps_failed_total",
			"Swaps that terminally failed", nil),
		SwapsDenied: r.NewCounter("solflow_swaps_denied_total",
			"Swap intents denied by the risk engine", nil),
		DryRuns: r.NewCounter("solflow_dry_runs_total",
			"Swap intents short-circuited after quoting", nil),

		InFlight: r.NewGauge("solflow_swaps_in_flight",
			"Swaps currently between risk reservation and settlement", nil),
		DailySpentSOL: r.NewGauge("solflow_daily_spent_sol",
			"SOL notional reserved against the daily budget", nil),
		DailyPnLSOL: r.NewGauge("solflow_daily_pnl_sol",
			"Realized PnL for the current UTC day", nil),
		WalletSOL: r.NewGauge("solflow_wallet_sol",
			"Wallet SOL balance at last refresh", nil),

		SwapLatency: r.NewHistogram("solflow_swap_latency_ms",
			"End-to-end swap latency in milliseconds", nil, DefaultLatencyBuckets),

		RPCRequests: r.NewCounter("solflow_rpc_requests_total",
			"Solana RPC requests issued", nil),
		RPCErrors: r.NewCounter("solflow_rpc_errors_total",
			"Solana RPC requests that failed", nil),
	}
}

// Registry exposes the underlying registry for the exporter.
func (m *Metrics) Registry() *Registry { return m.reg }

func copyLabels(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
