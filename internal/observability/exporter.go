package observability

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Prometheus text exposition
// ---------------------------------------------------------------------------

// PrometheusExporter renders a Registry in the Prometheus text format
// and doubles as the /metrics http.Handler.
type PrometheusExporter struct {
	registry *Registry
}

func NewPrometheusExporter(registry *Registry) *PrometheusExporter {
	return &PrometheusExporter{registry: registry}
}

func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(e.Format()))
}

// Format renders every registered metric. Each family is a HELP line,
// a TYPE line and the sample lines, separated by a blank line.
func (e *PrometheusExporter) Format() string {
	var b strings.Builder

	e.registry.mu.RLock()
	defer e.registry.mu.RUnlock()

	for _, name := range sortedKeys(e.registry.counters) {
		c := e.registry.counters[name]
		writeFamily(&b, c.name, c.help, "counter")
		fmt.Fprintf(&b, "%s%s %s\n\n", c.name, formatLabels(c.labels), formatFloat(c.Value()))
	}

	for _, name := range sortedKeys(e.registry.gauges) {
		g := e.registry.gauges[name]
		writeFamily(&b, g.name, g.help, "gauge")
		fmt.Fprintf(&b, "%s%s %s\n\n", g.name, formatLabels(g.labels), formatFloat(g.Value()))
	}

	for _, name := range sortedKeys(e.registry.histograms) {
		h := e.registry.histograms[name]
		writeHistogram(&b, h)
	}

	return b.String()
}

func writeFamily(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, kind)
}

func writeHistogram(b *strings.Builder, h *Histogram) {
	buckets, counts, sum, count := h.BucketCounts()

	writeFamily(b, h.name, h.help, "histogram")

	// Bucket lines are cumulative; the +Inf bucket equals the total
	// observation count.
	for i, bound := range buckets {
		fmt.Fprintf(b, "%s_bucket%s %d\n", h.name, addLabel(h.labels, "le", formatFloat(bound)), counts[i])
	}
	fmt.Fprintf(b, "%s_bucket%s %d\n", h.name, addLabel(h.labels, "le", "+Inf"), count)

	base := formatLabels(h.labels)
	fmt.Fprintf(b, "%s_sum%s %s\n", h.name, base, formatFloat(sum))
	fmt.Fprintf(b, "%s_count%s %d\n\n", h.name, base, count)
}

// formatLabels renders {k1="v1",k2="v2"} with keys sorted, or the
// empty string when there are no labels.
func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func addLabel(base map[string]string, key, value string) string {
	merged := make(map[string]string, len(base)+1)
	for k, v := range base {
		merged[k] = v
	}
	merged[key] = value
	return formatLabels(merged)
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}
