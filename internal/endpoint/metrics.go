package endpoint

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/macrat/telecache/internal/governor"
	"github.com/macrat/telecache/internal/service"
)

// MetricsEndpoint implements Prometheus metrics endpoint.
// This endpoint follows both of Prometheus specification and OpenMetrics specification.
func MetricsEndpoint(b Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=UTF-8")
		WriteMetrics(w, b.Diagnostics())
	}
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(strings.ReplaceAll(s, "\\", "\\\\"), "\n", "\\n"), "\"", "\\\"")
}

func boolValue(b bool) int {
	if b {
		return 1
	}
	return 0
}

func header(w io.Writer, name, typ, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
}

// WriteMetrics writes d in the Prometheus text format.
func WriteMetrics(w io.Writer, d service.Diagnostics) {
	header(w, "telecache_disk_healthy", "gauge", "Whether the last cache write succeeded.")
	fmt.Fprintf(w, "telecache_disk_healthy %d\n\n", boolValue(d.Healthy))

	g := d.Governor
	header(w, "telecache_circuit_state", "gauge", "The circuit breaker state of the upstream API.")
	for _, s := range []governor.State{governor.Closed, governor.Open, governor.HalfOpen} {
		fmt.Fprintf(w, "telecache_circuit_state{state=\"%s\"} %d\n", strings.ToLower(s.String()), boolValue(g.State == s))
	}
	fmt.Fprintln(w)

	header(w, "telecache_circuit_consecutive_failures", "gauge", "The number of consecutive failed upstream calls.")
	fmt.Fprintf(w, "telecache_circuit_consecutive_failures %d\n\n", g.ConsecutiveFailures)

	header(w, "telecache_circuit_retry_in_seconds", "gauge", "The time until the open circuit lets a probe request through.")
	fmt.Fprintf(w, "telecache_circuit_retry_in_seconds %f\n\n", g.RetryIn.Seconds())

	header(w, "telecache_call_timeout_seconds", "gauge", "The current deadline of an upstream call.")
	fmt.Fprintf(w, "telecache_call_timeout_seconds %f\n", g.CallTimeout.Seconds())

	type tierMetric struct {
		name, typ, help string
		value           func(t service.TierDiagnostics) float64
	}
	metrics := []tierMetric{
		{"telecache_cache_initialized", "gauge", "Whether the tier has a snapshot.", func(t service.TierDiagnostics) float64 { return float64(boolValue(t.Initialized)) }},
		{"telecache_cache_fresh", "gauge", "Whether the snapshot is younger than the tier threshold.", func(t service.TierDiagnostics) float64 { return float64(boolValue(t.Fresh)) }},
		{"telecache_cache_age_seconds", "gauge", "The age of the snapshot.", func(t service.TierDiagnostics) float64 { return t.Age.Seconds() }},
		{"telecache_cache_records", "gauge", "The number of records in the snapshot.", func(t service.TierDiagnostics) float64 { return float64(t.Records) }},
		{"telecache_cache_quality_percent", "gauge", "The percentage of valid records in the last synchronization.", func(t service.TierDiagnostics) float64 { return t.Quality }},
		{"telecache_cache_hits_total", "counter", "The number of reads served by a fresh snapshot.", func(t service.TierDiagnostics) float64 { return float64(t.Hits) }},
		{"telecache_cache_misses_total", "counter", "The number of reads served by a stale or absent snapshot.", func(t service.TierDiagnostics) float64 { return float64(t.Misses) }},
		{"telecache_cache_latency_seconds", "gauge", "The moving average of the read latency.", func(t service.TierDiagnostics) float64 { return t.MeanLatency.Seconds() }},
		{"telecache_sync_success", "gauge", "Whether the last synchronization succeeded.", func(t service.TierDiagnostics) float64 {
			return float64(boolValue(t.LastSync != nil && t.LastSync.Success))
		}},
	}

	for _, m := range metrics {
		fmt.Fprintln(w)
		header(w, m.name, m.typ, m.help)
		for _, t := range d.Tiers {
			fmt.Fprintf(w, "%s{tier=\"%s\"} %v\n", m.name, escapeLabel(string(t.Tier)), m.value(t))
		}
	}

	fmt.Fprintln(w)
	header(w, "telecache_cache_domain_records", "gauge", "The number of records per domain.")
	for _, t := range d.Tiers {
		domains := make([]string, 0, len(t.Domains))
		for name := range t.Domains {
			domains = append(domains, name)
		}
		sort.Strings(domains)
		for _, name := range domains {
			fmt.Fprintf(w, "telecache_cache_domain_records{tier=\"%s\",domain=\"%s\"} %d\n", escapeLabel(string(t.Tier)), escapeLabel(name), t.Domains[name])
		}
	}
}
