package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type registry struct {
	mu       sync.Mutex
	counters map[string]map[string]int64   // name -> labelsKey -> count
	gauges   map[string]map[string]float64 // name -> labelsKey -> value
	hist     map[string]map[string][]float64
}

var reg = &registry{
	counters: map[string]map[string]int64{},
	gauges:   map[string]map[string]float64{},
	hist:     map[string]map[string][]float64{},
}

// canonicalize label map so key order is stable
func canonLabels(lbl map[string]string) string {
	if len(lbl) == 0 {
		return ""
	}
	keys := make([]string, 0, len(lbl))
	for k := range lbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lbl[k])
	}
	return b.String()
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.counters[name]
	if !ok {
		m = map[string]int64{}
		reg.counters[name] = m
	}
	m[canonLabels(labels)] += int64(value)
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.gauges[name]
	if !ok {
		m = map[string]float64{}
		reg.gauges[name] = m
	}
	m[canonLabels(labels)] = value
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.hist[name]
	if !ok {
		m = map[string][]float64{}
		reg.hist[name] = m
	}
	k := canonLabels(labels)
	m[k] = append(m[k], value)
}

// RecordDuration records a duration observation under name+"_ms".
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// Basic JSON dump for quick checks (not Prometheus format on purpose)
func Handler() http.Handler {
	type dump struct {
		Counters map[string]map[string]int64     `json:"counters"`
		Gauges   map[string]map[string]float64   `json:"gauges"`
		Hist     map[string]map[string][]float64 `json:"histograms"`
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dump{Counters: reg.counters, Gauges: reg.gauges, Hist: reg.hist})
	})
}

// HealthStatus is the /health payload.
type HealthStatus struct {
	Status    string        `json:"status"` // "healthy", "degraded", "failed"
	Timestamp string        `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Version   string        `json:"version"`
	Metrics   HealthMetrics `json:"metrics"`
}

// HealthMetrics summarizes the heartbeat's operational state.
type HealthMetrics struct {
	WatchersActive         int     `json:"watchers_active"`
	TicksTotal             int64   `json:"ticks_total"`
	SnapshotFailures       int64   `json:"snapshot_failures"`
	SnapshotFailureRate    float64 `json:"snapshot_failure_rate"`
	AdvisorCalls           int64   `json:"advisor_calls"`
	AdvisorBudgetRemaining int     `json:"advisor_budget_remaining"`
	AdvisorLatencyP95Ms    int64   `json:"advisor_latency_p95_ms"`
	CircuitBreakerFirings  int64   `json:"circuit_breaker_firings"`
	ProviderConsecErrors   int     `json:"provider_consec_errors"`
	JournalWritable        bool    `json:"journal_writable"`
}

var (
	startTime = time.Now()
	version   = "dev" // set via build flags
)

func SetVersion(v string) {
	version = v
}

// HealthHandler reports heartbeat health derived from the registry.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.mu.Lock()
		m := healthMetricsLocked()
		reg.mu.Unlock()

		status := "healthy"
		switch {
		case m.ProviderConsecErrors >= 10 || !m.JournalWritable:
			status = "failed"
		case m.ProviderConsecErrors >= 5 || (m.TicksTotal > 20 && m.SnapshotFailureRate > 0.2):
			status = "degraded"
		}

		code := http.StatusOK
		switch status {
		case "degraded":
			code = http.StatusPartialContent
		case "failed":
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(HealthStatus{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Version:   version,
			Metrics:   m,
		})
	})
}

func healthMetricsLocked() HealthMetrics {
	var m HealthMetrics

	m.TicksTotal = sumCounter("heartbeat_ticks_total")
	m.SnapshotFailures = sumCounter("snapshot_failures_total")
	if m.TicksTotal+m.SnapshotFailures > 0 {
		m.SnapshotFailureRate = float64(m.SnapshotFailures) / float64(m.TicksTotal+m.SnapshotFailures)
	}
	m.AdvisorCalls = sumCounter("advisor_calls_total")
	m.CircuitBreakerFirings = sumCounter("circuit_breaker_total")
	m.WatchersActive = int(firstGauge("watchers_active"))
	m.AdvisorBudgetRemaining = int(firstGauge("advisor_budget_remaining"))
	// Written per symbol by watchers and unlabeled by the live adapter;
	// health tracks the worst streak.
	m.ProviderConsecErrors = int(maxGauge("provider_consec_errors"))
	m.AdvisorLatencyP95Ms = histP95("advisor_latency_ms")
	// Unset means no journal in this process, not a broken one.
	m.JournalWritable = gaugeOr("journal_writable", 1) >= 1

	return m
}

func sumCounter(name string) int64 {
	var total int64
	for _, v := range reg.counters[name] {
		total += v
	}
	return total
}

func firstGauge(name string) float64 {
	for _, v := range reg.gauges[name] {
		return v
	}
	return 0
}

func maxGauge(name string) float64 {
	var worst float64
	for _, v := range reg.gauges[name] {
		if v > worst {
			worst = v
		}
	}
	return worst
}

func gaugeOr(name string, def float64) float64 {
	g, ok := reg.gauges[name]
	if !ok || len(g) == 0 {
		return def
	}
	for _, v := range g {
		return v
	}
	return def
}

func histP95(name string) int64 {
	for _, samples := range reg.hist[name] {
		if len(samples) == 0 {
			continue
		}
		sorted := make([]float64, len(samples))
		copy(sorted, samples)
		sort.Float64s(sorted)
		idx := int(float64(len(sorted)) * 0.95)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return int64(sorted[idx])
	}
	return 0
}

// Health is a bare liveness probe.
func Health() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
