// Package metrics exposes Prometheus instrumentation for prefetching, lazy
// lookups and snapshot hydration. A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hydrationcache"

// FetchOutcome captures how an upstream fetch settled.
type FetchOutcome string

const (
	// FetchSuccess indicates the payload was stored.
	FetchSuccess FetchOutcome = "success"
	// FetchError indicates the upstream failed and an error entry was stored.
	FetchError FetchOutcome = "error"
	// FetchTimeout indicates the per-fetch deadline elapsed.
	FetchTimeout FetchOutcome = "timeout"
	// FetchCancelled indicates the caller gave up; nothing was stored.
	FetchCancelled FetchOutcome = "cancelled"
)

// LookupOutcome captures the result of a consumer-side query.
type LookupOutcome string

const (
	// LookupHit indicates the store answered without a fetch.
	LookupHit LookupOutcome = "hit"
	// LookupMiss indicates a lazy fetch was needed.
	LookupMiss LookupOutcome = "miss"
	// LookupShared indicates the caller joined a fetch already in flight.
	LookupShared LookupOutcome = "shared"
)

// Recorder publishes Prometheus metrics.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	fetches      *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec
	lookups      *prometheus.CounterVec
	dehydrated   prometheus.Counter
	hydrated     *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "prefetch",
		Name:      "fetches_total",
		Help:      "Upstream fetches issued for query descriptors.",
	}, []string{"resource_kind", "outcome"})

	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "prefetch",
		Name:      "fetch_duration_seconds",
		Help:      "Latency distribution for upstream fetches.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"resource_kind", "outcome"})

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "query",
		Name:      "lookups_total",
		Help:      "Consumer-side query lookups by result.",
	}, []string{"resource_kind", "result"})

	dehydrated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hydration",
		Name:      "dehydrated_entries_total",
		Help:      "Entries written into snapshots.",
	})

	hydrated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hydration",
		Name:      "hydrated_entries_total",
		Help:      "Snapshot entries processed during hydration by result.",
	}, []string{"result"})

	reg.MustRegister(fetches, fetchLatency, lookups, dehydrated, hydrated)

	return &Recorder{
		gatherer:     reg,
		handler:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		fetches:      fetches,
		fetchLatency: fetchLatency,
		lookups:      lookups,
		dehydrated:   dehydrated,
		hydrated:     hydrated,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveFetch records the outcome and latency of one upstream fetch.
func (r *Recorder) ObserveFetch(resourceKind string, outcome FetchOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	kind := normalizeLabel(resourceKind)
	out := normalizeLabel(string(outcome))
	r.fetches.WithLabelValues(kind, out).Inc()
	r.fetchLatency.WithLabelValues(kind, out).Observe(duration.Seconds())
}

// ObserveLookup records a consumer-side query.
func (r *Recorder) ObserveLookup(resourceKind string, result LookupOutcome) {
	if r == nil {
		return
	}
	res := string(result)
	if res == "" {
		res = string(LookupMiss)
	}
	r.lookups.WithLabelValues(normalizeLabel(resourceKind), res).Inc()
}

// ObserveDehydrate records the number of entries written into a snapshot.
func (r *Recorder) ObserveDehydrate(entries int) {
	if r == nil || entries <= 0 {
		return
	}
	r.dehydrated.Add(float64(entries))
}

// ObserveHydrate records the outcome of a hydration pass.
func (r *Recorder) ObserveHydrate(adopted, skipped, conflicts int) {
	if r == nil {
		return
	}
	r.hydrated.WithLabelValues("adopted").Add(float64(adopted))
	r.hydrated.WithLabelValues("skipped").Add(float64(skipped))
	r.hydrated.WithLabelValues("conflict").Add(float64(conflicts))
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
