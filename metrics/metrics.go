// Package metrics is the process-wide registry for counters, gauges,
// and latency sums. Values are exposed twice: as a JSON snapshot with
// derived averages, and in Prometheus exposition format.
package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Well-known metric names. Callers may also use ad-hoc names; these
// constants just keep the call sites consistent.
const (
	IngestTotal       = "ingest_total"
	IngestErrors      = "ingest_errors_total"
	IngestSeconds     = "ingest_seconds_sum"
	RetrievalTotal    = "retrieval_total"
	RetrievalSeconds  = "retrieval_seconds_sum"
	AnswerTotal       = "answer_total"
	AnswerSeconds     = "answer_seconds_sum"
	QueryModeGlobal   = "query_mode_global_total"
	QueryModeLocal    = "query_mode_local_total"
	QueryModeDrift    = "query_mode_drift_total"
	ArtifactCacheHit  = "artifact_cache_hits_total"
	ArtifactCacheMiss = "artifact_cache_misses_total"
	ClusterRecomputes = "cluster_recomputes_total"

	IndexRuns            = "index_runs_total"
	IndexRunsFailed      = "index_runs_failed_total"
	IndexRunsNoop        = "index_runs_noop_total"
	IndexRunsLocked      = "index_runs_locked_total"
	LastIndexDeltaNodes  = "last_index_delta_nodes"
	LastIndexDeltaEdges  = "last_index_delta_edges"
	PercentReusedNodes   = "last_index_percent_reused_nodes"
	PercentReusedEdges   = "last_index_percent_reused_edges"
	LastIndexDurationSec = "last_index_duration_seconds"
)

// Registry accumulates metrics and mirrors them into a dedicated
// Prometheus registry.
type Registry struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64

	prom         *prometheus.Registry
	promCounters map[string]prometheus.Counter
	promGauges   map[string]prometheus.Gauge
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		counters:     map[string]float64{},
		gauges:       map[string]float64{},
		prom:         prometheus.NewRegistry(),
		promCounters: map[string]prometheus.Counter{},
		promGauges:   map[string]prometheus.Gauge{},
	}
}

// Inc adds delta to a monotonic counter.
func (r *Registry) Inc(name string, delta float64) {
	if delta < 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
	r.promCounter(name).Add(delta)
}

// Set writes a gauge value.
func (r *Registry) Set(name string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name] = v
	r.promGauge(name).Set(v)
}

// ObserveSeconds records one operation's latency: increments the paired
// *_total counter and adds to the *_seconds_sum counter.
func (r *Registry) ObserveSeconds(totalName, sumName string, seconds float64) {
	r.Inc(totalName, 1)
	r.Inc(sumName, seconds)
}

// Snapshot returns all current values plus derived averages
// (avg_<op>_seconds for every <op>_seconds_sum with a matching
// <op>_total).
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]float64, len(r.counters)+len(r.gauges))
	for k, v := range r.counters {
		out[k] = v
	}
	for k, v := range r.gauges {
		out[k] = v
	}
	for k, sum := range r.counters {
		op, ok := strings.CutSuffix(k, "_seconds_sum")
		if !ok {
			continue
		}
		if total := r.counters[op+"_total"]; total > 0 {
			out["avg_"+op+"_seconds"] = sum / total
		}
	}
	return out
}

// Names returns the sorted metric names currently present.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.counters)+len(r.gauges))
	for k := range r.counters {
		names = append(names, k)
	}
	for k := range r.gauges {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Handler serves the Prometheus exposition endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}

// promCounter lazily registers the Prometheus mirror of a counter.
// Callers must hold r.mu.
func (r *Registry) promCounter(name string) prometheus.Counter {
	if c, ok := r.promCounters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "graphrag_" + sanitize(name),
	})
	r.prom.MustRegister(c)
	r.promCounters[name] = c
	return c
}

func (r *Registry) promGauge(name string) prometheus.Gauge {
	if g, ok := r.promGauges[name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "graphrag_" + sanitize(name),
	})
	r.prom.MustRegister(g)
	r.promGauges[name] = g
	return g
}

func sanitize(name string) string {
	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
