// Package metrics exposes Prometheus collectors for the search pipeline and
// the WebSocket fan-out layer. Collectors live on a package-private registry
// so tests can Reset without cross-test bleed.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	searches       *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	wsPublished    *prometheus.CounterVec
	backlogDropped *prometheus.CounterVec
	llmCalls       *prometheus.CounterVec
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all metrics collectors.
// Primarily used by tests to ensure clean state.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SearchCompleted counts one finished search. mode is sync or async;
// outcome is ok, no_results, low_confidence, location_required or failed.
func SearchCompleted(mode, outcome string) {
	mu.RLock()
	defer mu.RUnlock()
	if searches != nil {
		searches.WithLabelValues(mode, outcome).Inc()
	}
}

// ObserveStage records how long one pipeline stage ran.
func ObserveStage(stage string, duration time.Duration) {
	mu.RLock()
	defer mu.RUnlock()
	if stageDuration != nil {
		stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	}
}

// WSPublished counts one publish attempt. delivery is live or backlogged.
func WSPublished(channel, delivery string) {
	mu.RLock()
	defer mu.RUnlock()
	if wsPublished != nil {
		wsPublished.WithLabelValues(channel, delivery).Inc()
	}
}

// BacklogDropped counts a dropped backlog entry. reason is per_key_cap,
// global_cap or expired.
func BacklogDropped(reason string) {
	mu.RLock()
	defer mu.RUnlock()
	if backlogDropped != nil {
		backlogDropped.WithLabelValues(reason).Inc()
	}
}

// LLMCall counts one LLM invocation by purpose. outcome is ok, timeout,
// auth, rate_limited or error.
func LLMCall(purpose, outcome string) {
	mu.RLock()
	defer mu.RUnlock()
	if llmCalls != nil {
		llmCalls.WithLabelValues(purpose, outcome).Inc()
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	searchesVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dineseek",
		Name:      "searches_total",
		Help:      "Completed searches grouped by mode and outcome.",
	}, []string{"mode", "outcome"})

	stageVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dineseek",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 45},
	}, []string{"stage"})

	publishedVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dineseek",
		Name:      "ws_published_total",
		Help:      "WebSocket publish attempts grouped by channel and delivery path.",
	}, []string{"channel", "delivery"})

	droppedVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dineseek",
		Name:      "backlog_dropped_total",
		Help:      "Backlog entries dropped by cap enforcement or expiry.",
	}, []string{"reason"})

	llmVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dineseek",
		Name:      "llm_calls_total",
		Help:      "LLM invocations grouped by purpose and outcome.",
	}, []string{"purpose", "outcome"})

	registry.MustRegister(searchesVec, stageVec, publishedVec, droppedVec, llmVec)

	reg = registry
	searches = searchesVec
	stageDuration = stageVec
	wsPublished = publishedVec
	backlogDropped = droppedVec
	llmCalls = llmVec
}
