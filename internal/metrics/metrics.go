// Package metrics exposes Prometheus instruments for the ledger.
//
// All methods are safe on a nil *Metrics so callers can run without them.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smartspend/internal/core"
)

const namespace = "smartspend"

// Result labels.
const (
	ResultOK              = "ok"
	ResultInvalid         = "invalid"
	ResultNotFound        = "not_found"
	ResultUnauthenticated = "unauthenticated"
	ResultCancelled       = "cancelled"
	ResultOutOfSync       = "out_of_sync"
	ResultError           = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	mutations         *prometheus.CounterVec
	recomputeDuration prometheus.Histogram
	recomputes        *prometheus.CounterVec
	advice            *prometheus.CounterVec
	snapshots         prometheus.Counter
	httpRequests      *prometheus.CounterVec
}

// New registers every instrument on a private registry together with the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entry_mutations_total",
			Help:      "Entry and budget mutations by operation and result.",
		}, []string{"op", "result"}),
		recomputeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "budget_recompute_duration_seconds",
			Help:      "Time spent recomputing a period's spending, lock wait included.",
			Buckets:   prometheus.DefBuckets,
		}),
		recomputes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_recomputes_total",
			Help:      "Budget recomputations by result.",
		}, []string{"result"}),
		advice: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advice_requests_total",
			Help:      "Advice provider calls by outcome.",
		}, []string{"outcome"}),
		snapshots: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_published_total",
			Help:      "Ledger snapshots published to subscribers.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status class.",
		}, []string{"method", "status"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ResultOf maps an operation error onto a result label.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case core.IsCancellation(err):
		return ResultCancelled
	case core.IsValidation(err):
		return ResultInvalid
	case errors.Is(err, core.ErrNotFound):
		return ResultNotFound
	case errors.Is(err, core.ErrNotAuthenticated):
		return ResultUnauthenticated
	case errors.Is(err, core.ErrBudgetOutOfSync):
		return ResultOutOfSync
	default:
		return ResultError
	}
}

func (m *Metrics) ObserveMutation(op string, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, ResultOf(err)).Inc()
}

func (m *Metrics) ObserveRecompute(started time.Time, err error) {
	if m == nil {
		return
	}
	m.recomputeDuration.Observe(time.Since(started).Seconds())
	m.recomputes.WithLabelValues(ResultOf(err)).Inc()
}

// ObserveAdvice counts provider outcomes such as "ok", "timeout", "error", "fallback".
func (m *Metrics) ObserveAdvice(outcome string) {
	if m == nil {
		return
	}
	m.advice.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSnapshot() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}

func (m *Metrics) ObserveHTTP(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
