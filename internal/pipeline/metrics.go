// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pdiddy/advisor-engine/internal/model"
)

// Metrics counts turns, research steps, and model calls on a dedicated
// prometheus registry. All observe methods are safe on a nil receiver, so
// a pipeline constructed without metrics records nothing.
// Implements: prd007-observability R3.
type Metrics struct {
	registry *prometheus.Registry

	turns      *prometheus.CounterVec
	steps      *prometheus.CounterVec
	modelCalls *prometheus.CounterVec
	turnSecs   *prometheus.HistogramVec
	stepSecs   prometheus.Histogram
	modelSecs  *prometheus.HistogramVec
}

// NewMetrics builds the metric set on a fresh registry that also carries
// the standard Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advisor",
			Name:      "turns_total",
			Help:      "Turns processed, by pipeline variant and outcome.",
		}, []string{"variant", "outcome"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advisor",
			Name:      "steps_total",
			Help:      "Research steps executed, by outcome.",
		}, []string{"outcome"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advisor",
			Name:      "model_calls_total",
			Help:      "Model invocations, by agent role and outcome.",
		}, []string{"role", "outcome"}),
		turnSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "advisor",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn latency, by pipeline variant.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"variant"}),
		stepSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "advisor",
			Name:      "step_duration_seconds",
			Help:      "Research step latency.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		modelSecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "advisor",
			Name:      "model_call_duration_seconds",
			Help:      "Model call latency, by agent role.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"role"}),
	}
	reg.MustRegister(m.turns, m.steps, m.modelCalls, m.turnSecs, m.stepSecs, m.modelSecs)
	return m
}

// Handler serves the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeTurn(variant, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(variant, outcome).Inc()
	m.turnSecs.WithLabelValues(variant).Observe(d.Seconds())
}

func (m *Metrics) observeStep(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(outcome).Inc()
	m.stepSecs.Observe(d.Seconds())
}

func (m *Metrics) observeModelCall(role, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(role, outcome).Inc()
	m.modelSecs.WithLabelValues(role).Observe(d.Seconds())
}

// InstrumentInvoker wraps inner so every call is counted and timed under
// the given agent role. Close passes through; the shared client's own
// Close is idempotent, so closing several role wrappers is harmless.
func (m *Metrics) InstrumentInvoker(role string, inner model.Invoker) model.Invoker {
	if m == nil {
		return inner
	}
	return &instrumentedInvoker{role: role, inner: inner, metrics: m}
}

type instrumentedInvoker struct {
	role    string
	inner   model.Invoker
	metrics *Metrics
}

func (i *instrumentedInvoker) Invoke(ctx context.Context, req model.Request) (model.Response, error) {
	start := time.Now()
	resp, err := i.inner.Invoke(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	i.metrics.observeModelCall(i.role, outcome, time.Since(start))
	return resp, err
}

func (i *instrumentedInvoker) Close() error { return i.inner.Close() }
