// Package metrics exposes prometheus collectors for decode sessions. A nil
// *DecodeMetrics is valid and records nothing.
package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DecodeMetrics exposes counters/histograms for prefill and decode.
type DecodeMetrics struct {
	generations *prometheus.CounterVec
	errors      *prometheus.CounterVec
	tokens      *prometheus.CounterVec
	corrections prometheus.Counter
	prefill     prometheus.Histogram
	step        prometheus.Histogram
	firstToken  prometheus.Histogram
	backendWait prometheus.Histogram
}

func NewDecodeMetrics(reg prometheus.Registerer) *DecodeMetrics {
	m := &DecodeMetrics{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "decode",
			Name:      "generations_total",
			Help:      "Finished generations by stop reason",
		}, []string{"reason"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "decode",
			Name:      "errors_total",
			Help:      "Failed generations by error kind",
		}, []string{"kind"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "decode",
			Name:      "tokens_total",
			Help:      "Tokens processed by phase (prompt, cached, generated)",
		}, []string{"phase"}),
		corrections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "decode",
			Name:      "correcting_deltas_total",
			Help:      "Deltas that rewrote already streamed text",
		}),
		prefill: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parley",
			Subsystem: "decode",
			Name:      "prefill_seconds",
			Help:      "Latency of prompt prefill",
			Buckets:   prometheus.DefBuckets,
		}),
		step: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parley",
			Subsystem: "decode",
			Name:      "step_seconds",
			Help:      "Latency of one decode step",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		firstToken: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parley",
			Subsystem: "decode",
			Name:      "time_to_first_token_seconds",
			Help:      "Time from generation start to the first streamed text",
			Buckets:   prometheus.DefBuckets,
		}),
		backendWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parley",
			Subsystem: "backend",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a shared backend",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.generations, m.errors, m.tokens, m.corrections, m.prefill, m.step, m.firstToken, m.backendWait)
	return m
}

func (m *DecodeMetrics) ObserveGeneration(reason string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(reason).Inc()
}

func (m *DecodeMetrics) ObserveError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

func (m *DecodeMetrics) ObserveTokens(prompt, cached, generated int) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues("prompt").Add(float64(prompt))
	m.tokens.WithLabelValues("cached").Add(float64(cached))
	m.tokens.WithLabelValues("generated").Add(float64(generated))
}

func (m *DecodeMetrics) ObserveCorrection() {
	if m == nil {
		return
	}
	m.corrections.Inc()
}

func (m *DecodeMetrics) ObservePrefill(d time.Duration) {
	if m == nil {
		return
	}
	m.prefill.Observe(d.Seconds())
}

func (m *DecodeMetrics) ObserveStep(d time.Duration) {
	if m == nil {
		return
	}
	m.step.Observe(d.Seconds())
}

func (m *DecodeMetrics) ObserveFirstToken(d time.Duration) {
	if m == nil {
		return
	}
	m.firstToken.Observe(d.Seconds())
}

func (m *DecodeMetrics) ObserveBackendWait(d time.Duration) {
	if m == nil {
		return
	}
	m.backendWait.Observe(d.Seconds())
}

// WriteText writes every family gathered from g in the prometheus text
// exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
