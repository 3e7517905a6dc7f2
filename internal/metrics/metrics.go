// Package metrics exposes Prometheus collectors for analysis sessions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reposcout"

// Recorder holds the session collectors. A nil *Recorder is valid and records nothing.
//
// Metrics:
//   - reposcout_sessions_total{outcome} - sessions by terminal phase
//   - reposcout_session_iterations - model round-trips per session
//   - reposcout_capability_calls_total{capability,status} - dispatched capability calls
//   - reposcout_capability_duration_seconds{capability} - capability latency
//   - reposcout_artifact_extractions_total{result} - clean, repaired or degraded extractions
//   - reposcout_model_tokens_total{direction} - input and output tokens
type Recorder struct {
	SessionsTotal       *prometheus.CounterVec
	SessionIterations   prometheus.Histogram
	CapabilityCalls     *prometheus.CounterVec
	CapabilityDuration  *prometheus.HistogramVec
	ArtifactExtractions *prometheus.CounterVec
	ModelTokensTotal    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. Use a fresh registry per Recorder;
// registering twice on the same registry panics. A nil reg leaves the
// collectors unregistered.
func New(reg *prometheus.Registry) *Recorder {
	var r prometheus.Registerer
	if reg != nil {
		r = reg
	}
	f := promauto.With(r)
	m := &Recorder{
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Analysis sessions by outcome.",
		}, []string{"outcome"}),
		SessionIterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_iterations",
			Help:      "Model round-trips per session.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),
		CapabilityCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_calls_total",
			Help:      "Capability calls by capability and status.",
		}, []string{"capability", "status"}),
		CapabilityDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capability_duration_seconds",
			Help:      "Capability call latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"capability"}),
		ArtifactExtractions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_extractions_total",
			Help:      "Final artifact extractions by result.",
		}, []string{"result"}),
		ModelTokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Model tokens by direction.",
		}, []string{"direction"}),
	}
	if reg != nil {
		m.gatherer = reg
	}
	return m
}

// SessionFinished records a terminal session. outcome is the terminal phase.
func (m *Recorder) SessionFinished(outcome string, iterations int) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(outcome).Inc()
	m.SessionIterations.Observe(float64(iterations))
}

// CapabilityCall records one dispatch. status is "ok" or the error code.
func (m *Recorder) CapabilityCall(capability string, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.CapabilityCalls.WithLabelValues(capability, status).Inc()
	m.CapabilityDuration.WithLabelValues(capability).Observe(d.Seconds())
}

// ArtifactExtraction records how the final artifact was recovered.
func (m *Recorder) ArtifactExtraction(result string) {
	if m == nil {
		return
	}
	m.ArtifactExtractions.WithLabelValues(result).Inc()
}

func (m *Recorder) ModelTokens(input, output int64) {
	if m == nil {
		return
	}
	if input > 0 {
		m.ModelTokensTotal.WithLabelValues("input").Add(float64(input))
	}
	if output > 0 {
		m.ModelTokensTotal.WithLabelValues("output").Add(float64(output))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Recorder) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
