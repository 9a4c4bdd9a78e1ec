// Package metrics exposes Prometheus counters and histograms for the pulse
// pipeline. Collectors are registered at import time; handlers call the
// Record* helpers so instrumented code never touches prometheus types.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PulsesStarted counts accepted start-pulse requests.
	PulsesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulseshrine_pulses_started_total",
		Help: "Total number of pulses started",
	})

	// PulsesStopped counts accepted stop-pulse requests.
	PulsesStopped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulseshrine_pulses_stopped_total",
		Help: "Total number of pulses stopped",
	})

	// PulsesArchived counts pulses that completed the pipeline, by
	// enrichment path.
	PulsesArchived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulseshrine_pulses_archived_total",
		Help: "Total number of pulses archived",
	}, []string{"enhanced"})

	// AdmissionDecisions counts selection outcomes: selected, rejected,
	// budget_denied, disabled.
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulseshrine_admission_decisions_total",
		Help: "Total admission decisions by outcome",
	}, []string{"outcome"})

	// EnrichmentCostCents accumulates actual LLM spend in cents.
	EnrichmentCostCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulseshrine_enrichment_cost_cents_total",
		Help: "Total LLM enrichment cost in cents",
	})

	// LLMCalls counts model invocations by model and status
	// (success, error).
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulseshrine_llm_calls_total",
		Help: "Total LLM API calls by model and status",
	}, []string{"model", "status"})

	// StreamRedeliveries counts stream records seen more than once by the
	// orchestrator (deduplicated by the archive guard).
	StreamRedeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulseshrine_stream_redeliveries_total",
		Help: "Total stream records redelivered to the orchestrator",
	})

	// EnrichmentDuration observes end-to-end enrichment latency.
	EnrichmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulseshrine_enrichment_duration_seconds",
		Help:    "Time spent enriching a pulse end to end",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})

	// WSClients tracks connected websocket clients.
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulseshrine_websocket_clients",
		Help: "Currently connected websocket clients",
	})
)

// RecordPulseStarted increments the started counter.
func RecordPulseStarted() { PulsesStarted.Inc() }

// RecordPulseStopped increments the stopped counter.
func RecordPulseStopped() { PulsesStopped.Inc() }

// RecordPulseArchived increments the archived counter for the given path.
func RecordPulseArchived(aiEnhanced bool) {
	label := "false"
	if aiEnhanced {
		label = "true"
	}
	PulsesArchived.WithLabelValues(label).Inc()
}

// RecordAdmissionDecision increments the decision counter for an outcome.
func RecordAdmissionDecision(outcome string) {
	AdmissionDecisions.WithLabelValues(outcome).Inc()
}

// RecordEnrichmentCost adds spent cents to the cost counter.
func RecordEnrichmentCost(cents float64) {
	if cents > 0 {
		EnrichmentCostCents.Add(cents)
	}
}

// RecordLLMCall increments the call counter for a model invocation.
func RecordLLMCall(model string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	LLMCalls.WithLabelValues(model, status).Inc()
}

// RecordStreamRedelivery increments the redelivery counter.
func RecordStreamRedelivery() { StreamRedeliveries.Inc() }

// ObserveEnrichmentDuration records end-to-end enrichment latency.
func ObserveEnrichmentDuration(seconds float64) {
	EnrichmentDuration.Observe(seconds)
}
