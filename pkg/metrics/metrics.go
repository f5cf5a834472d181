// Package metrics defines the Prometheus collectors the analyzer
// exposes on its ops HTTP surface, following the same sync.Once
// registration pattern used throughout this stack.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BansEmitted counts bans a validator produced, before the emitter
	// attempts delivery.
	BansEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "analyzer_bans_emitted_total",
		Help: "Bans produced by a validator, labeled by validator name.",
	}, []string{"validator"})

	// ValidatorErrors counts detector-structural errors, labeled by
	// validator name.
	ValidatorErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "analyzer_validator_errors_total",
		Help: "Validator errors, labeled by validator name.",
	}, []string{"validator"})

	// DecodeErrors counts dropped bus messages that failed to decode.
	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "analyzer_decode_errors_total",
		Help: "Bus messages dropped for failing to decode as a Request array.",
	})

	// EmitAttempts counts every POST the emitter makes to an executor
	// URL, labeled by outcome (success, retry, dropped).
	EmitAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "analyzer_emit_attempts_total",
		Help: "Emit attempts against executor URLs, labeled by outcome.",
	}, []string{"outcome"})

	// QueueDepth reports the current occupancy of Q1 (ingest) and Q2
	// (emit), sampled by the producing stage (the ingestor for Q1, the
	// validation service for Q2) after every successful send.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "analyzer_queue_depth",
		Help: "Current depth of the pipeline's bounded queues.",
	}, []string{"queue"})
)

var registerOnce sync.Once

// Register adds all analyzer collectors to reg. Safe to call more than
// once; only the first call takes effect.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(BansEmitted, ValidatorErrors, DecodeErrors, EmitAttempts, QueueDepth)
	})
}
