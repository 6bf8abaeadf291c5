package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics tracks instruction processing.
type EscrowMetrics struct {
	instructions *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	settled      *prometheus.CounterVec
	rejections   *prometheus.CounterVec
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the process wide escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_instructions_total",
				Help: "Count of processed instructions by type and outcome.",
			}, []string{"type", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "escrow_instruction_duration_seconds",
				Help:    "Latency distribution of instruction execution including commit.",
				Buckets: prometheus.DefBuckets,
			}, []string{"type"}),
			settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_settled_amount_total",
				Help: "Token units moved by deposits, releases and refunds.",
			}, []string{"kind"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_rejections_total",
				Help: "Count of rejected instructions by error name.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			escrowRegistry.instructions,
			escrowRegistry.latency,
			escrowRegistry.settled,
			escrowRegistry.rejections,
		)
	})
	return escrowRegistry
}

// ObserveInstruction records one processed instruction. reason is the error
// name for rejected instructions and ignored otherwise.
func (m *EscrowMetrics) ObserveInstruction(typ string, d time.Duration, reason string, err error) {
	if m == nil {
		return
	}
	typ = label(typ)
	outcome := "committed"
	if err != nil {
		outcome = "rejected"
		m.rejections.WithLabelValues(label(reason)).Inc()
	}
	m.instructions.WithLabelValues(typ, outcome).Inc()
	m.latency.WithLabelValues(typ).Observe(d.Seconds())
}

// AddSettled adds amount units to the settlement counter of kind.
func (m *EscrowMetrics) AddSettled(kind string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	m.settled.WithLabelValues(label(kind)).Add(float64(amount))
}

func label(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
