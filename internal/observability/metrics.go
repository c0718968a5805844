package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	// LedgerImbalances is the number of integrity violations found by the
	// most recent reconciliation run. Non-zero should page.
	LedgerImbalances = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_imbalances",
		Help: "Integrity violations found by the last reconciliation run",
	})

	// IdempotencyEvents counts idempotency middleware outcomes.
	IdempotencyEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idempotency_events_total",
		Help: "Idempotency middleware outcomes",
	}, []string{"outcome"})

	// ComplianceDecisions counts pre-flight outcomes: allowed, review, blocked.
	ComplianceDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "compliance_decisions_total",
		Help: "Compliance pre-flight decision outcomes",
	}, []string{"outcome"})

	// WebhookEvents counts provider callback processing outcomes.
	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Payment provider webhook processing outcomes",
	}, []string{"outcome"})

	// EscrowTransitions counts escrow lifecycle transitions.
	EscrowTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_transitions_total",
		Help: "Escrow state machine transitions",
	}, []string{"transition"})

	// WorkerRuns counts background worker run outcomes.
	WorkerRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_runs_total",
		Help: "Background worker run outcomes",
	}, []string{"worker", "result"})
)

// Init registers all collectors with the default registry. Safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpDurationHistogram,
			LedgerImbalances,
			IdempotencyEvents,
			ComplianceDecisions,
			WebhookEvents,
			EscrowTransitions,
			WorkerRuns,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	IdempotencyEvents.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	WorkerRuns.WithLabelValues(worker, result).Inc()
}
