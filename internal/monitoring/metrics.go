package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus metrics.
type Metrics struct {
	// Webhook ingestion
	WebhooksReceived  prometheus.Counter
	WebhooksUnmatched prometheus.Counter
	WebhooksFailed    prometheus.Counter
	WebhooksNoOp      prometheus.Counter

	// Settlement
	SettlementsTotal     prometheus.Counter
	SettlementShortfalls prometheus.Counter

	// Reconciliation sweeper
	SweepsTotal     prometheus.Counter
	SweepRecovered  prometheus.Counter
	SweepFailures   prometheus.Counter

	// Initiation
	CallsInitiated        prometheus.Counter
	InitiationPrecondFail *prometheus.CounterVec
}

// New builds the metric set against reg. A nil registerer yields working
// but unregistered metrics, which tests rely on.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WebhooksReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_webhooks_received_total",
			Help: "Status callbacks received from the telephony provider",
		}),
		WebhooksUnmatched: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_webhooks_unmatched_total",
			Help: "Callbacks whose provider reference matched no session",
		}),
		WebhooksFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_webhooks_failed_total",
			Help: "Callbacks whose processing transaction failed",
		}),
		WebhooksNoOp: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_webhooks_noop_total",
			Help: "Duplicate or out-of-order callbacks acknowledged without mutation",
		}),
		SettlementsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_settlements_total",
			Help: "Completed calls settled against both parties",
		}),
		SettlementShortfalls: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_settlement_shortfalls_total",
			Help: "Settlements where a party lacked any spendable allocation",
		}),
		SweepsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_sweeps_total",
			Help: "Reconciliation sweeps executed",
		}),
		SweepRecovered: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_sweep_recovered_total",
			Help: "Stuck sessions resolved by polling the gateway",
		}),
		SweepFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_sweep_failures_total",
			Help: "Per-session reconciliation failures",
		}),
		CallsInitiated: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_calls_initiated_total",
			Help: "Outbound connect requests accepted by the gateway",
		}),
		InitiationPrecondFail: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_initiation_precondition_failures_total",
			Help: "Call initiations rejected by precondition checks",
		}, []string{"reason"}),
	}
}
