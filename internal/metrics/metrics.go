package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/plume-agent/plume/internal/config"
)

var (
	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_invocations_total",
			Help: "Total number of agent invocations by final outcome.",
		},
		[]string{"outcome"},
	)

	QuotaDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_quota_denials_total",
			Help: "Total number of quota denials by category.",
		},
		[]string{"category"},
	)

	DuplicateRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plume_duplicate_rejections_total",
			Help: "Total number of candidates rejected by similarity dedup.",
		},
	)

	DowngradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_richness_downgrades_total",
			Help: "Total number of content tier downgrades by starting tier.",
		},
		[]string{"from"},
	)

	UpstreamFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_upstream_failures_total",
			Help: "Total number of upstream call failures by service and kind.",
		},
		[]string{"service", "kind"},
	)

	LedgerCounters = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plume_ledger_count",
			Help: "End-of-invocation daily ledger counters by category.",
		},
		[]string{"category"},
	)
)

// Registry holds all agent metrics. A dedicated registry keeps the
// Pushgateway payload free of Go runtime collectors.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		InvocationsTotal,
		QuotaDenialsTotal,
		DuplicateRejectionsTotal,
		DowngradesTotal,
		UpstreamFailuresTotal,
		LedgerCounters,
	)
}

// Push sends the registry to the configured Pushgateway. The agent runs as
// a one-shot job, so scraping is not an option; push failures are logged
// and swallowed because metrics must never fail an invocation.
func Push(cfg config.MetricsConfig) {
	if cfg.PushgatewayURL == "" {
		return
	}
	job := cfg.Job
	if job == "" {
		job = "plume"
	}
	if err := push.New(cfg.PushgatewayURL, job).Gatherer(Registry).Push(); err != nil {
		slog.Warn("pushing metrics failed", "error", err)
	}
}
