// Package metrics holds the Prometheus collectors for quota decisions,
// transaction retries, match creation and the cooldown sweeper. They are
// registered on the default registry and served on the admin /metrics route.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QuotaDecisionsTotal counts gated operations by kind and outcome.
	QuotaDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinematch_quota_decisions_total",
			Help: "Quota decisions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// CooldownsStartedTotal counts ACTIVE -> COOLDOWN transitions.
	CooldownsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinematch_cooldowns_started_total",
			Help: "Cooldown windows started, by the kind that triggered them",
		},
		[]string{"kind"},
	)

	TxRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cinematch_tx_retries_total",
			Help: "Transactional updates retried after contention",
		},
	)

	TxContentionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cinematch_tx_contention_failures_total",
			Help: "Transactional updates that exhausted their retries",
		},
	)

	// MatchesCreatedTotal counts new reciprocal matches by discovery mode.
	MatchesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinematch_matches_created_total",
			Help: "New reciprocal matches",
		},
		[]string{"mode"},
	)

	MatchesDeferredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cinematch_matches_deferred_total",
			Help: "Eligible candidates left for a later search by the quota cap",
		},
	)

	DiscoverDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cinematch_discover_duration_seconds",
			Help:    "Duration of match discovery",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	SweepExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cinematch_sweep_expired_total",
			Help: "Cooldowns expired by the background sweeper",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cinematch_sweep_duration_seconds",
			Help:    "Duration of one cooldown sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	StatusCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinematch_status_cache_total",
			Help: "Quota status cache lookups by result",
		},
		[]string{"result"},
	)
)

// RecordQuotaDecision records one gated operation.
func RecordQuotaDecision(kind string, allowed bool, reason string) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied_" + reason
	}
	QuotaDecisionsTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordCooldownStarted(kind string) {
	CooldownsStartedTotal.WithLabelValues(kind).Inc()
}

func RecordTxRetry() {
	TxRetriesTotal.Inc()
}

func RecordTxContentionFailure() {
	TxContentionFailuresTotal.Inc()
}

// RecordDiscover records one discovery pass.
func RecordDiscover(mode string, created, deferred int, d time.Duration) {
	MatchesCreatedTotal.WithLabelValues(mode).Add(float64(created))
	MatchesDeferredTotal.Add(float64(deferred))
	DiscoverDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func RecordSweep(expired int, d time.Duration) {
	SweepExpiredTotal.Add(float64(expired))
	SweepDuration.Observe(d.Seconds())
}

func RecordStatusCache(hit bool) {
	if hit {
		StatusCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	StatusCacheTotal.WithLabelValues("miss").Inc()
}
