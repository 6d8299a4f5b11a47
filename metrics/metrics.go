// Package metrics holds the Prometheus instruments of the governance daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "constitution"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	agentsRegistered   prometheus.Counter
	promotionsCreated  prometheus.Counter
	promotionVotes     *prometheus.CounterVec
	promotionsResolved *prometheus.CounterVec
	tiersCreated       prometheus.Counter
	governanceVotes    prometheus.Counter
	proposalsCreated   *prometheus.CounterVec
	sweepDuration      prometheus.Histogram
	sweepResolved      prometheus.Counter
}

// New registers all instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		agentsRegistered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agents_registered_total",
			Help:      "agents registered through a verified wallet signature",
		}),
		promotionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_created_total",
			Help:      "promotions opened for voting",
		}),
		promotionVotes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_votes_total",
			Help:      "promotion votes recorded, by stance",
		}, []string{"stance"}),
		promotionsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotions_resolved_total",
			Help:      "promotions leaving the pending state, by final status",
		}, []string{"status"}),
		tiersCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiers_created_total",
			Help:      "tiers created by approved promotions or bootstrap",
		}),
		governanceVotes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "governance_votes_total",
			Help:      "governance proposal votes mirrored locally",
		}),
		proposalsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_created_total",
			Help:      "governance proposals drafted, by type",
		}, []string{"type"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expiry_sweep_duration_seconds",
			Help:      "time spent resolving expired promotions",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepResolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_sweep_resolved_total",
			Help:      "promotions resolved by the expiry sweep",
		}),
	}
}

func (m *Metrics) AgentRegistered() {
	if m == nil {
		return
	}
	m.agentsRegistered.Inc()
}

func (m *Metrics) PromotionCreated() {
	if m == nil {
		return
	}
	m.promotionsCreated.Inc()
}

func (m *Metrics) PromotionVote(inFavor bool) {
	if m == nil {
		return
	}
	stance := "against"
	if inFavor {
		stance = "for"
	}
	m.promotionVotes.WithLabelValues(stance).Inc()
}

func (m *Metrics) PromotionResolved(status string) {
	if m == nil {
		return
	}
	m.promotionsResolved.WithLabelValues(status).Inc()
}

func (m *Metrics) TierCreated() {
	if m == nil {
		return
	}
	m.tiersCreated.Inc()
}

func (m *Metrics) GovernanceVote() {
	if m == nil {
		return
	}
	m.governanceVotes.Inc()
}

func (m *Metrics) ProposalCreated(proposalType string) {
	if m == nil {
		return
	}
	m.proposalsCreated.WithLabelValues(proposalType).Inc()
}

func (m *Metrics) SweepFinished(elapsed time.Duration, resolved int) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(elapsed.Seconds())
	m.sweepResolved.Add(float64(resolved))
}
