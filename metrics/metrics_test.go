package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AgentRegistered()
	m.PromotionVote(true)
	m.PromotionResolved("approved")
	m.SweepFinished(time.Second, 3)
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PromotionVote(true)
	m.PromotionVote(true)
	m.PromotionVote(false)
	m.PromotionResolved("approved")
	m.SweepFinished(10*time.Millisecond, 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.promotionVotes.WithLabelValues("for")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.promotionVotes.WithLabelValues("against")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.promotionsResolved.WithLabelValues("approved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweepResolved))
}
