package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideResolution(t *testing.T) {
	cases := []struct {
		name  string
		tally Tally
		want  PromotionStatus
	}{
		{"below quorum waits", Tally{For: 1, Quorum: 2, Eligible: 4, Threshold: 0.67}, PromotionPending},
		{"quorum and threshold approve", Tally{For: 2, Quorum: 2, Eligible: 4, Threshold: 0.67}, PromotionApproved},
		{"exact threshold approves", Tally{For: 2, Against: 1, Quorum: 3, Eligible: 3, Threshold: 2.0 / 3.0}, PromotionApproved},
		{"unreachable threshold rejects early", Tally{For: 0, Against: 2, Quorum: 2, Eligible: 4, Threshold: 0.67}, PromotionRejected},
		{"reachable threshold keeps waiting", Tally{For: 1, Against: 1, Quorum: 2, Eligible: 10, Threshold: 0.67}, PromotionPending},
		{"expired with quorum and threshold approves", Tally{For: 3, Against: 1, Quorum: 3, Eligible: 10, Threshold: 0.67, Expired: true}, PromotionApproved},
		{"expired without quorum", Tally{For: 1, Quorum: 3, Eligible: 10, Threshold: 0.67, Expired: true}, PromotionExpired},
		{"expired below threshold", Tally{For: 1, Against: 2, Quorum: 3, Eligible: 10, Threshold: 0.67, Expired: true}, PromotionExpired},
		{"no eligible voters never rejects", Tally{For: 0, Against: 1, Quorum: 1, Eligible: 0, Threshold: 0.67}, PromotionPending},
		{"shrunk electorate clamps remaining", Tally{For: 1, Against: 3, Quorum: 2, Eligible: 2, Threshold: 0.67}, PromotionRejected},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, DecideResolution(c.tally))
		})
	}
}

// Once quorum is met and approval is reached, no additional votes against
// can be needed for the decision; and a rejection is never issued while
// the remaining voters could still carry the threshold.
func TestDecideResolutionConsistency(t *testing.T) {
	const threshold = 0.67
	for eligible := 1; eligible <= 12; eligible++ {
		quorum := QuorumRequired(eligible, 0.5)
		for forVotes := 0; forVotes <= eligible; forVotes++ {
			for against := 0; forVotes+against <= eligible; against++ {
				got := DecideResolution(Tally{
					For: forVotes, Against: against, Quorum: quorum,
					Eligible: eligible, Threshold: threshold,
				})
				total := forVotes + against
				switch got {
				case PromotionApproved:
					assert.GreaterOrEqual(t, total, quorum)
					assert.GreaterOrEqual(t, float64(forVotes)/float64(total), threshold)
				case PromotionRejected:
					assert.GreaterOrEqual(t, total, quorum)
					best := float64(forVotes+eligible-total) / float64(eligible)
					assert.Less(t, best, threshold)
				case PromotionPending:
				default:
					t.Fatalf("unexpected status %s before the deadline", got)
				}
			}
		}
	}
}

func TestQuorumRequired(t *testing.T) {
	assert.Equal(t, 1, QuorumRequired(0, 0.5))
	assert.Equal(t, 1, QuorumRequired(1, 0.5))
	assert.Equal(t, 2, QuorumRequired(4, 0.5))
	assert.Equal(t, 3, QuorumRequired(5, 0.5))
	assert.Equal(t, 3, QuorumRequired(10, 0.3))
	assert.Equal(t, 1, QuorumRequired(-3, 0.5))
}

func TestNormalizeNominees(t *testing.T) {
	got, err := normalizeNominees("p", []string{" a ", "b", "a"})
	assert.Nil(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	_, err = normalizeNominees("p", nil)
	assert.IsType(t, &ValidationError{}, err)
	_, err = normalizeNominees("p", []string{"a", "p"})
	assert.IsType(t, &ValidationError{}, err)
	_, err = normalizeNominees("p", []string{""})
	assert.IsType(t, &ValidationError{}, err)
}

func TestSplitVotes(t *testing.T) {
	votesFor, votesAgainst := splitVotes([]*PromotionVote{
		{VoterID: "a", Vote: true},
		{VoterID: "b", Vote: false},
		{VoterID: "c", Vote: true},
	})
	assert.Equal(t, []string{"a", "c"}, votesFor)
	assert.Equal(t, []string{"b"}, votesAgainst)

	votesFor, votesAgainst = splitVotes(nil)
	assert.Empty(t, votesFor)
	assert.NotNil(t, votesAgainst)
}

func TestDecisionScopeFor(t *testing.T) {
	assert.NotContains(t, DecisionScopeFor(2), ScopeConstitutional)
	assert.Contains(t, DecisionScopeFor(3), ScopeConstitutional)
	assert.Contains(t, DecisionScopeFor(4), ScopeEnforcement)
	assert.Len(t, DecisionScopeFor(1), 4)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	assert.Len(t, k.locks, 1)
	unlock()
	assert.Len(t, k.locks, 0)
}
