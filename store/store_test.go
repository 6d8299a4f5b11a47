package store

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomesh/constitution/core"
)

const scope = "default"

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemoryDB(nil)
	require.Nil(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func insertAgent(t *testing.T, s *Store, id, wallet, operator string, tier int) *core.Agent {
	t.Helper()
	a := &core.Agent{
		ID:              id,
		WalletAddress:   wallet,
		OperatorAddress: operator,
		Tier:            tier,
		ConstitutionID:  scope,
		RegisteredAt:    time.Now(),
	}
	require.Nil(t, s.InsertAgent(context.Background(), a))
	return a
}

func insertPromotion(t *testing.T, s *Store, id string, nominees []string, endsAt time.Time) *core.Promotion {
	t.Helper()
	p := &core.Promotion{
		ID:             id,
		FromTier:       2,
		ToTier:         3,
		Nominees:       nominees,
		ProposedBy:     "proposer",
		QuorumRequired: 2,
		Status:         core.PromotionPending,
		ConstitutionID: scope,
		CreatedAt:      time.Now(),
		VotingEndsAt:   endsAt,
	}
	require.Nil(t, s.InsertPromotion(context.Background(), p))
	return p
}

func TestFindersReturnNilWhenMissing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	agent, err := s.FindAgentByID(ctx, "nope", "")
	assert.Nil(t, err)
	assert.Nil(t, agent)

	tier, err := s.FindTier(ctx, 7, scope)
	assert.Nil(t, err)
	assert.Nil(t, tier)

	p, err := s.FindPromotion(ctx, "nope")
	assert.Nil(t, err)
	assert.Nil(t, p)

	prop, err := s.FindGovernanceProposal(ctx, "nope")
	assert.Nil(t, err)
	assert.Nil(t, prop)

	c, err := s.FindConstitution(ctx, "nope")
	assert.Nil(t, err)
	assert.Nil(t, c)
}

func TestAgents(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	insertAgent(t, s, "a1", "0xaaa", "0xop", 2)
	insertAgent(t, s, "a2", "0xbbb", "", 1)

	got, err := s.FindAgentByWallet(ctx, "0xaaa", scope)
	require.Nil(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, "0xop", got.OperatorAddress)
	assert.Empty(t, got.PromotionHistory)

	// wrong scope
	got, err = s.FindAgentByWallet(ctx, "0xaaa", "other")
	assert.Nil(t, err)
	assert.Nil(t, got)

	// duplicate wallet in the same constitution
	dup := &core.Agent{ID: "a3", WalletAddress: "0xaaa", ConstitutionID: scope, Tier: 1, RegisteredAt: time.Now()}
	assert.NotNil(t, s.InsertAgent(ctx, dup))

	require.Nil(t, s.UpdateAgentTier(ctx, "a1", 3))
	require.Nil(t, s.AppendPromotionHistory(ctx, "a1", core.PromotionRecord{
		PromotionID: "p1", FromTier: 2, ToTier: 3, PromotedAt: time.Now(),
	}))
	got, err = s.FindAgentByID(ctx, "a1", scope)
	require.Nil(t, err)
	assert.Equal(t, 3, got.Tier)
	require.Len(t, got.PromotionHistory, 1)
	assert.Equal(t, "p1", got.PromotionHistory[0].PromotionID)

	err = s.UpdateAgentTier(ctx, "missing", 3)
	assert.True(t, errors.Is(err, core.ErrAgentNotFound))

	count, err := s.CountTierMembers(ctx, 1, scope)
	require.Nil(t, err)
	assert.Equal(t, 1, count)

	require.Nil(t, s.MarkAgentExited(ctx, "a2", time.Now()))
	count, err = s.CountTierMembers(ctx, 1, scope)
	require.Nil(t, err)
	assert.Equal(t, 0, count)

	agents, err := s.ListAgents(ctx, core.AgentFilter{ConstitutionID: scope})
	require.Nil(t, err)
	assert.Len(t, agents, 1)
	agents, err = s.ListAgents(ctx, core.AgentFilter{ConstitutionID: scope, IncludeExited: true})
	require.Nil(t, err)
	assert.Len(t, agents, 2)

	// exited agents still count as registered
	total, err := s.CountAgents(ctx, scope)
	require.Nil(t, err)
	assert.Equal(t, 2, total)
	total, err = s.CountAgents(ctx, "other")
	require.Nil(t, err)
	assert.Equal(t, 0, total)
}

func TestTiers(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tier := &core.Tier{
		Level:              3,
		PromotionThreshold: 0.67,
		DecisionScope:      core.DecisionScopeFor(3),
		CreatedByPromotion: "p1",
		ConstitutionID:     scope,
		CreatedAt:          time.Now(),
	}
	require.Nil(t, s.InsertTier(ctx, tier))

	err := s.InsertTier(ctx, tier)
	assert.True(t, errors.Is(err, core.ErrTierExists))

	ok, err := s.TierExists(ctx, 3, scope)
	require.Nil(t, err)
	assert.True(t, ok)
	ok, err = s.TierExists(ctx, 3, "other")
	require.Nil(t, err)
	assert.False(t, ok)

	got, err := s.FindTier(ctx, 3, scope)
	require.Nil(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.CreatedByPromotion)
	assert.Equal(t, core.DecisionScopeFor(3), got.DecisionScope)

	tiers, err := s.ListTiers(ctx, scope)
	require.Nil(t, err)
	assert.Len(t, tiers, 1)
}

func TestPromotionVotes(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	insertAgent(t, s, "v1", "0x1", "0xop", 2)
	insertAgent(t, s, "v2", "0x2", "0xop", 2)
	insertPromotion(t, s, "p1", []string{"n1", "n2"}, time.Now().Add(time.Hour))

	p, err := s.FindPromotion(ctx, "p1")
	require.Nil(t, err)
	assert.Equal(t, []string{"n1", "n2"}, p.Nominees)
	assert.Empty(t, p.VotesFor)

	vote := &core.PromotionVote{ID: "x1", PromotionID: "p1", VoterID: "v1", Vote: true, CreatedAt: time.Now()}
	require.Nil(t, s.UpsertPromotionVote(ctx, vote))

	// the operator of v1 has now voted through another agent
	voted, err := s.HasOperatorPromotionVote(ctx, "p1", "0xop", "v2")
	require.Nil(t, err)
	assert.True(t, voted)
	voted, err = s.HasOperatorPromotionVote(ctx, "p1", "0xop", "v1")
	require.Nil(t, err)
	assert.False(t, voted)

	// a second vote from the same voter replaces the first
	changed := &core.PromotionVote{ID: "x2", PromotionID: "p1", VoterID: "v1", Vote: false, Reason: "changed", CreatedAt: time.Now()}
	require.Nil(t, s.UpsertPromotionVote(ctx, changed))
	votes, err := s.ListPromotionVotes(ctx, "p1")
	require.Nil(t, err)
	require.Len(t, votes, 1)
	assert.False(t, votes[0].Vote)
	assert.Equal(t, "changed", votes[0].Reason)

	require.Nil(t, s.UpdatePromotionVotes(ctx, "p1", nil, []string{"v1"}))
	p, err = s.FindPromotion(ctx, "p1")
	require.Nil(t, err)
	assert.Equal(t, []string{}, p.VotesFor)
	assert.Equal(t, []string{"v1"}, p.VotesAgainst)
}

func TestPromotionStatusGuard(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	insertPromotion(t, s, "p1", []string{"n1"}, time.Now().Add(time.Hour))

	require.Nil(t, s.UpdatePromotionStatus(ctx, "p1", core.PromotionApproved, time.Now()))

	err := s.UpdatePromotionStatus(ctx, "p1", core.PromotionRejected, time.Now())
	assert.True(t, errors.Is(err, core.ErrPromotionNotPending))

	err = s.UpdatePromotionStatus(ctx, "missing", core.PromotionRejected, time.Now())
	assert.True(t, errors.Is(err, core.ErrPromotionNotFound))

	p, err := s.FindPromotion(ctx, "p1")
	require.Nil(t, err)
	assert.Equal(t, core.PromotionApproved, p.Status)
	assert.NotNil(t, p.ResolvedAt)
}

func TestNomineeChecks(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	insertPromotion(t, s, "pending", []string{"n1"}, now.Add(time.Hour))
	insertPromotion(t, s, "failed", []string{"n2"}, now.Add(time.Hour))
	require.Nil(t, s.UpdatePromotionStatus(ctx, "failed", core.PromotionRejected, now.Add(-24*time.Hour)))

	pending, err := s.FindPendingPromotionForNominee(ctx, "n1")
	require.Nil(t, err)
	assert.True(t, pending)
	pending, err = s.FindPendingPromotionForNominee(ctx, "n2")
	require.Nil(t, err)
	assert.False(t, pending)

	cooling, err := s.FindRecentFailedPromotionForNominee(ctx, "n2", now.AddDate(0, 0, -30))
	require.Nil(t, err)
	assert.True(t, cooling)
	cooling, err = s.FindRecentFailedPromotionForNominee(ctx, "n2", now)
	require.Nil(t, err)
	assert.False(t, cooling)
}

func TestListPromotionsFilter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	insertPromotion(t, s, "old", []string{"n1"}, now.Add(-time.Hour))
	insertPromotion(t, s, "open", []string{"n2"}, now.Add(time.Hour))

	list, err := s.ListPromotions(ctx, core.PromotionFilter{Status: core.PromotionPending, EndsBefore: now})
	require.Nil(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "old", list[0].ID)
	assert.Equal(t, []string{"n1"}, list[0].Nominees)

	list, err = s.ListPromotions(ctx, core.PromotionFilter{})
	require.Nil(t, err)
	assert.Len(t, list, 2)
}

func TestGovernance(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	insertAgent(t, s, "a1", "0x1", "0xop", 2)
	insertAgent(t, s, "a2", "0x2", "0xop", 2)

	p := &core.Proposal{
		ID:                "g1",
		Title:             "Raise limits",
		Description:       "A description long enough",
		Type:              core.PolicyProposal,
		Choices:           []string{"For", "Against"},
		Status:            core.ProposalDraft,
		VotingPeriod:      7 * 24 * time.Hour,
		QuorumThreshold:   0.15,
		ApprovalThreshold: 0.51,
		AuthorWallet:      "0x1",
		ConstitutionID:    scope,
		CreatedAt:         time.Now(),
	}
	require.Nil(t, s.InsertGovernanceProposal(ctx, p))

	status := core.ProposalActive
	title := "Raise the limits"
	start := time.Now()
	require.Nil(t, s.UpdateGovernanceProposal(ctx, "g1", core.ProposalPatch{Status: &status, Title: &title, StartAt: &start}))
	err := s.UpdateGovernanceProposal(ctx, "missing", core.ProposalPatch{Status: &status})
	assert.True(t, errors.Is(err, core.ErrProposalNotFound))

	got, err := s.FindGovernanceProposal(ctx, "g1")
	require.Nil(t, err)
	assert.Equal(t, core.ProposalActive, got.Status)
	assert.Equal(t, title, got.Title)
	assert.Equal(t, 7*24*time.Hour, got.VotingPeriod)
	assert.Equal(t, []string{"For", "Against"}, got.Choices)
	assert.NotNil(t, got.StartAt)
	assert.Nil(t, got.EndAt)

	require.Nil(t, s.InsertGovernanceVote(ctx, &core.GovernanceVote{ProposalID: "g1", WalletAddress: "0x1", Choice: 1, CreatedAt: time.Now()}))
	assert.NotNil(t, s.InsertGovernanceVote(ctx, &core.GovernanceVote{ProposalID: "g1", WalletAddress: "0x1", Choice: 2, CreatedAt: time.Now()}))

	voted, err := s.FindGovernanceVote(ctx, "g1", "0x1")
	require.Nil(t, err)
	assert.True(t, voted)

	voted, err = s.FindOperatorGovernanceVote(ctx, "g1", "0xop", "0x2")
	require.Nil(t, err)
	assert.True(t, voted)
	voted, err = s.FindOperatorGovernanceVote(ctx, "g1", "0xop", "0x1")
	require.Nil(t, err)
	assert.False(t, voted)

	votes, err := s.ListGovernanceVotes(ctx, "g1")
	require.Nil(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, 1, votes[0].Choice)
}

func TestOperatorGovernanceVoteIsScoped(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// 0x1 has no operator here but shares 0xop with 0x2 in another constitution
	insertAgent(t, s, "a1", "0x1", "", 2)
	insertAgent(t, s, "a2", "0x2", "0xop", 2)
	require.Nil(t, s.InsertAgent(ctx, &core.Agent{
		ID: "b1", WalletAddress: "0x1", OperatorAddress: "0xop", Tier: 1, ConstitutionID: "other", RegisteredAt: time.Now(),
	}))

	require.Nil(t, s.InsertGovernanceProposal(ctx, &core.Proposal{
		ID:             "g1",
		Title:          "Scoped",
		Type:           core.PolicyProposal,
		Choices:        []string{"For", "Against"},
		Status:         core.ProposalActive,
		ConstitutionID: scope,
		CreatedAt:      time.Now(),
	}))
	require.Nil(t, s.InsertGovernanceVote(ctx, &core.GovernanceVote{ProposalID: "g1", WalletAddress: "0x1", Choice: 1, CreatedAt: time.Now()}))

	voted, err := s.FindOperatorGovernanceVote(ctx, "g1", "0xop", "0x2")
	require.Nil(t, err)
	assert.False(t, voted)
}

func TestTransactionRollback(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx core.Repository) error {
		a := &core.Agent{ID: "a1", WalletAddress: "0x1", ConstitutionID: scope, Tier: 1, RegisteredAt: time.Now()}
		if err := tx.InsertAgent(ctx, a); err != nil {
			return err
		}
		return boom
	})
	assert.Equal(t, boom, err)

	agent, err := s.FindAgentByID(ctx, "a1", "")
	assert.Nil(t, err)
	assert.Nil(t, agent)
}

func TestConstitutions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.Nil(t, s.InsertConstitution(ctx, &core.Constitution{ID: "c1", Name: "First", CreatedAt: time.Now()}))
	c, err := s.FindConstitution(ctx, "c1")
	require.Nil(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "First", c.Name)

	list, err := s.ListConstitutions(ctx)
	require.Nil(t, err)
	assert.Len(t, list, 1)
}

func TestOpenFileDB(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileDB(dir, "constitution.db", nil)
	require.Nil(t, err)
	insertAgent(t, s, "a1", "0x1", "", 1)
	require.Nil(t, s.Close())

	s, err = OpenFileDB(dir, "constitution.db", nil)
	require.Nil(t, err)
	defer s.Close()
	agent, err := s.FindAgentByID(context.Background(), "a1", "")
	require.Nil(t, err)
	assert.NotNil(t, agent)
}
