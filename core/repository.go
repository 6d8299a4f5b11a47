package core

import (
	"context"
	"time"
)

// Repository is the persistence contract of the governance core.
//
// Finders return (nil, nil) when the row does not exist. Scope is a
// constitution id; an empty scope does not filter.
type Repository interface {
	// Transaction runs fn against a repository bound to one transaction.
	// A non-nil error from fn rolls everything back.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	InsertAgent(ctx context.Context, agent *Agent) error
	FindAgentByWallet(ctx context.Context, wallet, scope string) (*Agent, error)
	FindAgentByID(ctx context.Context, id, scope string) (*Agent, error)
	ListAgents(ctx context.Context, filter AgentFilter) ([]*Agent, error)
	// CountAgents counts every agent ever registered in scope, exited
	// ones included.
	CountAgents(ctx context.Context, scope string) (int, error)
	UpdateAgentTier(ctx context.Context, id string, tier int) error
	AppendPromotionHistory(ctx context.Context, id string, record PromotionRecord) error
	MarkAgentExited(ctx context.Context, id string, at time.Time) error

	FindTier(ctx context.Context, level int, scope string) (*Tier, error)
	TierExists(ctx context.Context, level int, scope string) (bool, error)
	InsertTier(ctx context.Context, tier *Tier) error
	ListTiers(ctx context.Context, scope string) ([]*Tier, error)
	CountTierMembers(ctx context.Context, level int, scope string) (int, error)

	InsertPromotion(ctx context.Context, p *Promotion) error
	FindPromotion(ctx context.Context, id string) (*Promotion, error)
	UpdatePromotionVotes(ctx context.Context, id string, votesFor, votesAgainst []string) error
	// UpdatePromotionStatus only moves a pending promotion; otherwise it
	// returns ErrPromotionNotPending.
	UpdatePromotionStatus(ctx context.Context, id string, status PromotionStatus, resolvedAt time.Time) error
	ListPromotions(ctx context.Context, filter PromotionFilter) ([]*Promotion, error)

	UpsertPromotionVote(ctx context.Context, vote *PromotionVote) error
	FindPromotionVote(ctx context.Context, promotionID, voterID string) (*PromotionVote, error)
	ListPromotionVotes(ctx context.Context, promotionID string) ([]*PromotionVote, error)
	// HasOperatorPromotionVote reports whether an agent other than
	// excludeVoterID controlled by operator has voted on the promotion.
	HasOperatorPromotionVote(ctx context.Context, promotionID, operator, excludeVoterID string) (bool, error)

	FindRecentFailedPromotionForNominee(ctx context.Context, nomineeID string, since time.Time) (bool, error)
	FindPendingPromotionForNominee(ctx context.Context, nomineeID string) (bool, error)

	InsertGovernanceProposal(ctx context.Context, p *Proposal) error
	FindGovernanceProposal(ctx context.Context, id string) (*Proposal, error)
	UpdateGovernanceProposal(ctx context.Context, id string, patch ProposalPatch) error
	FindGovernanceVote(ctx context.Context, proposalID, wallet string) (bool, error)
	// FindOperatorGovernanceVote reports whether any wallet other than
	// excludeWallet controlled by operator has voted on the proposal.
	FindOperatorGovernanceVote(ctx context.Context, proposalID, operator, excludeWallet string) (bool, error)
	InsertGovernanceVote(ctx context.Context, vote *GovernanceVote) error
	ListGovernanceVotes(ctx context.Context, proposalID string) ([]*GovernanceVote, error)

	FindConstitution(ctx context.Context, id string) (*Constitution, error)
}
