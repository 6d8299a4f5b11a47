package api

import (
	"context"

	"github.com/axiomesh/constitution/core"
)

// Governance is what the HTTP handlers need from the engine.
type Governance interface {
	AuthorizeAgent(ctx context.Context, agentID string, proof core.Proof, actions ...string) (*core.Agent, error)
	AuthorizeWallet(wallet string, proof core.Proof, actions ...string) error

	RegisterAgent(ctx context.Context, req core.RegisterAgentRequest) (*core.Agent, error)
	ExitAgent(ctx context.Context, agentID string) error

	CreatePromotion(ctx context.Context, req core.CreatePromotionRequest) (*core.Promotion, error)
	VoteOnPromotion(ctx context.Context, promotionID, voterID string, inFavor bool, reason string) (*core.Promotion, error)
	WithdrawPromotion(ctx context.Context, promotionID, withdrawerID string) error
	GetPromotionWithDetails(ctx context.Context, promotionID string) (*core.PromotionDetails, error)

	CreateProposal(ctx context.Context, req core.CreateProposalRequest) (*core.Proposal, error)
	UpdateProposal(ctx context.Context, proposalID, authorWallet string, patch core.ProposalPatch) (*core.Proposal, error)
	ActivateProposal(ctx context.Context, req core.ActivateProposalRequest) (*core.Proposal, error)
	SyncProposal(ctx context.Context, proposalID string) (*core.Proposal, error)
	CastGovernanceVote(ctx context.Context, req core.CastVoteRequest) (*core.GovernanceVote, error)
	GetProposalWithResults(ctx context.Context, proposalID string) (*core.ProposalResults, error)

	Tiers() *core.TierRegistry
}

var _ Governance = (*core.Engine)(nil)
