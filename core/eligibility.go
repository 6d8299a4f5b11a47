package core

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

const minGovernanceVoterTier = 2

const (
	reasonNotRegistered     = "Not a registered agent"
	reasonGovernanceTier    = "Only Tier 2+ agents can vote on governance proposals"
	reasonAlreadyVoted      = "You have already voted on this proposal"
	reasonOperatorVoted     = "Your operator has already voted on this proposal via another agent"
	reasonVoterNotFound     = "Voter not found"
	reasonAgentExited       = "Agent has exited the network"
	reasonSameTier          = "Only members of the same tier can vote"
	reasonNomineeSelfVote   = "Nominees cannot vote on their own promotion"
	reasonOperatorPromotion = "Your operator has already voted on this promotion via another agent"
)

// EligibilityChecker answers whether an identity may vote right now.
// It only reads from the repository.
type EligibilityChecker struct {
	repo Repository
}

func NewEligibilityChecker(repo Repository) *EligibilityChecker {
	return &EligibilityChecker{repo: repo}
}

// CanVoteOnProposal checks, in order: registration, tier, a prior vote by
// the wallet and a prior vote by another agent of the same operator.
func (c *EligibilityChecker) CanVoteOnProposal(ctx context.Context, wallet, proposalID, scope string) (Eligibility, error) {
	wallet = NormalizeAddress(wallet)

	agent, err := c.repo.FindAgentByWallet(ctx, wallet, scope)
	if err != nil {
		return Eligibility{}, errors.Wrap(err, "find agent by wallet")
	}
	if agent == nil || agent.Exited() {
		return notEligible(reasonNotRegistered, http.StatusForbidden), nil
	}
	if agent.Tier < minGovernanceVoterTier {
		return notEligible(reasonGovernanceTier, http.StatusForbidden), nil
	}

	voted, err := c.repo.FindGovernanceVote(ctx, proposalID, wallet)
	if err != nil {
		return Eligibility{}, errors.Wrap(err, "find governance vote")
	}
	if voted {
		return notEligible(reasonAlreadyVoted, http.StatusBadRequest), nil
	}

	if agent.OperatorAddress != "" {
		voted, err := c.repo.FindOperatorGovernanceVote(ctx, proposalID, agent.OperatorAddress, wallet)
		if err != nil {
			return Eligibility{}, errors.Wrap(err, "find operator governance vote")
		}
		if voted {
			return notEligible(reasonOperatorVoted, http.StatusBadRequest), nil
		}
	}

	return eligible(agent), nil
}

// CanVoteOnPromotion checks that the voter sits in the promotion's source
// tier, is not a nominee, and that no sibling agent of the same operator has
// already voted.
func (c *EligibilityChecker) CanVoteOnPromotion(ctx context.Context, voterID, promotionID string, fromTier int, nominees []string, scope string) (Eligibility, error) {
	voter, err := c.repo.FindAgentByID(ctx, voterID, scope)
	if err != nil {
		return Eligibility{}, errors.Wrap(err, "find voter")
	}
	if voter == nil {
		return notEligible(reasonVoterNotFound, http.StatusNotFound), nil
	}
	if voter.Exited() {
		return notEligible(reasonAgentExited, http.StatusForbidden), nil
	}
	if voter.Tier != fromTier {
		return notEligible(reasonSameTier, http.StatusForbidden), nil
	}
	if contains(nominees, voterID) {
		return notEligible(reasonNomineeSelfVote, http.StatusForbidden), nil
	}

	if voter.OperatorAddress != "" {
		voted, err := c.repo.HasOperatorPromotionVote(ctx, promotionID, voter.OperatorAddress, voterID)
		if err != nil {
			return Eligibility{}, errors.Wrap(err, "find operator promotion vote")
		}
		if voted {
			return notEligible(reasonOperatorPromotion, http.StatusBadRequest), nil
		}
	}

	return eligible(voter), nil
}

// NormalizeAddress lowercases and trims a wallet or operator address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
