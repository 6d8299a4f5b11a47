package api

import (
	"time"

	"github.com/axiomesh/constitution/core"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

type RegisterAgentRequest struct {
	WalletAddress   string `json:"wallet_address"`
	OperatorAddress string `json:"operator_address"`
	ConstitutionID  string `json:"constitution_id"`
	Message         string `json:"message"`
	Signature       string `json:"signature"`
}

// Signed carries a personal_sign proof over an identity.ActionMessage naming
// the caller's wallet and the action tokens of the request.
type Signed struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

func (s Signed) proof() core.Proof {
	return core.Proof{Message: s.Message, Signature: s.Signature}
}

type ExitAgentRequest struct {
	Signed
}

type CreatePromotionRequest struct {
	Signed
	ProposerID string   `json:"proposer_id"`
	NomineeIDs []string `json:"nominee_ids"`
	Rationale  string   `json:"rationale"`
}

type PromotionVoteRequest struct {
	Signed
	VoterID string `json:"voter_id"`
	Vote    *bool  `json:"vote"`
	Reason  string `json:"reason"`
}

type WithdrawRequest struct {
	Signed
	WithdrawerID string `json:"withdrawer_id"`
}

type CreateProposalRequest struct {
	Signed
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	ProposalType   string   `json:"proposal_type"`
	Choices        []string `json:"choices"`
	AuthorWallet   string   `json:"author_wallet"`
	ConstitutionID string   `json:"constitution_id"`
}

type UpdateProposalRequest struct {
	Signed
	AuthorWallet string   `json:"author_wallet"`
	Title        *string  `json:"title"`
	Description  *string  `json:"description"`
	Choices      []string `json:"choices"`
}

type ActivateProposalRequest struct {
	Signed
	AuthorWallet string               `json:"author_wallet"`
	SnapshotID   string               `json:"snapshot_id"`
	Envelope     *core.OracleEnvelope `json:"envelope"`
}

type GovernanceVoteRequest struct {
	Signed
	WalletAddress string `json:"wallet_address"`
	Choice        int    `json:"choice"`
	Reason        string `json:"reason"`
}

type AgentResponse struct {
	ID               string            `json:"id"`
	WalletAddress    string            `json:"wallet_address"`
	OperatorAddress  string            `json:"operator_address,omitempty"`
	Tier             int               `json:"tier"`
	ConstitutionID   string            `json:"constitution_id"`
	RegisteredAt     time.Time         `json:"registered_at"`
	ExitedAt         *time.Time        `json:"exited_at,omitempty"`
	PromotionHistory []PromotionRecord `json:"promotion_history"`
}

type PromotionRecord struct {
	PromotionID string    `json:"promotion_id"`
	FromTier    int       `json:"from_tier"`
	ToTier      int       `json:"to_tier"`
	PromotedAt  time.Time `json:"promoted_at"`
}

type PromotionResponse struct {
	ID             string     `json:"id"`
	FromTier       int        `json:"from_tier"`
	ToTier         int        `json:"to_tier"`
	Nominees       []string   `json:"nominees"`
	ProposedBy     string     `json:"proposed_by"`
	Rationale      string     `json:"rationale"`
	VotesFor       []string   `json:"votes_for"`
	VotesAgainst   []string   `json:"votes_against"`
	QuorumRequired int        `json:"quorum_required"`
	Status         string     `json:"status"`
	ConstitutionID string     `json:"constitution_id"`
	CreatedAt      time.Time  `json:"created_at"`
	VotingEndsAt   time.Time  `json:"voting_ends_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

type PromotionVoteResponse struct {
	VoterID   string    `json:"voter_id"`
	Vote      bool      `json:"vote"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type PromotionDetailsResponse struct {
	PromotionResponse
	VotesForCount     int                     `json:"votes_for_count"`
	VotesAgainstCount int                     `json:"votes_against_count"`
	Threshold         float64                 `json:"threshold"`
	EligibleVoters    int                     `json:"eligible_voters"`
	Votes             []PromotionVoteResponse `json:"votes"`
}

type ProposalResponse struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	ProposalType      string     `json:"proposal_type"`
	Choices           []string   `json:"choices"`
	Status            string     `json:"status"`
	VotingPeriodDays  float64    `json:"voting_period_days"`
	QuorumThreshold   float64    `json:"quorum_threshold"`
	ApprovalThreshold float64    `json:"approval_threshold"`
	AuthorWallet      string     `json:"author_wallet"`
	SnapshotID        string     `json:"snapshot_id,omitempty"`
	ConstitutionID    string     `json:"constitution_id"`
	CreatedAt         time.Time  `json:"created_at"`
	StartAt           *time.Time `json:"start_at,omitempty"`
	EndAt             *time.Time `json:"end_at,omitempty"`
}

type OutcomeResponse struct {
	Votes             int     `json:"votes"`
	QuorumMet         bool    `json:"quorum_met"`
	ApprovalRate      float64 `json:"approval_rate"`
	ApprovalThreshold float64 `json:"approval_threshold"`
	ApprovalMet       bool    `json:"approval_met"`
	Passed            bool    `json:"passed"`
}

type ProposalResultsResponse struct {
	Proposal   ProposalResponse     `json:"proposal"`
	LocalVotes int                  `json:"local_votes"`
	LocalTally map[int]int          `json:"local_tally"` // keyed by 1-indexed choice
	External   *core.OracleProposal `json:"external"`
	// ExternalVotes lists the votes the oracle counted
	ExternalVotes []core.OracleVote `json:"external_votes,omitempty"`
	Outcome       *OutcomeResponse  `json:"outcome"`
}

type GovernanceVoteResponse struct {
	ProposalID    string    `json:"proposal_id"`
	WalletAddress string    `json:"wallet_address"`
	Choice        int       `json:"choice"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type TierResponse struct {
	Level              int       `json:"level"`
	Name               string    `json:"name,omitempty"`
	PromotionThreshold float64   `json:"promotion_threshold"`
	DecisionScope      []string  `json:"decision_scope"`
	CreatedByPromotion string    `json:"created_by_promotion,omitempty"`
	ConstitutionID     string    `json:"constitution_id"`
	MemberCount        int       `json:"member_count"`
	CreatedAt          time.Time `json:"created_at"`
}

func toAgentResponse(a *core.Agent) AgentResponse {
	history := make([]PromotionRecord, 0, len(a.PromotionHistory))
	for _, r := range a.PromotionHistory {
		history = append(history, PromotionRecord(r))
	}
	return AgentResponse{
		ID:               a.ID,
		WalletAddress:    a.WalletAddress,
		OperatorAddress:  a.OperatorAddress,
		Tier:             a.Tier,
		ConstitutionID:   a.ConstitutionID,
		RegisteredAt:     a.RegisteredAt,
		ExitedAt:         a.ExitedAt,
		PromotionHistory: history,
	}
}

func toPromotionResponse(p *core.Promotion) PromotionResponse {
	return PromotionResponse{
		ID:             p.ID,
		FromTier:       p.FromTier,
		ToTier:         p.ToTier,
		Nominees:       p.Nominees,
		ProposedBy:     p.ProposedBy,
		Rationale:      p.Rationale,
		VotesFor:       p.VotesFor,
		VotesAgainst:   p.VotesAgainst,
		QuorumRequired: p.QuorumRequired,
		Status:         string(p.Status),
		ConstitutionID: p.ConstitutionID,
		CreatedAt:      p.CreatedAt,
		VotingEndsAt:   p.VotingEndsAt,
		ResolvedAt:     p.ResolvedAt,
	}
}

func toPromotionDetailsResponse(d *core.PromotionDetails) PromotionDetailsResponse {
	votes := make([]PromotionVoteResponse, 0, len(d.Votes))
	for _, v := range d.Votes {
		votes = append(votes, PromotionVoteResponse{
			VoterID:   v.VoterID,
			Vote:      v.Vote,
			Reason:    v.Reason,
			CreatedAt: v.CreatedAt,
		})
	}
	return PromotionDetailsResponse{
		PromotionResponse: toPromotionResponse(&d.Promotion),
		VotesForCount:     d.VotesForCount,
		VotesAgainstCount: d.VotesAgainstCount,
		Threshold:         d.Threshold,
		EligibleVoters:    d.EligibleVoters,
		Votes:             votes,
	}
}

func toProposalResponse(p *core.Proposal) ProposalResponse {
	return ProposalResponse{
		ID:                p.ID,
		Title:             p.Title,
		Description:       p.Description,
		ProposalType:      string(p.Type),
		Choices:           p.Choices,
		Status:            string(p.Status),
		VotingPeriodDays:  p.VotingPeriod.Hours() / 24,
		QuorumThreshold:   p.QuorumThreshold,
		ApprovalThreshold: p.ApprovalThreshold,
		AuthorWallet:      p.AuthorWallet,
		SnapshotID:        p.SnapshotID,
		ConstitutionID:    p.ConstitutionID,
		CreatedAt:         p.CreatedAt,
		StartAt:           p.StartAt,
		EndAt:             p.EndAt,
	}
}

func toProposalResultsResponse(r *core.ProposalResults) ProposalResultsResponse {
	resp := ProposalResultsResponse{
		Proposal:   toProposalResponse(r.Proposal),
		LocalVotes: r.LocalVotes,
		LocalTally: r.LocalTally,
		External:   r.External,

		ExternalVotes: r.ExternalVotes,
	}
	if r.Outcome != nil {
		o := OutcomeResponse(*r.Outcome)
		resp.Outcome = &o
	}
	return resp
}

func toGovernanceVoteResponse(v *core.GovernanceVote) GovernanceVoteResponse {
	return GovernanceVoteResponse{
		ProposalID:    v.ProposalID,
		WalletAddress: v.WalletAddress,
		Choice:        v.Choice,
		Reason:        v.Reason,
		CreatedAt:     v.CreatedAt,
	}
}

func toTierResponse(t *core.Tier) TierResponse {
	return TierResponse{
		Level:              t.Level,
		Name:               t.Name,
		PromotionThreshold: t.PromotionThreshold,
		DecisionScope:      t.DecisionScope,
		CreatedByPromotion: t.CreatedByPromotion,
		ConstitutionID:     t.ConstitutionID,
		MemberCount:        t.MemberCount,
		CreatedAt:          t.CreatedAt,
	}
}
