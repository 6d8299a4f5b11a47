package core

import (
	"time"
)

type PromotionStatus string

const (
	PromotionPending   PromotionStatus = "pending"
	PromotionApproved  PromotionStatus = "approved"
	PromotionRejected  PromotionStatus = "rejected"
	PromotionExpired   PromotionStatus = "expired"
	PromotionWithdrawn PromotionStatus = "withdrawn"
)

// Terminal reports whether no further transition is possible.
func (s PromotionStatus) Terminal() bool {
	return s != PromotionPending
}

type ProposalStatus string

const (
	ProposalDraft  ProposalStatus = "draft"
	ProposalActive ProposalStatus = "active"
	ProposalClosed ProposalStatus = "closed"
)

type ProposalType string

const (
	// ConstitutionalAmendment changes the constitution text itself
	ConstitutionalAmendment ProposalType = "constitutional_amendment"

	// BoundaryChange moves the limits of what the network may decide
	BoundaryChange ProposalType = "boundary_change"

	PolicyProposal     ProposalType = "policy_proposal"
	ResourceAllocation ProposalType = "resource_allocation"

	// EmergencyAction is short lived and needs little participation
	EmergencyAction ProposalType = "emergency_action"
)

// Decision scope tags granted by a tier.
const (
	ScopeDeliberation   = "deliberation"
	ScopeOperational    = "operational"
	ScopePolicy         = "policy"
	ScopePromotion      = "promotion"
	ScopeConstitutional = "constitutional"
	ScopeEnforcement    = "enforcement"
)

type Agent struct {
	ID            string
	WalletAddress string
	// OperatorAddress is the human controller, empty when unknown
	OperatorAddress  string
	Tier             int
	ConstitutionID   string
	RegisteredAt     time.Time
	ExitedAt         *time.Time
	PromotionHistory []PromotionRecord
}

func (a *Agent) Exited() bool {
	return a.ExitedAt != nil
}

type PromotionRecord struct {
	PromotionID string
	FromTier    int
	ToTier      int
	PromotedAt  time.Time
}

type Tier struct {
	Level              int
	Name               string
	PromotionThreshold float64
	DecisionScope      []string
	CreatedByPromotion string
	ConstitutionID     string
	CreatedAt          time.Time
	// MemberCount is derived at read time
	MemberCount int
}

type Promotion struct {
	ID             string
	FromTier       int
	ToTier         int
	Nominees       []string
	ProposedBy     string
	Rationale      string
	VotesFor       []string
	VotesAgainst   []string
	QuorumRequired int
	Status         PromotionStatus
	ConstitutionID string
	CreatedAt      time.Time
	VotingEndsAt   time.Time
	ResolvedAt     *time.Time
}

func (p *Promotion) IsNominee(agentID string) bool {
	return contains(p.Nominees, agentID)
}

type PromotionVote struct {
	ID          string
	PromotionID string
	VoterID     string
	Vote        bool
	Reason      string
	CreatedAt   time.Time
}

// PromotionFilter selects promotions; zero fields do not filter.
type PromotionFilter struct {
	Status         PromotionStatus
	ConstitutionID string
	FromTier       int
	ProposedBy     string
	// EndsBefore keeps promotions whose voting window closed before it
	EndsBefore time.Time
	Limit      int
}

// PromotionDetails is a promotion together with its tallies.
type PromotionDetails struct {
	Promotion
	VotesForCount     int
	VotesAgainstCount int
	Threshold         float64
	EligibleVoters    int
	Votes             []*PromotionVote
}

type Proposal struct {
	ID                string
	Title             string
	Description       string
	Type              ProposalType
	Choices           []string
	Status            ProposalStatus
	VotingPeriod      time.Duration
	QuorumThreshold   float64
	ApprovalThreshold float64
	AuthorWallet      string
	SnapshotID        string
	ConstitutionID    string
	CreatedAt         time.Time
	StartAt           *time.Time
	EndAt             *time.Time
}

// ProposalPatch is a partial update; nil fields are left untouched.
type ProposalPatch struct {
	Title       *string
	Description *string
	Choices     []string
	Status      *ProposalStatus
	SnapshotID  *string
	StartAt     *time.Time
	EndAt       *time.Time
}

type GovernanceVote struct {
	ProposalID    string
	WalletAddress string
	// Choice is 1-indexed into the proposal choices
	Choice    int
	Reason    string
	CreatedAt time.Time
}

type AgentFilter struct {
	ConstitutionID string
	Tier           int
	IncludeExited  bool
	Limit          int
}

type Constitution struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
