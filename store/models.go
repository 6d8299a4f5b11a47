// Package store contains the GORM-backed SQLite models and the repository
// the governance core runs on.
//
// Tables:
//
//	constitutions
//	agents ── promotion_history
//	tiers
//	promotions ── promotion_nominees
//	           └─ promotion_votes
//	proposals ── governance_votes
//
// List-valued columns (votes_for, votes_against, decision_scope, choices) hold
// JSON arrays. The vote lists on promotions are a projection of
// promotion_votes, which is authoritative.
package store

import (
	"time"
)

type Constitution struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"not null"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
}

type Agent struct {
	ID              string `gorm:"primaryKey;size:36"`
	WalletAddress   string `gorm:"uniqueIndex:idx_agent_wallet_scope;not null;size:42"`
	OperatorAddress string `gorm:"index;size:42"` // empty when the agent has no known operator
	Tier            int    `gorm:"index;not null"`
	ConstitutionID  string `gorm:"uniqueIndex:idx_agent_wallet_scope;index;not null;size:64"`
	RegisteredAt    time.Time
	ExitedAt        *time.Time `gorm:"index"` // soft exit flag
}

// PromotionHistory is append-only.
type PromotionHistory struct {
	ID          uint   `gorm:"primaryKey"`
	AgentID     string `gorm:"index;not null;size:36"`
	PromotionID string `gorm:"not null;size:36"`
	FromTier    int    `gorm:"not null"`
	ToTier      int    `gorm:"not null"`
	PromotedAt  time.Time
}

func (PromotionHistory) TableName() string {
	return "promotion_history"
}

type Tier struct {
	ID                 uint    `gorm:"primaryKey"`
	Level              int     `gorm:"uniqueIndex:idx_tier_level_scope;not null"`
	ConstitutionID     string  `gorm:"uniqueIndex:idx_tier_level_scope;size:64"`
	Name               string
	PromotionThreshold float64 `gorm:"not null"`
	DecisionScope      string  `gorm:"type:text"` // JSON array of scope tags
	CreatedByPromotion string  `gorm:"size:36"`   // empty for bootstrap tiers
	CreatedAt          time.Time
}

type Promotion struct {
	ID             string `gorm:"primaryKey;size:36"`
	FromTier       int    `gorm:"index;not null"`
	ToTier         int    `gorm:"not null"`
	ProposedBy     string `gorm:"index;not null;size:36"`
	Rationale      string `gorm:"type:text"`
	VotesFor       string `gorm:"type:text"` // JSON array of voter ids
	VotesAgainst   string `gorm:"type:text"` // JSON array of voter ids
	QuorumRequired int    `gorm:"not null"`
	Status         string `gorm:"index;not null;size:16"` // pending, approved, rejected, expired, withdrawn
	ConstitutionID string `gorm:"index;size:64"`
	CreatedAt      time.Time
	VotingEndsAt   time.Time `gorm:"index"`
	ResolvedAt     *time.Time
}

type PromotionNominee struct {
	ID          uint   `gorm:"primaryKey"`
	PromotionID string `gorm:"uniqueIndex:idx_promotion_nominee;not null;size:36"`
	AgentID     string `gorm:"uniqueIndex:idx_promotion_nominee;index;not null;size:36"`
	Position    int
}

// PromotionVote holds one row per (promotion, voter); a changed vote
// updates the row in place.
type PromotionVote struct {
	ID          string `gorm:"primaryKey;size:36"`
	PromotionID string `gorm:"uniqueIndex:idx_promotion_voter;not null;size:36"`
	VoterID     string `gorm:"uniqueIndex:idx_promotion_voter;index;not null;size:36"`
	Vote        bool
	Reason      string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Proposal struct {
	ID                  string `gorm:"primaryKey;size:36"`
	Title               string `gorm:"not null"`
	Description         string `gorm:"type:text"`
	ProposalType        string `gorm:"not null;size:32"`
	Choices             string `gorm:"type:text"` // JSON array
	Status              string `gorm:"index;not null;size:16"` // draft, active, closed
	VotingPeriodSeconds int64
	QuorumThreshold     float64
	ApprovalThreshold   float64
	AuthorWallet        string `gorm:"index;size:42"`
	SnapshotID          string `gorm:"index"`
	ConstitutionID      string `gorm:"index;size:64"`
	CreatedAt           time.Time
	StartAt             *time.Time
	EndAt               *time.Time
}

type GovernanceVote struct {
	ID            uint   `gorm:"primaryKey"`
	ProposalID    string `gorm:"uniqueIndex:idx_proposal_wallet;not null;size:36"`
	WalletAddress string `gorm:"uniqueIndex:idx_proposal_wallet;index;not null;size:42"`
	Choice        int    `gorm:"not null"` // 1-indexed
	Reason        string `gorm:"type:text"`
	CreatedAt     time.Time
}
