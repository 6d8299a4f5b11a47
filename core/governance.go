package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	day = 24 * time.Hour

	minTitleLength       = 5
	minDescriptionLength = 20

	// minimum number of reported votes before an outcome counts
	MinOutcomeVotes = 10

	oracleStateClosed = "closed"
)

var defaultChoices = []string{"For", "Against", "Abstain"}

// ProposalTypeParams are fixed per proposal type at creation time.
type ProposalTypeParams struct {
	Quorum       float64
	Approval     float64
	VotingPeriod time.Duration
}

var proposalTypeParams = map[ProposalType]ProposalTypeParams{
	ConstitutionalAmendment: {Quorum: 0.33, Approval: 0.67, VotingPeriod: 14 * day},
	BoundaryChange:          {Quorum: 0.25, Approval: 0.67, VotingPeriod: 10 * day},
	PolicyProposal:          {Quorum: 0.15, Approval: 0.51, VotingPeriod: 7 * day},
	ResourceAllocation:      {Quorum: 0.10, Approval: 0.51, VotingPeriod: 5 * day},
	EmergencyAction:         {Quorum: 0.05, Approval: 0.67, VotingPeriod: 3 * day},
}

func ParamsFor(t ProposalType) (ProposalTypeParams, bool) {
	p, ok := proposalTypeParams[t]
	return p, ok
}

type CreateProposalRequest struct {
	Title          string
	Description    string
	Type           ProposalType
	Choices        []string
	AuthorWallet   string
	ConstitutionID string
}

type ActivateProposalRequest struct {
	ProposalID   string
	AuthorWallet string
	// SnapshotID links a proposal the author already published.
	SnapshotID string
	// Envelope is forwarded to the oracle when SnapshotID is empty.
	Envelope *OracleEnvelope
}

type CastVoteRequest struct {
	ProposalID    string
	WalletAddress string
	Choice        int
	Reason        string
}

// Outcome is the advisory reading of oracle scores; it never changes state.
type Outcome struct {
	Votes             int
	QuorumMet         bool
	ApprovalRate      float64
	ApprovalThreshold float64
	ApprovalMet       bool
	Passed            bool
}

// ProposalResults is a proposal with its local mirror and, when reachable,
// the oracle's view.
type ProposalResults struct {
	Proposal   *Proposal
	LocalVotes int
	// LocalTally counts local votes per 1-indexed choice
	LocalTally map[int]int
	External   *OracleProposal
	// ExternalVotes are the individual votes the oracle counted
	ExternalVotes []OracleVote
	Outcome       *Outcome
}

// CheckProposalOutcome computes pass/fail from oracle-reported numbers.
// The first score is the score in favour.
func CheckProposalOutcome(votes int, scores []float64, scoresTotal float64, t ProposalType) Outcome {
	params, ok := ParamsFor(t)
	out := Outcome{
		Votes:             votes,
		QuorumMet:         votes >= MinOutcomeVotes,
		ApprovalThreshold: params.Approval,
	}
	if len(scores) > 0 && scoresTotal > 0 {
		out.ApprovalRate = scores[0] / scoresTotal
	}
	out.ApprovalMet = ok && out.ApprovalRate >= params.Approval
	out.Passed = out.QuorumMet && out.ApprovalMet
	return out
}

// CreateProposal stores a draft proposal authored by a tier 2+ agent.
func (e *Engine) CreateProposal(ctx context.Context, req CreateProposalRequest) (*Proposal, error) {
	title := strings.TrimSpace(req.Title)
	description := strings.TrimSpace(req.Description)
	if len(title) < minTitleLength {
		return nil, validationf("Title must be at least %d characters", minTitleLength)
	}
	if len(description) < minDescriptionLength {
		return nil, validationf("Description must be at least %d characters", minDescriptionLength)
	}
	params, ok := ParamsFor(req.Type)
	if !ok {
		return nil, validationf("Unknown proposal type %q", req.Type)
	}
	choices, err := normalizeChoices(req.Choices)
	if err != nil {
		return nil, err
	}

	constitution, _, err := e.ResolveConstitution(ctx, req.ConstitutionID)
	if err != nil {
		return nil, err
	}
	author := NormalizeAddress(req.AuthorWallet)
	agent, err := e.repo.FindAgentByWallet(ctx, author, constitution.ID)
	if err != nil {
		return nil, errors.Wrap(err, "find author")
	}
	if agent == nil || agent.Exited() {
		return nil, ineligible(reasonNotRegistered, http.StatusForbidden)
	}
	if agent.Tier < minGovernanceVoterTier {
		return nil, ineligible("Only Tier 2+ agents can create governance proposals", http.StatusForbidden)
	}

	p := &Proposal{
		ID:                uuid.NewString(),
		Title:             title,
		Description:       description,
		Type:              req.Type,
		Choices:           choices,
		Status:            ProposalDraft,
		VotingPeriod:      params.VotingPeriod,
		QuorumThreshold:   params.Quorum,
		ApprovalThreshold: params.Approval,
		AuthorWallet:      author,
		ConstitutionID:    constitution.ID,
		CreatedAt:         e.now(),
	}
	if err := e.repo.InsertGovernanceProposal(ctx, p); err != nil {
		return nil, errors.Wrap(err, "insert proposal")
	}

	e.metrics.ProposalCreated(string(p.Type))
	e.logger.WithFields(logrus.Fields{
		"proposal": p.ID,
		"type":     p.Type,
		"author":   p.AuthorWallet,
	}).Info("governance proposal drafted")
	return p, nil
}

func normalizeChoices(choices []string) ([]string, error) {
	if len(choices) == 0 {
		return append([]string(nil), defaultChoices...), nil
	}
	seen := make(map[string]struct{}, len(choices))
	out := make([]string, 0, len(choices))
	for _, c := range choices {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, validationf("Choices must not be empty")
		}
		key := strings.ToLower(c)
		if _, ok := seen[key]; ok {
			return nil, validationf("Duplicate choice %q", c)
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	if len(out) < 2 {
		return nil, validationf("At least two choices are required")
	}
	return out, nil
}

// UpdateProposal edits title, description or choices of a draft. Other patch
// fields are ignored; they only move through the lifecycle operations.
func (e *Engine) UpdateProposal(ctx context.Context, proposalID, authorWallet string, patch ProposalPatch) (*Proposal, error) {
	edit := ProposalPatch{}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if len(title) < minTitleLength {
			return nil, validationf("Title must be at least %d characters", minTitleLength)
		}
		edit.Title = &title
	}
	if patch.Description != nil {
		description := strings.TrimSpace(*patch.Description)
		if len(description) < minDescriptionLength {
			return nil, validationf("Description must be at least %d characters", minDescriptionLength)
		}
		edit.Description = &description
	}
	if patch.Choices != nil {
		choices, err := normalizeChoices(patch.Choices)
		if err != nil {
			return nil, err
		}
		edit.Choices = choices
	}

	unlock := e.locks.Lock(proposalLockKey(proposalID))
	defer unlock()

	var updated *Proposal
	err := e.repo.Transaction(ctx, func(tx Repository) error {
		p, err := e.ownedProposal(ctx, tx, proposalID, authorWallet)
		if err != nil {
			return err
		}
		if p.Status != ProposalDraft {
			return ineligible("Only draft proposals can be edited", http.StatusBadRequest)
		}
		if err := tx.UpdateGovernanceProposal(ctx, p.ID, edit); err != nil {
			return errors.Wrap(err, "update proposal")
		}
		updated, err = tx.FindGovernanceProposal(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ActivateProposal opens voting on a draft and links it to the oracle.
func (e *Engine) ActivateProposal(ctx context.Context, req ActivateProposalRequest) (*Proposal, error) {
	p, err := e.ownedProposal(ctx, e.repo, req.ProposalID, req.AuthorWallet)
	if err != nil {
		return nil, err
	}
	if p.Status != ProposalDraft {
		return nil, ineligible("Only draft proposals can be activated", http.StatusBadRequest)
	}

	snapshotID := strings.TrimSpace(req.SnapshotID)
	if snapshotID == "" && req.Envelope != nil {
		if e.oracle == nil {
			return nil, ErrOracleUnavailable
		}
		if snapshotID, err = e.oracle.SubmitProposal(ctx, *req.Envelope); err != nil {
			return nil, errors.Wrapf(ErrOracleUnavailable, "submit proposal: %v", err)
		}
	}

	unlock := e.locks.Lock(proposalLockKey(p.ID))
	defer unlock()

	var activated *Proposal
	err = e.repo.Transaction(ctx, func(tx Repository) error {
		current, err := tx.FindGovernanceProposal(ctx, p.ID)
		if err != nil {
			return errors.Wrap(err, "find proposal")
		}
		if current == nil || current.Status != ProposalDraft {
			return ineligible("Only draft proposals can be activated", http.StatusBadRequest)
		}
		status := ProposalActive
		start := e.now()
		end := start.Add(current.VotingPeriod)
		patch := ProposalPatch{Status: &status, StartAt: &start, EndAt: &end}
		if snapshotID != "" {
			patch.SnapshotID = &snapshotID
		}
		if err := tx.UpdateGovernanceProposal(ctx, current.ID, patch); err != nil {
			return errors.Wrap(err, "activate proposal")
		}
		activated, err = tx.FindGovernanceProposal(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"proposal": activated.ID,
		"snapshot": activated.SnapshotID,
		"ends_at":  activated.EndAt,
	}).Info("governance proposal activated")
	return activated, nil
}

func (e *Engine) ownedProposal(ctx context.Context, r Repository, proposalID, authorWallet string) (*Proposal, error) {
	p, err := r.FindGovernanceProposal(ctx, proposalID)
	if err != nil {
		return nil, errors.Wrap(err, "find proposal")
	}
	if p == nil {
		return nil, errors.Wrapf(ErrProposalNotFound, "proposal %s", proposalID)
	}
	if p.AuthorWallet != NormalizeAddress(authorWallet) {
		return nil, ineligible("Only the author can change this proposal", http.StatusForbidden)
	}
	return p, nil
}

// CastGovernanceVote mirrors a vote on an active proposal locally after the
// eligibility checks pass.
func (e *Engine) CastGovernanceVote(ctx context.Context, req CastVoteRequest) (*GovernanceVote, error) {
	wallet := NormalizeAddress(req.WalletAddress)

	unlock := e.locks.Lock(proposalLockKey(req.ProposalID))
	defer unlock()

	var vote *GovernanceVote
	err := e.repo.Transaction(ctx, func(tx Repository) error {
		p, err := tx.FindGovernanceProposal(ctx, req.ProposalID)
		if err != nil {
			return errors.Wrap(err, "find proposal")
		}
		if p == nil {
			return errors.Wrapf(ErrProposalNotFound, "proposal %s", req.ProposalID)
		}
		if p.Status != ProposalActive {
			return ineligible(fmt.Sprintf("Proposal is %s, not open for voting", p.Status), http.StatusBadRequest)
		}
		now := e.now()
		if p.EndAt != nil && now.After(*p.EndAt) {
			return ineligible("Voting period has ended", http.StatusBadRequest)
		}
		if req.Choice < 1 || req.Choice > len(p.Choices) {
			return validationf("Choice must be between 1 and %d", len(p.Choices))
		}

		decision, err := NewEligibilityChecker(tx).CanVoteOnProposal(ctx, wallet, p.ID, p.ConstitutionID)
		if err != nil {
			return err
		}
		if !decision.Eligible {
			return decision.Err()
		}

		vote = &GovernanceVote{
			ProposalID:    p.ID,
			WalletAddress: wallet,
			Choice:        req.Choice,
			Reason:        strings.TrimSpace(req.Reason),
			CreatedAt:     now,
		}
		return tx.InsertGovernanceVote(ctx, vote)
	})
	if err != nil {
		return nil, err
	}

	e.metrics.GovernanceVote()
	e.logger.WithFields(logrus.Fields{
		"proposal": vote.ProposalID,
		"wallet":   vote.WalletAddress,
		"choice":   vote.Choice,
	}).Info("governance vote recorded")
	return vote, nil
}

// SyncProposal closes an active proposal once the oracle reports it closed.
func (e *Engine) SyncProposal(ctx context.Context, proposalID string) (*Proposal, error) {
	p, err := e.repo.FindGovernanceProposal(ctx, proposalID)
	if err != nil {
		return nil, errors.Wrap(err, "find proposal")
	}
	if p == nil {
		return nil, errors.Wrapf(ErrProposalNotFound, "proposal %s", proposalID)
	}
	if p.Status != ProposalActive || p.SnapshotID == "" {
		return p, nil
	}
	if e.oracle == nil {
		return nil, ErrOracleUnavailable
	}

	external, err := e.oracle.GetProposal(ctx, p.SnapshotID)
	if err != nil {
		return nil, errors.Wrapf(ErrOracleUnavailable, "fetch oracle proposal %s: %v", p.SnapshotID, err)
	}
	if external.State != oracleStateClosed {
		return p, nil
	}

	unlock := e.locks.Lock(proposalLockKey(p.ID))
	defer unlock()

	closed := ProposalClosed
	if err := e.repo.UpdateGovernanceProposal(ctx, p.ID, ProposalPatch{Status: &closed}); err != nil {
		return nil, errors.Wrap(err, "close proposal")
	}
	p.Status = ProposalClosed

	e.logger.WithFields(logrus.Fields{
		"proposal": p.ID,
		"snapshot": p.SnapshotID,
	}).Info("governance proposal closed by oracle")
	return p, nil
}

// GetProposalWithResults never fails because of the oracle: when it cannot be
// reached the external fields are left nil.
func (e *Engine) GetProposalWithResults(ctx context.Context, proposalID string) (*ProposalResults, error) {
	p, err := e.repo.FindGovernanceProposal(ctx, proposalID)
	if err != nil {
		return nil, errors.Wrap(err, "find proposal")
	}
	if p == nil {
		return nil, errors.Wrapf(ErrProposalNotFound, "proposal %s", proposalID)
	}

	votes, err := e.repo.ListGovernanceVotes(ctx, p.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list governance votes")
	}
	results := &ProposalResults{
		Proposal:   p,
		LocalVotes: len(votes),
		LocalTally: make(map[int]int, len(p.Choices)),
	}
	for _, v := range votes {
		results.LocalTally[v.Choice]++
	}

	if p.SnapshotID == "" || e.oracle == nil {
		return results, nil
	}
	external, err := e.oracle.GetProposal(ctx, p.SnapshotID)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"proposal": p.ID,
			"snapshot": p.SnapshotID,
			"err":      err,
		}).Warn("oracle unavailable, serving local data only")
		return results, nil
	}
	outcome := CheckProposalOutcome(external.Votes, external.Scores, external.ScoresTotal, p.Type)
	results.External = external
	results.Outcome = &outcome

	if results.ExternalVotes, err = e.oracle.GetVotes(ctx, p.SnapshotID); err != nil {
		e.logger.WithFields(logrus.Fields{
			"proposal": p.ID,
			"snapshot": p.SnapshotID,
			"err":      err,
		}).Warn("fetch oracle votes failed")
		results.ExternalVotes = nil
	}
	return results, nil
}

func (e *Engine) GetProposal(ctx context.Context, proposalID string) (*Proposal, error) {
	p, err := e.repo.FindGovernanceProposal(ctx, proposalID)
	if err != nil {
		return nil, errors.Wrap(err, "find proposal")
	}
	if p == nil {
		return nil, errors.Wrapf(ErrProposalNotFound, "proposal %s", proposalID)
	}
	return p, nil
}

func proposalLockKey(id string) string {
	return "proposal:" + id
}
