package core

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// quorum products such as 10*0.3 land a hair above the integer
const quorumEpsilon = 1e-9

type CreatePromotionRequest struct {
	ProposerID string
	NomineeIDs []string
	Rationale  string
	// Scope defaults to the proposer's constitution
	Scope string
}

// Tally is the input of the resolution decision.
type Tally struct {
	For       int
	Against   int
	Quorum    int
	Eligible  int
	Threshold float64
	Expired   bool
}

// DecideResolution returns the status a pending promotion should move to,
// or PromotionPending when it has to keep waiting.
//
// After the deadline the promotion is approved when quorum and threshold
// hold, and expires otherwise. Before it, nothing happens until quorum is
// met; then the promotion is approved as soon as the share of votes in
// favour reaches the threshold, and rejected as soon as the threshold is out
// of reach even if every remaining eligible voter votes in favour.
func DecideResolution(t Tally) PromotionStatus {
	total := t.For + t.Against

	if t.Expired {
		if total >= t.Quorum && approvalReached(t.For, total, t.Threshold) {
			return PromotionApproved
		}
		return PromotionExpired
	}

	if total < t.Quorum {
		return PromotionPending
	}
	if approvalReached(t.For, total, t.Threshold) {
		return PromotionApproved
	}

	if t.Eligible <= 0 {
		return PromotionPending
	}
	remaining := t.Eligible - total
	if remaining < 0 {
		remaining = 0
	}
	maxPossibleFor := t.For + remaining
	if float64(maxPossibleFor)/float64(t.Eligible) < t.Threshold {
		return PromotionRejected
	}
	return PromotionPending
}

func approvalReached(forVotes, total int, threshold float64) bool {
	if total == 0 {
		return false
	}
	return float64(forVotes)/float64(total) >= threshold
}

// QuorumRequired is max(1, ceil(eligible * percent)).
func QuorumRequired(eligibleVoters int, percent float64) int {
	q := int(math.Ceil(float64(eligibleVoters)*percent - quorumEpsilon))
	if q < 1 {
		return 1
	}
	return q
}

// CreatePromotion opens a vote on moving nominees one tier up.
func (e *Engine) CreatePromotion(ctx context.Context, req CreatePromotionRequest) (*Promotion, error) {
	nominees, err := normalizeNominees(req.ProposerID, req.NomineeIDs)
	if err != nil {
		return nil, err
	}

	var created *Promotion
	err = e.repo.Transaction(ctx, func(tx Repository) error {
		proposer, err := tx.FindAgentByID(ctx, req.ProposerID, req.Scope)
		if err != nil {
			return errors.Wrap(err, "find proposer")
		}
		if proposer == nil {
			return errors.Wrapf(ErrAgentNotFound, "proposer %s", req.ProposerID)
		}
		if proposer.Exited() {
			return ineligible(reasonAgentExited, http.StatusForbidden)
		}

		scope := req.Scope
		if scope == "" {
			scope = proposer.ConstitutionID
		}
		now := e.now()
		cooldownSince := now.AddDate(0, 0, -e.cfg.PromotionCooldownDays)

		for _, id := range nominees {
			nominee, err := tx.FindAgentByID(ctx, id, scope)
			if err != nil {
				return errors.Wrapf(err, "find nominee %s", id)
			}
			if nominee == nil {
				return validationf("Nominee %s is not a registered agent", id)
			}
			if nominee.Exited() {
				return validationf("Nominee %s has exited the network", id)
			}
			if nominee.Tier != proposer.Tier {
				return validationf("Can only nominate members of your own tier (nominee %s is tier %d, you are tier %d)", id, nominee.Tier, proposer.Tier)
			}

			cooling, err := tx.FindRecentFailedPromotionForNominee(ctx, id, cooldownSince)
			if err != nil {
				return errors.Wrapf(err, "check cooldown of nominee %s", id)
			}
			if cooling {
				return ineligible(fmt.Sprintf("Nominee %s is in promotion cooldown", id), http.StatusBadRequest)
			}

			pending, err := tx.FindPendingPromotionForNominee(ctx, id)
			if err != nil {
				return errors.Wrapf(err, "check pending promotion of nominee %s", id)
			}
			if pending {
				return ineligible(fmt.Sprintf("Nominee %s already has a pending promotion", id), http.StatusConflict)
			}
		}

		members, err := tx.CountTierMembers(ctx, proposer.Tier, scope)
		if err != nil {
			return errors.Wrapf(err, "count members of tier %d", proposer.Tier)
		}

		p := &Promotion{
			ID:             uuid.NewString(),
			FromTier:       proposer.Tier,
			ToTier:         proposer.Tier + 1,
			Nominees:       nominees,
			ProposedBy:     proposer.ID,
			Rationale:      strings.TrimSpace(req.Rationale),
			VotesFor:       []string{},
			VotesAgainst:   []string{},
			QuorumRequired: QuorumRequired(members-len(nominees), e.cfg.DefaultQuorumPercent),
			Status:         PromotionPending,
			ConstitutionID: scope,
			CreatedAt:      now,
			VotingEndsAt:   now.AddDate(0, 0, e.cfg.PromotionVotingDays),
		}
		if err := tx.InsertPromotion(ctx, p); err != nil {
			return errors.Wrap(err, "insert promotion")
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.PromotionCreated()
	e.logger.WithFields(logrus.Fields{
		"promotion": created.ID,
		"from_tier": created.FromTier,
		"nominees":  len(created.Nominees),
		"quorum":    created.QuorumRequired,
		"ends_at":   created.VotingEndsAt,
	}).Info("promotion created")
	return created, nil
}

func normalizeNominees(proposerID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, validationf("At least one nominee is required")
	}
	seen := make(map[string]struct{}, len(ids))
	nominees := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, validationf("Nominee ids must not be empty")
		}
		if id == proposerID {
			return nil, validationf("You cannot nominate yourself")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		nominees = append(nominees, id)
	}
	return nominees, nil
}

// VoteOnPromotion records or changes a vote and re-evaluates the promotion
// in the same transaction.
func (e *Engine) VoteOnPromotion(ctx context.Context, promotionID, voterID string, inFavor bool, reason string) (*Promotion, error) {
	unlock := e.locks.Lock(promotionID)
	defer unlock()

	var (
		updated *Promotion
		res     resolution
		changed bool
	)
	err := e.repo.Transaction(ctx, func(tx Repository) error {
		p, err := tx.FindPromotion(ctx, promotionID)
		if err != nil {
			return errors.Wrap(err, "find promotion")
		}
		if p == nil {
			return errors.Wrapf(ErrPromotionNotFound, "promotion %s", promotionID)
		}
		if p.Status != PromotionPending {
			return ineligible(fmt.Sprintf("Promotion is already %s", p.Status), http.StatusBadRequest)
		}
		now := e.now()
		if now.After(p.VotingEndsAt) {
			return ineligible("Voting period has ended", http.StatusBadRequest)
		}

		decision, err := NewEligibilityChecker(tx).CanVoteOnPromotion(ctx, voterID, p.ID, p.FromTier, p.Nominees, p.ConstitutionID)
		if err != nil {
			return err
		}
		if !decision.Eligible {
			return decision.Err()
		}

		previous, err := tx.FindPromotionVote(ctx, p.ID, voterID)
		if err != nil {
			return errors.Wrap(err, "find previous vote")
		}
		changed = previous != nil && previous.Vote != inFavor

		vote := &PromotionVote{
			ID:          uuid.NewString(),
			PromotionID: p.ID,
			VoterID:     voterID,
			Vote:        inFavor,
			Reason:      strings.TrimSpace(reason),
			CreatedAt:   now,
		}
		if err := tx.UpsertPromotionVote(ctx, vote); err != nil {
			return errors.Wrap(err, "upsert promotion vote")
		}

		votes, err := tx.ListPromotionVotes(ctx, p.ID)
		if err != nil {
			return errors.Wrap(err, "list promotion votes")
		}
		votesFor, votesAgainst := splitVotes(votes)
		if err := tx.UpdatePromotionVotes(ctx, p.ID, votesFor, votesAgainst); err != nil {
			return errors.Wrap(err, "update promotion votes")
		}

		if res, err = e.checkResolution(ctx, tx, p.ID); err != nil {
			return err
		}

		updated, err = tx.FindPromotion(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.metrics.PromotionVote(inFavor)
	e.logger.WithFields(logrus.Fields{
		"promotion": promotionID,
		"voter":     voterID,
		"in_favor":  inFavor,
		"changed":   changed,
		"for":       len(updated.VotesFor),
		"against":   len(updated.VotesAgainst),
	}).Info("promotion vote recorded")
	e.report(res)
	return updated, nil
}

// splitVotes derives the for/against projection from the vote rows.
func splitVotes(votes []*PromotionVote) (votesFor, votesAgainst []string) {
	votesFor, votesAgainst = []string{}, []string{}
	for _, v := range votes {
		if v.Vote {
			votesFor = append(votesFor, v.VoterID)
		} else {
			votesAgainst = append(votesAgainst, v.VoterID)
		}
	}
	return votesFor, votesAgainst
}

// CheckPromotionResolution re-evaluates a promotion and resolves it when the
// outcome is decided. A missing or already resolved promotion is left alone.
func (e *Engine) CheckPromotionResolution(ctx context.Context, promotionID string) (PromotionStatus, error) {
	unlock := e.locks.Lock(promotionID)
	defer unlock()

	var res resolution
	err := e.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		res, err = e.checkResolution(ctx, tx, promotionID)
		return err
	})
	if err != nil {
		return "", err
	}
	e.report(res)
	return res.status, nil
}

// resolution describes what a check did, reported once the transaction
// has committed.
type resolution struct {
	promotion   *Promotion
	status      PromotionStatus
	changed     bool
	tierCreated bool
}

func (e *Engine) checkResolution(ctx context.Context, tx Repository, promotionID string) (resolution, error) {
	p, err := tx.FindPromotion(ctx, promotionID)
	if err != nil {
		return resolution{}, errors.Wrap(err, "find promotion")
	}
	if p == nil {
		return resolution{}, nil
	}
	if p.Status != PromotionPending {
		return resolution{promotion: p, status: p.Status}, nil
	}

	tally, err := e.tally(ctx, tx, p)
	if err != nil {
		return resolution{}, err
	}
	decision := DecideResolution(tally)
	if decision == PromotionPending {
		return resolution{promotion: p, status: PromotionPending}, nil
	}
	return e.resolvePromotion(ctx, tx, p, decision)
}

func (e *Engine) tally(ctx context.Context, tx Repository, p *Promotion) (Tally, error) {
	threshold := e.cfg.DefaultPromotionThreshold
	tier, err := tx.FindTier(ctx, p.FromTier, p.ConstitutionID)
	if err != nil {
		return Tally{}, errors.Wrapf(err, "find tier %d", p.FromTier)
	}
	if tier != nil && tier.PromotionThreshold > 0 {
		threshold = tier.PromotionThreshold
	}

	// membership is read fresh, so agents joining mid-vote shift the math
	members, err := tx.CountTierMembers(ctx, p.FromTier, p.ConstitutionID)
	if err != nil {
		return Tally{}, errors.Wrapf(err, "count members of tier %d", p.FromTier)
	}

	return Tally{
		For:       len(p.VotesFor),
		Against:   len(p.VotesAgainst),
		Quorum:    p.QuorumRequired,
		Eligible:  members - len(p.Nominees),
		Threshold: threshold,
		Expired:   e.now().After(p.VotingEndsAt),
	}, nil
}

// resolvePromotion moves a pending promotion to status and, on approval,
// seats the nominees in the next tier, creating it on first use.
func (e *Engine) resolvePromotion(ctx context.Context, tx Repository, p *Promotion, status PromotionStatus) (resolution, error) {
	now := e.now()
	if err := tx.UpdatePromotionStatus(ctx, p.ID, status, now); err != nil {
		if errors.Is(err, ErrPromotionNotPending) {
			current, ferr := tx.FindPromotion(ctx, p.ID)
			if ferr != nil || current == nil {
				return resolution{}, ferr
			}
			return resolution{promotion: current, status: current.Status}, nil
		}
		return resolution{}, errors.Wrapf(err, "update status of promotion %s", p.ID)
	}
	p.Status = status
	p.ResolvedAt = &now

	res := resolution{promotion: p, status: status, changed: true}
	if status != PromotionApproved {
		return res, nil
	}

	registry := e.tierRegistry(tx)
	exists, err := registry.TierExists(ctx, p.ToTier, p.ConstitutionID)
	if err != nil {
		return resolution{}, errors.Wrapf(err, "check tier %d", p.ToTier)
	}
	if !exists {
		if _, err := registry.CreateTier(ctx, p.ToTier, p.ID, "", p.ConstitutionID); err != nil {
			return resolution{}, err
		}
		res.tierCreated = true
	}

	for _, id := range p.Nominees {
		if err := tx.UpdateAgentTier(ctx, id, p.ToTier); err != nil {
			return resolution{}, errors.Wrapf(err, "promote agent %s", id)
		}
		record := PromotionRecord{
			PromotionID: p.ID,
			FromTier:    p.FromTier,
			ToTier:      p.ToTier,
			PromotedAt:  now,
		}
		if err := tx.AppendPromotionHistory(ctx, id, record); err != nil {
			return resolution{}, errors.Wrapf(err, "record promotion history of agent %s", id)
		}
	}
	return res, nil
}

func (e *Engine) report(res resolution) {
	if !res.changed {
		return
	}
	e.metrics.PromotionResolved(string(res.status))
	if res.tierCreated {
		e.metrics.TierCreated()
	}
	e.logger.WithFields(logrus.Fields{
		"promotion":    res.promotion.ID,
		"status":       res.status,
		"to_tier":      res.promotion.ToTier,
		"tier_created": res.tierCreated,
	}).Info("promotion resolved")
}

// WithdrawPromotion lets the proposer cancel a pending promotion.
func (e *Engine) WithdrawPromotion(ctx context.Context, promotionID, withdrawerID string) error {
	unlock := e.locks.Lock(promotionID)
	defer unlock()

	var res resolution
	err := e.repo.Transaction(ctx, func(tx Repository) error {
		p, err := tx.FindPromotion(ctx, promotionID)
		if err != nil {
			return errors.Wrap(err, "find promotion")
		}
		if p == nil {
			return errors.Wrapf(ErrPromotionNotFound, "promotion %s", promotionID)
		}
		if p.ProposedBy != withdrawerID {
			return ineligible("Only the proposer can withdraw a promotion", http.StatusForbidden)
		}
		if p.Status != PromotionPending {
			return ineligible(fmt.Sprintf("Promotion is already %s", p.Status), http.StatusBadRequest)
		}
		res, err = e.resolvePromotion(ctx, tx, p, PromotionWithdrawn)
		return err
	})
	if err != nil {
		return err
	}
	e.report(res)
	return nil
}

// ResolveExpiredPromotions re-checks every pending promotion whose voting
// window has closed. It returns how many left the pending state.
func (e *Engine) ResolveExpiredPromotions(ctx context.Context) (int, error) {
	begin := time.Now()
	expired, err := e.repo.ListPromotions(ctx, PromotionFilter{
		Status:     PromotionPending,
		EndsBefore: e.now(),
	})
	if err != nil {
		return 0, errors.Wrap(err, "list expired promotions")
	}

	var (
		resolved int
		firstErr error
	)
	for _, p := range expired {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		status, err := e.CheckPromotionResolution(ctx, p.ID)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"promotion": p.ID,
				"err":       err,
			}).Error("resolve expired promotion")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if status.Terminal() {
			resolved++
		}
	}
	e.metrics.SweepFinished(time.Since(begin), resolved)
	return resolved, firstErr
}

// GetPromotionWithDetails returns a promotion with tallies and vote rows.
func (e *Engine) GetPromotionWithDetails(ctx context.Context, promotionID string) (*PromotionDetails, error) {
	p, err := e.repo.FindPromotion(ctx, promotionID)
	if err != nil {
		return nil, errors.Wrap(err, "find promotion")
	}
	if p == nil {
		return nil, errors.Wrapf(ErrPromotionNotFound, "promotion %s", promotionID)
	}
	votes, err := e.repo.ListPromotionVotes(ctx, promotionID)
	if err != nil {
		return nil, errors.Wrap(err, "list promotion votes")
	}
	tally, err := e.tally(ctx, e.repo, p)
	if err != nil {
		return nil, err
	}
	return &PromotionDetails{
		Promotion:         *p,
		VotesForCount:     len(p.VotesFor),
		VotesAgainstCount: len(p.VotesAgainst),
		Threshold:         tally.Threshold,
		EligibleVoters:    tally.Eligible,
		Votes:             votes,
	}, nil
}

func (e *Engine) ListPromotions(ctx context.Context, filter PromotionFilter) ([]*Promotion, error) {
	return e.repo.ListPromotions(ctx, filter)
}
