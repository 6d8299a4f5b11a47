package store

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/axiomesh/constitution/core"
)

var _ core.Repository = (*Store)(nil)

// Store implements core.Repository on GORM.
type Store struct {
	db     *gorm.DB
	logger logrus.FieldLogger
}

func New(db *gorm.DB, log logrus.FieldLogger) *Store {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Store{
		db:     db,
		logger: log.WithField("component", "store"),
	}
}

func (s *Store) Transaction(ctx context.Context, fn func(tx core.Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, logger: s.logger})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// first runs q.First and maps a missing row to found=false.
func first(q *gorm.DB, dest any) (bool, error) {
	err := q.First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scoped(q *gorm.DB, column, scope string) *gorm.DB {
	if scope == "" {
		return q
	}
	return q.Where(column+" = ?", scope)
}

func exists(q *gorm.DB) (bool, error) {
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---------------------------------------------------------------------------
// constitutions

func (s *Store) FindConstitution(ctx context.Context, id string) (*core.Constitution, error) {
	var m Constitution
	found, err := first(s.conn(ctx).Where("id = ?", id), &m)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query constitution %s", id)
	}
	if !found {
		return nil, nil
	}
	return &core.Constitution{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
	}, nil
}

// InsertConstitution stores a constitution so lookups stop falling back to
// the built-in default.
func (s *Store) InsertConstitution(ctx context.Context, c *core.Constitution) error {
	m := &Constitution{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		CreatedAt:   utc(c.CreatedAt),
	}
	if err := s.conn(ctx).Create(m).Error; err != nil {
		return errors.Wrapf(err, "failed to create constitution %s", c.ID)
	}
	return nil
}

func (s *Store) ListConstitutions(ctx context.Context) ([]*core.Constitution, error) {
	var rows []Constitution
	if err := s.conn(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list constitutions")
	}
	out := make([]*core.Constitution, 0, len(rows))
	for _, m := range rows {
		out = append(out, &core.Constitution{ID: m.ID, Name: m.Name, Description: m.Description, CreatedAt: m.CreatedAt})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// agents

func (s *Store) InsertAgent(ctx context.Context, a *core.Agent) error {
	m := &Agent{
		ID:              a.ID,
		WalletAddress:   a.WalletAddress,
		OperatorAddress: a.OperatorAddress,
		Tier:            a.Tier,
		ConstitutionID:  a.ConstitutionID,
		RegisteredAt:    utc(a.RegisteredAt),
		ExitedAt:        utcPtr(a.ExitedAt),
	}
	if err := s.conn(ctx).Create(m).Error; err != nil {
		return errors.Wrapf(err, "failed to create agent %s", a.WalletAddress)
	}
	return nil
}

func (s *Store) FindAgentByWallet(ctx context.Context, wallet, scope string) (*core.Agent, error) {
	q := scoped(s.conn(ctx).Where("wallet_address = ?", wallet), "constitution_id", scope).
		Order("registered_at ASC")
	return s.findAgent(ctx, q)
}

func (s *Store) FindAgentByID(ctx context.Context, id, scope string) (*core.Agent, error) {
	q := scoped(s.conn(ctx).Where("id = ?", id), "constitution_id", scope)
	return s.findAgent(ctx, q)
}

func (s *Store) findAgent(ctx context.Context, q *gorm.DB) (*core.Agent, error) {
	var m Agent
	found, err := first(q, &m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query agent")
	}
	if !found {
		return nil, nil
	}
	agent := agentFromModel(&m)
	if agent.PromotionHistory, err = s.promotionHistory(ctx, m.ID); err != nil {
		return nil, err
	}
	return agent, nil
}

func (s *Store) promotionHistory(ctx context.Context, agentID string) ([]core.PromotionRecord, error) {
	var rows []PromotionHistory
	if err := s.conn(ctx).Where("agent_id = ?", agentID).Order("promoted_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query promotion history of %s", agentID)
	}
	history := make([]core.PromotionRecord, 0, len(rows))
	for _, r := range rows {
		history = append(history, core.PromotionRecord{
			PromotionID: r.PromotionID,
			FromTier:    r.FromTier,
			ToTier:      r.ToTier,
			PromotedAt:  r.PromotedAt,
		})
	}
	return history, nil
}

func (s *Store) ListAgents(ctx context.Context, filter core.AgentFilter) ([]*core.Agent, error) {
	q := scoped(s.conn(ctx).Model(&Agent{}), "constitution_id", filter.ConstitutionID)
	if filter.Tier > 0 {
		q = q.Where("tier = ?", filter.Tier)
	}
	if !filter.IncludeExited {
		q = q.Where("exited_at IS NULL")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []Agent
	if err := q.Order("registered_at ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list agents")
	}
	out := make([]*core.Agent, 0, len(rows))
	for i := range rows {
		out = append(out, agentFromModel(&rows[i]))
	}
	return out, nil
}

func (s *Store) CountAgents(ctx context.Context, scope string) (int, error) {
	var n int64
	if err := scoped(s.conn(ctx).Model(&Agent{}), "constitution_id", scope).Count(&n).Error; err != nil {
		return 0, errors.Wrap(err, "failed to count agents")
	}
	return int(n), nil
}

func (s *Store) UpdateAgentTier(ctx context.Context, id string, tier int) error {
	result := s.conn(ctx).Model(&Agent{}).Where("id = ?", id).Update("tier", tier)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to update tier of agent %s", id)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(core.ErrAgentNotFound, "agent %s", id)
	}
	return nil
}

func (s *Store) AppendPromotionHistory(ctx context.Context, id string, record core.PromotionRecord) error {
	row := &PromotionHistory{
		AgentID:     id,
		PromotionID: record.PromotionID,
		FromTier:    record.FromTier,
		ToTier:      record.ToTier,
		PromotedAt:  utc(record.PromotedAt),
	}
	if err := s.conn(ctx).Create(row).Error; err != nil {
		return errors.Wrapf(err, "failed to append promotion history of %s", id)
	}
	return nil
}

func (s *Store) MarkAgentExited(ctx context.Context, id string, at time.Time) error {
	result := s.conn(ctx).Model(&Agent{}).Where("id = ? AND exited_at IS NULL", id).Update("exited_at", utc(at))
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to mark agent %s exited", id)
	}
	return nil
}

func agentFromModel(m *Agent) *core.Agent {
	return &core.Agent{
		ID:               m.ID,
		WalletAddress:    m.WalletAddress,
		OperatorAddress:  m.OperatorAddress,
		Tier:             m.Tier,
		ConstitutionID:   m.ConstitutionID,
		RegisteredAt:     m.RegisteredAt,
		ExitedAt:         m.ExitedAt,
		PromotionHistory: []core.PromotionRecord{},
	}
}

// ---------------------------------------------------------------------------
// tiers

func (s *Store) FindTier(ctx context.Context, level int, scope string) (*core.Tier, error) {
	var m Tier
	q := scoped(s.conn(ctx).Where("level = ?", level), "constitution_id", scope)
	found, err := first(q, &m)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query tier %d", level)
	}
	if !found {
		return nil, nil
	}
	return tierFromModel(&m)
}

func (s *Store) TierExists(ctx context.Context, level int, scope string) (bool, error) {
	q := scoped(s.conn(ctx).Model(&Tier{}).Where("level = ?", level), "constitution_id", scope)
	ok, err := exists(q)
	return ok, errors.Wrapf(err, "failed to check tier %d", level)
}

func (s *Store) InsertTier(ctx context.Context, t *core.Tier) error {
	scope, err := encodeList(t.DecisionScope)
	if err != nil {
		return err
	}
	m := &Tier{
		Level:              t.Level,
		ConstitutionID:     t.ConstitutionID,
		Name:               t.Name,
		PromotionThreshold: t.PromotionThreshold,
		DecisionScope:      scope,
		CreatedByPromotion: t.CreatedByPromotion,
		CreatedAt:          utc(t.CreatedAt),
	}
	if err := s.conn(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errors.Wrapf(core.ErrTierExists, "tier %d", t.Level)
		}
		return errors.Wrapf(err, "failed to create tier %d", t.Level)
	}
	return nil
}

func (s *Store) ListTiers(ctx context.Context, scope string) ([]*core.Tier, error) {
	var rows []Tier
	q := scoped(s.conn(ctx), "constitution_id", scope)
	if err := q.Order("level ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list tiers")
	}
	out := make([]*core.Tier, 0, len(rows))
	for i := range rows {
		t, err := tierFromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) CountTierMembers(ctx context.Context, level int, scope string) (int, error) {
	var n int64
	q := scoped(s.conn(ctx).Model(&Agent{}).Where("tier = ? AND exited_at IS NULL", level), "constitution_id", scope)
	if err := q.Count(&n).Error; err != nil {
		return 0, errors.Wrapf(err, "failed to count members of tier %d", level)
	}
	return int(n), nil
}

func tierFromModel(m *Tier) (*core.Tier, error) {
	scope, err := decodeList(m.DecisionScope)
	if err != nil {
		return nil, errors.Wrapf(err, "decode decision scope of tier %d", m.Level)
	}
	return &core.Tier{
		Level:              m.Level,
		Name:               m.Name,
		PromotionThreshold: m.PromotionThreshold,
		DecisionScope:      scope,
		CreatedByPromotion: m.CreatedByPromotion,
		ConstitutionID:     m.ConstitutionID,
		CreatedAt:          m.CreatedAt,
	}, nil
}

// ---------------------------------------------------------------------------
// promotions

func (s *Store) InsertPromotion(ctx context.Context, p *core.Promotion) error {
	votesFor, err := encodeList(p.VotesFor)
	if err != nil {
		return err
	}
	votesAgainst, err := encodeList(p.VotesAgainst)
	if err != nil {
		return err
	}
	m := &Promotion{
		ID:             p.ID,
		FromTier:       p.FromTier,
		ToTier:         p.ToTier,
		ProposedBy:     p.ProposedBy,
		Rationale:      p.Rationale,
		VotesFor:       votesFor,
		VotesAgainst:   votesAgainst,
		QuorumRequired: p.QuorumRequired,
		Status:         string(p.Status),
		ConstitutionID: p.ConstitutionID,
		CreatedAt:      utc(p.CreatedAt),
		VotingEndsAt:   utc(p.VotingEndsAt),
		ResolvedAt:     utcPtr(p.ResolvedAt),
	}
	nominees := make([]PromotionNominee, 0, len(p.Nominees))
	for i, id := range p.Nominees {
		nominees = append(nominees, PromotionNominee{PromotionID: p.ID, AgentID: id, Position: i})
	}

	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return errors.Wrapf(err, "failed to create promotion %s", p.ID)
		}
		if len(nominees) > 0 {
			if err := tx.Create(&nominees).Error; err != nil {
				return errors.Wrapf(err, "failed to create nominees of promotion %s", p.ID)
			}
		}
		return nil
	})
}

func (s *Store) FindPromotion(ctx context.Context, id string) (*core.Promotion, error) {
	var m Promotion
	found, err := first(s.conn(ctx).Where("id = ?", id), &m)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query promotion %s", id)
	}
	if !found {
		return nil, nil
	}
	nominees, err := s.nominees(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return promotionFromModel(&m, nominees[id])
}

func (s *Store) nominees(ctx context.Context, promotionIDs []string) (map[string][]string, error) {
	var rows []PromotionNominee
	if err := s.conn(ctx).Where("promotion_id IN ?", promotionIDs).Order("position ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query promotion nominees")
	}
	out := make(map[string][]string, len(promotionIDs))
	for _, r := range rows {
		out[r.PromotionID] = append(out[r.PromotionID], r.AgentID)
	}
	return out, nil
}

func (s *Store) UpdatePromotionVotes(ctx context.Context, id string, votesFor, votesAgainst []string) error {
	forJSON, err := encodeList(votesFor)
	if err != nil {
		return err
	}
	againstJSON, err := encodeList(votesAgainst)
	if err != nil {
		return err
	}
	result := s.conn(ctx).Model(&Promotion{}).Where("id = ?", id).Updates(map[string]any{
		"votes_for":     forJSON,
		"votes_against": againstJSON,
	})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to update votes of promotion %s", id)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(core.ErrPromotionNotFound, "promotion %s", id)
	}
	return nil
}

func (s *Store) UpdatePromotionStatus(ctx context.Context, id string, status core.PromotionStatus, resolvedAt time.Time) error {
	result := s.conn(ctx).Model(&Promotion{}).
		Where("id = ? AND status = ?", id, string(core.PromotionPending)).
		Updates(map[string]any{
			"status":      string(status),
			"resolved_at": utc(resolvedAt),
		})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to update status of promotion %s", id)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	found, err := exists(s.conn(ctx).Model(&Promotion{}).Where("id = ?", id))
	if err != nil {
		return errors.Wrapf(err, "failed to query promotion %s", id)
	}
	if !found {
		return errors.Wrapf(core.ErrPromotionNotFound, "promotion %s", id)
	}
	return errors.Wrapf(core.ErrPromotionNotPending, "promotion %s", id)
}

func (s *Store) ListPromotions(ctx context.Context, filter core.PromotionFilter) ([]*core.Promotion, error) {
	q := scoped(s.conn(ctx).Model(&Promotion{}), "constitution_id", filter.ConstitutionID)
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.FromTier > 0 {
		q = q.Where("from_tier = ?", filter.FromTier)
	}
	if filter.ProposedBy != "" {
		q = q.Where("proposed_by = ?", filter.ProposedBy)
	}
	if !filter.EndsBefore.IsZero() {
		q = q.Where("voting_ends_at < ?", utc(filter.EndsBefore))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []Promotion
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list promotions")
	}
	if len(rows) == 0 {
		return []*core.Promotion{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	nominees, err := s.nominees(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*core.Promotion, 0, len(rows))
	for i := range rows {
		p, err := promotionFromModel(&rows[i], nominees[rows[i].ID])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) UpsertPromotionVote(ctx context.Context, v *core.PromotionVote) error {
	m := &PromotionVote{
		ID:          v.ID,
		PromotionID: v.PromotionID,
		VoterID:     v.VoterID,
		Vote:        v.Vote,
		Reason:      v.Reason,
		CreatedAt:   utc(v.CreatedAt),
		UpdatedAt:   utc(v.CreatedAt),
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "promotion_id"}, {Name: "voter_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"vote", "reason", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		return errors.Wrapf(err, "failed to upsert vote of %s on promotion %s", v.VoterID, v.PromotionID)
	}
	return nil
}

func (s *Store) FindPromotionVote(ctx context.Context, promotionID, voterID string) (*core.PromotionVote, error) {
	var m PromotionVote
	found, err := first(s.conn(ctx).Where("promotion_id = ? AND voter_id = ?", promotionID, voterID), &m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query promotion vote")
	}
	if !found {
		return nil, nil
	}
	return promotionVoteFromModel(&m), nil
}

func (s *Store) ListPromotionVotes(ctx context.Context, promotionID string) ([]*core.PromotionVote, error) {
	var rows []PromotionVote
	if err := s.conn(ctx).Where("promotion_id = ?", promotionID).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list votes of promotion %s", promotionID)
	}
	out := make([]*core.PromotionVote, 0, len(rows))
	for i := range rows {
		out = append(out, promotionVoteFromModel(&rows[i]))
	}
	return out, nil
}

func (s *Store) HasOperatorPromotionVote(ctx context.Context, promotionID, operator, excludeVoterID string) (bool, error) {
	q := s.conn(ctx).Table("promotion_votes AS pv").
		Joins("JOIN agents a ON a.id = pv.voter_id").
		Where("pv.promotion_id = ? AND a.operator_address = ? AND pv.voter_id <> ?", promotionID, operator, excludeVoterID)
	ok, err := exists(q)
	return ok, errors.Wrap(err, "failed to query operator promotion votes")
}

func (s *Store) FindRecentFailedPromotionForNominee(ctx context.Context, nomineeID string, since time.Time) (bool, error) {
	failed := []string{string(core.PromotionRejected), string(core.PromotionExpired)}
	q := s.conn(ctx).Table("promotions AS p").
		Joins("JOIN promotion_nominees n ON n.promotion_id = p.id").
		Where("n.agent_id = ? AND p.status IN ? AND p.resolved_at >= ?", nomineeID, failed, utc(since))
	ok, err := exists(q)
	return ok, errors.Wrap(err, "failed to query failed promotions of nominee")
}

func (s *Store) FindPendingPromotionForNominee(ctx context.Context, nomineeID string) (bool, error) {
	q := s.conn(ctx).Table("promotions AS p").
		Joins("JOIN promotion_nominees n ON n.promotion_id = p.id").
		Where("n.agent_id = ? AND p.status = ?", nomineeID, string(core.PromotionPending))
	ok, err := exists(q)
	return ok, errors.Wrap(err, "failed to query pending promotions of nominee")
}

func promotionFromModel(m *Promotion, nominees []string) (*core.Promotion, error) {
	votesFor, err := decodeList(m.VotesFor)
	if err != nil {
		return nil, errors.Wrapf(err, "decode votes_for of promotion %s", m.ID)
	}
	votesAgainst, err := decodeList(m.VotesAgainst)
	if err != nil {
		return nil, errors.Wrapf(err, "decode votes_against of promotion %s", m.ID)
	}
	if nominees == nil {
		nominees = []string{}
	}
	return &core.Promotion{
		ID:             m.ID,
		FromTier:       m.FromTier,
		ToTier:         m.ToTier,
		Nominees:       nominees,
		ProposedBy:     m.ProposedBy,
		Rationale:      m.Rationale,
		VotesFor:       votesFor,
		VotesAgainst:   votesAgainst,
		QuorumRequired: m.QuorumRequired,
		Status:         core.PromotionStatus(m.Status),
		ConstitutionID: m.ConstitutionID,
		CreatedAt:      m.CreatedAt,
		VotingEndsAt:   m.VotingEndsAt,
		ResolvedAt:     m.ResolvedAt,
	}, nil
}

func promotionVoteFromModel(m *PromotionVote) *core.PromotionVote {
	return &core.PromotionVote{
		ID:          m.ID,
		PromotionID: m.PromotionID,
		VoterID:     m.VoterID,
		Vote:        m.Vote,
		Reason:      m.Reason,
		CreatedAt:   m.CreatedAt,
	}
}

// ---------------------------------------------------------------------------
// governance proposals

func (s *Store) InsertGovernanceProposal(ctx context.Context, p *core.Proposal) error {
	choices, err := encodeList(p.Choices)
	if err != nil {
		return err
	}
	m := &Proposal{
		ID:                  p.ID,
		Title:               p.Title,
		Description:         p.Description,
		ProposalType:        string(p.Type),
		Choices:             choices,
		Status:              string(p.Status),
		VotingPeriodSeconds: int64(p.VotingPeriod / time.Second),
		QuorumThreshold:     p.QuorumThreshold,
		ApprovalThreshold:   p.ApprovalThreshold,
		AuthorWallet:        p.AuthorWallet,
		SnapshotID:          p.SnapshotID,
		ConstitutionID:      p.ConstitutionID,
		CreatedAt:           utc(p.CreatedAt),
		StartAt:             utcPtr(p.StartAt),
		EndAt:               utcPtr(p.EndAt),
	}
	if err := s.conn(ctx).Create(m).Error; err != nil {
		return errors.Wrapf(err, "failed to create proposal %s", p.ID)
	}
	return nil
}

func (s *Store) FindGovernanceProposal(ctx context.Context, id string) (*core.Proposal, error) {
	var m Proposal
	found, err := first(s.conn(ctx).Where("id = ?", id), &m)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query proposal %s", id)
	}
	if !found {
		return nil, nil
	}
	choices, err := decodeList(m.Choices)
	if err != nil {
		return nil, errors.Wrapf(err, "decode choices of proposal %s", id)
	}
	return &core.Proposal{
		ID:                m.ID,
		Title:             m.Title,
		Description:       m.Description,
		Type:              core.ProposalType(m.ProposalType),
		Choices:           choices,
		Status:            core.ProposalStatus(m.Status),
		VotingPeriod:      time.Duration(m.VotingPeriodSeconds) * time.Second,
		QuorumThreshold:   m.QuorumThreshold,
		ApprovalThreshold: m.ApprovalThreshold,
		AuthorWallet:      m.AuthorWallet,
		SnapshotID:        m.SnapshotID,
		ConstitutionID:    m.ConstitutionID,
		CreatedAt:         m.CreatedAt,
		StartAt:           m.StartAt,
		EndAt:             m.EndAt,
	}, nil
}

// UpdateGovernanceProposal writes the non-nil fields of patch. Thresholds and
// type are not part of the patch and never change after creation.
func (s *Store) UpdateGovernanceProposal(ctx context.Context, id string, patch core.ProposalPatch) error {
	updates := make(map[string]any)
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Choices != nil {
		choices, err := encodeList(patch.Choices)
		if err != nil {
			return err
		}
		updates["choices"] = choices
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.SnapshotID != nil {
		updates["snapshot_id"] = *patch.SnapshotID
	}
	if patch.StartAt != nil {
		updates["start_at"] = utc(*patch.StartAt)
	}
	if patch.EndAt != nil {
		updates["end_at"] = utc(*patch.EndAt)
	}
	if len(updates) == 0 {
		return nil
	}

	result := s.conn(ctx).Model(&Proposal{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to update proposal %s", id)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(core.ErrProposalNotFound, "proposal %s", id)
	}
	return nil
}

func (s *Store) FindGovernanceVote(ctx context.Context, proposalID, wallet string) (bool, error) {
	q := s.conn(ctx).Model(&GovernanceVote{}).Where("proposal_id = ? AND wallet_address = ?", proposalID, wallet)
	ok, err := exists(q)
	return ok, errors.Wrap(err, "failed to query governance vote")
}

func (s *Store) FindOperatorGovernanceVote(ctx context.Context, proposalID, operator, excludeWallet string) (bool, error) {
	q := s.conn(ctx).Table("governance_votes AS gv").
		Joins("JOIN proposals p ON p.id = gv.proposal_id").
		Joins("JOIN agents a ON a.wallet_address = gv.wallet_address AND a.constitution_id = p.constitution_id").
		Where("gv.proposal_id = ? AND a.operator_address = ? AND gv.wallet_address <> ?", proposalID, operator, excludeWallet)
	ok, err := exists(q)
	return ok, errors.Wrap(err, "failed to query operator governance votes")
}

func (s *Store) InsertGovernanceVote(ctx context.Context, v *core.GovernanceVote) error {
	m := &GovernanceVote{
		ProposalID:    v.ProposalID,
		WalletAddress: v.WalletAddress,
		Choice:        v.Choice,
		Reason:        v.Reason,
		CreatedAt:     utc(v.CreatedAt),
	}
	if err := s.conn(ctx).Create(m).Error; err != nil {
		return errors.Wrapf(err, "failed to create governance vote of %s", v.WalletAddress)
	}
	return nil
}

func (s *Store) ListGovernanceVotes(ctx context.Context, proposalID string) ([]*core.GovernanceVote, error) {
	var rows []GovernanceVote
	if err := s.conn(ctx).Where("proposal_id = ?", proposalID).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list votes of proposal %s", proposalID)
	}
	out := make([]*core.GovernanceVote, 0, len(rows))
	for _, r := range rows {
		out = append(out, &core.GovernanceVote{
			ProposalID:    r.ProposalID,
			WalletAddress: r.WalletAddress,
			Choice:        r.Choice,
			Reason:        r.Reason,
			CreatedAt:     r.CreatedAt,
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// helpers

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return "", errors.Wrap(err, "encode list column")
	}
	return string(raw), nil
}

func decodeList(raw string) ([]string, error) {
	list := []string{}
	if raw == "" {
		return list, nil
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// times are stored in UTC so text comparisons in SQLite order correctly
func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
