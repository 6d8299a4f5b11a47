package core

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const (
	baseTier      = 1
	bootstrapTier = 2

	// tiers at or above this level may decide constitutional matters
	constitutionalTier = 3
)

// TierRegistry tracks which tiers exist and how many members they hold.
type TierRegistry struct {
	repo      Repository
	threshold float64
	now       func() time.Time
}

func NewTierRegistry(repo Repository, defaultThreshold float64, now func() time.Time) *TierRegistry {
	if now == nil {
		now = time.Now
	}
	return &TierRegistry{repo: repo, threshold: defaultThreshold, now: now}
}

// GetTier returns the tier with its live member count. Tier 1 always exists,
// even when it was never written.
func (r *TierRegistry) GetTier(ctx context.Context, level int, scope string) (*Tier, error) {
	tier, err := r.repo.FindTier(ctx, level, scope)
	if err != nil {
		return nil, errors.Wrapf(err, "find tier %d", level)
	}
	if tier == nil {
		if level != baseTier {
			return nil, errors.Wrapf(ErrTierNotFound, "tier %d", level)
		}
		tier = &Tier{
			Level:              baseTier,
			PromotionThreshold: r.threshold,
			DecisionScope:      DecisionScopeFor(baseTier),
			ConstitutionID:     scope,
		}
	}

	count, err := r.repo.CountTierMembers(ctx, level, scope)
	if err != nil {
		return nil, errors.Wrapf(err, "count members of tier %d", level)
	}
	tier.MemberCount = count
	return tier, nil
}

func (r *TierRegistry) TierExists(ctx context.Context, level int, scope string) (bool, error) {
	if level == baseTier {
		return true, nil
	}
	return r.repo.TierExists(ctx, level, scope)
}

// CreateTier writes a new tier. Callers check TierExists first; a second
// create for the same level fails with ErrTierExists.
func (r *TierRegistry) CreateTier(ctx context.Context, level int, causingPromotionID, name, scope string) (*Tier, error) {
	if level < baseTier {
		return nil, validationf("invalid tier level %d", level)
	}
	exists, err := r.repo.TierExists(ctx, level, scope)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.Wrapf(ErrTierExists, "tier %d", level)
	}

	tier := &Tier{
		Level:              level,
		Name:               name,
		PromotionThreshold: r.threshold,
		DecisionScope:      DecisionScopeFor(level),
		CreatedByPromotion: causingPromotionID,
		ConstitutionID:     scope,
		CreatedAt:          r.now(),
	}
	if err := r.repo.InsertTier(ctx, tier); err != nil {
		return nil, errors.Wrapf(err, "insert tier %d", level)
	}
	return tier, nil
}

func (r *TierRegistry) CountTierMembers(ctx context.Context, level int, scope string) (int, error) {
	return r.repo.CountTierMembers(ctx, level, scope)
}

// ListTiers returns the stored tiers with member counts, tier 1 included.
func (r *TierRegistry) ListTiers(ctx context.Context, scope string) ([]*Tier, error) {
	tiers, err := r.repo.ListTiers(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(tiers) == 0 || tiers[0].Level != baseTier {
		base, err := r.GetTier(ctx, baseTier, scope)
		if err != nil {
			return nil, err
		}
		tiers = append([]*Tier{base}, tiers...)
	}
	for _, t := range tiers {
		if t.MemberCount, err = r.repo.CountTierMembers(ctx, t.Level, scope); err != nil {
			return nil, err
		}
	}
	return tiers, nil
}

// EnsureBootstrapTier creates tier 2 for agents seated at registration.
func (r *TierRegistry) EnsureBootstrapTier(ctx context.Context, scope string) error {
	exists, err := r.TierExists(ctx, bootstrapTier, scope)
	if err != nil || exists {
		return err
	}
	_, err = r.CreateTier(ctx, bootstrapTier, "", "", scope)
	return err
}

// DecisionScopeFor returns the permission tags a tier at level carries.
func DecisionScopeFor(level int) []string {
	scope := []string{ScopeDeliberation, ScopeOperational, ScopePolicy, ScopePromotion}
	if level >= constitutionalTier {
		scope = append(scope, ScopeConstitutional, ScopeEnforcement)
	}
	return scope
}
