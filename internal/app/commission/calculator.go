// Package commission computes and records multi-tier affiliate payouts.
//
// Amounts are integer cents; percentages and tier shares are basis points.
// Every division floors, so the tiers of one sale never pay more than the
// rule's base amount.
package commission

import (
	"fmt"
	"math"
	"sort"

	"github.com/ascend-academy/ascend/internal/domain"
)

// DefaultTierShares pays 25% / 15% / 10% of the base to tiers 1..3.
func DefaultTierShares() domain.TierShares {
	return domain.TierShares{2500, 1500, 1000}
}

// ValidateRule rejects negative amounts and percentages above 100.
// A rule with both flat and percent set is valid: flat wins.
func ValidateRule(r domain.CommissionRule) error {
	field := fmt.Sprintf("commission.rules[%s]", r.EventType)
	if !r.EventType.Valid() {
		return &domain.ConfigError{Field: field + ".event_type", Reason: fmt.Sprintf("unknown event type %q", r.EventType)}
	}
	if r.FlatCents < 0 || r.FlatCents > math.MaxInt64/domain.BasisPointsPerUnit {
		return &domain.ConfigError{Field: field + ".flat", Reason: "must be >= 0 and in range"}
	}
	if r.PercentBP < 0 || r.PercentBP > domain.BasisPointsPerUnit {
		return &domain.ConfigError{Field: field + ".percent", Reason: "must be within [0, 100]"}
	}
	return nil
}

// ValidateShares requires 1..3 shares, each in (0, 100%], strictly
// decreasing by tier, summing to at most 100%.
func ValidateShares(s domain.TierShares) error {
	if len(s) == 0 || len(s) > domain.MaxReferralTiers {
		return &domain.ConfigError{Field: "commission.tier_shares", Reason: fmt.Sprintf("need 1 to %d tiers, got %d", domain.MaxReferralTiers, len(s))}
	}
	var sum int64
	for i, share := range s {
		if share <= 0 || share > domain.BasisPointsPerUnit {
			return &domain.ConfigError{Field: fmt.Sprintf("commission.tier_shares[%d]", i), Reason: "must be within (0, 100]"}
		}
		if i > 0 && share >= s[i-1] {
			return &domain.ConfigError{Field: fmt.Sprintf("commission.tier_shares[%d]", i), Reason: "must be lower than the previous tier"}
		}
		sum += share
	}
	if sum > domain.BasisPointsPerUnit {
		return &domain.ConfigError{Field: "commission.tier_shares", Reason: "shares sum above 100"}
	}
	return nil
}

// BaseAmount is what the rule pays for a sale before tier scaling.
// Inactive rules pay nothing. Flat beats percent when both are set.
func BaseAmount(rule domain.CommissionRule, valueCents int64) int64 {
	if !rule.Active {
		return 0
	}
	if rule.FlatCents > 0 {
		return rule.FlatCents
	}
	if rule.PercentBP <= 0 || valueCents <= 0 {
		return 0
	}
	return valueCents * rule.PercentBP / domain.BasisPointsPerUnit
}

// ComputePayout distributes the rule's base amount over the referral
// chain (direct referrer first). A short chain yields fewer payouts;
// zero-amount tiers are omitted. The result has no ids or timestamps.
func ComputePayout(rule domain.CommissionRule, shares domain.TierShares, valueCents int64, chain []string) []domain.CommissionPayout {
	base := BaseAmount(rule, valueCents)
	if base <= 0 {
		return nil
	}
	n := len(chain)
	if n > len(shares) {
		n = len(shares)
	}
	if n > domain.MaxReferralTiers {
		n = domain.MaxReferralTiers
	}

	var payouts []domain.CommissionPayout
	for i := 0; i < n; i++ {
		amount := base * shares[i] / domain.BasisPointsPerUnit
		if amount <= 0 || chain[i] == "" {
			continue
		}
		payouts = append(payouts, domain.CommissionPayout{
			EventType:     rule.EventType,
			Tier:          i + 1,
			BeneficiaryID: chain[i],
			AmountCents:   amount,
			Status:        domain.PayoutPending,
		})
	}
	return payouts
}

// ─── Calculator ─────────────────────────────────────────────────────────────

// Calculator holds a validated rule set. Read-only after construction.
type Calculator struct {
	rules  map[domain.CommissionEvent]domain.CommissionRule
	shares domain.TierShares
}

// NewCalculator validates rules and shares. Duplicate event types are
// rejected.
func NewCalculator(rules []domain.CommissionRule, shares domain.TierShares) (*Calculator, error) {
	if err := ValidateShares(shares); err != nil {
		return nil, err
	}
	byEvent := make(map[domain.CommissionEvent]domain.CommissionRule, len(rules))
	for _, r := range rules {
		if err := ValidateRule(r); err != nil {
			return nil, err
		}
		if _, dup := byEvent[r.EventType]; dup {
			return nil, &domain.ConfigError{Field: "commission.rules", Reason: fmt.Sprintf("duplicate rule for %q", r.EventType)}
		}
		byEvent[r.EventType] = r
	}
	s := make(domain.TierShares, len(shares))
	copy(s, shares)
	return &Calculator{rules: byEvent, shares: s}, nil
}

// Rule returns the rule for event, if configured.
func (c *Calculator) Rule(event domain.CommissionEvent) (domain.CommissionRule, bool) {
	r, ok := c.rules[event]
	return r, ok
}

// Rules returns all rules ordered by event type.
func (c *Calculator) Rules() []domain.CommissionRule {
	out := make([]domain.CommissionRule, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

// Shares returns the configured tier shares.
func (c *Calculator) Shares() domain.TierShares {
	out := make(domain.TierShares, len(c.shares))
	copy(out, c.shares)
	return out
}

// Ambiguous lists rules with both flat and percent set, for operator
// warnings. They still compute deterministically.
func (c *Calculator) Ambiguous() []domain.CommissionRule {
	var out []domain.CommissionRule
	for _, r := range c.Rules() {
		if r.Ambiguous() {
			out = append(out, r)
		}
	}
	return out
}

// Compute returns the payouts for a sale of event type with the given
// referral chain. An unconfigured event pays nothing.
func (c *Calculator) Compute(event domain.CommissionEvent, valueCents int64, chain []string) ([]domain.CommissionPayout, error) {
	if !event.Valid() {
		return nil, domain.ErrUnknownEventType
	}
	if valueCents < 0 {
		return nil, fmt.Errorf("negative sale value: %w", domain.ErrInvalidActivity)
	}
	if valueCents > math.MaxInt64/domain.BasisPointsPerUnit {
		return nil, fmt.Errorf("sale value %d out of range: %w", valueCents, domain.ErrInvalidActivity)
	}
	rule, ok := c.rules[event]
	if !ok {
		return nil, nil
	}
	return ComputePayout(rule, c.shares, valueCents, chain), nil
}
