package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ascend-academy/ascend/internal/domain"
)

// ─── Achievement Unlocks ────────────────────────────────────────────────────

// InsertUnlock records an achievement as unlocked.
// Returns false if already unlocked (idempotent).
func (r *repo) InsertUnlock(ctx context.Context, u domain.AchievementUnlock) (bool, error) {
	return inserted(r.exec(ctx,
		`INSERT INTO achievement_unlocks (user_id, achievement_id, unlocked_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, achievement_id) DO NOTHING`,
		u.UserID, u.AchievementID, u.UnlockedAt.Unix(),
	))
}

// ListUnlocks returns a user's unlocked achievements, oldest first.
func (r *repo) ListUnlocks(ctx context.Context, userID string) ([]domain.AchievementUnlock, error) {
	rows, err := r.query(ctx,
		`SELECT user_id, achievement_id, unlocked_at FROM achievement_unlocks
		 WHERE user_id = ? ORDER BY unlocked_at ASC, achievement_id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var unlocks []domain.AchievementUnlock
	for rows.Next() {
		var u domain.AchievementUnlock
		var at int64
		if err := rows.Scan(&u.UserID, &u.AchievementID, &at); err != nil {
			return nil, mapError(err)
		}
		u.UnlockedAt = time.Unix(at, 0).UTC()
		unlocks = append(unlocks, u)
	}
	return unlocks, mapError(rows.Err())
}

// ─── Referrals ──────────────────────────────────────────────────────────────

// InsertReferral links a user to their referrer. A user is referred at most once.
func (r *repo) InsertReferral(ctx context.Context, ref domain.Referral) (bool, error) {
	return inserted(r.exec(ctx,
		`INSERT INTO referrals (user_id, referrer_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		ref.UserID, ref.ReferrerID, ref.CreatedAt.Unix(),
	))
}

// ReferralChain walks up the referral tree from userID, direct referrer
// first. The walk stops at depth, at a user with no referrer, or on a cycle.
func (r *repo) ReferralChain(ctx context.Context, userID string, depth int) ([]string, error) {
	chain := make([]string, 0, depth)
	seen := map[string]bool{userID: true}
	current := userID

	for len(chain) < depth {
		var referrer string
		err := r.queryRow(ctx, `SELECT referrer_id FROM referrals WHERE user_id = ?`, current).Scan(&referrer)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return nil, mapError(err)
		}
		if referrer == "" || seen[referrer] {
			break
		}
		seen[referrer] = true
		chain = append(chain, referrer)
		current = referrer
	}
	return chain, nil
}

// ─── Commission Rules ───────────────────────────────────────────────────────

// UpsertCommissionRule inserts or replaces the rule for an event type.
func (r *repo) UpsertCommissionRule(ctx context.Context, rule domain.CommissionRule) error {
	_, err := r.exec(ctx,
		`INSERT INTO commission_rules (event_type, flat_cents, percent_bp, active) VALUES (?, ?, ?, ?)
		 ON CONFLICT (event_type) DO UPDATE SET
			flat_cents = excluded.flat_cents,
			percent_bp = excluded.percent_bp,
			active = excluded.active`,
		string(rule.EventType), rule.FlatCents, rule.PercentBP, rule.Active,
	)
	return err
}

// ListCommissionRules returns all rules ordered by event type.
func (r *repo) ListCommissionRules(ctx context.Context) ([]domain.CommissionRule, error) {
	rows, err := r.query(ctx,
		`SELECT event_type, flat_cents, percent_bp, active FROM commission_rules ORDER BY event_type ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.CommissionRule
	for rows.Next() {
		var rule domain.CommissionRule
		if err := rows.Scan(&rule.EventType, &rule.FlatCents, &rule.PercentBP, &rule.Active); err != nil {
			return nil, mapError(err)
		}
		rules = append(rules, rule)
	}
	return rules, mapError(rows.Err())
}

// ─── Commission Payouts ─────────────────────────────────────────────────────

const payoutColumns = `id, source_transaction_id, event_type, tier, beneficiary_id,
	amount_cents, status, created_at, settled_at`

// InsertPayout records a payout. Returns false if the (transaction, tier)
// pair was already paid.
func (r *repo) InsertPayout(ctx context.Context, p domain.CommissionPayout) (bool, error) {
	return inserted(r.exec(ctx,
		`INSERT INTO commission_payouts (`+payoutColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source_transaction_id, tier) DO NOTHING`,
		p.ID, p.SourceTransactionID, string(p.EventType), p.Tier, p.BeneficiaryID,
		p.AmountCents, string(p.Status), p.CreatedAt.Unix(), nullableUnix(p.SettledAt),
	))
}

// PayoutsForTransaction returns a transaction's payouts ordered by tier.
func (r *repo) PayoutsForTransaction(ctx context.Context, txID string) ([]domain.CommissionPayout, error) {
	return r.listPayouts(ctx,
		`SELECT `+payoutColumns+` FROM commission_payouts
		 WHERE source_transaction_id = ? ORDER BY tier ASC`, txID)
}

// PendingPayouts returns unsettled payouts, oldest first.
func (r *repo) PendingPayouts(ctx context.Context, limit int) ([]domain.CommissionPayout, error) {
	return r.listPayouts(ctx,
		`SELECT `+payoutColumns+` FROM commission_payouts
		 WHERE status = ? ORDER BY created_at ASC, source_transaction_id ASC, tier ASC LIMIT ?`,
		string(domain.PayoutPending), limit)
}

// MarkPayoutSettled flags a pending payout as settled.
// Returns false if it was already settled, ErrPayoutNotFound if unknown.
func (r *repo) MarkPayoutSettled(ctx context.Context, id string, at time.Time) (bool, error) {
	ok, err := inserted(r.exec(ctx,
		`UPDATE commission_payouts SET status = ?, settled_at = ? WHERE id = ? AND status = ?`,
		string(domain.PayoutSettled), at.Unix(), id, string(domain.PayoutPending),
	))
	if err != nil || ok {
		return ok, err
	}

	var count int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM commission_payouts WHERE id = ?`, id).Scan(&count); err != nil {
		return false, mapError(err)
	}
	if count == 0 {
		return false, domain.ErrPayoutNotFound
	}
	return false, nil
}

func (r *repo) listPayouts(ctx context.Context, query string, args ...any) ([]domain.CommissionPayout, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []domain.CommissionPayout
	for rows.Next() {
		var p domain.CommissionPayout
		var createdAt int64
		var settledAt sql.NullInt64
		if err := rows.Scan(&p.ID, &p.SourceTransactionID, &p.EventType, &p.Tier, &p.BeneficiaryID,
			&p.AmountCents, &p.Status, &createdAt, &settledAt); err != nil {
			return nil, mapError(err)
		}
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		p.SettledAt = fromNullableUnix(settledAt)
		payouts = append(payouts, p)
	}
	return payouts, mapError(rows.Err())
}
