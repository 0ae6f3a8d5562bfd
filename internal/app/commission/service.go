package commission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ascend-academy/ascend/internal/app/credit"
	"github.com/ascend-academy/ascend/internal/domain"
	"github.com/ascend-academy/ascend/internal/infra/logger"
	"github.com/ascend-academy/ascend/internal/infra/metrics"
)

// cycleSearchDepth bounds the ancestor walk when linking a referral.
const cycleSearchDepth = 64

// Default and maximum page sizes for PendingPayouts.
const (
	DefaultPendingLimit = 100
	MaxPendingLimit     = 1000
)

// Service links referrals and records payouts. Payout records are the
// hand-off to the payment gateway; the service never moves money.
type Service struct {
	store domain.Store
	calc  *Calculator
	log   *logger.Logger
	now   func() time.Time
}

// NewService creates a commission service over a validated calculator.
func NewService(store domain.Store, calc *Calculator, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, calc: calc, log: log.With("service", "commission"), now: time.Now}
}

// SetClock overrides the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Calculator returns the active rule set.
func (s *Service) Calculator() *Calculator { return s.calc }

// SeedRules mirrors the configured rules into the store so the
// presentation layer can read them.
func (s *Service) SeedRules(ctx context.Context) error {
	for _, r := range s.calc.Ambiguous() {
		s.log.Warn("commission rule sets both flat and percent; flat wins",
			"event", r.EventType, "flat_cents", r.FlatCents, "percent_bp", r.PercentBP)
	}
	return s.store.InTx(ctx, func(tx domain.Repository) error {
		for _, r := range s.calc.Rules() {
			if err := tx.UpsertCommissionRule(ctx, r); err != nil {
				return fmt.Errorf("upsert rule %s: %w", r.EventType, err)
			}
		}
		return nil
	})
}

// ─── Referrals ──────────────────────────────────────────────────────────────

// LinkReferral records referrerID as userID's referrer. Returns false if
// the same link already exists; ErrAlreadyReferred if userID has a
// different referrer.
func (s *Service) LinkReferral(ctx context.Context, userID, referrerID string) (bool, error) {
	userID, referrerID = strings.TrimSpace(userID), strings.TrimSpace(referrerID)
	if userID == "" || referrerID == "" {
		return false, fmt.Errorf("user and referrer required: %w", domain.ErrInvalidActivity)
	}
	if userID == referrerID {
		return false, domain.ErrSelfReferral
	}

	var linked bool
	err := s.store.InTx(ctx, func(tx domain.Repository) error {
		ancestors, err := tx.ReferralChain(ctx, referrerID, cycleSearchDepth)
		if err != nil {
			return err
		}
		for _, a := range ancestors {
			if a == userID {
				return domain.ErrReferralCycle
			}
		}

		linked, err = tx.InsertReferral(ctx, domain.Referral{
			UserID: userID, ReferrerID: referrerID, CreatedAt: s.now().UTC(),
		})
		if err != nil || linked {
			return err
		}
		existing, err := tx.ReferralChain(ctx, userID, 1)
		if err != nil {
			return err
		}
		if len(existing) == 1 && existing[0] == referrerID {
			return nil
		}
		return domain.ErrAlreadyReferred
	})
	if err != nil {
		return false, fmt.Errorf("link referral: %w", err)
	}
	if linked {
		s.log.Info("referral linked", "user_id", userID, "referrer_id", referrerID)
	}
	return linked, nil
}

// Chain returns userID's referral chain, direct referrer first.
func (s *Service) Chain(ctx context.Context, userID string) ([]string, error) {
	return s.store.ReferralChain(ctx, userID, domain.MaxReferralTiers)
}

// ─── Sales ──────────────────────────────────────────────────────────────────

// RecordSale computes payouts for the buyer's referral chain and records
// them insert-if-absent on (transaction, tier). Replaying a sale returns
// no new payouts.
func (s *Service) RecordSale(ctx context.Context, sale domain.Sale) ([]domain.CommissionPayout, error) {
	if strings.TrimSpace(sale.TransactionID) == "" || strings.TrimSpace(sale.BuyerID) == "" {
		return nil, fmt.Errorf("transaction and buyer required: %w", domain.ErrInvalidActivity)
	}
	if !sale.EventType.Valid() {
		return nil, domain.ErrUnknownEventType
	}

	start := time.Now()
	now := s.now().UTC()
	var created []domain.CommissionPayout
	err := s.store.InTx(ctx, func(tx domain.Repository) error {
		created = nil
		chain, err := tx.ReferralChain(ctx, sale.BuyerID, domain.MaxReferralTiers)
		if err != nil {
			return err
		}
		payouts, err := s.calc.Compute(sale.EventType, sale.ValueCents, chain)
		if err != nil {
			return err
		}
		for _, p := range payouts {
			p.ID = uuid.NewString()
			p.SourceTransactionID = sale.TransactionID
			p.CreatedAt = now
			ok, err := tx.InsertPayout(ctx, p)
			if err != nil {
				return err
			}
			if ok {
				created = append(created, p)
			}
		}
		return nil
	})
	metrics.OperationLatency.WithLabelValues("sale").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("sale", credit.ErrorClass(err)).Inc()
		return nil, fmt.Errorf("record sale %s: %w", sale.TransactionID, err)
	}

	for _, p := range created {
		metrics.PayoutsCreated.WithLabelValues(string(p.EventType), strconv.Itoa(p.Tier)).Inc()
		metrics.PayoutCents.WithLabelValues(string(p.EventType)).Add(float64(p.AmountCents))
	}
	if len(created) > 0 {
		s.log.Info("commission recorded",
			"transaction", sale.TransactionID, "event", sale.EventType, "payouts", len(created))
	}
	return created, nil
}

// Register links a new user to their referrer and records the
// registration event. Registration carries no sale value, so only flat
// rules pay.
func (s *Service) Register(ctx context.Context, userID, referrerID string) ([]domain.CommissionPayout, error) {
	if _, err := s.LinkReferral(ctx, userID, referrerID); err != nil {
		return nil, err
	}
	return s.RecordSale(ctx, domain.Sale{
		TransactionID: RegistrationTransactionID(userID),
		EventType:     domain.EventRegistration,
		BuyerID:       userID,
	})
}

// RegistrationTransactionID is the idempotency key of a user's
// registration commission.
func RegistrationTransactionID(userID string) string {
	return "registration:" + userID
}

// Preview computes payouts for a hypothetical sale without persisting.
// Beneficiaries are placeholders "tier-1".."tier-depth".
func (s *Service) Preview(event domain.CommissionEvent, valueCents int64, depth int) ([]domain.CommissionPayout, error) {
	if depth < 0 || depth > domain.MaxReferralTiers {
		return nil, fmt.Errorf("depth must be 0..%d: %w", domain.MaxReferralTiers, domain.ErrInvalidActivity)
	}
	chain := make([]string, depth)
	for i := range chain {
		chain[i] = "tier-" + strconv.Itoa(i+1)
	}
	return s.calc.Compute(event, valueCents, chain)
}

// ─── Settlement ─────────────────────────────────────────────────────────────

// PendingPayouts returns unsettled payouts for the payment gateway.
func (s *Service) PendingPayouts(ctx context.Context, limit int) ([]domain.CommissionPayout, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	if limit > MaxPendingLimit {
		limit = MaxPendingLimit
	}
	return s.store.PendingPayouts(ctx, limit)
}

// MarkSettled flags a payout as settled. Returns false if it already was.
func (s *Service) MarkSettled(ctx context.Context, payoutID string) (bool, error) {
	ok, err := s.store.MarkPayoutSettled(ctx, payoutID, s.now().UTC())
	if err != nil {
		if !errors.Is(err, domain.ErrPayoutNotFound) {
			metrics.StoreErrors.WithLabelValues("settle", credit.ErrorClass(err)).Inc()
		}
		return false, err
	}
	return ok, nil
}

// Payouts returns the recorded payouts of one transaction.
func (s *Service) Payouts(ctx context.Context, transactionID string) ([]domain.CommissionPayout, error) {
	return s.store.PayoutsForTransaction(ctx, transactionID)
}
