package commission

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ascend-academy/ascend/internal/domain"
	"github.com/ascend-academy/ascend/internal/infra/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenSQLite(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testRules() []domain.CommissionRule {
	return []domain.CommissionRule{
		{EventType: domain.EventRegistration, FlatCents: 200, Active: true},
		{EventType: domain.EventCoursePurchase, PercentBP: 2500, Active: true},
		{EventType: domain.EventRenewal, PercentBP: 1000, Active: false},
	}
}

func newTestService(t *testing.T) (*Service, *store.DB) {
	t.Helper()
	calc, err := NewCalculator(testRules(), DefaultTierShares())
	if err != nil {
		t.Fatalf("NewCalculator() error: %v", err)
	}
	db := newTestDB(t)
	return NewService(db, calc, nil), db
}

// ─── Calculator ─────────────────────────────────────────────────────────────

func TestComputePayout_FlatWins(t *testing.T) {
	rule := domain.CommissionRule{EventType: domain.EventServicePurchase, FlatCents: 5, PercentBP: 1000, Active: true}
	if got := BaseAmount(rule, 100); got != 5 {
		t.Fatalf("BaseAmount = %d, want 5", got)
	}
	payouts := ComputePayout(rule, domain.TierShares{10000}, 100, []string{"r1"})
	if len(payouts) != 1 || payouts[0].AmountCents != 5 {
		t.Errorf("payouts = %+v, want single payout of 5", payouts)
	}
}

func TestComputePayout_InactiveRule(t *testing.T) {
	rule := domain.CommissionRule{EventType: domain.EventRenewal, FlatCents: 300, PercentBP: 5000, Active: false}
	for _, value := range []int64{0, 100, 1_000_000_000} {
		if got := ComputePayout(rule, DefaultTierShares(), value, []string{"a", "b", "c"}); len(got) != 0 {
			t.Errorf("value %d: payouts = %+v, want none", value, got)
		}
	}
}

func TestComputePayout_TwoTierExample(t *testing.T) {
	rule := domain.CommissionRule{EventType: domain.EventCoursePurchase, PercentBP: 2500, Active: true}
	payouts := ComputePayout(rule, domain.TierShares{2500, 1500}, 10000, []string{"direct", "upstream"})
	if len(payouts) != 2 {
		t.Fatalf("got %d payouts, want 2", len(payouts))
	}
	want := []struct {
		tier   int
		who    string
		amount int64
	}{
		{1, "direct", 625},
		{2, "upstream", 375},
	}
	for i, w := range want {
		p := payouts[i]
		if p.Tier != w.tier || p.BeneficiaryID != w.who || p.AmountCents != w.amount {
			t.Errorf("payout %d = %+v, want tier %d %s %d", i, p, w.tier, w.who, w.amount)
		}
	}
}

func TestComputePayout_ChainLongerThanShares(t *testing.T) {
	rule := domain.CommissionRule{EventType: domain.EventCoursePurchase, PercentBP: 10000, Active: true}
	payouts := ComputePayout(rule, DefaultTierShares(), 1000, []string{"a", "b", "c", "d", "e"})
	if len(payouts) != 3 {
		t.Fatalf("got %d payouts, want 3", len(payouts))
	}
	if payouts[2].Tier != 3 || payouts[2].BeneficiaryID != "c" {
		t.Errorf("tier 3 payout = %+v", payouts[2])
	}
}

func TestComputePayout_NeverExceedsBase(t *testing.T) {
	rule := domain.CommissionRule{EventType: domain.EventCoursePurchase, PercentBP: 3333, Active: true}
	for _, value := range []int64{1, 7, 99, 101, 12345, 999_999} {
		base := BaseAmount(rule, value)
		var sum int64
		for _, p := range ComputePayout(rule, DefaultTierShares(), value, []string{"a", "b", "c"}) {
			if p.AmountCents <= 0 {
				t.Errorf("value %d: non-positive payout %+v", value, p)
			}
			sum += p.AmountCents
		}
		if sum > base {
			t.Errorf("value %d: tiers sum %d > base %d", value, sum, base)
		}
	}
}

func TestComputePayout_EmptyChain(t *testing.T) {
	rule := domain.CommissionRule{EventType: domain.EventCoursePurchase, PercentBP: 2500, Active: true}
	if got := ComputePayout(rule, DefaultTierShares(), 10000, nil); len(got) != 0 {
		t.Errorf("payouts without referrers = %+v", got)
	}
}

func TestNewCalculator_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		rules  []domain.CommissionRule
		shares domain.TierShares
	}{
		{"percent above 100", []domain.CommissionRule{{EventType: domain.EventRenewal, PercentBP: 10001}}, DefaultTierShares()},
		{"negative flat", []domain.CommissionRule{{EventType: domain.EventRenewal, FlatCents: -1}}, DefaultTierShares()},
		{"unknown event", []domain.CommissionRule{{EventType: "gift"}}, DefaultTierShares()},
		{"duplicate event", []domain.CommissionRule{{EventType: domain.EventRenewal}, {EventType: domain.EventRenewal}}, DefaultTierShares()},
		{"no shares", nil, domain.TierShares{}},
		{"four tiers", nil, domain.TierShares{4000, 3000, 2000, 1000}},
		{"not decreasing", nil, domain.TierShares{1500, 2500}},
		{"sum above 100", nil, domain.TierShares{9000, 2000}},
		{"zero share", nil, domain.TierShares{2500, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCalculator(tt.rules, tt.shares)
			if !errors.Is(err, domain.ErrInvalidConfiguration) {
				t.Errorf("err = %v, want ErrInvalidConfiguration", err)
			}
		})
	}
}

func TestCalculator_Compute(t *testing.T) {
	calc, err := NewCalculator(testRules(), DefaultTierShares())
	if err != nil {
		t.Fatalf("NewCalculator() error: %v", err)
	}
	if _, err := calc.Compute("gift", 100, nil); !errors.Is(err, domain.ErrUnknownEventType) {
		t.Errorf("unknown event: err = %v", err)
	}
	if _, err := calc.Compute(domain.EventCoursePurchase, -1, nil); !errors.Is(err, domain.ErrInvalidActivity) {
		t.Errorf("negative value: err = %v", err)
	}
	got, err := calc.Compute(domain.EventSubscriptionPurchase, 10000, []string{"a"})
	if err != nil || len(got) != 0 {
		t.Errorf("unconfigured event = %+v, %v; want no payouts", got, err)
	}
}

// ─── Referrals ──────────────────────────────────────────────────────────────

func TestLinkReferral(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.LinkReferral(ctx, "a", "a"); !errors.Is(err, domain.ErrSelfReferral) {
		t.Errorf("self referral: err = %v", err)
	}
	linked, err := svc.LinkReferral(ctx, "b", "a")
	if err != nil || !linked {
		t.Fatalf("LinkReferral(b, a) = %v, %v", linked, err)
	}
	linked, err = svc.LinkReferral(ctx, "b", "a")
	if err != nil || linked {
		t.Errorf("repeat link = %v, %v; want false, nil", linked, err)
	}
	if _, err := svc.LinkReferral(ctx, "b", "z"); !errors.Is(err, domain.ErrAlreadyReferred) {
		t.Errorf("second referrer: err = %v", err)
	}

	svc.LinkReferral(ctx, "c", "b")
	if _, err := svc.LinkReferral(ctx, "a", "c"); !errors.Is(err, domain.ErrReferralCycle) {
		t.Errorf("cycle: err = %v", err)
	}

	chain, err := svc.Chain(ctx, "c")
	if err != nil {
		t.Fatalf("Chain() error: %v", err)
	}
	if len(chain) != 2 || chain[0] != "b" || chain[1] != "a" {
		t.Errorf("chain = %v, want [b a]", chain)
	}
}

// ─── Sales ──────────────────────────────────────────────────────────────────

func TestRecordSale_PaysChainOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	svc.LinkReferral(ctx, "b", "a")
	svc.LinkReferral(ctx, "c", "b")

	sale := domain.Sale{TransactionID: "tx-1", EventType: domain.EventCoursePurchase, BuyerID: "c", ValueCents: 10000}
	created, err := svc.RecordSale(ctx, sale)
	if err != nil {
		t.Fatalf("RecordSale() error: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created %d payouts, want 2", len(created))
	}
	if created[0].BeneficiaryID != "b" || created[0].AmountCents != 625 {
		t.Errorf("tier 1 = %+v", created[0])
	}
	if created[1].BeneficiaryID != "a" || created[1].AmountCents != 375 {
		t.Errorf("tier 2 = %+v", created[1])
	}
	if created[0].ID == "" || created[0].Status != domain.PayoutPending {
		t.Errorf("payout not initialised: %+v", created[0])
	}

	again, err := svc.RecordSale(ctx, sale)
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("replay created %d payouts", len(again))
	}
	all, _ := svc.Payouts(ctx, "tx-1")
	if len(all) != 2 {
		t.Errorf("stored payouts = %d, want 2", len(all))
	}
}

func TestRecordSale_Concurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	svc.LinkReferral(ctx, "b", "a")

	sale := domain.Sale{TransactionID: "tx-9", EventType: domain.EventCoursePurchase, BuyerID: "b", ValueCents: 4000}
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := svc.RecordSale(ctx, sale)
			if err != nil {
				t.Errorf("RecordSale() error: %v", err)
				return
			}
			mu.Lock()
			total += len(created)
			mu.Unlock()
		}()
	}
	wg.Wait()
	if total != 1 {
		t.Errorf("created %d payouts across callers, want 1", total)
	}
}

func TestRecordSale_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RecordSale(ctx, domain.Sale{TransactionID: "t", EventType: "gift", BuyerID: "b"}); !errors.Is(err, domain.ErrUnknownEventType) {
		t.Errorf("unknown event: err = %v", err)
	}
	if _, err := svc.RecordSale(ctx, domain.Sale{EventType: domain.EventRenewal, BuyerID: "b"}); !errors.Is(err, domain.ErrInvalidActivity) {
		t.Errorf("missing transaction: err = %v", err)
	}
}

func TestRegister_FlatRule(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	svc.LinkReferral(ctx, "b", "a")
	svc.LinkReferral(ctx, "c", "b")

	created, err := svc.Register(ctx, "d", "c")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	want := []int64{50, 30, 20}
	if len(created) != len(want) {
		t.Fatalf("created %d payouts, want %d", len(created), len(want))
	}
	for i, amount := range want {
		if created[i].AmountCents != amount || created[i].EventType != domain.EventRegistration {
			t.Errorf("tier %d = %+v, want %d", i+1, created[i], amount)
		}
	}

	// Registering again is a no-op.
	again, err := svc.Register(ctx, "d", "c")
	if err != nil || len(again) != 0 {
		t.Errorf("second Register = %v, %v", again, err)
	}
}

// ─── Settlement ─────────────────────────────────────────────────────────────

func TestSettlement(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	svc.LinkReferral(ctx, "b", "a")
	svc.LinkReferral(ctx, "c", "b")
	created, _ := svc.RecordSale(ctx, domain.Sale{TransactionID: "tx-2", EventType: domain.EventCoursePurchase, BuyerID: "c", ValueCents: 2000})

	pending, err := svc.PendingPayouts(ctx, 0)
	if err != nil {
		t.Fatalf("PendingPayouts() error: %v", err)
	}
	if len(pending) != len(created) {
		t.Fatalf("pending = %d, want %d", len(pending), len(created))
	}

	ok, err := svc.MarkSettled(ctx, created[0].ID)
	if err != nil || !ok {
		t.Fatalf("MarkSettled = %v, %v", ok, err)
	}
	ok, err = svc.MarkSettled(ctx, created[0].ID)
	if err != nil || ok {
		t.Errorf("second MarkSettled = %v, %v; want false, nil", ok, err)
	}
	if _, err := svc.MarkSettled(ctx, "missing"); !errors.Is(err, domain.ErrPayoutNotFound) {
		t.Errorf("unknown payout: err = %v", err)
	}

	pending, _ = svc.PendingPayouts(ctx, 10)
	if len(pending) != len(created)-1 {
		t.Errorf("pending after settle = %d, want %d", len(pending), len(created)-1)
	}
}

func TestPreview(t *testing.T) {
	svc, _ := newTestService(t)

	got, err := svc.Preview(domain.EventCoursePurchase, 10000, 2)
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if len(got) != 2 || got[0].AmountCents != 625 || got[1].BeneficiaryID != "tier-2" {
		t.Errorf("preview = %+v", got)
	}
	if _, err := svc.Preview(domain.EventCoursePurchase, 10000, 4); !errors.Is(err, domain.ErrInvalidActivity) {
		t.Errorf("depth 4: err = %v", err)
	}
}

func TestSeedRules(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	if err := svc.SeedRules(ctx); err != nil {
		t.Fatalf("SeedRules() error: %v", err)
	}
	rules, err := db.ListCommissionRules(ctx)
	if err != nil {
		t.Fatalf("ListCommissionRules() error: %v", err)
	}
	if len(rules) != len(testRules()) {
		t.Errorf("stored %d rules, want %d", len(rules), len(testRules()))
	}
}
