package rewards

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ascend-academy/ascend/internal/app/activity"
	"github.com/ascend-academy/ascend/internal/app/commission"
	"github.com/ascend-academy/ascend/internal/app/credit"
	"github.com/ascend-academy/ascend/internal/app/engagement"
	"github.com/ascend-academy/ascend/internal/domain"
	"github.com/ascend-academy/ascend/internal/infra/events"
	"github.com/ascend-academy/ascend/internal/infra/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *events.Memory) {
	t.Helper()
	ctx := context.Background()

	db, err := store.OpenSQLite(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	levels := engagement.DefaultLevelTable()
	credits := credit.NewService(db, levels, time.UTC, nil)
	credits.SetClock(func() time.Time { return t0 })

	streaks, err := engagement.NewStreakService(db, credits, engagement.DefaultStreakConfig(), nil)
	if err != nil {
		t.Fatalf("NewStreakService: %v", err)
	}
	achievements, err := engagement.NewAchievementService(db, credits, engagement.DefaultAchievements(), nil)
	if err != nil {
		t.Fatalf("NewAchievementService: %v", err)
	}

	calc, err := commission.NewCalculator([]domain.CommissionRule{
		{EventType: domain.EventRegistration, FlatCents: 200, Active: true},
		{EventType: domain.EventCoursePurchase, PercentBP: 2500, Active: true},
	}, commission.DefaultTierShares())
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}

	norm, err := activity.NewNormalizer(activity.DefaultRewardTable(), activity.DefaultCompletionThreshold, time.UTC)
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	norm.SetClock(func() time.Time { return t0 })

	bus := events.NewMemory()
	return &Engine{
		Normalizer:   norm,
		Levels:       levels,
		Credits:      credits,
		Streaks:      streaks,
		Achievements: achievements,
		Commissions:  commission.NewService(db, calc, nil),
		Publisher:    bus,
	}, bus
}

func TestRecord_VideoCreditedOnce(t *testing.T) {
	e, bus := newTestEngine(t)
	ctx := context.Background()

	first, err := e.Record(ctx, activity.RawAction{
		Type: activity.ActionVideoProgress, UserID: "u1", ActivityID: "video_42", PercentComplete: 92,
	})
	if err != nil {
		t.Fatalf("Record(92%%): %v", err)
	}
	if first.Credit == nil || !first.Credit.Applied {
		t.Fatalf("first report not applied: %+v", first)
	}
	if len(first.Unlocked) != 1 || first.Unlocked[0].ID != "first_video" {
		t.Errorf("unlocked = %+v, want first_video", first.Unlocked)
	}

	second, err := e.Record(ctx, activity.RawAction{
		Type: activity.ActionVideoProgress, UserID: "u1", ActivityID: "video_42", PercentComplete: 95,
	})
	if err != nil {
		t.Fatalf("Record(95%%): %v", err)
	}
	if second.Credit == nil || second.Credit.Applied {
		t.Errorf("replay should not apply: %+v", second.Credit)
	}
	if len(second.Unlocked) != 0 {
		t.Errorf("replay unlocked %+v", second.Unlocked)
	}

	p, _ := e.Credits.Progress(ctx, "u1")
	// 25 for the video, 50 for first_video.
	if p.XP != 75 || p.Coins != 11 {
		t.Errorf("progress = %d XP / %d coins, want 75 / 11", p.XP, p.Coins)
	}
	if got := len(bus.OfType(domain.EventCredited)); got != 1 {
		t.Errorf("credited events = %d, want 1", got)
	}
	if got := len(bus.OfType(domain.EventAchievement)); got != 1 {
		t.Errorf("achievement events = %d, want 1", got)
	}

	c, _ := e.Credits.History(ctx, "u1", domain.KindVideo, "video_42")
	if c == nil || c.PercentComplete != 95 {
		t.Errorf("watch metadata not refreshed on replay: %+v", c)
	}
}

func TestRecord_BelowThresholdTracksOnly(t *testing.T) {
	e, bus := newTestEngine(t)
	ctx := context.Background()

	out, err := e.Record(ctx, activity.RawAction{
		Type: activity.ActionVideoProgress, UserID: "u1", ActivityID: "v1", PercentComplete: 40, SecondsWatched: 300,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !out.Tracked || out.Credit != nil {
		t.Errorf("outcome = %+v, want tracked only", out)
	}
	if p, _ := e.Credits.Progress(ctx, "u1"); p.XP != 0 {
		t.Errorf("xp = %d after partial watch, want 0", p.XP)
	}
	if n := len(bus.Events()); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}

	out, err = e.Record(ctx, activity.RawAction{
		Type: activity.ActionVideoProgress, UserID: "u1", ActivityID: "v1", PercentComplete: 91,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if out.Credit == nil || !out.Credit.Applied {
		t.Errorf("crossing the threshold should credit: %+v", out)
	}
}

func TestRecord_HabitCheckIn(t *testing.T) {
	e, bus := newTestEngine(t)
	ctx := context.Background()

	h, err := e.Streaks.Adopt(ctx, "u1", "Meditate", 7)
	if err != nil {
		t.Fatalf("Adopt: %v", err)
	}
	out, err := e.Record(ctx, activity.RawAction{
		Type: activity.ActionHabitCheckIn, UserID: "u1", HabitID: h.ID, At: t0,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if out.CheckIn == nil || !out.CheckIn.Credited {
		t.Fatalf("check-in not credited: %+v", out.CheckIn)
	}

	again, err := e.Record(ctx, activity.RawAction{
		Type: activity.ActionHabitCheckIn, UserID: "u1", HabitID: h.ID, At: t0.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if again.CheckIn.Credited || again.CheckIn.Reason != domain.CheckInCooldown {
		t.Errorf("second check-in = %+v, want cooldown", again.CheckIn)
	}

	p, _ := e.Credits.Progress(ctx, "u1")
	// 10 for the check-in, 30 for first_habit.
	if p.XP != 40 {
		t.Errorf("xp = %d, want 40", p.XP)
	}
	if got := len(bus.OfType(domain.EventCredited)); got != 1 {
		t.Errorf("credited events = %d, want 1", got)
	}
}

func TestRecord_AchievementLevelUp(t *testing.T) {
	e, bus := newTestEngine(t)
	ctx := context.Background()

	out, err := e.Record(ctx, activity.RawAction{Type: activity.ActionModuleCompleted, UserID: "u1", ActivityID: "m1"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if out.Credit == nil || out.Credit.LeveledUp() {
		t.Fatalf("module credit alone should not level up: %+v", out.Credit)
	}

	// 100 for the module plus 100 for first_module lands on level 4.
	p, _ := e.Credits.Progress(ctx, "u1")
	if p.XP != 200 || p.Level != 4 {
		t.Errorf("progress = %d XP level %d, want 200 / 4", p.XP, p.Level)
	}
	ups := bus.OfType(domain.EventLevelUp)
	if len(ups) != 1 {
		t.Fatalf("level_up events = %d, want 1", len(ups))
	}
	if ups[0].Payload["from"] != 1 || ups[0].Payload["to"] != 4 {
		t.Errorf("level_up payload = %v", ups[0].Payload)
	}
}

func TestRecord_ReferralAndSale(t *testing.T) {
	e, bus := newTestEngine(t)
	ctx := context.Background()

	reg, err := e.Record(ctx, activity.RawAction{Type: activity.ActionRegistration, UserID: "buyer", ReferrerID: "ref"})
	if err != nil {
		t.Fatalf("Record(registration): %v", err)
	}
	// 200 flat, 25% to tier 1.
	if len(reg.Payouts) != 1 || reg.Payouts[0].BeneficiaryID != "ref" || reg.Payouts[0].AmountCents != 50 {
		t.Errorf("registration payouts = %+v", reg.Payouts)
	}

	var referrerUnlock bool
	for _, ev := range bus.OfType(domain.EventAchievement) {
		if ev.UserID == "ref" && ev.Payload["achievement_id"] == "first_referral" {
			referrerUnlock = true
		}
	}
	if !referrerUnlock {
		t.Error("referrer did not unlock first_referral")
	}

	sale := activity.RawAction{
		Type: activity.ActionSale, UserID: "buyer", TransactionID: "tx-9",
		EventType: domain.EventCoursePurchase, ValueCents: 10000,
	}
	out, err := e.Record(ctx, sale)
	if err != nil {
		t.Fatalf("Record(sale): %v", err)
	}
	if len(out.Payouts) != 1 || out.Payouts[0].AmountCents != 625 {
		t.Errorf("sale payouts = %+v, want one of 625", out.Payouts)
	}

	// Redelivery of the same transaction pays nothing.
	out, err = e.Record(ctx, sale)
	if err != nil {
		t.Fatalf("Record(sale replay): %v", err)
	}
	if len(out.Payouts) != 0 {
		t.Errorf("replayed sale created %d payouts", len(out.Payouts))
	}
	if got := len(bus.OfType(domain.EventPayoutCreated)); got != 2 {
		t.Errorf("payout events = %d, want 2", got)
	}
}

func TestRecord_InvalidAction(t *testing.T) {
	e, bus := newTestEngine(t)

	_, err := e.Record(context.Background(), activity.RawAction{Type: activity.ActionModuleCompleted, UserID: "u1"})
	if !errors.Is(err, domain.ErrInvalidActivity) {
		t.Errorf("err = %v, want ErrInvalidActivity", err)
	}
	if n := len(bus.Events()); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
}

func TestEvaluate_NoNewUnlocks(t *testing.T) {
	e, bus := newTestEngine(t)

	unlocked, err := e.Evaluate(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(unlocked) != 0 || len(bus.Events()) != 0 {
		t.Errorf("unexpected unlocks %+v", unlocked)
	}
}
