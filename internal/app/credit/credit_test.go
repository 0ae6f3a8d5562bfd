package credit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

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

// hundreds puts a level boundary every 100 XP, capped at level 5.
type hundreds struct{}

func (hundreds) Apply(p *domain.UserProgress) {
	lvl := int(p.XP/100) + 1
	if lvl > 5 {
		lvl = 5
	}
	p.Level = lvl
	p.XPForNextLevel = int64(lvl) * 100
	p.MaxLevel = lvl == 5
}

var day0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.DB) {
	t.Helper()
	db := newTestDB(t)
	svc := NewService(db, hundreds{}, time.UTC, nil)
	svc.SetClock(func() time.Time { return day0 })
	return svc, db
}

// ─── Credit ─────────────────────────────────────────────────────────────────

func TestCredit_FirstTimeApplies(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Credit(ctx, "u1", domain.KindVideo, "v1", 25, 1)
	if err != nil {
		t.Fatalf("Credit() error: %v", err)
	}
	if !res.Applied {
		t.Fatal("first credit should apply")
	}
	if res.Progress.XP != 25 || res.Progress.Coins != 1 {
		t.Errorf("progress = %d xp / %d coins, want 25 / 1", res.Progress.XP, res.Progress.Coins)
	}
	if res.Progress.Level != 1 {
		t.Errorf("level = %d, want 1", res.Progress.Level)
	}
}

func TestCredit_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Credit(ctx, "u1", domain.KindVideo, "v1", 25, 1); err != nil {
		t.Fatalf("Credit() error: %v", err)
	}
	res, err := svc.Credit(ctx, "u1", domain.KindVideo, "v1", 25, 1)
	if err != nil {
		t.Fatalf("second Credit() error: %v", err)
	}
	if res.Applied {
		t.Error("duplicate credit should report Applied=false")
	}
	if res.Progress.XP != 25 {
		t.Errorf("xp after duplicate = %d, want 25", res.Progress.XP)
	}
}

func TestCredit_KindNamespacesActivityID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	svc.Credit(ctx, "u1", domain.KindVideo, "intro", 10, 0)
	res, err := svc.Credit(ctx, "u1", domain.KindModule, "intro", 50, 5)
	if err != nil {
		t.Fatalf("Credit() error: %v", err)
	}
	if !res.Applied {
		t.Error("same id under a different kind should apply")
	}
	if res.Progress.XP != 60 {
		t.Errorf("xp = %d, want 60", res.Progress.XP)
	}
}

func TestCredit_LevelUp(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	svc.Credit(ctx, "u1", domain.KindVideo, "v1", 90, 0)
	res, err := svc.Credit(ctx, "u1", domain.KindVideo, "v2", 20, 0)
	if err != nil {
		t.Fatalf("Credit() error: %v", err)
	}
	if !res.LeveledUp() {
		t.Fatalf("expected level-up, prev=%d now=%d", res.PreviousLevel, res.Progress.Level)
	}
	if res.Progress.Level != 2 || res.PreviousLevel != 1 {
		t.Errorf("levels = %d -> %d, want 1 -> 2", res.PreviousLevel, res.Progress.Level)
	}

	p, err := svc.Progress(ctx, "u1")
	if err != nil {
		t.Fatalf("Progress() error: %v", err)
	}
	if p.Level != 2 {
		t.Errorf("stored level = %d, want 2", p.Level)
	}
}

func TestCredit_RejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		user   string
		id     string
		xp, co int64
		want   error
	}{
		{"negative xp", "u1", "v1", -1, 0, domain.ErrNegativeDelta},
		{"negative coins", "u1", "v1", 0, -5, domain.ErrNegativeDelta},
		{"empty user", "", "v1", 1, 0, domain.ErrInvalidActivity},
		{"empty activity", "u1", " ", 1, 0, domain.ErrInvalidActivity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Credit(ctx, tc.user, domain.KindVideo, tc.id, tc.xp, tc.co)
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}

	p, _ := svc.Progress(ctx, "u1")
	if p.XP != 0 {
		t.Errorf("rejected credits changed xp to %d", p.XP)
	}
}

func TestCredit_ZeroDeltaStillClaims(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Credit(ctx, "u1", domain.KindCourse, "c1", 0, 0)
	if err != nil {
		t.Fatalf("Credit() error: %v", err)
	}
	if !res.Applied {
		t.Error("zero-value credit should still record the key")
	}
	again, _ := svc.Credit(ctx, "u1", domain.KindCourse, "c1", 0, 0)
	if again.Applied {
		t.Error("second zero-value credit should be a no-op")
	}
}

func TestCredit_ConcurrentSameKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Credit(ctx, "u1", domain.KindVideo, "v1", 25, 1)
			if err != nil {
				t.Errorf("Credit() error: %v", err)
				return
			}
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if applied != 1 {
		t.Errorf("applied %d times, want exactly 1", applied)
	}
	p, _ := svc.Progress(ctx, "u1")
	if p.XP != 25 || p.Coins != 1 {
		t.Errorf("progress = %d xp / %d coins, want 25 / 1", p.XP, p.Coins)
	}
}

func TestCredit_ConcurrentDistinctKeys(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Credit(ctx, "u1", domain.KindVideo, fmt.Sprintf("v%d", i), 10, 1); err != nil {
				t.Errorf("Credit(v%d) error: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	p, _ := svc.Progress(ctx, "u1")
	if p.XP != n*10 || p.Coins != n {
		t.Errorf("progress = %d xp / %d coins, want %d / %d", p.XP, p.Coins, n*10, n)
	}
	if p.Level != 3 {
		t.Errorf("level = %d, want 3", p.Level)
	}
}

// ─── Tracking ───────────────────────────────────────────────────────────────

func TestTrack_DoesNotReward(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.Track(ctx, domain.Activity{
		UserID: "u1", Kind: domain.KindVideo, ActivityID: "v1",
		PercentComplete: 40, SecondsWatched: 120,
	})
	if err != nil {
		t.Fatalf("Track() error: %v", err)
	}
	c, err := svc.History(ctx, "u1", domain.KindVideo, "v1")
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if c == nil || c.Rewarded {
		t.Fatalf("tracked row = %+v, want unrewarded row", c)
	}
	if c.PercentComplete != 40 {
		t.Errorf("percent = %v, want 40", c.PercentComplete)
	}

	// Crediting after tracking still pays once.
	res, err := svc.CreditActivity(ctx, domain.Activity{
		UserID: "u1", Kind: domain.KindVideo, ActivityID: "v1",
		Qualifies: true, XP: 25, PercentComplete: 95, SecondsWatched: 300,
	})
	if err != nil {
		t.Fatalf("CreditActivity() error: %v", err)
	}
	if !res.Applied || res.Progress.XP != 25 {
		t.Errorf("credit after track = %+v", res)
	}

	// Tracking a rewarded row leaves it rewarded.
	svc.Track(ctx, domain.Activity{UserID: "u1", Kind: domain.KindVideo, ActivityID: "v1", PercentComplete: 10})
	c, _ = svc.History(ctx, "u1", domain.KindVideo, "v1")
	if !c.Rewarded {
		t.Error("track must not clear the rewarded flag")
	}
}

// ─── Activity Streak ────────────────────────────────────────────────────────

func TestCredit_ActivityStreak(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	at := day0
	svc.SetClock(func() time.Time { return at })

	svc.Credit(ctx, "u1", domain.KindVideo, "v1", 1, 0)
	at = day0.Add(2 * time.Hour)
	svc.Credit(ctx, "u1", domain.KindVideo, "v2", 1, 0)
	at = day0.AddDate(0, 0, 1)
	res, _ := svc.Credit(ctx, "u1", domain.KindVideo, "v3", 1, 0)
	if res.Progress.ActivityStreak != 2 {
		t.Errorf("streak after two days = %d, want 2", res.Progress.ActivityStreak)
	}

	at = day0.AddDate(0, 0, 4)
	res, _ = svc.Credit(ctx, "u1", domain.KindVideo, "v4", 1, 0)
	if res.Progress.ActivityStreak != 1 {
		t.Errorf("streak after gap = %d, want 1", res.Progress.ActivityStreak)
	}
	if res.Progress.LongestStreak != 2 {
		t.Errorf("longest = %d, want 2", res.Progress.LongestStreak)
	}
}

func TestCredit_DerivedRewardsDoNotCountAsActivity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Credit(ctx, "u1", domain.KindAchievement, "first_steps", 50, 10)
	if err != nil {
		t.Fatalf("Credit() error: %v", err)
	}
	if res.Progress.ActivityStreak != 0 || res.Progress.LastActiveDay != "" {
		t.Errorf("achievement credit touched activity streak: %+v", res.Progress)
	}
}

func TestAdvanceStreak(t *testing.T) {
	p := domain.NewUserProgress("u1")
	for _, day := range []string{"2026-02-27", "2026-02-28", "2026-03-01", "2026-03-01"} {
		AdvanceStreak(&p, day)
	}
	if p.ActivityStreak != 3 {
		t.Errorf("streak across month end = %d, want 3", p.ActivityStreak)
	}
	AdvanceStreak(&p, "2026-02-20")
	if p.ActivityStreak != 3 || p.LastActiveDay != "2026-03-01" {
		t.Errorf("earlier day rewound streak: %+v", p)
	}
}

func TestErrorClass(t *testing.T) {
	cases := map[error]string{
		nil:                                "none",
		domain.ErrTransientStore:           "transient",
		&domain.ConfigError{Field: "x"}:    "config",
		domain.ErrHabitNotFound:            "reference",
		domain.ErrNegativeDelta:            "input",
		fmt.Errorf("boom"):                 "other",
	}
	for err, want := range cases {
		if got := ErrorClass(err); got != want {
			t.Errorf("ErrorClass(%v) = %q, want %q", err, got, want)
		}
	}
}
