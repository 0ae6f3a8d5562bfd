package engagement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ascend-academy/ascend/internal/app/credit"
	"github.com/ascend-academy/ascend/internal/domain"
	"github.com/ascend-academy/ascend/internal/infra/logger"
	"github.com/ascend-academy/ascend/internal/infra/metrics"
)

// AchievementService evaluates the achievement catalog against a user's
// aggregate stats. Each unlock and its reward commit in one transaction,
// so calling Evaluate on every event is harmless.
type AchievementService struct {
	store       domain.Store
	credits     *credit.Service
	definitions []domain.Achievement
	log         *logger.Logger
	now         func() time.Time
}

// NewAchievementService validates the catalog and creates the service.
func NewAchievementService(store domain.Store, credits *credit.Service, catalog []domain.Achievement, log *logger.Logger) (*AchievementService, error) {
	if err := ValidateCatalog(catalog); err != nil {
		return nil, err
	}
	defs := make([]domain.Achievement, len(catalog))
	copy(defs, catalog)
	if log == nil {
		log = logger.Nop()
	}
	return &AchievementService{
		store:       store,
		credits:     credits,
		definitions: defs,
		log:         log.With("service", "achievement"),
		now:         time.Now,
	}, nil
}

// SetClock overrides the time source (tests).
func (a *AchievementService) SetClock(now func() time.Time) { a.now = now }

// Evaluate unlocks every not-yet-unlocked achievement whose condition holds
// for stats. Returns only the achievements this call unlocked.
func (a *AchievementService) Evaluate(ctx context.Context, userID string, stats domain.AggregateStats) ([]domain.Achievement, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id required: %w", domain.ErrInvalidActivity)
	}
	unlocked, err := a.unlockedSet(ctx, userID)
	if err != nil {
		return nil, err
	}

	var newly []domain.Achievement
	for _, def := range a.definitions {
		if unlocked[def.ID] || !def.Condition.Eval(stats) {
			continue
		}
		ok, err := a.unlock(ctx, userID, def)
		if err != nil {
			return newly, err
		}
		if ok {
			newly = append(newly, def)
		}
	}
	return newly, nil
}

// Refresh re-reads stats and evaluates until no further unlock happens.
// Achievement rewards raise XP, which can satisfy level or XP conditions.
func (a *AchievementService) Refresh(ctx context.Context, userID string) ([]domain.Achievement, error) {
	var all []domain.Achievement
	for round := 0; round <= len(a.definitions); round++ {
		stats, err := a.store.Stats(ctx, userID)
		if err != nil {
			return all, fmt.Errorf("stats: %w", err)
		}
		newly, err := a.Evaluate(ctx, userID, stats)
		all = append(all, newly...)
		if err != nil || len(newly) == 0 {
			return all, err
		}
	}
	return all, nil
}

func (a *AchievementService) unlock(ctx context.Context, userID string, def domain.Achievement) (bool, error) {
	now := a.now().UTC()
	c := domain.ActivityCredit{
		UserID:     userID,
		Kind:       domain.KindAchievement,
		ActivityID: def.ID,
		Rewarded:   true,
		XP:         def.XPReward,
		Coins:      def.CoinReward,
		CreditedAt: now,
	}

	var inserted bool
	var res domain.CreditResult
	err := a.store.InTx(ctx, func(tx domain.Repository) error {
		var err error
		inserted, err = tx.InsertUnlock(ctx, domain.AchievementUnlock{
			UserID: userID, AchievementID: def.ID, UnlockedAt: now,
		})
		if err != nil || !inserted {
			return err
		}
		res, err = a.credits.CreditTx(ctx, tx, c)
		return err
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues("unlock", credit.ErrorClass(err)).Inc()
		return false, fmt.Errorf("unlock %s: %w", def.ID, err)
	}
	if !inserted {
		return false, nil
	}

	credit.Observe(c, res)
	metrics.AchievementUnlocks.WithLabelValues(string(def.Category)).Inc()
	a.log.Info("achievement unlocked", "user_id", userID, "achievement", def.ID, "xp", def.XPReward)
	return true, nil
}

func (a *AchievementService) unlockedSet(ctx context.Context, userID string) (map[string]bool, error) {
	unlocks, err := a.store.ListUnlocks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list unlocks: %w", err)
	}
	set := make(map[string]bool, len(unlocks))
	for _, u := range unlocks {
		set[u.AchievementID] = true
	}
	return set, nil
}

// ListUnlocked returns the user's unlocks, oldest first.
func (a *AchievementService) ListUnlocked(ctx context.Context, userID string) ([]domain.AchievementUnlock, error) {
	return a.store.ListUnlocks(ctx, userID)
}

// Definitions returns the catalog (for display).
func (a *AchievementService) Definitions() []domain.Achievement {
	out := make([]domain.Achievement, len(a.definitions))
	copy(out, a.definitions)
	return out
}

// Definition looks up one achievement by id.
func (a *AchievementService) Definition(id string) (domain.Achievement, bool) {
	for _, d := range a.definitions {
		if d.ID == id {
			return d, true
		}
	}
	return domain.Achievement{}, false
}

// ─── Catalog ────────────────────────────────────────────────────────────────

// ValidateCatalog rejects duplicate ids, negative rewards and malformed
// conditions.
func ValidateCatalog(catalog []domain.Achievement) error {
	seen := make(map[string]bool, len(catalog))
	for i, def := range catalog {
		field := fmt.Sprintf("achievements[%d]", i)
		if strings.TrimSpace(def.ID) == "" {
			return &domain.ConfigError{Field: field + ".id", Reason: "required"}
		}
		if seen[def.ID] {
			return &domain.ConfigError{Field: field + ".id", Reason: fmt.Sprintf("duplicate id %q", def.ID)}
		}
		seen[def.ID] = true
		if def.XPReward < 0 || def.CoinReward < 0 {
			return &domain.ConfigError{Field: field, Reason: "rewards must be >= 0"}
		}
		if err := def.Condition.Validate(); err != nil {
			return fmt.Errorf("%s (%s): %w", field, def.ID, err)
		}
	}
	return nil
}

// MergeCatalog returns base with extra appended; an extra entry whose id
// exists in base replaces it in place.
func MergeCatalog(base, extra []domain.Achievement) []domain.Achievement {
	out := make([]domain.Achievement, len(base))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.ID] = i
	}
	for _, d := range extra {
		if i, ok := index[d.ID]; ok {
			out[i] = d
			continue
		}
		index[d.ID] = len(out)
		out = append(out, d)
	}
	return out
}

// DefaultAchievements returns the built-in catalog.
func DefaultAchievements() []domain.Achievement {
	return []domain.Achievement{
		// Getting started
		{ID: "first_video", Name: "Lights On", Category: domain.CatGettingStarted,
			Condition: domain.AtLeast(domain.StatVideosCompleted, 1), XPReward: 50, CoinReward: 10},
		{ID: "first_habit", Name: "Small Steps", Category: domain.CatGettingStarted,
			Condition: domain.AtLeast(domain.StatHabitCheckIns, 1), XPReward: 30, CoinReward: 5},
		{ID: "first_reflection", Name: "Look Inward", Category: domain.CatGettingStarted,
			Condition: domain.AtLeast(domain.StatCognitiveCheckIns, 1), XPReward: 30, CoinReward: 5},

		// Learning
		{ID: "videos_10", Name: "Binge Learner", Category: domain.CatLearning,
			Condition: domain.AtLeast(domain.StatVideosCompleted, 10), XPReward: 150, CoinReward: 30},
		{ID: "videos_50", Name: "Library Regular", Category: domain.CatLearning,
			Condition: domain.AtLeast(domain.StatVideosCompleted, 50), XPReward: 500, CoinReward: 100},
		{ID: "first_module", Name: "Module Cleared", Category: domain.CatLearning,
			Condition: domain.AtLeast(domain.StatModulesCompleted, 1), XPReward: 100, CoinReward: 20},
		{ID: "first_course", Name: "Graduate", Category: domain.CatLearning,
			Condition: domain.AtLeast(domain.StatCoursesCompleted, 1), XPReward: 300, CoinReward: 60},
		{ID: "watch_10h", Name: "Ten Hours In", Category: domain.CatLearning,
			Condition: domain.AtLeast(domain.StatSecondsWatched, 10*3600), XPReward: 250, CoinReward: 50},

		// Habits
		{ID: "habit_streak_7", Name: "Week of Discipline", Category: domain.CatHabits,
			Condition: domain.AtLeast(domain.StatBestHabitStreak, 7), XPReward: 150, CoinReward: 30},
		{ID: "habit_streak_21", Name: "Habit Formed", Category: domain.CatHabits,
			Condition: domain.AtLeast(domain.StatBestHabitStreak, 21), XPReward: 400, CoinReward: 80},
		{ID: "habit_streak_30", Name: "Month of Mastery", Category: domain.CatHabits,
			Condition: domain.AtLeast(domain.StatBestHabitStreak, 30), XPReward: 600, CoinReward: 120},

		// Consistency
		{ID: "active_7", Name: "Seven Straight", Category: domain.CatConsistency,
			Condition: domain.AtLeast(domain.StatActivityStreak, 7), XPReward: 200, CoinReward: 40},
		{ID: "active_30", Name: "Unbroken", Category: domain.CatConsistency,
			Condition: domain.AtLeast(domain.StatLongestStreak, 30), XPReward: 800, CoinReward: 160},

		// Affiliate
		{ID: "first_referral", Name: "Ambassador", Category: domain.CatAffiliate,
			Condition: domain.AtLeast(domain.StatReferrals, 1), XPReward: 100, CoinReward: 50},
		{ID: "referrals_10", Name: "Recruiter", Category: domain.CatAffiliate,
			Condition: domain.AtLeast(domain.StatReferrals, 10), XPReward: 600, CoinReward: 300},

		// Mastery
		{ID: "level_10", Name: "Rising Star", Category: domain.CatMastery,
			Condition: domain.AtLeast(domain.StatLevel, 10), XPReward: 300, CoinReward: 60},
		{ID: "scholar", Name: "Complete Scholar", Category: domain.CatMastery,
			Condition: domain.AllOf(
				domain.AtLeast(domain.StatCoursesCompleted, 3),
				domain.AtLeast(domain.StatBestHabitStreak, 21),
			), XPReward: 1000, CoinReward: 200},
	}
}
