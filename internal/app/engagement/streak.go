// Package engagement implements levels, habit streaks and achievements.
// Rewards flow through the credit service, so every payout is keyed and
// at-most-once.
package engagement

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ascend-academy/ascend/internal/app/credit"
	"github.com/ascend-academy/ascend/internal/domain"
	"github.com/ascend-academy/ascend/internal/infra/logger"
	"github.com/ascend-academy/ascend/internal/infra/metrics"
)

// StreakConfig tunes habit check-ins.
type StreakConfig struct {
	// Cooldown is the rolling window between credited check-ins.
	Cooldown time.Duration
	// ResetAfter restarts the streak when a check-in arrives this long
	// after the previous one. Zero never resets.
	ResetAfter time.Duration

	CheckInXP    int64
	CheckInCoins int64
	Milestones   []domain.StreakMilestone

	// Location buckets check-ins into calendar days.
	Location *time.Location
}

// DefaultStreakConfig returns the stock habit economy.
func DefaultStreakConfig() StreakConfig {
	return StreakConfig{
		Cooldown:     24 * time.Hour,
		ResetAfter:   48 * time.Hour,
		CheckInXP:    10,
		CheckInCoins: 2,
		Milestones: []domain.StreakMilestone{
			{Days: 3, XP: 30, Coins: 5},
			{Days: 7, XP: 75, Coins: 15},
			{Days: 21, XP: 250, Coins: 50},
			{Days: 30, XP: 400, Coins: 80},
		},
		Location: time.UTC,
	}
}

// Validate reports the first malformed setting.
func (c StreakConfig) Validate() error {
	if c.Cooldown <= 0 {
		return &domain.ConfigError{Field: "streak.cooldown_hours", Reason: "must be > 0"}
	}
	if c.ResetAfter < 0 {
		return &domain.ConfigError{Field: "streak.reset_after_hours", Reason: "must be >= 0"}
	}
	if c.ResetAfter > 0 && c.ResetAfter < c.Cooldown {
		return &domain.ConfigError{Field: "streak.reset_after_hours", Reason: "must not be shorter than the cooldown"}
	}
	if c.CheckInXP < 0 || c.CheckInCoins < 0 {
		return &domain.ConfigError{Field: "streak.checkin", Reason: "rewards must be >= 0"}
	}
	seen := make(map[int]bool)
	for i, m := range c.Milestones {
		field := fmt.Sprintf("streak.milestones[%d]", i)
		if m.Days <= 0 {
			return &domain.ConfigError{Field: field + ".days", Reason: "must be > 0"}
		}
		if seen[m.Days] {
			return &domain.ConfigError{Field: field + ".days", Reason: fmt.Sprintf("duplicate milestone %d", m.Days)}
		}
		seen[m.Days] = true
		if m.XP < 0 || m.Coins < 0 {
			return &domain.ConfigError{Field: field, Reason: "rewards must be >= 0"}
		}
	}
	return nil
}

// StreakService manages habits and their check-in streaks.
//
// Eligibility is re-derived from LastCreditedAt on every call; there is
// no timer. A check-in credits only if the cooldown has elapsed AND the
// calendar day is not already recorded.
type StreakService struct {
	store   domain.Store
	credits *credit.Service
	cfg     StreakConfig
	log     *logger.Logger
	now     func() time.Time
}

// NewStreakService validates cfg and creates a streak service.
func NewStreakService(store domain.Store, credits *credit.Service, cfg StreakConfig, log *logger.Logger) (*StreakService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	ms := make([]domain.StreakMilestone, len(cfg.Milestones))
	copy(ms, cfg.Milestones)
	sort.Slice(ms, func(i, j int) bool { return ms[i].Days < ms[j].Days })
	cfg.Milestones = ms
	if log == nil {
		log = logger.Nop()
	}
	return &StreakService{
		store:   store,
		credits: credits,
		cfg:     cfg,
		log:     log.With("service", "streak"),
		now:     time.Now,
	}, nil
}

// SetClock overrides the time source (tests).
func (s *StreakService) SetClock(now func() time.Time) { s.now = now }

// Config returns the effective configuration.
func (s *StreakService) Config() StreakConfig { return s.cfg }

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Adopt creates a habit for the user.
func (s *StreakService) Adopt(ctx context.Context, userID, name string, cadenceDays int) (domain.Habit, error) {
	name = strings.TrimSpace(name)
	if strings.TrimSpace(userID) == "" || name == "" {
		return domain.Habit{}, fmt.Errorf("user id and habit name required: %w", domain.ErrInvalidActivity)
	}
	if !domain.ValidCadence(cadenceDays) {
		return domain.Habit{}, domain.ErrInvalidCadence
	}
	h := domain.Habit{
		ID:            uuid.NewString(),
		UserID:        userID,
		Name:          name,
		CadenceDays:   cadenceDays,
		CompletedDays: []string{},
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.InsertHabit(ctx, h); err != nil {
		return domain.Habit{}, fmt.Errorf("insert habit: %w", err)
	}
	s.log.Info("habit adopted", "user_id", userID, "habit_id", h.ID, "cadence", cadenceDays)
	return h, nil
}

// Get returns a habit owned by userID.
func (s *StreakService) Get(ctx context.Context, userID, habitID string) (domain.Habit, error) {
	h, err := s.store.GetHabit(ctx, habitID, false)
	if err != nil {
		return domain.Habit{}, fmt.Errorf("get habit: %w", err)
	}
	if h == nil || h.UserID != userID {
		return domain.Habit{}, domain.ErrHabitNotFound
	}
	return *h, nil
}

// List returns the user's habits, oldest first.
func (s *StreakService) List(ctx context.Context, userID string) ([]domain.Habit, error) {
	return s.store.ListHabits(ctx, userID)
}

// Remove deletes a habit and forfeits its streak. Rewards already paid,
// milestones included, stay credited.
func (s *StreakService) Remove(ctx context.Context, userID, habitID string) error {
	return s.store.InTx(ctx, func(tx domain.Repository) error {
		h, err := tx.GetHabit(ctx, habitID, true)
		if err != nil {
			return err
		}
		if h == nil || h.UserID != userID {
			return domain.ErrHabitNotFound
		}
		return tx.DeleteHabit(ctx, habitID)
	})
}

// ─── Check-in ───────────────────────────────────────────────────────────────

// CheckIn records a completion of habitID at now. A zero now uses the
// service clock. Rejections (cooldown, same day) are results, not errors.
func (s *StreakService) CheckIn(ctx context.Context, userID, habitID string, now time.Time) (domain.CheckInResult, error) {
	if now.IsZero() {
		now = s.now()
	}
	// Stored timestamps keep milliseconds; compare at the same precision.
	now = now.UTC().Truncate(time.Millisecond)

	var res domain.CheckInResult
	var paid []domain.ActivityCredit
	var outcomes []domain.CreditResult

	err := s.store.InTx(ctx, func(tx domain.Repository) error {
		res, paid, outcomes = domain.CheckInResult{}, nil, nil

		h, err := tx.GetHabit(ctx, habitID, true)
		if err != nil {
			return err
		}
		if h == nil || h.UserID != userID {
			return domain.ErrHabitNotFound
		}
		res.Habit = *h

		last := h.LastCreditedAt
		if !last.IsZero() && now.Sub(last) < s.cfg.Cooldown {
			res.Reason = domain.CheckInCooldown
			res.NextEligibleAt = last.Add(s.cfg.Cooldown)
			return nil
		}

		day := now.In(s.cfg.Location).Format(credit.DayLayout)
		if h.HasDay(day) {
			res.Reason = domain.CheckInSameDay
			res.NextEligibleAt = s.nextDay(now)
			return nil
		}
		added, err := tx.AddHabitDay(ctx, habitID, day)
		if err != nil {
			return err
		}
		if !added {
			res.Reason = domain.CheckInSameDay
			res.NextEligibleAt = s.nextDay(now)
			return nil
		}

		if s.cfg.ResetAfter > 0 && !last.IsZero() && now.Sub(last) > s.cfg.ResetAfter {
			h.CurrentStreak = 0
			res.StreakReset = true
		}
		h.AddDay(day)
		h.CurrentStreak++
		if h.CurrentStreak > h.LongestStreak {
			h.LongestStreak = h.CurrentStreak
		}
		h.LastCreditedAt = now
		if err := tx.SaveHabit(ctx, *h); err != nil {
			return err
		}

		base := domain.ActivityCredit{
			UserID:     userID,
			Kind:       domain.KindHabitCheckIn,
			ActivityID: habitID + ":" + day,
			Rewarded:   true,
			XP:         s.cfg.CheckInXP,
			Coins:      s.cfg.CheckInCoins,
			CreditedAt: now,
		}
		cr, err := s.credits.CreditTx(ctx, tx, base)
		if err != nil {
			return err
		}
		paid, outcomes = append(paid, base), append(outcomes, cr)
		res.PreviousLevel = cr.PreviousLevel
		res.Progress = cr.Progress
		if cr.Applied {
			res.XP += base.XP
			res.Coins += base.Coins
		}

		for _, m := range s.cfg.Milestones {
			if m.Days != h.CurrentStreak {
				continue
			}
			bonus := domain.ActivityCredit{
				UserID:     userID,
				Kind:       domain.KindHabitMilestone,
				ActivityID: MilestoneKey(habitID, m.Days),
				Rewarded:   true,
				XP:         m.XP,
				Coins:      m.Coins,
				CreditedAt: now,
			}
			mr, err := s.credits.CreditTx(ctx, tx, bonus)
			if err != nil {
				return err
			}
			paid, outcomes = append(paid, bonus), append(outcomes, mr)
			res.Progress = mr.Progress
			if mr.Applied {
				res.XP += m.XP
				res.Coins += m.Coins
				res.Milestones = append(res.Milestones, m)
			}
		}

		res.Credited = true
		res.Reason = domain.CheckInCredited
		res.Habit = *h
		res.NextEligibleAt = now.Add(s.cfg.Cooldown)
		return nil
	})
	if err != nil {
		metrics.StoreErrors.WithLabelValues("checkin", credit.ErrorClass(err)).Inc()
		return domain.CheckInResult{}, fmt.Errorf("check in %s: %w", habitID, err)
	}

	metrics.CheckIns.WithLabelValues(string(res.Reason)).Inc()
	for i := range paid {
		credit.Observe(paid[i], outcomes[i])
	}
	for _, m := range res.Milestones {
		metrics.MilestonesPaid.WithLabelValues(strconv.Itoa(m.Days)).Inc()
	}
	if res.Credited {
		s.log.Debug("habit checked in",
			"user_id", userID, "habit_id", habitID,
			"streak", res.Habit.CurrentStreak, "reset", res.StreakReset, "milestones", len(res.Milestones))
	}
	return res, nil
}

// MilestoneKey is the credit id of a habit's streak milestone. It is never
// cleared, so a regrown streak cannot pay the same milestone twice.
func MilestoneKey(habitID string, days int) string {
	return habitID + ":" + strconv.Itoa(days)
}

// nextDay returns the start of the next calendar day in the habit's zone.
func (s *StreakService) nextDay(now time.Time) time.Time {
	local := now.In(s.cfg.Location)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, s.cfg.Location).UTC()
}
