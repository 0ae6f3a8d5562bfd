// Package rewards is the engine's entry point: it normalizes a raw action,
// routes it to the owning service, re-evaluates achievements and publishes
// the resulting reward events.
package rewards

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ascend-academy/ascend/internal/app/activity"
	"github.com/ascend-academy/ascend/internal/app/commission"
	"github.com/ascend-academy/ascend/internal/app/credit"
	"github.com/ascend-academy/ascend/internal/app/engagement"
	"github.com/ascend-academy/ascend/internal/domain"
	"github.com/ascend-academy/ascend/internal/infra/logger"
)

// Outcome reports everything one action caused.
type Outcome struct {
	Activity domain.Activity           `json:"activity"`
	Tracked  bool                      `json:"tracked,omitempty"`
	Credit   *domain.CreditResult      `json:"credit,omitempty"`
	CheckIn  *domain.CheckInResult     `json:"checkin,omitempty"`
	Payouts  []domain.CommissionPayout `json:"payouts,omitempty"`
	Unlocked []domain.Achievement      `json:"unlocked,omitempty"`
}

// Engine wires the services together. All fields are required.
type Engine struct {
	Normalizer   *activity.Normalizer
	Levels       *engagement.LevelTable
	Credits      *credit.Service
	Streaks      *engagement.StreakService
	Achievements *engagement.AchievementService
	Commissions  *commission.Service
	Publisher    domain.Publisher
	Log          *logger.Logger
}

// Record processes one raw action. Retrying a failed call with the same
// action is always safe.
func (e *Engine) Record(ctx context.Context, raw activity.RawAction) (Outcome, error) {
	act, err := e.Normalizer.Normalize(raw)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Activity: act}

	var evs []domain.RewardEvent
	refresh := act.UserID

	switch act.Kind {
	case domain.KindVideo, domain.KindModule, domain.KindCourse, domain.KindCognitiveCheckIn:
		if !act.Qualifies {
			if err := e.Credits.Track(ctx, act); err != nil {
				return out, err
			}
			out.Tracked = true
			break
		}
		res, err := e.Credits.CreditActivity(ctx, act)
		if err != nil {
			return out, err
		}
		out.Credit = &res
		if !res.Applied && act.Kind == domain.KindVideo {
			// Replays still refresh watch metadata.
			if err := e.Credits.Track(ctx, act); err != nil {
				return out, err
			}
		}
		evs = append(evs, creditEvents(act.UserID, act.Kind, act.ActivityID, act.XP, act.Coins, res)...)

	case domain.KindHabitCheckIn:
		res, err := e.Streaks.CheckIn(ctx, act.UserID, act.HabitID, act.At)
		if err != nil {
			return out, err
		}
		out.CheckIn = &res
		evs = append(evs, checkInEvents(act.UserID, res)...)

	case domain.KindSale:
		payouts, err := e.Commissions.RecordSale(ctx, *act.Sale)
		if err != nil {
			return out, err
		}
		out.Payouts = payouts
		evs = append(evs, payoutEvents(payouts)...)
		refresh = ""

	case domain.KindRegistration:
		payouts, err := e.Commissions.Register(ctx, act.UserID, act.ReferrerID)
		if err != nil {
			return out, err
		}
		out.Payouts = payouts
		evs = append(evs, payoutEvents(payouts)...)
		// The referrer's referral count changed.
		refresh = act.ReferrerID

	default:
		return out, fmt.Errorf("unroutable activity kind %q: %w", act.Kind, domain.ErrInvalidActivity)
	}

	if refresh != "" {
		unlocked, more, err := e.refreshAchievements(ctx, refresh)
		if err != nil {
			return out, err
		}
		if refresh == act.UserID {
			out.Unlocked = unlocked
		}
		evs = append(evs, more...)
	}

	e.publish(ctx, evs)
	return out, nil
}

// Evaluate re-runs achievement evaluation for a user and publishes unlocks.
func (e *Engine) Evaluate(ctx context.Context, userID string) ([]domain.Achievement, error) {
	unlocked, evs, err := e.refreshAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.publish(ctx, evs)
	return unlocked, nil
}

// refreshAchievements evaluates to a fixpoint and builds the unlock
// events, plus a level-up if the achievement rewards crossed a threshold.
func (e *Engine) refreshAchievements(ctx context.Context, userID string) ([]domain.Achievement, []domain.RewardEvent, error) {
	before, err := e.Credits.Progress(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	unlocked, err := e.Achievements.Refresh(ctx, userID)
	if err != nil {
		return unlocked, nil, fmt.Errorf("evaluate achievements: %w", err)
	}
	if len(unlocked) == 0 {
		return nil, nil, nil
	}

	evs := make([]domain.RewardEvent, 0, len(unlocked)+1)
	for _, a := range unlocked {
		evs = append(evs, achievementEvent(userID, a))
	}
	after, err := e.Credits.Progress(ctx, userID)
	if err != nil {
		return unlocked, evs, err
	}
	if after.Level > before.Level {
		evs = append(evs, levelUpEvent(userID, before.Level, after))
	}
	return unlocked, evs, nil
}

// publish is best effort: a failed publish never fails the action.
func (e *Engine) publish(ctx context.Context, evs []domain.RewardEvent) {
	if e.Publisher == nil {
		return
	}
	for _, ev := range evs {
		if err := e.Publisher.Publish(ctx, ev); err != nil && e.Log != nil {
			e.Log.Warn("publish reward event failed", "type", ev.Type, "user_id", ev.UserID, "error", err)
		}
	}
}

// ─── Event Builders ─────────────────────────────────────────────────────────

func newEvent(t domain.RewardEventType, userID string, payload map[string]any) domain.RewardEvent {
	return domain.RewardEvent{
		ID:      uuid.NewString(),
		Type:    t,
		UserID:  userID,
		At:      time.Now().UTC(),
		Payload: payload,
	}
}

func creditEvents(userID string, kind domain.ActivityKind, activityID string, xp, coins int64, res domain.CreditResult) []domain.RewardEvent {
	if !res.Applied {
		return nil
	}
	evs := []domain.RewardEvent{newEvent(domain.EventCredited, userID, map[string]any{
		"kind":        string(kind),
		"activity_id": activityID,
		"xp":          xp,
		"coins":       coins,
		"total_xp":    res.Progress.XP,
	})}
	if res.LeveledUp() {
		evs = append(evs, levelUpEvent(userID, res.PreviousLevel, res.Progress))
	}
	return evs
}

func levelUpEvent(userID string, from int, p domain.UserProgress) domain.RewardEvent {
	return newEvent(domain.EventLevelUp, userID, map[string]any{
		"from":              from,
		"to":                p.Level,
		"xp":                p.XP,
		"xp_for_next_level": p.XPForNextLevel,
		"max_level":         p.MaxLevel,
	})
}

func checkInEvents(userID string, res domain.CheckInResult) []domain.RewardEvent {
	if !res.Credited {
		return nil
	}
	evs := []domain.RewardEvent{newEvent(domain.EventCredited, userID, map[string]any{
		"kind":     string(domain.KindHabitCheckIn),
		"habit_id": res.Habit.ID,
		"streak":   res.Habit.CurrentStreak,
		"xp":       res.XP,
		"coins":    res.Coins,
		"total_xp": res.Progress.XP,
	})}
	for _, m := range res.Milestones {
		evs = append(evs, newEvent(domain.EventStreakMilestone, userID, map[string]any{
			"habit_id": res.Habit.ID,
			"days":     m.Days,
			"xp":       m.XP,
			"coins":    m.Coins,
		}))
	}
	if res.Progress.Level > res.PreviousLevel {
		evs = append(evs, levelUpEvent(userID, res.PreviousLevel, res.Progress))
	}
	return evs
}

func achievementEvent(userID string, a domain.Achievement) domain.RewardEvent {
	return newEvent(domain.EventAchievement, userID, map[string]any{
		"achievement_id": a.ID,
		"name":           a.Name,
		"category":       string(a.Category),
		"xp":             a.XPReward,
		"coins":          a.CoinReward,
	})
}

func payoutEvents(payouts []domain.CommissionPayout) []domain.RewardEvent {
	evs := make([]domain.RewardEvent, 0, len(payouts))
	for _, p := range payouts {
		evs = append(evs, newEvent(domain.EventPayoutCreated, p.BeneficiaryID, map[string]any{
			"payout_id":      p.ID,
			"transaction_id": p.SourceTransactionID,
			"event_type":     string(p.EventType),
			"tier":           strconv.Itoa(p.Tier),
			"amount_cents":   p.AmountCents,
		}))
	}
	return evs
}
