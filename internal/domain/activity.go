package domain

import "time"

// ActivityKind namespaces activity IDs for idempotent crediting.
type ActivityKind string

const (
	KindVideo            ActivityKind = "video"
	KindModule           ActivityKind = "module"
	KindCourse           ActivityKind = "course"
	KindHabitCheckIn     ActivityKind = "habit_checkin"
	KindHabitMilestone   ActivityKind = "habit_milestone"
	KindCognitiveCheckIn ActivityKind = "cognitive_checkin"
	KindAchievement      ActivityKind = "achievement"
	KindSale             ActivityKind = "sale"
	KindRegistration     ActivityKind = "registration"
)

// CountsTowardStreak reports whether crediting this kind marks the user
// active for the day. Derived rewards (achievements, milestones) do not.
func (k ActivityKind) CountsTowardStreak() bool {
	switch k {
	case KindVideo, KindModule, KindCourse, KindHabitCheckIn, KindCognitiveCheckIn:
		return true
	}
	return false
}

// Activity is a normalized user action, ready for the engine.
type Activity struct {
	UserID          string       `json:"user_id"`
	Kind            ActivityKind `json:"kind"`
	ActivityID      string       `json:"activity_id"`
	Qualifies       bool         `json:"qualifies"`
	XP              int64        `json:"xp"`
	Coins           int64        `json:"coins"`
	PercentComplete float64      `json:"percent_complete,omitempty"`
	SecondsWatched  int64        `json:"seconds_watched,omitempty"`
	HabitID         string       `json:"habit_id,omitempty"`
	ReferrerID      string       `json:"referrer_id,omitempty"`
	Sale            *Sale        `json:"sale,omitempty"`
	At              time.Time    `json:"at"`
}

// Credit returns the ActivityCredit row this activity would claim.
func (a Activity) Credit() ActivityCredit {
	return ActivityCredit{
		UserID:          a.UserID,
		Kind:            a.Kind,
		ActivityID:      a.ActivityID,
		PercentComplete: a.PercentComplete,
		SecondsWatched:  a.SecondsWatched,
		Rewarded:        a.Qualifies,
		XP:              a.XP,
		Coins:           a.Coins,
		CreditedAt:      a.At,
		UpdatedAt:       a.At,
	}
}

// ─── Reward Events ──────────────────────────────────────────────────────────

// RewardEventType categorizes events published for the presentation layer.
type RewardEventType string

const (
	EventCredited        RewardEventType = "credited"
	EventLevelUp         RewardEventType = "level_up"
	EventAchievement     RewardEventType = "achievement_unlocked"
	EventStreakMilestone RewardEventType = "streak_milestone"
	EventPayoutCreated   RewardEventType = "payout_created"
)

// RewardEvent is a fire-and-forget notification of an engine outcome.
type RewardEvent struct {
	ID      string          `json:"id"`
	Type    RewardEventType `json:"type"`
	UserID  string          `json:"user_id"`
	At      time.Time       `json:"at"`
	Payload map[string]any  `json:"payload,omitempty"`
}
