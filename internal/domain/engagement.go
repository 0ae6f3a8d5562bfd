// Package domain holds the progression engine's core types.
// Domain types are pure: no infrastructure dependency.
package domain

import (
	"sort"
	"time"
)

// ─── Progress ───────────────────────────────────────────────────────────────

// UserProgress is the durable per-user progression record.
// XP never decreases; Level is always the highest level whose threshold ≤ XP.
type UserProgress struct {
	UserID         string    `json:"user_id"`
	XP             int64     `json:"xp"`
	Coins          int64     `json:"coins"`
	Level          int       `json:"level"`
	XPForNextLevel int64     `json:"xp_for_next_level"`
	MaxLevel       bool      `json:"max_level"`
	ActivityStreak int       `json:"activity_streak"`
	LongestStreak  int       `json:"longest_streak"`
	LastActiveDay  string    `json:"last_active_day,omitempty"` // "2006-01-02"
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewUserProgress returns the zero state for a user who has never been credited.
func NewUserProgress(userID string) UserProgress {
	return UserProgress{UserID: userID, Level: 1}
}

// ActivityCredit records that a piece of content paid out to a user.
// Unique on (UserID, Kind, ActivityID). Rows with Rewarded=false carry
// watch progress only.
type ActivityCredit struct {
	UserID          string       `json:"user_id"`
	Kind            ActivityKind `json:"kind"`
	ActivityID      string       `json:"activity_id"`
	PercentComplete float64      `json:"percent_complete"`
	SecondsWatched  int64        `json:"seconds_watched"`
	Rewarded        bool         `json:"rewarded"`
	XP              int64        `json:"xp"`
	Coins           int64        `json:"coins"`
	CreditedAt      time.Time    `json:"credited_at,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// CreditResult is the outcome of an idempotent credit.
// Applied=false means the credit already existed; Progress is unchanged.
type CreditResult struct {
	Applied       bool         `json:"applied"`
	Progress      UserProgress `json:"progress"`
	PreviousLevel int          `json:"previous_level"`
}

// LeveledUp reports whether the credit moved the user to a higher level.
func (r CreditResult) LeveledUp() bool {
	return r.Applied && r.Progress.Level > r.PreviousLevel
}

// ─── Levels ─────────────────────────────────────────────────────────────────

// LevelThreshold is one row of the ascending level table.
type LevelThreshold struct {
	Level     int   `json:"level" toml:"level"`
	MinMetric int64 `json:"min_metric" toml:"min_metric"`
}

// LevelInfo is the resolved level for a cumulative metric.
// At the last configured level XPForNextLevel repeats the level's own
// threshold and MaxLevel is set.
type LevelInfo struct {
	Level          int   `json:"level"`
	Threshold      int64 `json:"threshold"`
	XPForNextLevel int64 `json:"xp_for_next_level"`
	MaxLevel       bool  `json:"max_level"`
}

// ─── Habits ─────────────────────────────────────────────────────────────────

// Allowed habit cadences, in days.
var HabitCadences = []int{7, 21, 30}

// ValidCadence reports whether days is one of the supported cadences.
func ValidCadence(days int) bool {
	for _, c := range HabitCadences {
		if c == days {
			return true
		}
	}
	return false
}

// Habit is a user-adopted daily practice with a streak.
// Invariant: CurrentStreak ≤ len(CompletedDays); each day appears once.
type Habit struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	CadenceDays    int       `json:"cadence_days"`
	CompletedDays  []string  `json:"completed_days"` // sorted "2006-01-02"
	CurrentStreak  int       `json:"current_streak"`
	LongestStreak  int       `json:"longest_streak"`
	LastCreditedAt time.Time `json:"last_credited_at,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasDay reports whether day is already in CompletedDays.
func (h Habit) HasDay(day string) bool {
	i := sort.SearchStrings(h.CompletedDays, day)
	return i < len(h.CompletedDays) && h.CompletedDays[i] == day
}

// AddDay inserts day keeping CompletedDays sorted. Returns false if present.
func (h *Habit) AddDay(day string) bool {
	i := sort.SearchStrings(h.CompletedDays, day)
	if i < len(h.CompletedDays) && h.CompletedDays[i] == day {
		return false
	}
	h.CompletedDays = append(h.CompletedDays, "")
	copy(h.CompletedDays[i+1:], h.CompletedDays[i:])
	h.CompletedDays[i] = day
	return true
}

// Completed reports whether the habit has been done on CadenceDays days.
func (h Habit) Completed() bool {
	return len(h.CompletedDays) >= h.CadenceDays
}

// StreakMilestone is a one-time bonus paid when a habit streak reaches Days.
type StreakMilestone struct {
	Days  int   `json:"days" toml:"days"`
	XP    int64 `json:"xp" toml:"xp"`
	Coins int64 `json:"coins" toml:"coins"`
}

// CheckInReason explains why a check-in did or did not credit.
type CheckInReason string

const (
	CheckInCredited CheckInReason = "credited"
	CheckInCooldown CheckInReason = "cooldown"
	CheckInSameDay  CheckInReason = "same_day"
)

// CheckInResult is the outcome of a habit check-in.
type CheckInResult struct {
	Credited       bool              `json:"credited"`
	Reason         CheckInReason     `json:"reason"`
	Habit          Habit             `json:"habit"`
	NextEligibleAt time.Time         `json:"next_eligible_at"`
	StreakReset    bool              `json:"streak_reset"`
	XP             int64             `json:"xp"`
	Coins          int64             `json:"coins"`
	Milestones     []StreakMilestone `json:"milestones,omitempty"`
	Progress       UserProgress      `json:"progress"`
	PreviousLevel  int               `json:"previous_level"`
}

// ─── Achievements ───────────────────────────────────────────────────────────

// AchievementCategory groups achievements by theme.
type AchievementCategory string

const (
	CatGettingStarted AchievementCategory = "getting_started"
	CatLearning       AchievementCategory = "learning"
	CatHabits         AchievementCategory = "habits"
	CatConsistency    AchievementCategory = "consistency"
	CatAffiliate      AchievementCategory = "affiliate"
	CatMastery        AchievementCategory = "mastery"
)

// Achievement is a template; unlocks are recorded per user.
type Achievement struct {
	ID         string              `json:"id" toml:"id"`
	Name       string              `json:"name" toml:"name"`
	Category   AchievementCategory `json:"category" toml:"category"`
	Condition  Condition           `json:"condition" toml:"condition"`
	XPReward   int64               `json:"xp_reward" toml:"xp_reward"`
	CoinReward int64               `json:"coin_reward" toml:"coin_reward"`
}

// AchievementUnlock records when a user earned an achievement. Immutable.
type AchievementUnlock struct {
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	UnlockedAt    time.Time `json:"unlocked_at"`
}

// AggregateStats is a snapshot of a user's counters fed to conditions.
type AggregateStats struct {
	VideosCompleted   int64 `json:"videos_completed"`
	ModulesCompleted  int64 `json:"modules_completed"`
	CoursesCompleted  int64 `json:"courses_completed"`
	SecondsWatched    int64 `json:"seconds_watched"`
	HabitCheckIns     int64 `json:"habit_checkins"`
	CognitiveCheckIns int64 `json:"cognitive_checkins"`
	BestHabitStreak   int64 `json:"best_habit_streak"`
	ActivityStreak    int64 `json:"activity_streak"`
	LongestStreak     int64 `json:"longest_streak"`
	Referrals         int64 `json:"referrals"`
	Level             int64 `json:"level"`
	XP                int64 `json:"xp"`
}
