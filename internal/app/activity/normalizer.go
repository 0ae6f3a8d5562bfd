// Package activity turns raw user actions into normalized activities with
// their reward values attached.
package activity

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ascend-academy/ascend/internal/domain"
)

// ActionType is the kind of raw event reported by the hosting application.
type ActionType string

const (
	ActionVideoProgress    ActionType = "video_progress"
	ActionModuleCompleted  ActionType = "module_completed"
	ActionCourseCompleted  ActionType = "course_completed"
	ActionHabitCheckIn     ActionType = "habit_checkin"
	ActionCognitiveCheckIn ActionType = "cognitive_checkin"
	ActionSale             ActionType = "sale"
	ActionRegistration     ActionType = "registration"
)

// RawAction is an un-normalized event. Which fields are required depends
// on Type.
type RawAction struct {
	Type   ActionType `json:"type"`
	UserID string     `json:"user_id"`

	// Content actions
	ActivityID      string  `json:"activity_id,omitempty"`
	PercentComplete float64 `json:"percent_complete,omitempty"`
	SecondsWatched  int64   `json:"seconds_watched,omitempty"`
	Completed       bool    `json:"completed,omitempty"`

	// Habit check-in
	HabitID string `json:"habit_id,omitempty"`

	// Sale / registration
	TransactionID string                 `json:"transaction_id,omitempty"`
	EventType     domain.CommissionEvent `json:"event_type,omitempty"`
	ValueCents    int64                  `json:"value_cents,omitempty"`
	ReferrerID    string                 `json:"referrer_id,omitempty"`

	At time.Time `json:"at,omitempty"`
}

// Reward is the XP and coin value of one credited activity.
type Reward struct {
	XP    int64 `toml:"xp" json:"xp"`
	Coins int64 `toml:"coins" json:"coins"`
}

// RewardTable prices each content kind.
type RewardTable struct {
	Video     Reward `toml:"video" json:"video"`
	Module    Reward `toml:"module" json:"module"`
	Course    Reward `toml:"course" json:"course"`
	Cognitive Reward `toml:"cognitive" json:"cognitive"`
}

// DefaultRewardTable returns the stock prices.
func DefaultRewardTable() RewardTable {
	return RewardTable{
		Video:     Reward{XP: 25, Coins: 1},
		Module:    Reward{XP: 100, Coins: 10},
		Course:    Reward{XP: 500, Coins: 50},
		Cognitive: Reward{XP: 15, Coins: 3},
	}
}

// Validate rejects negative prices.
func (t RewardTable) Validate() error {
	for name, r := range map[string]Reward{
		"video": t.Video, "module": t.Module, "course": t.Course, "cognitive": t.Cognitive,
	} {
		if r.XP < 0 || r.Coins < 0 {
			return &domain.ConfigError{Field: "rewards." + name, Reason: "xp and coins must be >= 0"}
		}
	}
	return nil
}

// DefaultCompletionThreshold is the watch percentage that completes a video.
const DefaultCompletionThreshold = 90.0

// Normalizer validates raw actions and prices them.
type Normalizer struct {
	rewards   RewardTable
	threshold float64
	loc       *time.Location
	now       func() time.Time
}

// NewNormalizer creates a normalizer. threshold is a percentage in
// (0, 100]; loc buckets cognitive check-ins into days (nil means UTC).
func NewNormalizer(rewards RewardTable, threshold float64, loc *time.Location) (*Normalizer, error) {
	if err := rewards.Validate(); err != nil {
		return nil, err
	}
	if threshold <= 0 || threshold > 100 || math.IsNaN(threshold) {
		return nil, &domain.ConfigError{Field: "rewards.completion_threshold", Reason: "must be within (0, 100]"}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{rewards: rewards, threshold: threshold, loc: loc, now: time.Now}, nil
}

// SetClock overrides the time source (tests).
func (n *Normalizer) SetClock(now func() time.Time) { n.now = now }

// Rewards returns the active price table.
func (n *Normalizer) Rewards() RewardTable { return n.rewards }

// Normalize validates a raw action and maps it to an Activity.
// A zero At is stamped with the current time.
func (n *Normalizer) Normalize(a RawAction) (domain.Activity, error) {
	userID := strings.TrimSpace(a.UserID)
	if userID == "" {
		return domain.Activity{}, fmt.Errorf("user id required: %w", domain.ErrInvalidActivity)
	}
	at := a.At
	if at.IsZero() {
		at = n.now()
	}
	act := domain.Activity{UserID: userID, At: at.UTC()}

	switch a.Type {
	case ActionVideoProgress:
		if a.PercentComplete < 0 || a.PercentComplete > 100 || math.IsNaN(a.PercentComplete) {
			return domain.Activity{}, fmt.Errorf("percent complete %v out of range: %w", a.PercentComplete, domain.ErrInvalidActivity)
		}
		if a.SecondsWatched < 0 {
			return domain.Activity{}, fmt.Errorf("seconds watched must be >= 0: %w", domain.ErrInvalidActivity)
		}
		act.Kind = domain.KindVideo
		act.PercentComplete = a.PercentComplete
		act.SecondsWatched = a.SecondsWatched
		act.Qualifies = a.Completed || a.PercentComplete >= n.threshold
		act.XP, act.Coins = n.rewards.Video.XP, n.rewards.Video.Coins
		if a.Completed && act.PercentComplete < 100 {
			act.PercentComplete = 100
		}
		return withContentID(act, a.ActivityID)

	case ActionModuleCompleted:
		act.Kind = domain.KindModule
		act.Qualifies = true
		act.XP, act.Coins = n.rewards.Module.XP, n.rewards.Module.Coins
		return withContentID(act, a.ActivityID)

	case ActionCourseCompleted:
		act.Kind = domain.KindCourse
		act.Qualifies = true
		act.XP, act.Coins = n.rewards.Course.XP, n.rewards.Course.Coins
		return withContentID(act, a.ActivityID)

	case ActionHabitCheckIn:
		habitID := strings.TrimSpace(a.HabitID)
		if habitID == "" {
			return domain.Activity{}, fmt.Errorf("habit id required: %w", domain.ErrInvalidActivity)
		}
		act.Kind = domain.KindHabitCheckIn
		act.HabitID = habitID
		act.ActivityID = habitID
		act.Qualifies = true
		return act, nil

	case ActionCognitiveCheckIn:
		// One reward per user per calendar day.
		act.Kind = domain.KindCognitiveCheckIn
		act.ActivityID = at.In(n.loc).Format("2006-01-02")
		act.Qualifies = true
		act.XP, act.Coins = n.rewards.Cognitive.XP, n.rewards.Cognitive.Coins
		return act, nil

	case ActionSale:
		txID := strings.TrimSpace(a.TransactionID)
		if txID == "" {
			return domain.Activity{}, fmt.Errorf("transaction id required: %w", domain.ErrInvalidActivity)
		}
		if !a.EventType.Valid() || a.EventType == domain.EventRegistration {
			return domain.Activity{}, domain.ErrUnknownEventType
		}
		if a.ValueCents < 0 {
			return domain.Activity{}, fmt.Errorf("sale value must be >= 0: %w", domain.ErrInvalidActivity)
		}
		act.Kind = domain.KindSale
		act.ActivityID = txID
		act.Qualifies = true
		act.Sale = &domain.Sale{TransactionID: txID, EventType: a.EventType, BuyerID: userID, ValueCents: a.ValueCents}
		return act, nil

	case ActionRegistration:
		referrer := strings.TrimSpace(a.ReferrerID)
		if referrer == "" {
			return domain.Activity{}, fmt.Errorf("referrer id required: %w", domain.ErrInvalidActivity)
		}
		act.Kind = domain.KindRegistration
		act.ActivityID = userID
		act.ReferrerID = referrer
		act.Qualifies = true
		return act, nil
	}
	return domain.Activity{}, fmt.Errorf("unknown action type %q: %w", a.Type, domain.ErrInvalidActivity)
}

func withContentID(act domain.Activity, id string) (domain.Activity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Activity{}, fmt.Errorf("%s id required: %w", act.Kind, domain.ErrInvalidActivity)
	}
	act.ActivityID = id
	return act, nil
}
