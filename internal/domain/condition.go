package domain

import "fmt"

// StatField names one counter of AggregateStats.
type StatField string

const (
	StatVideosCompleted   StatField = "videos_completed"
	StatModulesCompleted  StatField = "modules_completed"
	StatCoursesCompleted  StatField = "courses_completed"
	StatSecondsWatched    StatField = "seconds_watched"
	StatHabitCheckIns     StatField = "habit_checkins"
	StatCognitiveCheckIns StatField = "cognitive_checkins"
	StatBestHabitStreak   StatField = "best_habit_streak"
	StatActivityStreak    StatField = "activity_streak"
	StatLongestStreak     StatField = "longest_streak"
	StatReferrals         StatField = "referrals"
	StatLevel             StatField = "level"
	StatXP                StatField = "xp"
)

// Value returns the counter named by f.
func (s AggregateStats) Value(f StatField) (int64, bool) {
	switch f {
	case StatVideosCompleted:
		return s.VideosCompleted, true
	case StatModulesCompleted:
		return s.ModulesCompleted, true
	case StatCoursesCompleted:
		return s.CoursesCompleted, true
	case StatSecondsWatched:
		return s.SecondsWatched, true
	case StatHabitCheckIns:
		return s.HabitCheckIns, true
	case StatCognitiveCheckIns:
		return s.CognitiveCheckIns, true
	case StatBestHabitStreak:
		return s.BestHabitStreak, true
	case StatActivityStreak:
		return s.ActivityStreak, true
	case StatLongestStreak:
		return s.LongestStreak, true
	case StatReferrals:
		return s.Referrals, true
	case StatLevel:
		return s.Level, true
	case StatXP:
		return s.XP, true
	}
	return 0, false
}

// ConditionKind tags the closed set of unlock predicates.
type ConditionKind string

const (
	CondCountAtLeast ConditionKind = "count_at_least"
	CondAllOf        ConditionKind = "all_of"
)

// Condition is a declarative unlock predicate over AggregateStats.
//
//	{kind: count_at_least, field, threshold}
//	{kind: all_of, conditions: [...]}
type Condition struct {
	Kind       ConditionKind `json:"kind" toml:"kind"`
	Field      StatField     `json:"field,omitempty" toml:"field"`
	Threshold  int64         `json:"threshold,omitempty" toml:"threshold"`
	Conditions []Condition   `json:"conditions,omitempty" toml:"conditions"`
}

// AtLeast builds a count_at_least condition.
func AtLeast(field StatField, threshold int64) Condition {
	return Condition{Kind: CondCountAtLeast, Field: field, Threshold: threshold}
}

// AllOf builds an all_of condition.
func AllOf(conds ...Condition) Condition {
	return Condition{Kind: CondAllOf, Conditions: conds}
}

// Eval evaluates the condition. Invalid conditions evaluate false.
func (c Condition) Eval(s AggregateStats) bool {
	switch c.Kind {
	case CondCountAtLeast:
		v, ok := s.Value(c.Field)
		return ok && v >= c.Threshold
	case CondAllOf:
		if len(c.Conditions) == 0 {
			return false
		}
		for _, sub := range c.Conditions {
			if !sub.Eval(s) {
				return false
			}
		}
		return true
	}
	return false
}

// Validate checks the condition tree is well formed.
func (c Condition) Validate() error {
	switch c.Kind {
	case CondCountAtLeast:
		if _, ok := (AggregateStats{}).Value(c.Field); !ok {
			return &ConfigError{Field: "condition.field", Reason: fmt.Sprintf("unknown stat %q", c.Field)}
		}
		if c.Threshold < 0 {
			return &ConfigError{Field: "condition.threshold", Reason: "must be >= 0"}
		}
		return nil
	case CondAllOf:
		if len(c.Conditions) == 0 {
			return &ConfigError{Field: "condition.conditions", Reason: "all_of needs at least one condition"}
		}
		for _, sub := range c.Conditions {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
		return nil
	}
	return &ConfigError{Field: "condition.kind", Reason: fmt.Sprintf("unknown kind %q", c.Kind)}
}
