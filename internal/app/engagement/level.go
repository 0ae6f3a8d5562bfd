package engagement

import (
	"fmt"
	"math"
	"sort"

	"github.com/ascend-academy/ascend/internal/domain"
)

// LevelTable maps a cumulative metric to a level. Pure and read-only:
// safe to share and to call redundantly.
//
// Above the last row the level is capped; the metric keeps growing and
// XPForNextLevel repeats the last threshold with MaxLevel set.
type LevelTable struct {
	rows []domain.LevelThreshold
}

// NewLevelTable validates and wraps an ascending threshold table.
// Levels must be 1..N contiguous, level 1 at 0, thresholds strictly increasing.
func NewLevelTable(rows []domain.LevelThreshold) (*LevelTable, error) {
	if len(rows) == 0 {
		return nil, &domain.ConfigError{Field: "levels", Reason: "table is empty"}
	}
	for i, r := range rows {
		if r.Level != i+1 {
			return nil, &domain.ConfigError{
				Field:  fmt.Sprintf("levels[%d].level", i),
				Reason: fmt.Sprintf("expected level %d, got %d", i+1, r.Level),
			}
		}
		if r.MinMetric < 0 {
			return nil, &domain.ConfigError{Field: fmt.Sprintf("levels[%d].min_metric", i), Reason: "must be >= 0"}
		}
		if i == 0 && r.MinMetric != 0 {
			return nil, &domain.ConfigError{Field: "levels[0].min_metric", Reason: "level 1 threshold must be 0"}
		}
		if i > 0 && r.MinMetric <= rows[i-1].MinMetric {
			return nil, &domain.ConfigError{
				Field:  fmt.Sprintf("levels[%d].min_metric", i),
				Reason: fmt.Sprintf("%d is not greater than previous threshold %d", r.MinMetric, rows[i-1].MinMetric),
			}
		}
	}
	out := make([]domain.LevelThreshold, len(rows))
	copy(out, rows)
	return &LevelTable{rows: out}, nil
}

// ExponentialThresholds builds a table with XP(level) = base * growth^(level-1)
// for level >= 2, and 0 for level 1.
func ExponentialThresholds(maxLevel int, base, growth float64) []domain.LevelThreshold {
	if maxLevel < 1 {
		maxLevel = 1
	}
	rows := make([]domain.LevelThreshold, 0, maxLevel)
	rows = append(rows, domain.LevelThreshold{Level: 1, MinMetric: 0})
	for level := 2; level <= maxLevel; level++ {
		xp := int64(base * math.Pow(growth, float64(level-1)))
		// Guarantee strict monotonicity when growth rounds to the same integer.
		if prev := rows[len(rows)-1].MinMetric; xp <= prev {
			xp = prev + 1
		}
		rows = append(rows, domain.LevelThreshold{Level: level, MinMetric: xp})
	}
	return rows
}

// DefaultLevelTable is the exponential curve 100 * 1.2^(level-1), L1-L100.
func DefaultLevelTable() *LevelTable {
	t, _ := NewLevelTable(ExponentialThresholds(100, 100, 1.2))
	return t
}

// Resolve returns the highest level whose threshold ≤ metric.
func (t *LevelTable) Resolve(metric int64) domain.LevelInfo {
	// First index whose threshold exceeds metric; the level is the row before.
	i := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].MinMetric > metric })
	if i == 0 {
		// Negative metric: clamp to level 1.
		i = 1
	}
	cur := t.rows[i-1]
	info := domain.LevelInfo{Level: cur.Level, Threshold: cur.MinMetric}
	if i < len(t.rows) {
		info.XPForNextLevel = t.rows[i].MinMetric
	} else {
		info.XPForNextLevel = cur.MinMetric
		info.MaxLevel = true
	}
	return info
}

// XPForLevel returns the threshold of level, or -1 if level is outside the table.
func (t *LevelTable) XPForLevel(level int) int64 {
	if level < 1 || level > len(t.rows) {
		return -1
	}
	return t.rows[level-1].MinMetric
}

// MaxLevel returns the highest configured level.
func (t *LevelTable) MaxLevel() int {
	return len(t.rows)
}

// Rows returns a copy of the table.
func (t *LevelTable) Rows() []domain.LevelThreshold {
	out := make([]domain.LevelThreshold, len(t.rows))
	copy(out, t.rows)
	return out
}

// ProgressPct returns progress toward the next level (0.0–100.0).
func (t *LevelTable) ProgressPct(metric int64) float64 {
	info := t.Resolve(metric)
	if info.MaxLevel {
		return 100.0
	}
	span := info.XPForNextLevel - info.Threshold
	if span <= 0 {
		return 100.0
	}
	progress := float64(metric-info.Threshold) / float64(span) * 100.0
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return progress
}

// Apply copies the resolved level of p.XP into p.
func (t *LevelTable) Apply(p *domain.UserProgress) {
	info := t.Resolve(p.XP)
	p.Level = info.Level
	p.XPForNextLevel = info.XPForNextLevel
	p.MaxLevel = info.MaxLevel
}
