package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ascend-academy/ascend/internal/domain"
)

// ─── Activity Credits ───────────────────────────────────────────────────────

// ClaimCredit inserts a rewarded credit, or flips an existing progress-only
// row to rewarded. Exactly one concurrent caller can see true for a key.
func (r *repo) ClaimCredit(ctx context.Context, c domain.ActivityCredit) (bool, error) {
	ok, err := inserted(r.exec(ctx,
		`INSERT INTO activity_credits
			(user_id, kind, activity_id, percent_complete, seconds_watched, rewarded, xp, coins, credited_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, TRUE, ?, ?, ?, ?)
		 ON CONFLICT (user_id, kind, activity_id) DO NOTHING`,
		c.UserID, string(c.Kind), c.ActivityID, c.PercentComplete, c.SecondsWatched,
		c.XP, c.Coins, c.CreditedAt.Unix(), c.UpdatedAt.Unix(),
	))
	if err != nil || ok {
		return ok, err
	}

	// Row exists: it may be progress-only. The guard on rewarded makes
	// the flip itself insert-if-absent.
	return inserted(r.exec(ctx,
		`UPDATE activity_credits SET
			rewarded = TRUE,
			xp = ?,
			coins = ?,
			credited_at = ?,
			updated_at = ?,
			seconds_watched = ?,
			percent_complete = CASE WHEN percent_complete < ? THEN ? ELSE percent_complete END
		 WHERE user_id = ? AND kind = ? AND activity_id = ? AND rewarded = FALSE`,
		c.XP, c.Coins, c.CreditedAt.Unix(), c.UpdatedAt.Unix(), c.SecondsWatched,
		c.PercentComplete, c.PercentComplete,
		c.UserID, string(c.Kind), c.ActivityID,
	))
}

// TrackCredit records watch progress. percent_complete keeps its maximum;
// the reward columns are never touched.
func (r *repo) TrackCredit(ctx context.Context, c domain.ActivityCredit) error {
	_, err := r.exec(ctx,
		`INSERT INTO activity_credits
			(user_id, kind, activity_id, percent_complete, seconds_watched, rewarded, xp, coins, credited_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, FALSE, 0, 0, NULL, ?)
		 ON CONFLICT (user_id, kind, activity_id) DO UPDATE SET
			percent_complete = CASE
				WHEN excluded.percent_complete > activity_credits.percent_complete THEN excluded.percent_complete
				ELSE activity_credits.percent_complete END,
			seconds_watched = excluded.seconds_watched,
			updated_at = excluded.updated_at`,
		c.UserID, string(c.Kind), c.ActivityID, c.PercentComplete, c.SecondsWatched, c.UpdatedAt.Unix(),
	)
	return err
}

// GetCredit retrieves a single credit row. Returns nil if absent.
func (r *repo) GetCredit(ctx context.Context, userID string, kind domain.ActivityKind, activityID string) (*domain.ActivityCredit, error) {
	var c domain.ActivityCredit
	var creditedAt sql.NullInt64
	var updatedAt int64
	err := r.queryRow(ctx,
		`SELECT user_id, kind, activity_id, percent_complete, seconds_watched, rewarded, xp, coins, credited_at, updated_at
		 FROM activity_credits WHERE user_id = ? AND kind = ? AND activity_id = ?`,
		userID, string(kind), activityID,
	).Scan(&c.UserID, &c.Kind, &c.ActivityID, &c.PercentComplete, &c.SecondsWatched,
		&c.Rewarded, &c.XP, &c.Coins, &creditedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	c.CreditedAt = fromNullableUnix(creditedAt)
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &c, nil
}

// ─── User Progress ──────────────────────────────────────────────────────────

const progressColumns = `user_id, xp, coins, level, xp_for_next_level, max_level,
	activity_streak, longest_streak, last_active_day, updated_at`

// AddProgress increments XP and coins in one statement. On Postgres the
// row stays locked until the surrounding transaction ends.
func (r *repo) AddProgress(ctx context.Context, userID string, xp, coins int64, at time.Time) (domain.UserProgress, error) {
	row := r.queryRow(ctx,
		`INSERT INTO user_progress (user_id, xp, coins, level, updated_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
			xp = user_progress.xp + excluded.xp,
			coins = user_progress.coins + excluded.coins,
			updated_at = excluded.updated_at
		 RETURNING `+progressColumns,
		userID, xp, coins, at.Unix(),
	)
	p, err := scanProgress(row)
	if err != nil {
		return domain.UserProgress{}, mapError(err)
	}
	return p, nil
}

// SaveProgress persists the derived level and streak fields.
func (r *repo) SaveProgress(ctx context.Context, p domain.UserProgress) error {
	_, err := r.exec(ctx,
		`UPDATE user_progress SET
			level = ?, xp_for_next_level = ?, max_level = ?,
			activity_streak = ?, longest_streak = ?, last_active_day = ?,
			updated_at = ?
		 WHERE user_id = ?`,
		p.Level, p.XPForNextLevel, p.MaxLevel,
		p.ActivityStreak, p.LongestStreak, p.LastActiveDay,
		p.UpdatedAt.Unix(), p.UserID,
	)
	return err
}

// GetProgress returns the stored progress, or the level-1 zero state.
func (r *repo) GetProgress(ctx context.Context, userID string) (domain.UserProgress, error) {
	row := r.queryRow(ctx,
		`SELECT `+progressColumns+` FROM user_progress WHERE user_id = ?`, userID)
	p, err := scanProgress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewUserProgress(userID), nil
	}
	if err != nil {
		return domain.UserProgress{}, mapError(err)
	}
	return p, nil
}

func scanProgress(s scanner) (domain.UserProgress, error) {
	var p domain.UserProgress
	var updatedAt int64
	err := s.Scan(&p.UserID, &p.XP, &p.Coins, &p.Level, &p.XPForNextLevel, &p.MaxLevel,
		&p.ActivityStreak, &p.LongestStreak, &p.LastActiveDay, &updatedAt)
	if err != nil {
		return p, err
	}
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return p, nil
}

// ─── Aggregates ─────────────────────────────────────────────────────────────

// Stats aggregates a user's counters for achievement conditions.
// Completion counts include rewarded rows only; watch time includes all
// tracked video rows.
func (r *repo) Stats(ctx context.Context, userID string) (domain.AggregateStats, error) {
	var s domain.AggregateStats

	err := r.queryRow(ctx,
		`SELECT
			CAST(COALESCE(SUM(CASE WHEN kind = 'video' AND rewarded = TRUE THEN 1 ELSE 0 END), 0) AS BIGINT),
			CAST(COALESCE(SUM(CASE WHEN kind = 'module' AND rewarded = TRUE THEN 1 ELSE 0 END), 0) AS BIGINT),
			CAST(COALESCE(SUM(CASE WHEN kind = 'course' AND rewarded = TRUE THEN 1 ELSE 0 END), 0) AS BIGINT),
			CAST(COALESCE(SUM(CASE WHEN kind = 'habit_checkin' AND rewarded = TRUE THEN 1 ELSE 0 END), 0) AS BIGINT),
			CAST(COALESCE(SUM(CASE WHEN kind = 'cognitive_checkin' AND rewarded = TRUE THEN 1 ELSE 0 END), 0) AS BIGINT),
			CAST(COALESCE(SUM(CASE WHEN kind = 'video' THEN seconds_watched ELSE 0 END), 0) AS BIGINT)
		 FROM activity_credits WHERE user_id = ?`, userID,
	).Scan(&s.VideosCompleted, &s.ModulesCompleted, &s.CoursesCompleted,
		&s.HabitCheckIns, &s.CognitiveCheckIns, &s.SecondsWatched)
	if err != nil {
		return s, mapError(err)
	}

	if err := r.queryRow(ctx,
		`SELECT CAST(COALESCE(MAX(longest_streak), 0) AS BIGINT) FROM habits WHERE user_id = ?`, userID,
	).Scan(&s.BestHabitStreak); err != nil {
		return s, mapError(err)
	}

	if err := r.queryRow(ctx,
		`SELECT COUNT(*) FROM referrals WHERE referrer_id = ?`, userID,
	).Scan(&s.Referrals); err != nil {
		return s, mapError(err)
	}

	p, err := r.GetProgress(ctx, userID)
	if err != nil {
		return s, err
	}
	s.Level = int64(p.Level)
	s.XP = p.XP
	s.ActivityStreak = int64(p.ActivityStreak)
	s.LongestStreak = int64(p.LongestStreak)
	return s, nil
}
