package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ascend-academy/ascend/internal/domain"
)

// ─── Habits ─────────────────────────────────────────────────────────────────

const habitColumns = `id, user_id, name, cadence_days, current_streak, longest_streak, last_credited_at, created_at`

// InsertHabit creates a habit. Completed days are added with AddHabitDay.
func (r *repo) InsertHabit(ctx context.Context, h domain.Habit) error {
	_, err := r.exec(ctx,
		`INSERT INTO habits (`+habitColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.UserID, h.Name, h.CadenceDays, h.CurrentStreak, h.LongestStreak,
		nullableUnixMilli(h.LastCreditedAt), h.CreatedAt.Unix(),
	)
	return err
}

// GetHabit retrieves a habit with its completed days. Returns nil if absent.
// forUpdate locks the habit row on dialects that support it.
func (r *repo) GetHabit(ctx context.Context, habitID string, forUpdate bool) (*domain.Habit, error) {
	q := `SELECT ` + habitColumns + ` FROM habits WHERE id = ?`
	if forUpdate {
		q += r.d.forUpdate
	}
	h, err := scanHabit(r.queryRow(ctx, q, habitID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}

	days, err := r.habitDays(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	h.CompletedDays = days
	return &h, nil
}

// ListHabits returns a user's habits, oldest first.
func (r *repo) ListHabits(ctx context.Context, userID string) ([]domain.Habit, error) {
	rows, err := r.query(ctx,
		`SELECT `+habitColumns+` FROM habits WHERE user_id = ? ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}

	var habits []domain.Habit
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			rows.Close()
			return nil, mapError(err)
		}
		habits = append(habits, h)
	}
	// Close before issuing more queries: SQLite runs on a single connection.
	if err := rows.Close(); err != nil {
		return nil, mapError(err)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	for i := range habits {
		days, err := r.habitDays(ctx, habits[i].ID)
		if err != nil {
			return nil, err
		}
		habits[i].CompletedDays = days
	}
	return habits, nil
}

// SaveHabit persists streak state.
func (r *repo) SaveHabit(ctx context.Context, h domain.Habit) error {
	_, err := r.exec(ctx,
		`UPDATE habits SET name = ?, current_streak = ?, longest_streak = ?, last_credited_at = ?
		 WHERE id = ?`,
		h.Name, h.CurrentStreak, h.LongestStreak, nullableUnixMilli(h.LastCreditedAt), h.ID,
	)
	return err
}

// AddHabitDay records a completed day. Returns false if already present.
func (r *repo) AddHabitDay(ctx context.Context, habitID, day string) (bool, error) {
	return inserted(r.exec(ctx,
		`INSERT INTO habit_days (habit_id, day) VALUES (?, ?)
		 ON CONFLICT (habit_id, day) DO NOTHING`,
		habitID, day,
	))
}

// DeleteHabit removes a habit and its days.
func (r *repo) DeleteHabit(ctx context.Context, habitID string) error {
	if _, err := r.exec(ctx, `DELETE FROM habit_days WHERE habit_id = ?`, habitID); err != nil {
		return err
	}
	result, err := r.exec(ctx, `DELETE FROM habits WHERE id = ?`, habitID)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrHabitNotFound
	}
	return nil
}

func (r *repo) habitDays(ctx context.Context, habitID string) ([]string, error) {
	rows, err := r.query(ctx,
		`SELECT day FROM habit_days WHERE habit_id = ? ORDER BY day ASC`, habitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	days := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, mapError(err)
		}
		days = append(days, d)
	}
	return days, mapError(rows.Err())
}

func scanHabit(s scanner) (domain.Habit, error) {
	var h domain.Habit
	var lastCredited sql.NullInt64
	var createdAt int64
	err := s.Scan(&h.ID, &h.UserID, &h.Name, &h.CadenceDays, &h.CurrentStreak,
		&h.LongestStreak, &lastCredited, &createdAt)
	if err != nil {
		return h, err
	}
	h.LastCreditedAt = fromNullableUnixMilli(lastCredited)
	h.CreatedAt = time.Unix(createdAt, 0).UTC()
	return h, nil
}
