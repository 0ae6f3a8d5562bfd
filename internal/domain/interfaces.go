package domain

import (
	"context"
	"time"
)

// ─── Persistence Boundary ───────────────────────────────────────────────────
// Infrastructure implements these; the application layer depends on them.
// Every write that pays out is insert-if-absent on a unique key, and the
// boolean result reports whether this call was the one that inserted.

// Repository is the set of operations available both on the store and
// inside a transaction.
type Repository interface {
	// ClaimCredit inserts c as rewarded, or flips an existing unrewarded
	// row. Returns false if the key was already rewarded.
	ClaimCredit(ctx context.Context, c ActivityCredit) (bool, error)

	// TrackCredit upserts watch-progress metadata without touching Rewarded.
	TrackCredit(ctx context.Context, c ActivityCredit) error

	// GetCredit returns nil if no row exists.
	GetCredit(ctx context.Context, userID string, kind ActivityKind, activityID string) (*ActivityCredit, error)

	// AddProgress atomically increments XP/coins, creating the row if needed.
	// Returns the progress after the increment.
	AddProgress(ctx context.Context, userID string, xp, coins int64, at time.Time) (UserProgress, error)

	// SaveProgress persists level and streak fields of p.
	SaveProgress(ctx context.Context, p UserProgress) error

	// GetProgress returns the zero progress for unknown users.
	GetProgress(ctx context.Context, userID string) (UserProgress, error)

	Stats(ctx context.Context, userID string) (AggregateStats, error)

	InsertHabit(ctx context.Context, h Habit) error
	// GetHabit returns nil if not found. forUpdate locks the row where supported.
	GetHabit(ctx context.Context, habitID string, forUpdate bool) (*Habit, error)
	ListHabits(ctx context.Context, userID string) ([]Habit, error)
	SaveHabit(ctx context.Context, h Habit) error
	// AddHabitDay returns false if the day was already recorded.
	AddHabitDay(ctx context.Context, habitID, day string) (bool, error)
	DeleteHabit(ctx context.Context, habitID string) error

	InsertUnlock(ctx context.Context, u AchievementUnlock) (bool, error)
	ListUnlocks(ctx context.Context, userID string) ([]AchievementUnlock, error)

	InsertReferral(ctx context.Context, r Referral) (bool, error)
	// ReferralChain returns up to depth ancestors, direct referrer first.
	ReferralChain(ctx context.Context, userID string, depth int) ([]string, error)

	UpsertCommissionRule(ctx context.Context, r CommissionRule) error
	ListCommissionRules(ctx context.Context) ([]CommissionRule, error)

	InsertPayout(ctx context.Context, p CommissionPayout) (bool, error)
	PayoutsForTransaction(ctx context.Context, txID string) ([]CommissionPayout, error)
	PendingPayouts(ctx context.Context, limit int) ([]CommissionPayout, error)
	MarkPayoutSettled(ctx context.Context, id string, at time.Time) (bool, error)
}

// Store is a transactional Repository.
type Store interface {
	Repository

	// InTx runs fn in a single transaction. fn must only use the
	// Repository it is given.
	InTx(ctx context.Context, fn func(tx Repository) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Publisher delivers reward events to the presentation layer. Best effort.
type Publisher interface {
	Publish(ctx context.Context, ev RewardEvent) error
	Close() error
}
