// Package credit implements the progression store: at-most-once crediting
// of XP and coins per (user, activity kind, activity id).
//
// Every credit is one transaction: claim the ActivityCredit key, increment
// UserProgress, re-resolve the level. A lost race on the key is reported as
// Applied=false, never as an error, so callers can retry blindly.
package credit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ascend-academy/ascend/internal/domain"
	"github.com/ascend-academy/ascend/internal/infra/logger"
	"github.com/ascend-academy/ascend/internal/infra/metrics"
)

// DayLayout is the calendar-day key format used for streaks.
const DayLayout = "2006-01-02"

// LevelResolver recomputes the derived level fields of a progress record.
type LevelResolver interface {
	Apply(p *domain.UserProgress)
}

// Service manages the progression economy.
type Service struct {
	store  domain.Store
	levels LevelResolver
	loc    *time.Location
	log    *logger.Logger
	now    func() time.Time
}

// NewService creates a credit service. loc buckets activity into calendar
// days for the user-level streak; nil means UTC.
func NewService(store domain.Store, levels LevelResolver, loc *time.Location, log *logger.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:  store,
		levels: levels,
		loc:    loc,
		log:    log.With("service", "credit"),
		now:    time.Now,
	}
}

// SetClock overrides the time source (tests).
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Credit applies xp and coins for (userID, kind, activityID) at most once.
func (s *Service) Credit(ctx context.Context, userID string, kind domain.ActivityKind, activityID string, xp, coins int64) (domain.CreditResult, error) {
	now := s.now()
	return s.CreditActivity(ctx, domain.Activity{
		UserID:     userID,
		Kind:       kind,
		ActivityID: activityID,
		Qualifies:  true,
		XP:         xp,
		Coins:      coins,
		At:         now,
	})
}

// CreditActivity credits a normalized, qualifying activity.
func (s *Service) CreditActivity(ctx context.Context, act domain.Activity) (domain.CreditResult, error) {
	if act.At.IsZero() {
		act.At = s.now()
	}
	c := act.Credit()
	c.Rewarded = true
	if err := validate(c); err != nil {
		return domain.CreditResult{}, err
	}

	start := time.Now()
	var res domain.CreditResult
	err := s.store.InTx(ctx, func(tx domain.Repository) error {
		var err error
		res, err = s.CreditTx(ctx, tx, c)
		return err
	})
	metrics.OperationLatency.WithLabelValues("credit").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues("credit", ErrorClass(err)).Inc()
		return domain.CreditResult{}, fmt.Errorf("credit %s/%s: %w", c.Kind, c.ActivityID, err)
	}

	Observe(c, res)
	if res.Applied {
		s.log.Debug("credit applied",
			"user_id", c.UserID, "kind", c.Kind, "activity_id", c.ActivityID,
			"xp", c.XP, "coins", c.Coins, "level", res.Progress.Level)
	}
	return res, nil
}

// CreditTx is Credit inside a caller-owned transaction, so streak and
// achievement rewards commit atomically with their own state.
func (s *Service) CreditTx(ctx context.Context, tx domain.Repository, c domain.ActivityCredit) (domain.CreditResult, error) {
	if err := validate(c); err != nil {
		return domain.CreditResult{}, err
	}
	if c.CreditedAt.IsZero() {
		c.CreditedAt = s.now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreditedAt
	}

	applied, err := tx.ClaimCredit(ctx, c)
	if err != nil {
		return domain.CreditResult{}, fmt.Errorf("claim credit: %w", err)
	}
	if !applied {
		p, err := tx.GetProgress(ctx, c.UserID)
		if err != nil {
			return domain.CreditResult{}, fmt.Errorf("get progress: %w", err)
		}
		return domain.CreditResult{Applied: false, Progress: p, PreviousLevel: p.Level}, nil
	}

	p, err := tx.AddProgress(ctx, c.UserID, c.XP, c.Coins, c.CreditedAt)
	if err != nil {
		return domain.CreditResult{}, fmt.Errorf("add progress: %w", err)
	}
	prevLevel := p.Level

	s.levels.Apply(&p)
	if c.Kind.CountsTowardStreak() {
		AdvanceStreak(&p, c.CreditedAt.In(s.loc).Format(DayLayout))
	}
	p.UpdatedAt = c.CreditedAt
	if err := tx.SaveProgress(ctx, p); err != nil {
		return domain.CreditResult{}, fmt.Errorf("save progress: %w", err)
	}

	return domain.CreditResult{Applied: true, Progress: p, PreviousLevel: prevLevel}, nil
}

// Track records watch progress for an activity that has not qualified yet.
// It never rewards, and never un-rewards a credited row.
func (s *Service) Track(ctx context.Context, act domain.Activity) error {
	if act.At.IsZero() {
		act.At = s.now()
	}
	c := act.Credit()
	c.Rewarded = false
	if err := validate(c); err != nil {
		return err
	}
	if err := s.store.TrackCredit(ctx, c); err != nil {
		metrics.StoreErrors.WithLabelValues("track", ErrorClass(err)).Inc()
		return fmt.Errorf("track %s/%s: %w", c.Kind, c.ActivityID, err)
	}
	return nil
}

// Progress returns the user's progress with the level resolved against
// the current table.
func (s *Service) Progress(ctx context.Context, userID string) (domain.UserProgress, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.UserProgress{}, fmt.Errorf("user id required: %w", domain.ErrInvalidActivity)
	}
	p, err := s.store.GetProgress(ctx, userID)
	if err != nil {
		return p, err
	}
	s.levels.Apply(&p)
	return p, nil
}

// Stats returns the user's aggregate counters.
func (s *Service) Stats(ctx context.Context, userID string) (domain.AggregateStats, error) {
	return s.store.Stats(ctx, userID)
}

// History returns the stored credit row for an activity, or nil.
func (s *Service) History(ctx context.Context, userID string, kind domain.ActivityKind, activityID string) (*domain.ActivityCredit, error) {
	return s.store.GetCredit(ctx, userID, kind, activityID)
}

// AdvanceStreak folds one active day into the user-level streak.
// Same day: no-op. Next day: extend. Gap: restart at 1. Earlier days
// (out-of-order events) never rewind the streak.
func AdvanceStreak(p *domain.UserProgress, day string) {
	switch {
	case p.LastActiveDay == day:
		return
	case p.LastActiveDay == "":
		p.ActivityStreak = 1
	case day < p.LastActiveDay:
		return
	case isNextDay(p.LastActiveDay, day):
		p.ActivityStreak++
	default:
		p.ActivityStreak = 1
	}
	p.LastActiveDay = day
	if p.ActivityStreak > p.LongestStreak {
		p.LongestStreak = p.ActivityStreak
	}
}

func isNextDay(prev, day string) bool {
	t, err := time.Parse(DayLayout, prev)
	if err != nil {
		return false
	}
	return t.AddDate(0, 0, 1).Format(DayLayout) == day
}

func validate(c domain.ActivityCredit) error {
	switch {
	case strings.TrimSpace(c.UserID) == "":
		return fmt.Errorf("user id required: %w", domain.ErrInvalidActivity)
	case strings.TrimSpace(string(c.Kind)) == "":
		return fmt.Errorf("activity kind required: %w", domain.ErrInvalidActivity)
	case strings.TrimSpace(c.ActivityID) == "":
		return fmt.Errorf("activity id required: %w", domain.ErrInvalidActivity)
	case c.XP < 0 || c.Coins < 0:
		return domain.ErrNegativeDelta
	}
	return nil
}

// Observe records metrics for a committed credit.
func Observe(c domain.ActivityCredit, res domain.CreditResult) {
	kind := string(c.Kind)
	if !res.Applied {
		metrics.CreditsDuplicate.WithLabelValues(kind).Inc()
		return
	}
	metrics.CreditsApplied.WithLabelValues(kind).Inc()
	metrics.XPAwarded.Add(float64(c.XP))
	metrics.CoinsAwarded.Add(float64(c.Coins))
	if res.LeveledUp() {
		metrics.LevelUps.Inc()
	}
}
