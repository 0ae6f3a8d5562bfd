// Package metrics provides Prometheus metrics for the rewards engine:
// credits, levels, habits, achievements, commissions, and store health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Credits ────────────────────────────────────────────────────────────────

// CreditsApplied tracks first-time credits by activity kind.
var CreditsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ascend",
	Name:      "credits_applied_total",
	Help:      "Credits applied, by activity kind.",
}, []string{"kind"})

// CreditsDuplicate tracks idempotent no-op credits by activity kind.
var CreditsDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ascend",
	Name:      "credits_duplicate_total",
	Help:      "Credits skipped because the activity was already credited.",
}, []string{"kind"})

// XPAwarded tracks total XP handed out.
var XPAwarded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "ascend",
	Name:      "xp_awarded_total",
	Help:      "Total XP awarded.",
})

// CoinsAwarded tracks total coins handed out.
var CoinsAwarded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "ascend",
	Name:      "coins_awarded_total",
	Help:      "Total coins awarded.",
})

// LevelUps tracks level transitions.
var LevelUps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "ascend",
	Name:      "level_ups_total",
	Help:      "Total level-up transitions.",
})

// ─── Habits ─────────────────────────────────────────────────────────────────

// CheckIns tracks habit check-ins by outcome (credited, cooldown, same_day).
var CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ascend",
	Name:      "habit_checkins_total",
	Help:      "Habit check-ins by outcome.",
}, []string{"outcome"})

// MilestonesPaid tracks streak milestone bonuses by milestone day count.
var MilestonesPaid = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ascend",
	Name:      "streak_milestones_total",
	Help:      "Streak milestone bonuses paid.",
}, []string{"days"})

// ─── Achievements ───────────────────────────────────────────────────────────

// AchievementUnlocks tracks unlocks by category.
var AchievementUnlocks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ascend",
	Name:      "achievement_unlocks_total",
	Help:      "Achievement unlocks by category.",
}, []string{"category"})

// ─── Commissions ────────────────────────────────────────────────────────────

// PayoutsCreated tracks payout records by event type and tier.
var PayoutsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ascend",
	Name:      "payouts_created_total",
	Help:      "Commission payouts created.",
}, []string{"event", "tier"})

// PayoutCents tracks the summed payout amount in cents.
var PayoutCents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ascend",
	Name:      "payout_cents_total",
	Help:      "Commission amount recorded, in cents.",
}, []string{"event"})

// ─── Store ──────────────────────────────────────────────────────────────────

// StoreErrors tracks failed engine operations by operation and class
// (transient, config, reference, other).
var StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ascend",
	Name:      "operation_errors_total",
	Help:      "Failed engine operations by class.",
}, []string{"op", "class"})

// OperationLatency tracks engine operation duration in seconds.
var OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "ascend",
	Name:      "operation_latency_seconds",
	Help:      "Engine operation duration in seconds.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
}, []string{"op"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ascend",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})
