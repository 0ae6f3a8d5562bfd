package domain

import (
	"errors"
	"fmt"
	"testing"
)

// ─── Habit Tests ────────────────────────────────────────────────────────────

func TestHabit_AddDay(t *testing.T) {
	var h Habit
	for _, d := range []string{"2026-03-05", "2026-03-02", "2026-03-04"} {
		if !h.AddDay(d) {
			t.Fatalf("AddDay(%s) = false", d)
		}
	}
	if h.AddDay("2026-03-04") {
		t.Error("duplicate day accepted")
	}
	want := []string{"2026-03-02", "2026-03-04", "2026-03-05"}
	for i, d := range want {
		if h.CompletedDays[i] != d {
			t.Fatalf("CompletedDays = %v, want %v", h.CompletedDays, want)
		}
	}
	if !h.HasDay("2026-03-02") || h.HasDay("2026-03-03") {
		t.Error("HasDay mismatch")
	}
}

func TestHabit_Completed(t *testing.T) {
	h := Habit{CadenceDays: 7, CompletedDays: []string{"a", "b", "c", "d", "e", "f"}}
	if h.Completed() {
		t.Error("6/7 should not be completed")
	}
	h.CompletedDays = append(h.CompletedDays, "g")
	if !h.Completed() {
		t.Error("7/7 should be completed")
	}
}

// ─── Condition Tests ────────────────────────────────────────────────────────

func TestCondition_Eval(t *testing.T) {
	stats := AggregateStats{VideosCompleted: 3, Referrals: 1, Level: 4}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"at least met", AtLeast(StatVideosCompleted, 3), true},
		{"at least unmet", AtLeast(StatVideosCompleted, 4), false},
		{"all of met", AllOf(AtLeast(StatReferrals, 1), AtLeast(StatLevel, 2)), true},
		{"all of one unmet", AllOf(AtLeast(StatReferrals, 1), AtLeast(StatXP, 1)), false},
		{"empty all of", AllOf(), false},
		{"unknown field", AtLeast("karma", 0), false},
		{"unknown kind", Condition{Kind: "any_of"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Eval(stats); got != tt.want {
				t.Errorf("Eval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCondition_Validate(t *testing.T) {
	if err := AllOf(AtLeast(StatXP, 100), AtLeast(StatLevel, 2)).Validate(); err != nil {
		t.Errorf("valid condition: %v", err)
	}
	bad := []Condition{
		AtLeast("karma", 1),
		AtLeast(StatXP, -1),
		AllOf(),
		AllOf(AtLeast(StatXP, 1), AtLeast("karma", 1)),
		{Kind: "any_of"},
	}
	for _, c := range bad {
		if err := c.Validate(); !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidConfiguration", c, err)
		}
	}
}

// ─── Commission Tests ───────────────────────────────────────────────────────

func TestCommissionEvent_Valid(t *testing.T) {
	for _, e := range CommissionEvents {
		if !e.Valid() {
			t.Errorf("%s should be valid", e)
		}
	}
	if CommissionEvent("refund").Valid() {
		t.Error("refund should be invalid")
	}
}

func TestPercentToBasisPoints(t *testing.T) {
	tests := []struct {
		in   float64
		want int64
	}{
		{25, 2500},
		{12.5, 1250},
		{0.01, 1},
		{33.333, 3333},
	}
	for _, tt := range tests {
		if got := PercentToBasisPoints(tt.in); got != tt.want {
			t.Errorf("PercentToBasisPoints(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCommissionRule_Ambiguous(t *testing.T) {
	if !(CommissionRule{FlatCents: 100, PercentBP: 100}).Ambiguous() {
		t.Error("flat+percent should be ambiguous")
	}
	if (CommissionRule{FlatCents: 100}).Ambiguous() {
		t.Error("flat only is not ambiguous")
	}
}

// ─── Error Tests ────────────────────────────────────────────────────────────

func TestErrorTaxonomy(t *testing.T) {
	invalid := []error{ErrNegativeDelta, ErrInvalidCadence, ErrSelfReferral, ErrReferralCycle, ErrUnknownEventType}
	for _, err := range invalid {
		if !errors.Is(err, ErrInvalidActivity) {
			t.Errorf("%v should wrap ErrInvalidActivity", err)
		}
	}
	for _, err := range []error{ErrHabitNotFound, ErrPayoutNotFound} {
		if !errors.Is(err, ErrUnknownReference) {
			t.Errorf("%v should wrap ErrUnknownReference", err)
		}
	}
	if errors.Is(ErrAlreadyReferred, ErrInvalidActivity) {
		t.Error("ErrAlreadyReferred must stay distinct")
	}

	wrapped := fmt.Errorf("load: %w", &ConfigError{Field: "levels.base", Reason: "must be > 0"})
	if !errors.Is(wrapped, ErrInvalidConfiguration) {
		t.Error("ConfigError should match ErrInvalidConfiguration")
	}
	var ce *ConfigError
	if !errors.As(wrapped, &ce) || ce.Field != "levels.base" {
		t.Errorf("errors.As = %+v", ce)
	}
}

func TestActivityKind_CountsTowardStreak(t *testing.T) {
	if !KindVideo.CountsTowardStreak() || !KindCognitiveCheckIn.CountsTowardStreak() {
		t.Error("content kinds should count")
	}
	if KindAchievement.CountsTowardStreak() || KindHabitMilestone.CountsTowardStreak() {
		t.Error("derived rewards should not count")
	}
}
