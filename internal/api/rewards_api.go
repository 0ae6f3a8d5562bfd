package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ascend-academy/ascend/internal/app/activity"
	"github.com/ascend-academy/ascend/internal/domain"
)

// ─── Activities (/api/activities) ───────────────────────────────────────────

func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	var raw activity.RawAction
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.engine.Record(r.Context(), raw)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ─── Progress ───────────────────────────────────────────────────────────────

type progressResponse struct {
	domain.UserProgress
	ProgressPct float64 `json:"progress_pct"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Credits.Progress(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{
		UserProgress: p,
		ProgressPct:  s.engine.Levels.ProgressPct(p.XP),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Credits.Stats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"max_level": s.engine.Levels.MaxLevel(),
		"levels":    s.engine.Levels.Rows(),
	})
}

// ─── Achievements ───────────────────────────────────────────────────────────

type achievementView struct {
	domain.Achievement
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	unlocks, err := s.engine.Achievements.ListUnlocked(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	at := make(map[string]time.Time, len(unlocks))
	for _, u := range unlocks {
		at[u.AchievementID] = u.UnlockedAt
	}

	defs := s.engine.Achievements.Definitions()
	views := make([]achievementView, len(defs))
	for i, d := range defs {
		views[i] = achievementView{Achievement: d}
		if t, ok := at[d.ID]; ok {
			t := t
			views[i].Unlocked = true
			views[i].UnlockedAt = &t
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"unlocked":     len(unlocks),
		"total":        len(defs),
		"achievements": views,
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	unlocked, err := s.engine.Evaluate(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if unlocked == nil {
		unlocked = []domain.Achievement{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unlocked": unlocked})
}

// ─── Habits ─────────────────────────────────────────────────────────────────

type adoptHabitRequest struct {
	Name        string `json:"name"`
	CadenceDays int    `json:"cadence_days"`
}

func (s *Server) handleListHabits(w http.ResponseWriter, r *http.Request) {
	habits, err := s.engine.Streaks.List(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if habits == nil {
		habits = []domain.Habit{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"habits": habits})
}

func (s *Server) handleAdoptHabit(w http.ResponseWriter, r *http.Request) {
	var req adoptHabitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h, err := s.engine.Streaks.Adopt(r.Context(), chi.URLParam(r, "userID"), req.Name, req.CadenceDays)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	out, err := s.engine.Record(r.Context(), activity.RawAction{
		Type:    activity.ActionHabitCheckIn,
		UserID:  chi.URLParam(r, "userID"),
		HabitID: chi.URLParam(r, "habitID"),
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out.CheckIn)
}

func (s *Server) handleRemoveHabit(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Streaks.Remove(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "habitID")); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Referrals & Sales ──────────────────────────────────────────────────────

type referralRequest struct {
	UserID     string `json:"user_id"`
	ReferrerID string `json:"referrer_id"`
}

func (s *Server) handleLinkReferral(w http.ResponseWriter, r *http.Request) {
	var req referralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.engine.Record(r.Context(), activity.RawAction{
		Type:       activity.ActionRegistration,
		UserID:     req.UserID,
		ReferrerID: req.ReferrerID,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": nonNilPayouts(out.Payouts)})
}

type saleRequest struct {
	TransactionID string                 `json:"transaction_id"`
	EventType     domain.CommissionEvent `json:"event_type"`
	BuyerID       string                 `json:"buyer_id"`
	ValueCents    int64                  `json:"value_cents"`
}

func (s *Server) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.engine.Record(r.Context(), activity.RawAction{
		Type:          activity.ActionSale,
		UserID:        req.BuyerID,
		TransactionID: req.TransactionID,
		EventType:     req.EventType,
		ValueCents:    req.ValueCents,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": nonNilPayouts(out.Payouts)})
}

// ─── Commissions ────────────────────────────────────────────────────────────

func (s *Server) handleCommissionPreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	value, err := strconv.ParseInt(q.Get("value"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "value must be an integer amount in cents")
		return
	}
	depth := domain.MaxReferralTiers
	if d := q.Get("depth"); d != "" {
		if depth, err = strconv.Atoi(d); err != nil {
			writeError(w, http.StatusBadRequest, "depth must be an integer")
			return
		}
	}

	payouts, err := s.engine.Commissions.Preview(domain.CommissionEvent(q.Get("event")), value, depth)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": nonNilPayouts(payouts)})
}

func (s *Server) handlePendingPayouts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		if limit, err = strconv.Atoi(l); err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
	}
	payouts, err := s.engine.Commissions.PendingPayouts(r.Context(), limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payouts": nonNilPayouts(payouts)})
}

func (s *Server) handleSettlePayout(w http.ResponseWriter, r *http.Request) {
	settled, err := s.engine.Commissions.MarkSettled(r.Context(), chi.URLParam(r, "payoutID"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"settled": settled})
}

func nonNilPayouts(p []domain.CommissionPayout) []domain.CommissionPayout {
	if p == nil {
		return []domain.CommissionPayout{}
	}
	return p
}
