// Package api provides the engine's internal HTTP API. Callers are the
// hosting application's backend; user ids arrive already authenticated.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ascend-academy/ascend/internal/app/rewards"
	"github.com/ascend-academy/ascend/internal/domain"
	"github.com/ascend-academy/ascend/internal/health"
	"github.com/ascend-academy/ascend/internal/infra/logger"
)

// Version is reported by /api/version.
const Version = "0.1.0"

// Server is the Ascend HTTP API server.
type Server struct {
	engine         *rewards.Engine
	health         *health.Checker
	log            *logger.Logger
	metricsEnabled bool
	corsOrigins    []string
}

// NewServer creates a new API server over a wired engine.
func NewServer(engine *rewards.Engine, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{engine: engine, log: log.With("service", "api"), corsOrigins: []string{"*"}}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth attaches the health checker reported by /health.
func (s *Server) SetHealth(h *health.Checker) { s.health = h }

// SetCORSOrigins restricts allowed origins. "*" allows any.
func (s *Server) SetCORSOrigins(origins []string) {
	if len(origins) > 0 {
		s.corsOrigins = origins
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": Version})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/activities", s.handleRecordActivity)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/progress", s.handleProgress)
			r.Get("/stats", s.handleStats)
			r.Get("/achievements", s.handleAchievements)
			r.Post("/achievements/evaluate", s.handleEvaluate)
			r.Get("/habits", s.handleListHabits)
			r.Post("/habits", s.handleAdoptHabit)
			r.Post("/habits/{habitID}/checkin", s.handleCheckIn)
			r.Delete("/habits/{habitID}", s.handleRemoveHabit)
		})

		r.Post("/referrals", s.handleLinkReferral)
		r.Post("/sales", s.handleRecordSale)
		r.Get("/commissions/preview", s.handleCommissionPreview)
		r.Get("/payouts/pending", s.handlePendingPayouts)
		r.Post("/payouts/{payoutID}/settled", s.handleSettlePayout)
		r.Get("/levels", s.handleLevels)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    http.StatusText(status),
		},
	})
}

// writeEngineError maps engine sentinels to HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error("request failed", "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAlreadyReferred):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidActivity):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownReference):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	for _, o := range s.corsOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && o == origin {
			return origin
		}
	}
	return ""
}
