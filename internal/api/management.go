package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/herald/internal/ratelimit"
)

// RateLimitListResponse is the response for GET /api/v1/ratelimits
type RateLimitListResponse struct {
	Enabled  bool               `json:"enabled"`
	Counters []*ratelimit.Stats `json:"counters"`
}

func parseLevel(s string) (ratelimit.Level, bool) {
	switch l := ratelimit.Level(s); l {
	case ratelimit.LevelGlobal, ratelimit.LevelAPIKey, ratelimit.LevelChannel,
		ratelimit.LevelDriver, ratelimit.LevelTemplate:
		return l, true
	}
	return "", false
}

// handleRateLimitList handles GET /api/v1/ratelimits
func (s *Server) handleRateLimitList(w http.ResponseWriter, r *http.Request) {
	resp := RateLimitListResponse{Counters: []*ratelimit.Stats{}}
	if s.limiter != nil {
		resp.Enabled = true
		resp.Counters = s.limiter.List(r.Context())
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleRateLimitGet handles GET /api/v1/ratelimits/{level}/{key}
func (s *Server) handleRateLimitGet(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		s.sendError(w, http.StatusNotFound, "rate limiting is disabled")
		return
	}

	level, ok := parseLevel(chi.URLParam(r, "level"))
	if !ok {
		s.sendError(w, http.StatusBadRequest, "unknown rate limit level")
		return
	}

	stats, err := s.limiter.GetStats(r.Context(), level, chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// handleRateLimitReset handles DELETE /api/v1/ratelimits/{level}/{key}
func (s *Server) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		s.sendError(w, http.StatusNotFound, "rate limiting is disabled")
		return
	}

	level, ok := parseLevel(chi.URLParam(r, "level"))
	if !ok {
		s.sendError(w, http.StatusBadRequest, "unknown rate limit level")
		return
	}
	key := chi.URLParam(r, "key")

	if err := s.limiter.Reset(r.Context(), level, key); err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Info("rate limit counter reset", "level", level, "key", key)
	w.WriteHeader(http.StatusNoContent)
}
