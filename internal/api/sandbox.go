package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/sandbox"
)

// SandboxListResponse is the response for GET /api/v1/sandbox/messages
type SandboxListResponse struct {
	Messages []*sandbox.Message `json:"messages"`
	Total    int                `json:"total"`
}

// SandboxClearResponse is the response for DELETE /api/v1/sandbox/messages
type SandboxClearResponse struct {
	Deleted int `json:"deleted"`
}

func (s *Server) sandboxAvailable(w http.ResponseWriter) bool {
	if s.sandbox == nil {
		s.sendError(w, http.StatusServiceUnavailable, "sandbox storage not available")
		return false
	}
	return true
}

// handleSandboxList handles GET /api/v1/sandbox/messages
func (s *Server) handleSandboxList(w http.ResponseWriter, r *http.Request) {
	if !s.sandboxAvailable(w) {
		return
	}

	q := r.URL.Query()
	filter := sandbox.ListFilter{
		Driver: q.Get("driver"),
		Target: q.Get("target"),
	}
	filter.Limit, filter.Offset = pagination(r, 100)

	if c := q.Get("channel"); c != "" {
		channel, err := notify.ParseChannel(c)
		if err != nil {
			s.writeError(w, err)
			return
		}
		filter.Channel = channel
	}
	if m := q.Get("mode"); m != "" {
		mode, err := sandbox.ParseMode(m)
		if err != nil {
			s.writeError(w, err)
			return
		}
		filter.Mode = mode
	}

	messages, err := s.sandbox.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if messages == nil {
		messages = []*sandbox.Message{}
	}
	s.sendJSON(w, http.StatusOK, SandboxListResponse{Messages: messages, Total: len(messages)})
}

// handleSandboxGet handles GET /api/v1/sandbox/messages/{id}
func (s *Server) handleSandboxGet(w http.ResponseWriter, r *http.Request) {
	if !s.sandboxAvailable(w) {
		return
	}

	msg, err := s.sandbox.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, msg)
}

// handleSandboxDelete handles DELETE /api/v1/sandbox/messages/{id}
func (s *Server) handleSandboxDelete(w http.ResponseWriter, r *http.Request) {
	if !s.sandboxAvailable(w) {
		return
	}

	if err := s.sandbox.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSandboxClear handles DELETE /api/v1/sandbox/messages with
// optional channel and older_than filters
func (s *Server) handleSandboxClear(w http.ResponseWriter, r *http.Request) {
	if !s.sandboxAvailable(w) {
		return
	}

	q := r.URL.Query()
	var channel notify.Channel
	if c := q.Get("channel"); c != "" {
		var err error
		if channel, err = notify.ParseChannel(c); err != nil {
			s.writeError(w, err)
			return
		}
	}

	var olderThan time.Duration
	if v := q.Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			s.sendError(w, http.StatusBadRequest, "invalid older_than duration")
			return
		}
		olderThan = d
	}

	deleted, err := s.sandbox.Clear(r.Context(), channel, olderThan)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Info("sandbox cleared", "channel", channel, "older_than", olderThan, "deleted", deleted)
	s.sendJSON(w, http.StatusOK, SandboxClearResponse{Deleted: deleted})
}

// handleSandboxStats handles GET /api/v1/sandbox/stats
func (s *Server) handleSandboxStats(w http.ResponseWriter, r *http.Request) {
	if !s.sandboxAvailable(w) {
		return
	}

	stats, err := s.sandbox.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}
