package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/foxzi/herald/internal/dispatch"
	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/metrics"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/provider"
	"github.com/foxzi/herald/internal/ratelimit"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// SendRequest is the request body for POST /send
type SendRequest struct {
	Channel  notify.Channel `json:"channel" validate:"required"`
	Driver   string         `json:"driver,omitempty"`
	Targets  []string       `json:"targets" validate:"required,min=1,max=10000"`
	Subject  string         `json:"subject,omitempty"`
	BodyHTML string         `json:"body_html,omitempty"`
	BodyText string         `json:"body_text,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Locale   string         `json:"locale,omitempty"`
	Options  notify.Options `json:"options,omitempty"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Uptime  string `json:"uptime"`
	Drivers int    `json:"drivers"`
}

// DriversResponse is the response for GET /drivers
type DriversResponse struct {
	Drivers []provider.Driver `json:"drivers"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.drivers != nil {
		resp.Drivers = len(s.drivers.Drivers())
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleDispatch handles POST /api/v1/dispatch
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatch.TemplateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	channel, err := notify.ParseChannel(string(req.Channel))
	if err != nil {
		s.writeError(w, err)
		return
	}
	req.Channel = channel

	if !s.allow(w, r, channel, req.Driver, req.Code, len(req.Targets)) {
		return
	}

	out, err := s.dispatcher.Dispatch(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, out)
}

// handleSend handles POST /api/v1/send with a payload given inline
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	channel, err := notify.ParseChannel(string(req.Channel))
	if err != nil {
		s.writeError(w, err)
		return
	}

	if !s.allow(w, r, channel, req.Driver, "", len(req.Targets)) {
		return
	}

	out, err := s.dispatcher.Coordinator().Dispatch(r.Context(), &dispatch.Request{
		Channel: channel,
		Driver:  req.Driver,
		Targets: req.Targets,
		Payload: &notify.Payload{
			Subject:  req.Subject,
			BodyHTML: req.BodyHTML,
			BodyText: req.BodyText,
			Data:     req.Data,
			Locale:   req.Locale,
		},
		Options: req.Options,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, out)
}

// handleDrivers handles GET /api/v1/drivers
func (s *Server) handleDrivers(w http.ResponseWriter, r *http.Request) {
	resp := DriversResponse{Drivers: []provider.Driver{}}
	if s.drivers != nil {
		resp.Drivers = s.drivers.Drivers()
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// allow charges n messages against the rate limiter and writes a 429 when
// any level is exhausted
func (s *Server) allow(w http.ResponseWriter, r *http.Request, channel notify.Channel, driver, tmpl string, n int) bool {
	if s.limiter == nil {
		return true
	}

	res, err := s.limiter.Allow(r.Context(), &ratelimit.Request{
		APIKey:   clientID(r),
		Channel:  string(channel),
		Driver:   driver,
		Template: tmpl,
		Count:    n,
	})
	if err != nil {
		s.writeError(w, err)
		return false
	}
	if res.Allowed {
		return true
	}

	level := string(res.DeniedBy)
	if s.collector != nil {
		s.collector.TrackRateLimitExceeded(level)
	} else {
		metrics.IncRateLimitExceeded(level)
	}
	s.logger.Warn("rate limit exceeded",
		"level", level,
		"key", res.DeniedKey,
		"client", clientID(r),
		"count", n,
	)

	if res.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
	}
	s.sendError(w, http.StatusTooManyRequests, fmt.Sprintf("rate limit exceeded: %s %s", level, res.DeniedKey))
	return false
}

// decode reads a size-limited JSON body into dst and validates it
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errs.Validation("invalid request body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errs.Validation("invalid request: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "min", "max":
			msgs = append(msgs, fmt.Sprintf("%s must have %s %s item(s)", fe.Field(), fe.Tag(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return errs.Validation("%s", strings.Join(msgs, "; "))
}

// statusFor maps an error kind to an HTTP status
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		msg = "internal server error"
	}
	s.sendError(w, status, msg)
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// pagination reads limit and offset with bounds
func pagination(r *http.Request, defLimit int) (limit, offset int) {
	limit = defLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = min(l, 1000)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil && o >= 0 {
			offset = min(o, 1000000)
		}
	}
	return limit, offset
}
