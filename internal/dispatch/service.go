package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/foxzi/herald/internal/condition"
	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/template"
)

// TemplateSource loads live templates by code
type TemplateSource interface {
	Get(ctx context.Context, code string) (*template.Template, error)
}

// TemplateRequest asks for a template to be rendered and sent
type TemplateRequest struct {
	Code    string         `json:"template" validate:"required"`
	Channel notify.Channel `json:"channel" validate:"required"`
	Driver  string         `json:"driver,omitempty"`
	Targets []string       `json:"targets" validate:"required,min=1"`
	Data    map[string]any `json:"data,omitempty"`
	Locale  string         `json:"locale,omitempty"`
	Options notify.Options `json:"options,omitempty"`
}

// Service runs the template pipeline in front of the coordinator
type Service struct {
	templates   TemplateSource
	engine      *template.Engine
	coordinator *Coordinator
	logger      *slog.Logger
}

// NewService creates a template dispatch service
func NewService(templates TemplateSource, engine *template.Engine, coordinator *Coordinator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		templates:   templates,
		engine:      engine,
		coordinator: coordinator,
		logger:      logger,
	}
}

// Coordinator returns the underlying coordinator
func (s *Service) Coordinator() *Coordinator {
	return s.coordinator
}

// Dispatch loads the template, gates it by its conditions, renders it with
// the caller's data and sends it to every target.
func (s *Service) Dispatch(ctx context.Context, req *TemplateRequest) (*Outcome, error) {
	if req == nil {
		return nil, errs.Validation("request is required")
	}
	// checked before conditions so a skipped dispatch is still a valid one
	if len(req.Targets) == 0 {
		return nil, errs.Validation("at least one target is required")
	}

	tmpl, err := s.templates.Get(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	if !tmpl.IsActive {
		return nil, errs.NotFound("template %q is not active", req.Code)
	}

	channel, err := notify.ParseChannel(string(req.Channel))
	if err != nil {
		return nil, err
	}
	if !tmpl.HasChannel(channel) {
		return nil, errs.Validation("template %q does not support channel %s", tmpl.Code, channel)
	}

	dreq := &Request{
		Channel:         channel,
		Driver:          req.Driver,
		Targets:         req.Targets,
		Options:         req.Options,
		Template:        tmpl.Code,
		TemplateVersion: tmpl.Version,
	}

	if ok, path := condition.Evaluate(tmpl.Conditions, req.Data); !ok {
		return s.coordinator.Skip(ctx, dreq, fmt.Sprintf("condition %q not met", path)), nil
	}

	if err := s.engine.Validate(tmpl, req.Data); err != nil {
		return nil, err
	}

	rendered := s.engine.Render(tmpl, req.Data, req.Locale)
	dreq.Payload = &notify.Payload{
		Subject:  rendered.Subject,
		BodyHTML: rendered.BodyHTML,
		BodyText: rendered.BodyText,
		Data:     req.Options.Map("data"),
		Locale:   req.Locale,
	}

	s.logger.Debug("dispatching template",
		"template", tmpl.Code,
		"version", tmpl.Version,
		"channel", channel,
		"targets", len(req.Targets),
	)
	return s.coordinator.Dispatch(ctx, dreq)
}
