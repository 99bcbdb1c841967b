// Package sandbox intercepts provider sends per channel so that provider
// configurations can be staged without reaching real recipients.
package sandbox

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
)

// Mode decides what happens to a send
type Mode string

const (
	// ModeProduction delivers normally
	ModeProduction Mode = "production"
	// ModeSandbox captures without delivering
	ModeSandbox Mode = "sandbox"
	// ModeRedirect captures and delivers to a fixed target instead
	ModeRedirect Mode = "redirect"
)

// ParseMode parses a mode name; empty means production
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeProduction:
		return ModeProduction, nil
	case ModeSandbox, ModeRedirect:
		return Mode(s), nil
	}
	return "", errs.Validation("unknown sandbox mode %q", s)
}

// ChannelConfig configures one channel
type ChannelConfig struct {
	Mode       Mode   `yaml:"mode"`
	RedirectTo string `yaml:"redirect_to,omitempty"`
}

// Config configures interception for all channels
type Config struct {
	Channels         map[notify.Channel]ChannelConfig
	SimulateErrors   bool
	ErrorProbability float64 // 0.0 to 1.0
}

// ModeFor returns the configured mode of a channel
func (c *Config) ModeFor(channel notify.Channel) ChannelConfig {
	cc, ok := c.Channels[channel]
	if !ok || cc.Mode == "" {
		return ChannelConfig{Mode: ModeProduction}
	}
	return cc
}

// Active reports whether any channel is intercepted
func (c *Config) Active() bool {
	for _, cc := range c.Channels {
		if cc.Mode == ModeSandbox || cc.Mode == ModeRedirect {
			return true
		}
	}
	return false
}

// simulatedFailures are picked at random when error simulation is on
var simulatedFailures = []struct {
	kind    errs.Kind
	status  int
	message string
}{
	{errs.KindInvalidTarget, 0, "simulated: target unregistered"},
	{errs.KindProviderRejected, 503, "simulated: provider unavailable"},
	{errs.KindProviderRejected, 429, "simulated: rate limited by provider"},
	{errs.KindTransport, 0, "simulated: connection reset"},
}

// Sender wraps a real sender and intercepts sends based on channel mode
type Sender struct {
	real    notify.Sender
	config  *Config
	storage *Storage
	logger  *slog.Logger
	rnd     func() float64
	now     func() time.Time
}

// NewSender creates a new sandbox sender around real
func NewSender(real notify.Sender, cfg *Config, storage *Storage, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.ErrorProbability <= 0 || cfg.ErrorProbability > 1 {
		cfg.ErrorProbability = 0.1
	}
	return &Sender{
		real:    real,
		config:  cfg,
		storage: storage,
		logger:  logger,
		rnd:     rand.Float64,
		now:     time.Now,
	}
}

// Wrapper returns a function suitable for provider.Registry.Wrap
func Wrapper(cfg *Config, storage *Storage, logger *slog.Logger) func(notify.Sender) notify.Sender {
	return func(s notify.Sender) notify.Sender {
		return NewSender(s, cfg, storage, logger)
	}
}

// Name returns the wrapped driver name
func (s *Sender) Name() string { return s.real.Name() }

// Channel returns the wrapped channel
func (s *Sender) Channel() notify.Channel { return s.real.Channel() }

// Send routes the send based on the channel mode
func (s *Sender) Send(ctx context.Context, target string, payload *notify.Payload, opts notify.Options) notify.Result {
	cc := s.config.ModeFor(s.real.Channel())
	if cc.Mode == ModeProduction {
		return s.real.Send(ctx, target, payload, opts)
	}

	// intercepted sends still fail on targets the driver would refuse
	if checker, ok := s.real.(notify.TargetChecker); ok {
		if err := checker.CheckTarget(target); err != nil {
			return notify.FailedWithError(target, err)
		}
	}

	switch cc.Mode {
	case ModeSandbox:
		return s.handleSandbox(ctx, target, payload)
	case ModeRedirect:
		return s.handleRedirect(ctx, target, payload, opts, cc.RedirectTo)
	default:
		return s.real.Send(ctx, target, payload, opts)
	}
}

// handleSandbox stores the send instead of delivering it
func (s *Sender) handleSandbox(ctx context.Context, target string, payload *notify.Payload) notify.Result {
	msg := s.capture(target, "", payload, ModeSandbox)

	if s.config.SimulateErrors && s.rnd() < s.config.ErrorProbability {
		f := simulatedFailures[int(s.rnd()*float64(len(simulatedFailures)))%len(simulatedFailures)]
		msg.SimulatedErr = f.message
		if err := s.storage.Save(ctx, msg); err != nil {
			s.logger.Error("sandbox: failed to save message", "error", err)
		}
		s.logger.Info("sandbox: simulated failure", "id", msg.ID, "driver", msg.Driver, "target", target, "error", f.message)

		r := notify.Failed(target, f.kind, f.message)
		r.StatusCode = f.status
		return r
	}

	if err := s.storage.Save(ctx, msg); err != nil {
		return notify.Failed(target, errs.KindTransport, "sandbox: failed to save message: "+err.Error())
	}

	s.logger.Info("sandbox: message captured",
		"id", msg.ID,
		"channel", msg.Channel,
		"driver", msg.Driver,
		"target", target,
	)
	return notify.Succeeded(target, "sandbox-"+msg.ID)
}

// handleRedirect delivers to the redirect target and keeps an audit copy.
// The result reports the original target.
func (s *Sender) handleRedirect(ctx context.Context, target string, payload *notify.Payload, opts notify.Options, redirectTo string) notify.Result {
	if redirectTo == "" {
		s.logger.Warn("redirect: no redirect target configured, using sandbox", "channel", s.real.Channel())
		return s.handleSandbox(ctx, target, payload)
	}

	msg := s.capture(redirectTo, target, payload, ModeRedirect)
	if err := s.storage.Save(ctx, msg); err != nil {
		s.logger.Warn("redirect: failed to save to sandbox", "error", err)
	}

	s.logger.Info("redirect: redirecting send",
		"id", msg.ID,
		"driver", msg.Driver,
		"original_target", target,
		"redirect_to", redirectTo,
	)

	r := s.real.Send(ctx, redirectTo, payload, opts)
	r.Target = target
	return r
}

func (s *Sender) capture(target, original string, payload *notify.Payload, mode Mode) *Message {
	msg := &Message{
		ID:             uuid.New().String(),
		Channel:        s.real.Channel(),
		Driver:         s.real.Name(),
		Target:         target,
		OriginalTarget: original,
		Mode:           mode,
		CapturedAt:     s.now(),
	}
	if payload != nil {
		msg.Subject = payload.Subject
		msg.BodyText = payload.BodyText
		msg.BodyHTML = payload.BodyHTML
		msg.Data = payload.Data
	}
	return msg
}
