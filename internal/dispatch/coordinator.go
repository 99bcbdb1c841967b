// Package dispatch fans a logical send out across targets and providers,
// and aggregates the per-target results.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
)

const tracerName = "github.com/foxzi/herald/internal/dispatch"

// Config tunes the coordinator
type Config struct {
	Workers        int
	SendTimeout    time.Duration
	BatchTimeout   time.Duration
	DefaultDrivers map[notify.Channel]string
	// PushDrivers maps a detected token shape (apns, fcm, webpush) to a
	// driver name. Shapes without an entry use the shape name as driver.
	PushDrivers map[string]string
}

// Request is one logical send
type Request struct {
	Channel         notify.Channel  `json:"channel"`
	Driver          string          `json:"driver,omitempty"`
	Targets         []string        `json:"targets"`
	Payload         *notify.Payload `json:"payload"`
	Options         notify.Options  `json:"options,omitempty"`
	Template        string          `json:"template,omitempty"`
	TemplateVersion int             `json:"template_version,omitempty"`
}

// Outcome is what a dispatch returns to the caller
type Outcome struct {
	ID              string          `json:"id"`
	Channel         notify.Channel  `json:"channel"`
	Template        string          `json:"template,omitempty"`
	TemplateVersion int             `json:"template_version,omitempty"`
	Summary         Summary         `json:"summary"`
	Results         []notify.Result `json:"results"`
	Skipped         bool            `json:"skipped,omitempty"`
	SkipReason      string          `json:"skip_reason,omitempty"`
}

// Resolver looks up the sender of a driver
type Resolver interface {
	Resolve(driver string) (notify.Sender, error)
}

// Observer receives every completed or skipped dispatch
type Observer interface {
	OnDispatch(ctx context.Context, req *Request, out *Outcome)
}

// Coordinator runs dispatch requests. It performs no retries.
type Coordinator struct {
	resolver  Resolver
	cfg       Config
	observers []Observer
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewCoordinator creates a coordinator
func NewCoordinator(resolver Resolver, cfg Config, logger *slog.Logger, observers ...Observer) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Coordinator{
		resolver:  resolver,
		cfg:       cfg,
		observers: observers,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// AddObserver registers an observer
func (c *Coordinator) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

type job struct {
	index  int
	target string
	sender notify.Sender
}

// Dispatch validates req, sends to every target and aggregates the results.
// Only request validation fails synchronously; every per-target failure is
// reported as a result.
func (c *Coordinator) Dispatch(ctx context.Context, req *Request) (*Outcome, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("herald.channel", string(req.Channel)),
			attribute.String("herald.template", req.Template),
			attribute.Int("herald.targets", len(req.Targets)),
		))
	defer span.End()

	started := time.Now()
	results := make([]notify.Result, len(req.Targets))
	jobs := c.plan(req, results)

	if c.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.BatchTimeout)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for n, j := range jobs {
		if ctx.Err() != nil {
			for _, rest := range jobs[n:] {
				results[rest.index] = c.stamp(deadlineResult(rest.target), rest)
			}
			break
		}
		g.Go(func() error {
			results[j.index] = c.stamp(c.send(ctx, req, j), j)
			return nil
		})
	}
	g.Wait()

	out := &Outcome{
		ID:              uuid.New().String(),
		Channel:         req.Channel,
		Template:        req.Template,
		TemplateVersion: req.TemplateVersion,
		Summary:         Reduce(results),
		Results:         results,
	}

	span.SetAttributes(
		attribute.Int("herald.sent", out.Summary.SentCount),
		attribute.Int("herald.failed", out.Summary.FailedCount),
	)
	if out.Summary.FailedCount > 0 {
		span.SetStatus(codes.Error, out.Summary.String())
	}

	c.logger.Info("dispatch completed",
		"id", out.ID,
		"channel", req.Channel,
		"template", req.Template,
		"sent", out.Summary.SentCount,
		"failed", out.Summary.FailedCount,
		"duration", time.Since(started),
	)

	c.notify(ctx, req, out)
	return out, nil
}

// Skip reports a dispatch that was gated off before any send
func (c *Coordinator) Skip(ctx context.Context, req *Request, reason string) *Outcome {
	out := &Outcome{
		ID:              uuid.New().String(),
		Channel:         req.Channel,
		Template:        req.Template,
		TemplateVersion: req.TemplateVersion,
		Summary:         Reduce(nil),
		Results:         []notify.Result{},
		Skipped:         true,
		SkipReason:      reason,
	}
	c.logger.Info("dispatch skipped", "id", out.ID, "template", req.Template, "reason", reason)
	c.notify(ctx, req, out)
	return out
}

func (c *Coordinator) notify(ctx context.Context, req *Request, out *Outcome) {
	for _, o := range c.observers {
		o.OnDispatch(context.WithoutCancel(ctx), req, out)
	}
}

// plan resolves the driver of every target. Targets that cannot be sent get
// their final result immediately; the rest become jobs.
func (c *Coordinator) plan(req *Request, results []notify.Result) []job {
	order := make([]string, 0, 1)
	groups := make(map[string][]int)

	for i, target := range req.Targets {
		if strings.TrimSpace(target) == "" {
			results[i] = notify.Failed(target, errs.KindInvalidTarget, "empty target")
			results[i].Provider = req.Driver
			continue
		}
		driver := c.driverFor(req, target)
		if driver == "" {
			results[i] = notify.Failed(target, errs.KindUnsupportedDriver, fmt.Sprintf("no driver configured for channel %s", req.Channel))
			continue
		}
		if _, ok := groups[driver]; !ok {
			order = append(order, driver)
		}
		groups[driver] = append(groups[driver], i)
	}

	var jobs []job
	for _, driver := range order {
		idxs := groups[driver]
		sender, err := c.resolver.Resolve(driver)
		if err == nil && sender.Channel() != req.Channel {
			err = errs.New(errs.KindUnsupportedDriver, "driver %q does not serve channel %s", driver, req.Channel)
		}
		if err != nil {
			for _, i := range idxs {
				results[i] = notify.Failed(req.Targets[i], errs.KindUnsupportedDriver, err.Error())
				results[i].Provider = driver
			}
			c.logger.Warn("unsupported driver", "driver", driver, "channel", req.Channel, "targets", len(idxs))
			continue
		}
		for _, i := range idxs {
			jobs = append(jobs, job{index: i, target: req.Targets[i], sender: sender})
		}
	}
	return jobs
}

func (c *Coordinator) driverFor(req *Request, target string) string {
	if req.Driver != "" {
		return req.Driver
	}
	if req.Channel == notify.ChannelPush {
		shape := DetectPushToken(target)
		if d, ok := c.cfg.PushDrivers[shape]; ok && d != "" {
			return d
		}
		return shape
	}
	return c.cfg.DefaultDrivers[req.Channel]
}

// send runs one provider call under the per-send timeout. The call runs in
// its own goroutine so that a sender ignoring its context cannot hold the
// worker past the deadline.
func (c *Coordinator) send(ctx context.Context, req *Request, j job) notify.Result {
	if ctx.Err() != nil {
		return deadlineResult(j.target)
	}

	ctx, span := c.tracer.Start(ctx, "send", trace.WithAttributes(attribute.String("herald.driver", j.sender.Name())))
	defer span.End()

	sctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()

	ch := make(chan notify.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("sender panicked", "driver", j.sender.Name(), "panic", r)
				ch <- notify.Failed(j.target, errs.KindProviderRejected, fmt.Sprintf("sender panic: %v", r))
			}
		}()
		ch <- j.sender.Send(sctx, j.target, req.Payload, req.Options)
	}()

	var result notify.Result
	select {
	case result = <-ch:
	case <-sctx.Done():
		if ctx.Err() != nil {
			result = deadlineResult(j.target)
		} else {
			result = notify.Failed(j.target, errs.KindTransport, fmt.Sprintf("send timed out after %s", c.cfg.SendTimeout))
		}
	}

	if !result.Success {
		span.SetStatus(codes.Error, result.ErrorMessage)
		span.SetAttributes(attribute.String("herald.error_kind", string(result.ErrorKind)))
	}
	return result
}

func (c *Coordinator) stamp(r notify.Result, j job) notify.Result {
	r.Target = j.target
	r.Provider = j.sender.Name()
	if !r.Success && r.ErrorKind == "" {
		r.ErrorKind = errs.KindProviderRejected
	}
	return r
}

func deadlineResult(target string) notify.Result {
	return notify.Failed(target, errs.KindTransport, "deadline exceeded")
}

func validate(req *Request) error {
	if req == nil {
		return errs.Validation("request is required")
	}
	if !req.Channel.Valid() {
		return errs.Validation("unknown channel %q", req.Channel)
	}
	if len(req.Targets) == 0 {
		return errs.Validation("at least one target is required")
	}
	if req.Payload == nil || req.Payload.Empty() {
		return errs.Validation("payload is empty")
	}
	if !hasContent(req.Channel, req.Payload, req.Options) {
		return errs.Validation("payload has no %s body", req.Channel)
	}
	return nil
}

// hasContent reports whether p carries what every driver of ch needs to
// build a message. Push accepts data-only payloads.
func hasContent(ch notify.Channel, p *notify.Payload, opts notify.Options) bool {
	switch ch {
	case notify.ChannelEmail, notify.ChannelSMS, notify.ChannelTelegram:
		return p.Text() != ""
	case notify.ChannelWhatsApp:
		return p.Text() != "" || opts.String("template") != ""
	}
	return true
}
