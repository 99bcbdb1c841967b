// Package webpush delivers browser push notifications signed with VAPID keys.
package webpush

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/provider"
)

// Driver is the registry name of this sender
const Driver = "webpush"

// Config holds the VAPID identity
type Config struct {
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             int
}

// Sender delivers to browser subscriptions. The target is the subscription
// JSON as produced by PushManager.subscribe().
//
// Options: "data" (map), "ttl" (seconds), "urgency", "topic", "icon", "url".
type Sender struct {
	cfg        Config
	httpClient webpush.HTTPClient
	logger     *slog.Logger
}

// NewSender creates a WebPush sender
func NewSender(cfg Config, httpClient webpush.HTTPClient, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if httpClient == nil {
		httpClient = provider.NewHTTPClient(0)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60
	}
	return &Sender{cfg: cfg, httpClient: httpClient, logger: logger}
}

func (s *Sender) Name() string            { return Driver }
func (s *Sender) Channel() notify.Channel { return notify.ChannelPush }

var _ notify.TargetChecker = (*Sender)(nil)

// CheckTarget validates the subscription JSON
func (s *Sender) CheckTarget(target string) error {
	_, err := ParseSubscription(target)
	return err
}

// ParseSubscription decodes and checks a subscription target
func ParseSubscription(target string) (*webpush.Subscription, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(strings.TrimSpace(target)), &sub); err != nil {
		return nil, errs.InvalidTarget("webpush target is not a subscription object")
	}
	if !strings.HasPrefix(sub.Endpoint, "https://") && !strings.HasPrefix(sub.Endpoint, "http://") {
		return nil, errs.InvalidTarget("webpush subscription has no endpoint")
	}
	if sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, errs.InvalidTarget("webpush subscription is missing keys")
	}
	return &sub, nil
}

// Send encrypts payload for the subscription and posts it to its endpoint
func (s *Sender) Send(ctx context.Context, target string, p *notify.Payload, opts notify.Options) notify.Result {
	sub, err := ParseSubscription(target)
	if err != nil {
		return notify.FailedWithError(target, err)
	}

	data := make(map[string]any, len(p.Data))
	for k, v := range p.Data {
		data[k] = v
	}
	for k, v := range opts.Map("data") {
		data[k] = v
	}
	body, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": p.Subject,
			"body":  p.Text(),
			"icon":  opts.String("icon"),
			"url":   opts.String("url"),
		},
		"data": data,
	})
	if err != nil {
		return notify.FailedWithError(target, errs.Validation("failed to marshal payload: %v", err))
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, sub, &webpush.Options{
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             opts.Int("ttl", s.cfg.TTL),
		Urgency:         webpush.Urgency(opts.String("urgency")),
		Topic:           opts.String("topic"),
		HTTPClient:      s.httpClient,
	})
	if err != nil {
		if errs.KindOf(err) == errs.KindTransport {
			s.logger.Warn("webpush transport error", "error", err)
			return notify.FailedWithError(target, errs.Transport(err))
		}
		// anything before the HTTP round trip is a key or encryption problem
		return notify.FailedWithError(target, errs.Wrap(errs.KindInvalidTarget, err, "webpush encryption failed"))
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		return notify.Succeeded(target, resp.Header.Get("Location"))
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		r := notify.Failed(target, errs.KindInvalidTarget, fmt.Sprintf("subscription expired (status %d)", resp.StatusCode))
		r.StatusCode = resp.StatusCode
		return r
	}

	s.logger.Warn("webpush rejected", "status", resp.StatusCode)
	return notify.FailedWithError(target, errs.Rejected(resp.StatusCode, provider.Truncate(string(respBody), 512), "push service returned status %d", resp.StatusCode))
}
