// Package apns sends push notifications to Apple devices with token based
// authentication.
package apns

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/provider"
)

// Driver is the registry name of this sender
const Driver = "apns"

// Client is the subset of *apns2.Client used by the sender
type Client interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config configures the APNs token client
type Config struct {
	KeyID      string
	TeamID     string
	BundleID   string
	KeyFile    string
	KeyContent string
	Production bool
}

// NewClient parses the .p8 key and creates a token client
func NewClient(cfg Config) (*apns2.Client, error) {
	var authKey *ecdsa.PrivateKey
	var err error
	if cfg.KeyContent != "" {
		authKey, err = token.AuthKeyFromBytes([]byte(cfg.KeyContent))
	} else {
		authKey, err = token.AuthKeyFromFile(cfg.KeyFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}
	return newTokenClient(cfg, &token.Token{AuthKey: authKey, KeyID: cfg.KeyID, TeamID: cfg.TeamID}), nil
}

func newTokenClient(cfg Config, tok *token.Token) *apns2.Client {
	client := apns2.NewTokenClient(tok)
	if cfg.Production {
		return client.Production()
	}
	return client.Development()
}

// Sender delivers to APNs device tokens.
//
// Options: "data" (map), "sound", "badge", "category", "thread_id",
// "collapse_id", "priority" (5|10), "background" (bool).
type Sender struct {
	client Client
	topic  string
	logger *slog.Logger
}

// NewSender creates an APNs sender for the given bundle id
func NewSender(client Client, topic string, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sender{client: client, topic: topic, logger: logger}
}

func (s *Sender) Name() string            { return Driver }
func (s *Sender) Channel() notify.Channel { return notify.ChannelPush }

var _ notify.TargetChecker = (*Sender)(nil)

// CheckTarget requires a hex encoded device token
func (s *Sender) CheckTarget(target string) error {
	if !provider.IsHexToken(strings.ToLower(strings.TrimSpace(target))) {
		return errs.InvalidTarget("apns device token must be hex encoded")
	}
	return nil
}

// Send pushes payload to one device token
func (s *Sender) Send(ctx context.Context, target string, p *notify.Payload, opts notify.Options) notify.Result {
	if err := s.CheckTarget(target); err != nil {
		return notify.FailedWithError(target, err)
	}
	deviceToken := strings.ToLower(strings.TrimSpace(target))

	n := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       s.topic,
		Payload:     buildPayload(p, opts),
		CollapseID:  opts.String("collapse_id"),
		Priority:    opts.Int("priority", 0),
	}
	if opts.Bool("background") {
		n.PushType = apns2.PushTypeBackground
		n.Priority = apns2.PriorityLow
	}

	res, err := s.client.PushWithContext(ctx, n)
	if err != nil {
		s.logger.Warn("apns transport failed", "error", err)
		return notify.FailedWithError(target, errs.Transport(err))
	}
	if res.Sent() {
		return notify.Succeeded(target, res.ApnsID)
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		r := notify.Failed(target, errs.KindInvalidTarget, "apns rejected token: "+res.Reason)
		r.StatusCode = res.StatusCode
		return r
	}

	s.logger.Warn("apns rejected notification", "reason", res.Reason, "status", res.StatusCode)
	return notify.FailedWithError(target, errs.Rejected(res.StatusCode, res.Reason, "apns rejected notification: %s", res.Reason))
}

func buildPayload(p *notify.Payload, opts notify.Options) *payload.Payload {
	pl := payload.NewPayload()
	if opts.Bool("background") {
		pl.ContentAvailable()
	} else {
		pl.AlertTitle(p.Subject).AlertBody(p.Text())
		sound := opts.String("sound")
		if sound == "" {
			sound = "default"
		}
		pl.Sound(sound)
	}
	if badge := opts.Int("badge", -1); badge >= 0 {
		pl.Badge(badge)
	}
	if c := opts.String("category"); c != "" {
		pl.Category(c)
	}
	if th := opts.String("thread_id"); th != "" {
		pl.ThreadID(th)
	}
	for k, v := range p.Data {
		pl.Custom(k, v)
	}
	for k, v := range opts.Map("data") {
		pl.Custom(k, v)
	}
	return pl
}
