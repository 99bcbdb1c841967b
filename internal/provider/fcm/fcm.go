// Package fcm sends push notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/render"
)

// Driver is the registry name of this sender
const Driver = "fcm"

// Client is the subset of *messaging.Client used by the sender
type Client interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Config configures the Firebase app
type Config struct {
	ProjectID       string
	CredentialsFile string
}

// NewClient creates a Firebase messaging client
func NewClient(ctx context.Context, cfg Config) (*messaging.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}
	return client, nil
}

// Sender delivers to FCM registration tokens.
//
// Options: "data" (map, custom key/values), "priority" ("high"|"normal"),
// "ttl" (seconds), "image", "click_action".
type Sender struct {
	client Client
	logger *slog.Logger
}

// NewSender creates an FCM sender
func NewSender(client Client, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sender{client: client, logger: logger}
}

func (s *Sender) Name() string            { return Driver }
func (s *Sender) Channel() notify.Channel { return notify.ChannelPush }

var _ notify.TargetChecker = (*Sender)(nil)

// CheckTarget rejects tokens that cannot be registration tokens
func (s *Sender) CheckTarget(target string) error {
	token := strings.TrimSpace(target)
	if len(token) < 32 || strings.ContainsAny(token, " \t\n") {
		return errs.InvalidTarget("malformed fcm registration token")
	}
	return nil
}

// Send pushes payload to a single registration token
func (s *Sender) Send(ctx context.Context, target string, payload *notify.Payload, opts notify.Options) notify.Result {
	if err := s.CheckTarget(target); err != nil {
		return notify.FailedWithError(target, err)
	}
	token := strings.TrimSpace(target)

	msg := s.buildMessage(token, payload, opts)
	id, err := s.client.Send(ctx, msg)
	if err != nil {
		result := notify.FailedWithError(target, classify(err))
		s.logger.Warn("fcm send failed", "error", err, "kind", result.ErrorKind)
		return result
	}
	return notify.Succeeded(target, id)
}

func (s *Sender) buildMessage(token string, payload *notify.Payload, opts notify.Options) *messaging.Message {
	data := StringData(payload.Data)
	for k, v := range StringData(opts.Map("data")) {
		data[k] = v
	}

	msg := &messaging.Message{
		Token: token,
		Data:  data,
		Notification: &messaging.Notification{
			Title:    payload.Subject,
			Body:     payload.Text(),
			ImageURL: opts.String("image"),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: payload.Subject,
				Body:  payload.Text(),
			},
		},
	}

	if p := opts.String("priority"); p != "" {
		msg.Android.Priority = p
	}
	if ttl := opts.Int("ttl", 0); ttl > 0 {
		d := time.Duration(ttl) * time.Second
		msg.Android.TTL = &d
	}
	if action := opts.String("click_action"); action != "" {
		msg.Android.Notification = &messaging.AndroidNotification{ClickAction: action}
	}
	return msg
}

// StringData flattens custom data into the string map FCM requires
func StringData(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = render.Stringify(v)
	}
	return out
}

func classify(err error) error {
	switch {
	case messaging.IsUnregistered(err), messaging.IsInvalidArgument(err), messaging.IsSenderIDMismatch(err):
		return errs.Wrap(errs.KindInvalidTarget, err, "fcm rejected token")
	case messaging.IsQuotaExceeded(err):
		return errs.Rejected(429, err.Error(), "fcm quota exceeded")
	case messaging.IsUnavailable(err):
		return errs.Rejected(503, err.Error(), "fcm unavailable")
	case messaging.IsInternal(err):
		return errs.Rejected(500, err.Error(), "fcm internal error")
	case messaging.IsThirdPartyAuthError(err):
		return errs.Rejected(401, err.Error(), "fcm third party auth error")
	case errs.KindOf(err) == errs.KindTransport:
		return errs.Transport(err)
	}
	return errs.Wrap(errs.KindProviderRejected, err, "fcm send failed")
}
