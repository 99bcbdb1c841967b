// Package twilio sends SMS through the Twilio Messages API.
package twilio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/provider"
)

// Driver is the registry name of this sender
const Driver = "twilio"

const defaultBaseURL = "https://api.twilio.com"

// Twilio error codes that mean the recipient itself is unusable
var invalidTargetCodes = map[int]bool{
	21211: true, // invalid 'To' phone number
	21214: true, // 'To' number cannot be reached
	21408: true, // permission to send to region not enabled
	21610: true, // recipient unsubscribed
	21614: true, // 'To' number is not a valid mobile number
}

// Config configures the Twilio account
type Config struct {
	BaseURL             string
	AccountSID          string
	AuthToken           string
	From                string
	MessagingServiceSID string
}

// Sender delivers SMS through Twilio.
//
// Options: "from" overrides the sender number, "status_callback" sets the
// delivery webhook.
type Sender struct {
	cfg    Config
	client provider.HTTPClient
	logger *slog.Logger
}

// NewSender creates a Twilio sender
func NewSender(cfg Config, client provider.HTTPClient, logger *slog.Logger) *Sender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if client == nil {
		client = provider.NewHTTPClient(0)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sender{cfg: cfg, client: client, logger: logger}
}

func (s *Sender) Name() string            { return Driver }
func (s *Sender) Channel() notify.Channel { return notify.ChannelSMS }

var _ notify.TargetChecker = (*Sender)(nil)

// CheckTarget validates the phone number
func (s *Sender) CheckTarget(target string) error {
	_, err := provider.NormalizePhone(target)
	return err
}

type messageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send creates one Twilio message
func (s *Sender) Send(ctx context.Context, target string, p *notify.Payload, opts notify.Options) notify.Result {
	phone, err := provider.NormalizePhone(target)
	if err != nil {
		return notify.FailedWithError(target, err)
	}
	text := p.Text()
	if text == "" {
		return notify.Refused(target, "sms text is empty")
	}

	form := url.Values{}
	form.Set("To", phone)
	form.Set("Body", text)
	switch from := opts.String("from"); {
	case from != "":
		form.Set("From", from)
	case s.cfg.MessagingServiceSID != "":
		form.Set("MessagingServiceSid", s.cfg.MessagingServiceSID)
	default:
		form.Set("From", s.cfg.From)
	}
	if cb := opts.String("status_callback"); cb != "" {
		form.Set("StatusCallback", cb)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return notify.FailedWithError(target, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)

	resp, err := provider.Call(ctx, s.client, req)
	var body messageResponse
	if resp != nil {
		_ = resp.JSON(&body)
	}
	if err != nil {
		if invalidTargetCodes[body.Code] {
			r := notify.Failed(target, errs.KindInvalidTarget, fmt.Sprintf("twilio error %d: %s", body.Code, body.Message))
			r.StatusCode = resp.Status
			return r
		}
		s.logger.Warn("twilio send failed", "error", err, "code", body.Code)
		return notify.FailedWithError(target, err)
	}
	return notify.Succeeded(target, body.SID)
}
