// Package netfun sends SMS through the Netfun HTTP gateway.
package netfun

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/provider"
)

// Driver is the registry name of this sender
const Driver = "netfun"

// DefaultEndpoint is the gateway send URL
const DefaultEndpoint = "https://v2.smsgateway.netfun.it/api/v1/sms/send"

// Config configures the gateway
type Config struct {
	Endpoint string
	APIToken string
	SenderID string
}

// Sender delivers SMS to E.164 numbers.
//
// Options: "sender" overrides the configured sender id.
type Sender struct {
	cfg    Config
	client provider.HTTPClient
	logger *slog.Logger
}

// NewSender creates a Netfun sender
func NewSender(cfg Config, client provider.HTTPClient, logger *slog.Logger) *Sender {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
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

type sendRequest struct {
	Sender       string        `json:"sender"`
	Text         string        `json:"text"`
	Destinations []destination `json:"destinations"`
}

type destination struct {
	Number string `json:"number"`
}

type sendResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
	Code      string `json:"code"`
}

// Send delivers the text body to one phone number
func (s *Sender) Send(ctx context.Context, target string, p *notify.Payload, opts notify.Options) notify.Result {
	phone, err := provider.NormalizePhone(target)
	if err != nil {
		return notify.FailedWithError(target, err)
	}
	text := p.Text()
	if text == "" {
		return notify.Refused(target, "sms text is empty")
	}

	senderID := opts.String("sender")
	if senderID == "" {
		senderID = s.cfg.SenderID
	}

	req, err := provider.NewJSONRequest(ctx, s.cfg.Endpoint, sendRequest{
		Sender:       senderID,
		Text:         text,
		Destinations: []destination{{Number: phone}},
	})
	if err != nil {
		return notify.FailedWithError(target, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIToken)

	resp, err := provider.Call(ctx, s.client, req)
	var body sendResponse
	if resp != nil {
		_ = resp.JSON(&body)
	}
	if err != nil {
		if strings.EqualFold(body.Code, "INVALID_NUMBER") {
			r := notify.Failed(target, errs.KindInvalidTarget, "netfun rejected number: "+body.Error)
			r.StatusCode = resp.Status
			return r
		}
		s.logger.Warn("netfun send failed", "error", err)
		return notify.FailedWithError(target, err)
	}

	if body.Error != "" || strings.EqualFold(body.Status, "error") {
		return notify.FailedWithError(target, errs.Rejected(resp.Status, string(resp.Body), "netfun error: %s", body.Error))
	}

	id := body.ID
	if id == "" {
		id = body.MessageID
	}
	return notify.Succeeded(target, id)
}
