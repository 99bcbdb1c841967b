// Package whatsapp sends messages through the WhatsApp Business Cloud API.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/provider"
	"github.com/foxzi/herald/internal/render"
)

// Driver is the registry name of this sender
const Driver = "whatsapp"

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v19.0"
)

// Cloud API error codes for recipients that cannot receive messages
var invalidTargetCodes = map[int]bool{
	131026: true, // message undeliverable
	131030: true, // recipient not in allowed list
}

// Config configures the business phone number
type Config struct {
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
}

// Sender delivers WhatsApp messages to E.164 numbers.
//
// Options: "template" sends an approved template instead of free text,
// "language" sets its language code, "template_params" lists body
// parameters, "preview_url" enables link previews.
type Sender struct {
	cfg    Config
	client provider.HTTPClient
	logger *slog.Logger
}

// NewSender creates a WhatsApp sender
func NewSender(cfg Config, client provider.HTTPClient, logger *slog.Logger) *Sender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
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
func (s *Sender) Channel() notify.Channel { return notify.ChannelWhatsApp }

var _ notify.TargetChecker = (*Sender)(nil)

// CheckTarget validates the phone number
func (s *Sender) CheckTarget(target string) error {
	_, err := provider.NormalizePhone(target)
	return err
}

type message struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textBody    `json:"text,omitempty"`
	Template         *templateRef `json:"template,omitempty"`
}

type textBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type templateRef struct {
	Name       string      `json:"name"`
	Language   language    `json:"language"`
	Components []component `json:"components,omitempty"`
}

type language struct {
	Code string `json:"code"`
}

type component struct {
	Type       string      `json:"type"`
	Parameters []parameter `json:"parameters"`
}

type parameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send delivers one message
func (s *Sender) Send(ctx context.Context, target string, p *notify.Payload, opts notify.Options) notify.Result {
	phone, err := provider.NormalizePhone(target)
	if err != nil {
		return notify.FailedWithError(target, err)
	}

	msg := message{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(phone, "+"),
	}
	if name := opts.String("template"); name != "" {
		msg.Type = "template"
		msg.Template = buildTemplate(name, p, opts)
	} else {
		if p.Text() == "" {
			return notify.Refused(target, "whatsapp message is empty")
		}
		msg.Type = "text"
		msg.Text = &textBody{Body: p.Text(), PreviewURL: opts.Bool("preview_url")}
	}

	url := fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.APIVersion, s.cfg.PhoneNumberID)
	req, err := provider.NewJSONRequest(ctx, url, msg)
	if err != nil {
		return notify.FailedWithError(target, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)

	resp, err := provider.Call(ctx, s.client, req)
	var body apiResponse
	if resp != nil {
		_ = resp.JSON(&body)
	}
	if err != nil {
		if invalidTargetCodes[body.Error.Code] {
			r := notify.Failed(target, errs.KindInvalidTarget, body.Error.Message)
			r.StatusCode = resp.Status
			return r
		}
		s.logger.Warn("whatsapp send failed", "error", err, "code", body.Error.Code)
		return notify.FailedWithError(target, err)
	}

	var id string
	if len(body.Messages) > 0 {
		id = body.Messages[0].ID
	}
	return notify.Succeeded(target, id)
}

func buildTemplate(name string, p *notify.Payload, opts notify.Options) *templateRef {
	lang := opts.String("language")
	if lang == "" {
		lang = strings.ReplaceAll(p.Locale, "-", "_")
	}
	if lang == "" {
		lang = "en_US"
	}

	ref := &templateRef{Name: name, Language: language{Code: lang}}
	if params, ok := opts["template_params"].([]any); ok && len(params) > 0 {
		c := component{Type: "body"}
		for _, v := range params {
			c.Parameters = append(c.Parameters, parameter{Type: "text", Text: render.Stringify(v)})
		}
		ref.Components = []component{c}
	}
	return ref
}
