// Package telegram sends messages through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/provider"
)

// Driver is the registry name of this sender
const Driver = "telegram"

const defaultBaseURL = "https://api.telegram.org"

// Config configures the bot
type Config struct {
	BaseURL  string
	BotToken string
}

// Sender posts messages to chats. Targets are numeric chat ids or
// @channel usernames.
//
// Options: "parse_mode" (HTML|MarkdownV2), "disable_preview" (bool),
// "silent" (bool).
type Sender struct {
	cfg    Config
	client provider.HTTPClient
	logger *slog.Logger
}

// NewSender creates a Telegram sender
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
func (s *Sender) Channel() notify.Channel { return notify.ChannelTelegram }

var _ notify.TargetChecker = (*Sender)(nil)

// CheckTarget validates the chat id or channel username
func (s *Sender) CheckTarget(target string) error {
	_, err := provider.ValidateChatID(target)
	return err
}

type sendMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode,omitempty"`
	DisableWebPreview   bool   `json:"disable_web_page_preview,omitempty"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// Send posts one message. The plain text body is used when present,
// otherwise the HTML body with HTML parse mode.
func (s *Sender) Send(ctx context.Context, target string, p *notify.Payload, opts notify.Options) notify.Result {
	chatID, err := provider.ValidateChatID(target)
	if err != nil {
		return notify.FailedWithError(target, err)
	}

	msg := sendMessage{
		ChatID:              chatID,
		Text:                p.BodyText,
		ParseMode:           opts.String("parse_mode"),
		DisableWebPreview:   opts.Bool("disable_preview"),
		DisableNotification: opts.Bool("silent"),
	}
	if msg.Text == "" {
		msg.Text = p.BodyHTML
		if msg.ParseMode == "" {
			msg.ParseMode = "HTML"
		}
	}
	if msg.Text == "" {
		return notify.Refused(target, "telegram message is empty")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.BotToken)
	req, err := provider.NewJSONRequest(ctx, url, msg)
	if err != nil {
		return notify.FailedWithError(target, err)
	}

	resp, err := provider.Call(ctx, s.client, req)
	var body apiResponse
	if resp != nil {
		_ = resp.JSON(&body)
	}
	if err != nil {
		if resp != nil && isInvalidChat(resp.Status, body.Description) {
			r := notify.Failed(target, errs.KindInvalidTarget, body.Description)
			r.StatusCode = resp.Status
			return r
		}
		s.logger.Warn("telegram send failed", "error", err, "description", body.Description)
		return notify.FailedWithError(target, err)
	}
	if !body.OK {
		return notify.FailedWithError(target, errs.Rejected(resp.Status, body.Description, "telegram error: %s", body.Description))
	}
	return notify.Succeeded(target, strconv.FormatInt(body.Result.MessageID, 10))
}

func isInvalidChat(status int, description string) bool {
	d := strings.ToLower(description)
	switch {
	case status == 403:
		return true
	case status == 400 && (strings.Contains(d, "chat not found") || strings.Contains(d, "user not found") || strings.Contains(d, "peer_id_invalid")):
		return true
	}
	return false
}
