// Package notify holds the types shared between the dispatch coordinator
// and the provider senders.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/foxzi/herald/internal/errs"
)

// Channel is a delivery channel
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelPush     Channel = "push"
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
)

// Channels lists every known channel
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelTelegram, ChannelWhatsApp}

// Valid reports whether c is a known channel
func (c Channel) Valid() bool {
	for _, known := range Channels {
		if c == known {
			return true
		}
	}
	return false
}

// ParseChannel parses a channel name, case-insensitively
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", errs.Validation("unknown channel %q", s)
	}
	return c, nil
}

// Payload is the compiled content handed to a sender
type Payload struct {
	Subject  string         `json:"subject,omitempty"`
	BodyHTML string         `json:"body_html,omitempty"`
	BodyText string         `json:"body_text,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Locale   string         `json:"locale,omitempty"`
}

// Text returns the plain text body, falling back to the HTML body
func (p *Payload) Text() string {
	if p.BodyText != "" {
		return p.BodyText
	}
	return p.BodyHTML
}

// Empty reports whether the payload carries no content at all
func (p *Payload) Empty() bool {
	return p.Subject == "" && p.BodyHTML == "" && p.BodyText == "" && len(p.Data) == 0
}

// Options are driver-specific send options
type Options map[string]any

// String returns the option as a string
func (o Options) String(key string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the option as an int, or def when missing or not numeric
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the option as a bool
func (o Options) Bool(key string) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// Map returns a nested map option
func (o Options) Map(key string) map[string]any {
	m, _ := o[key].(map[string]any)
	return m
}

// Result is the outcome of a send to exactly one target
type Result struct {
	Target            string    `json:"target"`
	Provider          string    `json:"provider,omitempty"`
	Success           bool      `json:"success"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	ErrorKind         errs.Kind `json:"error_kind,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	StatusCode        int       `json:"status_code,omitempty"`
}

// Succeeded builds a successful result
func Succeeded(target, messageID string) Result {
	return Result{Target: target, Success: true, ProviderMessageID: messageID}
}

// Failed builds a failed result of the given kind
func Failed(target string, kind errs.Kind, message string) Result {
	return Result{Target: target, ErrorKind: kind, ErrorMessage: message}
}

// Refused is a permanent rejection decided by the driver itself, for a
// payload it cannot turn into a provider request
func Refused(target, message string) Result {
	return Result{Target: target, ErrorKind: errs.KindProviderRejected, ErrorMessage: message, StatusCode: 400}
}

// FailedWithError builds a failed result from err, copying the provider
// status when err is a classified provider error.
func FailedWithError(target string, err error) Result {
	r := Result{Target: target, ErrorKind: errs.KindOf(err), ErrorMessage: err.Error()}
	if r.ErrorKind == "" {
		r.ErrorKind = errs.KindProviderRejected
	}
	var e *errs.Error
	if errors.As(err, &e) {
		r.StatusCode = e.Status
	}
	return r
}

// Retryable reports whether an external scheduler may resubmit the target
func (r Result) Retryable() bool {
	if r.Success {
		return false
	}
	switch r.ErrorKind {
	case errs.KindTransport:
		return true
	case errs.KindProviderRejected:
		return r.StatusCode == 429 || r.StatusCode >= 500
	}
	return false
}

// Sender delivers a payload to one target through one provider
type Sender interface {
	Name() string
	Channel() Channel
	Send(ctx context.Context, target string, payload *Payload, opts Options) Result
}

// TargetChecker is implemented by senders that can tell a malformed target
// apart without any I/O. The error is classified as invalid_target.
type TargetChecker interface {
	CheckTarget(target string) error
}
