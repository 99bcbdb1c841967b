// Package smtp relays email through an SMTP submission server.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/herald/internal/dkim"
	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/headers"
	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/provider"
)

// Driver is the registry name of this sender
const Driver = "smtp"

// TLS modes
const (
	TLSNone     = "none"
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
)

// Config configures the relay
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	HeloName           string
	TLSMode            string
	InsecureSkipVerify bool
	Timeout            time.Duration
	Headers            *headers.Config // rewrite rules, applied before signing
}

// Sender relays each message as its own SMTP transaction.
//
// Options: "from", "reply_to", "headers" (map of extra headers).
type Sender struct {
	cfg      Config
	signer   *dkim.Signer
	rewriter *headers.Rewriter
	logger   *slog.Logger
	now      func() time.Time
}

// NewSender creates an SMTP sender. signer may be nil.
func NewSender(cfg Config, signer *dkim.Signer, logger *slog.Logger) *Sender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSStartTLS
	}
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sender{
		cfg:      cfg,
		signer:   signer,
		rewriter: headers.NewRewriter(cfg.Headers),
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Sender) Name() string            { return Driver }
func (s *Sender) Channel() notify.Channel { return notify.ChannelEmail }

var _ notify.TargetChecker = (*Sender)(nil)

// CheckTarget validates the recipient address
func (s *Sender) CheckTarget(target string) error {
	_, err := provider.ValidateEmail(target)
	return err
}

// Send builds and relays one message
func (s *Sender) Send(ctx context.Context, target string, p *notify.Payload, opts notify.Options) notify.Result {
	to, err := provider.ValidateEmail(target)
	if err != nil {
		return notify.FailedWithError(target, err)
	}
	if p.BodyHTML == "" && p.BodyText == "" {
		return notify.Refused(target, "email body is empty")
	}

	from := opts.String("from")
	if from == "" {
		from = s.cfg.From
	}
	fromAddr, err := provider.ValidateEmail(from)
	if err != nil {
		return notify.Refused(target, "invalid sender address")
	}

	headers := make(map[string]string)
	for k, v := range opts.Map("headers") {
		headers[k] = fmt.Sprint(v)
	}
	msg := &message{
		From:    from,
		To:      to,
		ReplyTo: opts.String("reply_to"),
		Subject: p.Subject,
		HTML:    p.BodyHTML,
		Text:    p.BodyText,
		Headers: headers,
		Date:    s.now(),
		Domain:  domainOf(fromAddr),
	}
	data, messageID := msg.build()
	data = s.rewriter.Apply(data, to)

	if s.signer != nil {
		signed, err := s.signer.Sign(data)
		if err != nil {
			s.logger.Warn("DKIM signing failed, sending unsigned", "domain", s.signer.Domain(), "error", err)
		} else {
			data = signed
		}
	}

	if err := s.deliver(ctx, fromAddr, to, data); err != nil {
		s.logger.Warn("smtp delivery failed", "error", err)
		return notify.FailedWithError(target, err)
	}
	return notify.Succeeded(target, messageID)
}

func (s *Sender) deliver(ctx context.Context, from, to string, data []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{
		ServerName:         s.cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}

	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	var conn net.Conn
	var err error
	if s.cfg.TLSMode == TLSImplicit {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return errs.Transport(fmt.Errorf("connection failed to %s: %w", addr, err))
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}

	client := smtp.NewClient(conn)
	defer client.Close()

	if err := client.Hello(s.cfg.HeloName); err != nil {
		return classify(err, "HELO")
	}
	if s.cfg.TLSMode == TLSStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return errs.Rejected(502, "", "server does not support STARTTLS")
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return classify(err, "STARTTLS")
		}
	}
	if s.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return classify(err, "AUTH")
		}
	}

	if err := client.Mail(from, nil); err != nil {
		return classify(err, "MAIL FROM")
	}
	if err := client.Rcpt(to, nil); err != nil {
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) && isBadMailbox(smtpErr.Code) {
			return errs.Wrap(errs.KindInvalidTarget, err, "RCPT TO %s rejected", to)
		}
		return classify(err, "RCPT TO")
	}

	wc, err := client.Data()
	if err != nil {
		return classify(err, "DATA")
	}
	if _, err := bytes.NewReader(data).WriteTo(wc); err != nil {
		wc.Close()
		return errs.Transport(fmt.Errorf("failed to write message data: %w", err))
	}
	if err := wc.Close(); err != nil {
		return classify(err, "DATA close")
	}

	client.Quit()
	return nil
}

func isBadMailbox(code int) bool {
	switch code {
	case 550, 551, 553:
		return true
	}
	return false
}

// classify maps an SMTP reply to the taxonomy: 4xx replies are temporary
// and reported as 503, 5xx replies are permanent and reported as 400.
func classify(err error, stage string) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		status := 400
		if smtpErr.Temporary() {
			status = 503
		}
		return errs.Rejected(status, smtpErr.Message, "%s failed: %d %s", stage, smtpErr.Code, smtpErr.Message)
	}
	return errs.Wrap(errs.KindTransport, err, "%s failed", stage)
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return "localhost"
}
