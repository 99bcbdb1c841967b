package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/herald/internal/dkim"
	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/headers"
	"github.com/foxzi/herald/internal/notify"
)

type received struct {
	from string
	to   []string
	data []byte
}

type testBackend struct {
	mu       sync.Mutex
	messages []received
}

func (b *testBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &testSession{backend: b}, nil
}

type testSession struct {
	backend *testBackend
	msg     received
	authed  bool
}

func (s *testSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *testSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != "relay" || password != "secret" {
			return errors.New("invalid credentials")
		}
		s.authed = true
		return nil
	}), nil
}

// AuthPlain satisfies the go-smtp v0.20 Session interface, whose server
// handles PLAIN itself and hands the decoded credentials to the session.
func (s *testSession) AuthPlain(username, password string) error {
	if username != "relay" || password != "secret" {
		return errors.New("invalid credentials")
	}
	s.authed = true
	return nil
}

func (s *testSession) Mail(from string, opts *smtp.MailOptions) error {
	if !s.authed {
		return smtp.ErrAuthRequired
	}
	s.msg.from = from
	return nil
}

func (s *testSession) Rcpt(to string, opts *smtp.RcptOptions) error {
	switch {
	case strings.HasPrefix(to, "unknown@"):
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "no such user"}
	case strings.HasPrefix(to, "busy@"):
		return &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "try again later"}
	}
	s.msg.to = append(s.msg.to, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.msg.data = data
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, s.msg)
	s.backend.mu.Unlock()
	return nil
}

func (s *testSession) Reset()        { s.msg = received{} }
func (s *testSession) Logout() error { return nil }

func startServer(t *testing.T) (*testBackend, string, int) {
	t.Helper()
	backend := &testBackend{}
	srv := smtp.NewServer(backend)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	addr := l.Addr().(*net.TCPAddr)
	return backend, "127.0.0.1", addr.Port
}

func testConfig(host string, port int) Config {
	return Config{
		Host:     host,
		Port:     port,
		Username: "relay",
		Password: "secret",
		From:     "noreply@example.com",
		TLSMode:  TLSNone,
		Timeout:  5 * time.Second,
	}
}

func TestSender_Send(t *testing.T) {
	backend, host, port := startServer(t)

	key, err := dkim.GenerateKey(dkim.AlgorithmEd25519, "example.com", "herald")
	require.NoError(t, err)
	sender := NewSender(testConfig(host, port), dkim.NewSigner(key), nil)

	result := sender.Send(context.Background(), "user@example.org", &notify.Payload{
		Subject:  "Welcome",
		BodyHTML: "<p>Hi Mario</p>",
		BodyText: "Hi Mario",
	}, notify.Options{"reply_to": "support@example.com", "headers": map[string]any{"X-Campaign": "welcome"}})

	require.True(t, result.Success, result.ErrorMessage)
	assert.True(t, strings.HasSuffix(result.ProviderMessageID, "@example.com>"))

	require.Len(t, backend.messages, 1)
	msg := backend.messages[0]
	assert.Equal(t, "noreply@example.com", msg.from)
	assert.Equal(t, []string{"user@example.org"}, msg.to)
	assert.True(t, bytes.HasPrefix(msg.data, []byte("DKIM-Signature:")))
	assert.Contains(t, string(msg.data), "multipart/alternative")
	assert.Contains(t, string(msg.data), "Reply-To: support@example.com")
	assert.Contains(t, string(msg.data), "X-Campaign: welcome")
	assert.Contains(t, string(msg.data), "Message-ID: "+result.ProviderMessageID)
}

func TestSender_HeaderRules(t *testing.T) {
	backend, host, port := startServer(t)

	cfg := testConfig(host, port)
	cfg.Headers = &headers.Config{
		Global: []headers.Rule{{
			Action: headers.ActionAdd,
			Header: "List-Unsubscribe",
			Value:  "<mailto:unsubscribe@example.com?subject={{recipient}}>",
		}},
	}
	sender := NewSender(cfg, nil, nil)

	result := sender.Send(context.Background(), "user@example.org", &notify.Payload{
		Subject:  "Digest",
		BodyText: "Weekly digest",
	}, nil)
	require.True(t, result.Success, result.ErrorMessage)

	require.Len(t, backend.messages, 1)
	assert.Contains(t, string(backend.messages[0].data),
		"List-Unsubscribe: <mailto:unsubscribe@example.com?subject=user@example.org>")
}

func TestSender_Classification(t *testing.T) {
	_, host, port := startServer(t)
	sender := NewSender(testConfig(host, port), nil, nil)
	payload := &notify.Payload{Subject: "x", BodyText: "x"}
	ctx := context.Background()

	result := sender.Send(ctx, "unknown@example.org", payload, nil)
	assert.Equal(t, errs.KindInvalidTarget, result.ErrorKind)

	result = sender.Send(ctx, "busy@example.org", payload, nil)
	assert.Equal(t, errs.KindProviderRejected, result.ErrorKind)
	assert.Equal(t, 503, result.StatusCode)
	assert.True(t, result.Retryable())

	badAuth := testConfig(host, port)
	badAuth.Password = "wrong"
	result = NewSender(badAuth, nil, nil).Send(ctx, "user@example.org", payload, nil)
	assert.Equal(t, errs.KindProviderRejected, result.ErrorKind)
	assert.False(t, result.Retryable())

	result = sender.Send(ctx, "not-an-address", payload, nil)
	assert.Equal(t, errs.KindInvalidTarget, result.ErrorKind)
}

func TestSender_ConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	result := NewSender(testConfig("127.0.0.1", port), nil, nil).
		Send(context.Background(), "user@example.org", &notify.Payload{BodyText: "x"}, nil)
	assert.Equal(t, errs.KindTransport, result.ErrorKind)
	assert.True(t, result.Retryable())
}

func TestMessageBuild(t *testing.T) {
	m := &message{
		From:    "noreply@example.com",
		To:      "user@example.org",
		Subject: "Città",
		Text:    "plain only",
		Date:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Domain:  "example.com",
	}
	data, id := m.build()
	s := string(data)

	assert.Contains(t, s, "Subject: =?utf-8?q?Citt=C3=A0?=")
	assert.Contains(t, s, "Content-Type: text/plain; charset=utf-8")
	assert.NotContains(t, s, "multipart")
	assert.Contains(t, s, "Message-ID: "+id)
	assert.Contains(t, s, "Date: Tue, 02 Jan 2024 03:04:05 +0000")
}
