// Package ses sends email through Amazon SES.
package ses

import (
	"context"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/provider"
	"github.com/foxzi/herald/internal/provider/awsapi"
)

// Driver is the registry name of this sender
const Driver = "ses"

// Client is the subset of *ses.Client used by the sender
type Client interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// NewClient creates an SES client
func NewClient(ctx context.Context, cfg awsapi.Config) (*ses.Client, error) {
	awsCfg, err := awsapi.Load(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return ses.NewFromConfig(awsCfg), nil
}

// Sender delivers email through SES.
//
// Options: "from", "reply_to", "configuration_set".
type Sender struct {
	client           Client
	from             string
	configurationSet string
	logger           *slog.Logger
}

// NewSender creates an SES sender
func NewSender(client Client, from, configurationSet string, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sender{client: client, from: from, configurationSet: configurationSet, logger: logger}
}

func (s *Sender) Name() string            { return Driver }
func (s *Sender) Channel() notify.Channel { return notify.ChannelEmail }

var _ notify.TargetChecker = (*Sender)(nil)

// CheckTarget validates the recipient address
func (s *Sender) CheckTarget(target string) error {
	_, err := provider.ValidateEmail(target)
	return err
}

// Send delivers one email
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
		from = s.from
	}

	body := &types.Body{}
	if p.BodyText != "" {
		body.Text = &types.Content{Data: aws.String(p.BodyText), Charset: aws.String("UTF-8")}
	}
	if p.BodyHTML != "" {
		body.Html = &types.Content{Data: aws.String(p.BodyHTML), Charset: aws.String("UTF-8")}
	}

	input := &ses.SendEmailInput{
		Source:      aws.String(from),
		Destination: &types.Destination{ToAddresses: []string{to}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(p.Subject), Charset: aws.String("UTF-8")},
			Body:    body,
		},
	}
	if replyTo := opts.String("reply_to"); replyTo != "" {
		input.ReplyToAddresses = []string{replyTo}
	}
	if cs := opts.String("configuration_set"); cs != "" {
		input.ConfigurationSetName = aws.String(cs)
	} else if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Warn("ses send failed", "error", err)
		return notify.FailedWithError(target, awsapi.Classify(err, "InvalidParameterValue"))
	}
	return notify.Succeeded(target, aws.ToString(out.MessageId))
}
