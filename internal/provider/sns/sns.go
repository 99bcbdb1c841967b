// Package sns sends SMS through Amazon SNS direct publish.
package sns

import (
	"context"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/foxzi/herald/internal/notify"
	"github.com/foxzi/herald/internal/provider"
	"github.com/foxzi/herald/internal/provider/awsapi"
)

// Driver is the registry name of this sender
const Driver = "sns"

// Client is the subset of *sns.Client used by the sender
type Client interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// NewClient creates an SNS client
func NewClient(ctx context.Context, cfg awsapi.Config) (*sns.Client, error) {
	awsCfg, err := awsapi.Load(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(awsCfg), nil
}

// Sender publishes SMS to phone numbers.
//
// Options: "sender" sets AWS.SNS.SMS.SenderID, "sms_type"
// (Transactional|Promotional).
type Sender struct {
	client   Client
	senderID string
	smsType  string
	logger   *slog.Logger
}

// NewSender creates an SNS sender
func NewSender(client Client, senderID, smsType string, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if smsType == "" {
		smsType = "Transactional"
	}
	return &Sender{client: client, senderID: senderID, smsType: smsType, logger: logger}
}

func (s *Sender) Name() string            { return Driver }
func (s *Sender) Channel() notify.Channel { return notify.ChannelSMS }

var _ notify.TargetChecker = (*Sender)(nil)

// CheckTarget validates the phone number
func (s *Sender) CheckTarget(target string) error {
	_, err := provider.NormalizePhone(target)
	return err
}

// Send publishes the text body to one phone number
func (s *Sender) Send(ctx context.Context, target string, p *notify.Payload, opts notify.Options) notify.Result {
	phone, err := provider.NormalizePhone(target)
	if err != nil {
		return notify.FailedWithError(target, err)
	}
	if p.Text() == "" {
		return notify.Refused(target, "sms text is empty")
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String(s.smsType)},
	}
	if t := opts.String("sms_type"); t != "" {
		attrs["AWS.SNS.SMS.SMSType"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(t)}
	}
	senderID := opts.String("sender")
	if senderID == "" {
		senderID = s.senderID
	}
	if senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(senderID)}
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phone),
		Message:           aws.String(p.Text()),
		MessageAttributes: attrs,
	})
	if err != nil {
		s.logger.Warn("sns publish failed", "error", err)
		return notify.FailedWithError(target, awsapi.Classify(err, "InvalidParameter", "InvalidParameterValue", "OptedOut"))
	}
	return notify.Succeeded(target, aws.ToString(out.MessageId))
}
