package ses

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ses.SendEmailOutput), args.Error(1)
}

func TestSender_Send(t *testing.T) {
	client := new(mockClient)
	var input *ses.SendEmailInput
	client.On("SendEmail", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { input = args.Get(1).(*ses.SendEmailInput) }).
		Return(&ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil)

	sender := NewSender(client, "noreply@example.com", "tracking", nil)
	result := sender.Send(context.Background(), "user@example.com", &notify.Payload{
		Subject:  "Welcome",
		BodyHTML: "<p>Hi</p>",
		BodyText: "Hi",
	}, notify.Options{"reply_to": "support@example.com"})

	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, "ses-1", result.ProviderMessageID)
	require.NotNil(t, input)
	assert.Equal(t, "noreply@example.com", aws.ToString(input.Source))
	assert.Equal(t, []string{"user@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, "Welcome", aws.ToString(input.Message.Subject.Data))
	assert.Equal(t, "<p>Hi</p>", aws.ToString(input.Message.Body.Html.Data))
	assert.Equal(t, "Hi", aws.ToString(input.Message.Body.Text.Data))
	assert.Equal(t, []string{"support@example.com"}, input.ReplyToAddresses)
	assert.Equal(t, "tracking", aws.ToString(input.ConfigurationSetName))
}

func TestSender_Errors(t *testing.T) {
	client := new(mockClient)
	client.On("SendEmail", mock.Anything, mock.Anything).
		Return(nil, &smithy.GenericAPIError{Code: "MessageRejected", Message: "Email address is not verified", Fault: smithy.FaultClient})

	sender := NewSender(client, "noreply@example.com", "", nil)

	result := sender.Send(context.Background(), "user@example.com", &notify.Payload{BodyText: "x"}, nil)
	assert.Equal(t, errs.KindProviderRejected, result.ErrorKind)
	assert.Equal(t, 400, result.StatusCode)

	result = sender.Send(context.Background(), "nope", &notify.Payload{BodyText: "x"}, nil)
	assert.Equal(t, errs.KindInvalidTarget, result.ErrorKind)
	client.AssertNumberOfCalls(t, "SendEmail", 1)
}
