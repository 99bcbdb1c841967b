package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
)

type stubSender struct {
	name    string
	channel notify.Channel
}

func (s *stubSender) Name() string            { return s.name }
func (s *stubSender) Channel() notify.Channel { return s.channel }
func (s *stubSender) Send(ctx context.Context, target string, p *notify.Payload, o notify.Options) notify.Result {
	return notify.Succeeded(target, s.name+"-id")
}

type taggingSender struct {
	notify.Sender
}

func TestRegistry_Resolve(t *testing.T) {
	r, err := NewRegistry(
		&stubSender{name: "netfun", channel: notify.ChannelSMS},
		&stubSender{name: "fcm", channel: notify.ChannelPush},
	)
	require.NoError(t, err)

	s, err := r.Resolve("netfun")
	require.NoError(t, err)
	assert.Equal(t, notify.ChannelSMS, s.Channel())

	_, err = r.Resolve("doesnotexist")
	assert.True(t, errs.Is(err, errs.KindUnsupportedDriver))

	_, err = r.Resolve("")
	assert.True(t, errs.Is(err, errs.KindUnsupportedDriver))
}

func TestRegistry_RegisterRejectsDuplicatesAndBadChannels(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	require.NoError(t, r.Register(&stubSender{name: "twilio", channel: notify.ChannelSMS}))
	assert.True(t, errs.Is(r.Register(&stubSender{name: "twilio", channel: notify.ChannelSMS}), errs.KindConflict))
	assert.True(t, errs.Is(r.Register(&stubSender{name: "fax", channel: "fax"}), errs.KindValidation))
	assert.True(t, errs.Is(r.Register(&stubSender{channel: notify.ChannelSMS}), errs.KindValidation))
}

func TestRegistry_DriversAndWrap(t *testing.T) {
	r, err := NewRegistry(
		&stubSender{name: "telegram", channel: notify.ChannelTelegram},
		&stubSender{name: "apns", channel: notify.ChannelPush},
	)
	require.NoError(t, err)

	assert.Equal(t, []Driver{
		{Name: "apns", Channel: notify.ChannelPush},
		{Name: "telegram", Channel: notify.ChannelTelegram},
	}, r.Drivers())

	r.Wrap(func(s notify.Sender) notify.Sender { return &taggingSender{s} })
	s, err := r.Resolve("apns")
	require.NoError(t, err)
	_, ok := s.(*taggingSender)
	assert.True(t, ok)
	assert.Equal(t, "apns", s.Name())
}
