package netfun

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/herald/internal/errs"
	"github.com/foxzi/herald/internal/notify"
)

func TestSender_Send(t *testing.T) {
	var got sendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		got = sendRequest{}
		json.NewDecoder(r.Body).Decode(&got)

		switch got.Destinations[0].Number {
		case "+390000000000":
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"number not valid","code":"INVALID_NUMBER"}`))
		case "+391111111111":
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`upstream down`))
		default:
			w.Write([]byte(`{"id":"nf-1","status":"queued"}`))
		}
	}))
	defer srv.Close()

	sender := NewSender(Config{Endpoint: srv.URL, APIToken: "secret", SenderID: "Herald"}, nil, nil)
	ctx := context.Background()
	payload := &notify.Payload{BodyText: "Hi Mario"}

	result := sender.Send(ctx, "+39 123 456 7890", payload, nil)
	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, "nf-1", result.ProviderMessageID)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "Herald", got.Sender)
	assert.Equal(t, "Hi Mario", got.Text)
	assert.Equal(t, "+391234567890", got.Destinations[0].Number)

	result = sender.Send(ctx, "+390000000000", payload, notify.Options{"sender": "Promo"})
	assert.Equal(t, errs.KindInvalidTarget, result.ErrorKind)
	assert.Equal(t, "Promo", got.Sender)

	result = sender.Send(ctx, "+391111111111", payload, nil)
	assert.Equal(t, errs.KindProviderRejected, result.ErrorKind)
	assert.Equal(t, http.StatusBadGateway, result.StatusCode)
	assert.True(t, result.Retryable())
}

func TestSender_RejectsBeforeNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()

	sender := NewSender(Config{Endpoint: srv.URL}, nil, nil)

	result := sender.Send(context.Background(), "not a phone", &notify.Payload{BodyText: "x"}, nil)
	assert.Equal(t, errs.KindInvalidTarget, result.ErrorKind)

	result = sender.Send(context.Background(), "+391234567890", &notify.Payload{}, nil)
	assert.Equal(t, errs.KindProviderRejected, result.ErrorKind)
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
	assert.False(t, result.Retryable())

	assert.Zero(t, calls)
}
