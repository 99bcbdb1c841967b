package whatsapp

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
	var got message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v19.0/PNID/messages" || r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		got = message{}
		json.NewDecoder(r.Body).Decode(&got)
		if got.To == "15550000000" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"Recipient phone number not in allowed list","code":131030}}`))
			return
		}
		w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	sender := NewSender(Config{BaseURL: srv.URL, PhoneNumberID: "PNID", AccessToken: "tok"}, nil, nil)
	ctx := context.Background()

	result := sender.Send(ctx, "+391234567890", &notify.Payload{BodyText: "Ciao"}, nil)
	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, "wamid.1", result.ProviderMessageID)
	assert.Equal(t, "391234567890", got.To)
	assert.Equal(t, "text", got.Type)
	assert.Equal(t, "Ciao", got.Text.Body)

	result = sender.Send(ctx, "+391234567890", &notify.Payload{Locale: "it-IT"}, notify.Options{
		"template":        "order_update",
		"template_params": []any{"Mario", 42},
	})
	require.True(t, result.Success, result.ErrorMessage)
	require.NotNil(t, got.Template)
	assert.Nil(t, got.Text)
	assert.Equal(t, "order_update", got.Template.Name)
	assert.Equal(t, "it_IT", got.Template.Language.Code)
	assert.Equal(t, []parameter{{Type: "text", Text: "Mario"}, {Type: "text", Text: "42"}}, got.Template.Components[0].Parameters)

	result = sender.Send(ctx, "+15550000000", &notify.Payload{BodyText: "x"}, nil)
	assert.Equal(t, errs.KindInvalidTarget, result.ErrorKind)
}
