package telegram

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
	var got sendMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		got = sendMessage{}
		json.NewDecoder(r.Body).Decode(&got)

		switch got.ChatID {
		case "404":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
		case "403":
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
		case "429":
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5"}`))
		default:
			w.Write([]byte(`{"ok":true,"result":{"message_id":77}}`))
		}
	}))
	defer srv.Close()

	sender := NewSender(Config{BaseURL: srv.URL, BotToken: "TOKEN"}, nil, nil)
	ctx := context.Background()

	result := sender.Send(ctx, "123456", &notify.Payload{BodyHTML: "<b>Hi</b>"}, notify.Options{"silent": true})
	require.True(t, result.Success, result.ErrorMessage)
	assert.Equal(t, "77", result.ProviderMessageID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.Equal(t, "<b>Hi</b>", got.Text)
	assert.True(t, got.DisableNotification)

	result = sender.Send(ctx, "@herald_news", &notify.Payload{BodyText: "plain"}, nil)
	require.True(t, result.Success)
	assert.Empty(t, got.ParseMode)
	assert.False(t, got.DisableNotification)

	for _, chat := range []string{"404", "403"} {
		result = sender.Send(ctx, chat, &notify.Payload{BodyText: "x"}, nil)
		assert.Equal(t, errs.KindInvalidTarget, result.ErrorKind, chat)
	}

	result = sender.Send(ctx, "429", &notify.Payload{BodyText: "x"}, nil)
	assert.Equal(t, errs.KindProviderRejected, result.ErrorKind)
	assert.True(t, result.Retryable())

	result = sender.Send(ctx, "bad chat", &notify.Payload{BodyText: "x"}, nil)
	assert.Equal(t, errs.KindInvalidTarget, result.ErrorKind)
}
