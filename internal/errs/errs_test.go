package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), ""},
		{"validation", Validation("bad %s", "input"), KindValidation},
		{"wrapped not found", fmt.Errorf("failed to get: %w", NotFound("missing")), KindNotFound},
		{"deadline", context.DeadlineExceeded, KindTransport},
		{"canceled", fmt.Errorf("send: %w", context.Canceled), KindTransport},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, KindTransport},
		{"rejected", Rejected(500, "oops", "provider failed"), KindProviderRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	inner := errors.New("connection reset")
	err := Wrap(KindTransport, inner, "send to %s", "fcm")

	if err.Error() != "send to fcm: connection reset" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("expected wrapped error to be reachable")
	}
	if Transport(inner).Error() != "connection reset" {
		t.Errorf("unexpected transport message: %s", Transport(inner).Error())
	}
	if (&Error{Kind: KindConflict}).Error() != "conflict" {
		t.Error("expected kind as fallback message")
	}
}

func TestRejectedCarriesResponse(t *testing.T) {
	err := Rejected(429, `{"error":"quota"}`, "quota exceeded")
	if err.Status != 429 || err.Body != `{"error":"quota"}` {
		t.Errorf("unexpected status/body: %d %s", err.Status, err.Body)
	}
	if !Is(err, KindProviderRejected) {
		t.Error("expected provider_rejected kind")
	}
}
