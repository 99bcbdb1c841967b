package notify

import (
	"errors"
	"testing"

	"github.com/foxzi/herald/internal/errs"
)

func TestParseChannel(t *testing.T) {
	c, err := ParseChannel(" SMS ")
	if err != nil {
		t.Fatalf("ParseChannel failed: %v", err)
	}
	if c != ChannelSMS {
		t.Errorf("expected sms, got %s", c)
	}

	if _, err := ParseChannel("fax"); !errs.Is(err, errs.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestOptions(t *testing.T) {
	opts := Options{
		"ttl":      float64(60),
		"priority": "high",
		"silent":   "true",
		"count":    "3",
		"data":     map[string]any{"k": "v"},
	}

	if opts.Int("ttl", 0) != 60 {
		t.Errorf("expected ttl 60, got %d", opts.Int("ttl", 0))
	}
	if opts.Int("count", 0) != 3 {
		t.Errorf("expected count 3")
	}
	if opts.Int("missing", 7) != 7 {
		t.Errorf("expected default")
	}
	if opts.String("priority") != "high" {
		t.Errorf("unexpected priority: %s", opts.String("priority"))
	}
	if opts.String("ttl") != "60" {
		t.Errorf("unexpected ttl string: %s", opts.String("ttl"))
	}
	if !opts.Bool("silent") {
		t.Error("expected silent")
	}
	if opts.Map("data")["k"] != "v" {
		t.Error("expected nested map")
	}
}

func TestResultRetryable(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   bool
	}{
		{"success", Succeeded("a", "id"), false},
		{"transport", Failed("a", errs.KindTransport, "timeout"), true},
		{"invalid target", Failed("a", errs.KindInvalidTarget, "bad"), false},
		{"unsupported", Failed("a", errs.KindUnsupportedDriver, "x"), false},
		{"rejected 400", Result{ErrorKind: errs.KindProviderRejected, StatusCode: 400}, false},
		{"rejected 429", Result{ErrorKind: errs.KindProviderRejected, StatusCode: 429}, true},
		{"rejected 503", Result{ErrorKind: errs.KindProviderRejected, StatusCode: 503}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailedWithError(t *testing.T) {
	r := FailedWithError("t1", errs.Rejected(502, "bad gateway", "upstream failed"))
	if r.ErrorKind != errs.KindProviderRejected || r.StatusCode != 502 {
		t.Errorf("unexpected result: %+v", r)
	}

	r = FailedWithError("t1", errors.New("something odd"))
	if r.ErrorKind != errs.KindProviderRejected {
		t.Errorf("unclassified errors should be provider_rejected, got %s", r.ErrorKind)
	}
}
