package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/foxzi/herald/internal/errs"
)

const maxBodyBytes = 64 << 10

// HTTPClient is satisfied by *http.Client
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns a client for provider APIs
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Response is a provider HTTP answer
type Response struct {
	Status int
	Body   []byte
}

// JSON decodes the body into v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Call performs req. A network failure returns a transport error; a
// non-2xx answer returns the response along with a provider_rejected error.
func Call(ctx context.Context, client HTTPClient, req *http.Request) (*Response, error) {
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errs.Transport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errs.Transport(fmt.Errorf("failed to read response: %w", err))
	}

	r := &Response{Status: resp.StatusCode, Body: body}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return r, errs.Rejected(resp.StatusCode, Truncate(string(body), 512), "provider returned status %d", resp.StatusCode)
	}
	return r, nil
}

// NewJSONRequest builds a POST request with a JSON body
func NewJSONRequest(ctx context.Context, url string, payload any) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Truncate shortens s to at most n bytes without splitting a rune
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
