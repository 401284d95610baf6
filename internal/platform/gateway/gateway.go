// Package gateway sends outbound WhatsApp messages through the provider's
// HTTP API. Delivery failures are classified as transient or permanent so the
// caller can decide whether a resend makes sense.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clinicore/clinicore/internal/errs"
)

// Sender delivers outbound messages to the WhatsApp provider.
type Sender interface {
	// SendText delivers a plain text message and returns the provider's
	// message ID on success.
	SendText(ctx context.Context, clinicID, toPhone, body string) (string, error)
	// SendMedia delivers a media message referenced by URL with an optional
	// caption and returns the provider's message ID on success.
	SendMedia(ctx context.Context, clinicID, toPhone, mediaURL, caption string) (string, error)
}

// Error describes a failed delivery. Transient errors (timeouts, 429, 5xx)
// may succeed on retry; permanent ones (4xx) will not.
type Error struct {
	StatusCode int
	Transient  bool
	Msg        string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway: %s (status %d)", e.Msg, e.StatusCode)
	}
	return "gateway: " + e.Msg
}

// Unwrap lets callers match the delivery failure sentinel with errors.Is.
func (e *Error) Unwrap() error {
	return errs.ErrDeliveryFailed
}

// Option configures an HTTPSender.
type Option func(*HTTPSender)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(s *HTTPSender) { s.httpClient = c }
}

// WithMaxRetries sets the number of retry attempts for transient failures.
func WithMaxRetries(n int) Option {
	return func(s *HTTPSender) { s.maxRetries = n }
}

// WithRetryDelays overrides the backoff schedule between attempts.
func WithRetryDelays(delays []time.Duration) Option {
	return func(s *HTTPSender) { s.retryDelays = delays }
}

// HTTPSender posts messages to the provider API, retrying transient failures
// with increasing delays.
type HTTPSender struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	maxRetries  int
	retryDelays []time.Duration
}

// NewHTTPSender creates a sender for the given provider base URL and API token.
func NewHTTPSender(baseURL, token string, opts ...Option) *HTTPSender {
	s := &HTTPSender{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries:  3,
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// outboundRequest is the JSON body posted to the provider's messages endpoint.
type outboundRequest struct {
	ClinicID string `json:"clinic_id"`
	To       string `json:"to"`
	Type     string `json:"type"`
	Body     string `json:"body,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// outboundResponse is the provider's reply on accepted messages.
type outboundResponse struct {
	MessageID string `json:"message_id"`
}

func (s *HTTPSender) SendText(ctx context.Context, clinicID, toPhone, body string) (string, error) {
	return s.send(ctx, outboundRequest{
		ClinicID: clinicID,
		To:       toPhone,
		Type:     "text",
		Body:     body,
	})
}

func (s *HTTPSender) SendMedia(ctx context.Context, clinicID, toPhone, mediaURL, caption string) (string, error) {
	return s.send(ctx, outboundRequest{
		ClinicID: clinicID,
		To:       toPhone,
		Type:     "media",
		MediaURL: mediaURL,
		Caption:  caption,
	})
}

// send posts the message, retrying transient failures. Permanent failures and
// exhausted retries return an *Error wrapping ErrDeliveryFailed.
func (s *HTTPSender) send(ctx context.Context, req outboundRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling outbound message: %w", err)
	}

	var lastErr *Error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryDelays[len(s.retryDelays)-1]
			if attempt-1 < len(s.retryDelays) {
				delay = s.retryDelays[attempt-1]
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		messageID, sendErr := s.attempt(ctx, payload)
		if sendErr == nil {
			return messageID, nil
		}
		lastErr = sendErr
		if !sendErr.Transient {
			return "", sendErr
		}
	}
	return "", lastErr
}

func (s *HTTPSender) attempt(ctx context.Context, payload []byte) (string, *Error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Msg: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		// Network errors and timeouts are worth retrying.
		return "", &Error{Transient: true, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out outboundResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", &Error{StatusCode: resp.StatusCode, Msg: "decoding provider response: " + err.Error()}
		}
		return out.MessageID, nil
	}

	// Read at most 1KB of error body for the message.
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return "", &Error{
		StatusCode: resp.StatusCode,
		Transient:  transient,
		Msg:        fmt.Sprintf("provider rejected message: %s", string(bodyBytes)),
	}
}

// NoopSender accepts every message without calling any provider. It is used
// in development and tests.
type NoopSender struct {
	counter int
}

// NewNoopSender creates a NoopSender.
func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (n *NoopSender) SendText(_ context.Context, _, _, _ string) (string, error) {
	n.counter++
	return fmt.Sprintf("noop-%d", n.counter), nil
}

func (n *NoopSender) SendMedia(_ context.Context, _, _, _, _ string) (string, error) {
	n.counter++
	return fmt.Sprintf("noop-%d", n.counter), nil
}
