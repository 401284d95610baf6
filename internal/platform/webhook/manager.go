// Package webhook fans the ticket event stream (ticket.created,
// ticket.updated, message.appended) out to subscriber endpoints such as
// CRMs and BI pipelines. Payloads are signed with HMAC-SHA256 and every
// attempt is logged so failed deliveries can be replayed.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one ticket-stream occurrence on its way out to subscribers.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entity_id"`
	ClinicID  string          `json:"clinic_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex signature in constant time. Subscribers use
// the same scheme to authenticate deliveries.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// matchEvent reports whether an event type satisfies a subscription
// pattern: exact, "entity.*" or "*.action".
func matchEvent(pattern, eventType string) bool {
	switch {
	case pattern == eventType:
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(eventType, pattern[1:])
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Manager owns subscription registration and event delivery.
type Manager struct {
	store  Store
	client *http.Client
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient overrides the delivery HTTP client.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) { m.client = c }
}

func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Subscribe validates and stores a new subscription. An empty secret gets
// a random one; the secret is only ever returned from this call.
func (m *Manager) Subscribe(ctx context.Context, clinicID, rawURL, secret string, events []string) (*Subscription, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("at least one event pattern is required")
	}
	if secret == "" {
		var err error
		if secret, err = newSecret(); err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
	}

	sub := &Subscription{
		ID:        uuid.New(),
		ClinicID:  clinicID,
		URL:       rawURL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := m.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// SetActive pauses or resumes a subscription.
func (m *Manager) SetActive(ctx context.Context, id uuid.UUID, active bool) (*Subscription, error) {
	sub, err := m.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.Active = active
	if err := m.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Deliver posts the event to every active, matching subscription of the
// event's clinic and returns the recorded attempts.
func (m *Manager) Deliver(ctx context.Context, event Event) []*Delivery {
	subs, _, err := m.store.ListSubscriptions(ctx, event.ClinicID, 1000, 0)
	if err != nil {
		return nil
	}

	var out []*Delivery
	for _, sub := range subs {
		if !sub.Active || !sub.subscribedTo(event.Type) {
			continue
		}
		out = append(out, m.deliverTo(ctx, sub, event, 1))
	}
	return out
}

// deliverTo signs and posts one event to one subscription, recording the
// attempt whatever the outcome.
func (m *Manager) deliverTo(ctx context.Context, sub *Subscription, event Event, attemptNo int) *Delivery {
	payload, _ := json.Marshal(event)
	sig := SignPayload(payload, sub.Secret)
	now := time.Now()

	d := &Delivery{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		EventID:        event.ID,
		EventType:      event.Type,
		Payload:        payload,
		Signature:      sig,
		Attempt:        attemptNo,
		CreatedAt:      now,
	}
	defer m.store.RecordDelivery(ctx, d)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		d.Error = err.Error()
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+sig)
	req.Header.Set("X-Webhook-ID", sub.ID.String())
	req.Header.Set("X-Webhook-Timestamp", now.UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := m.client.Do(req)
	d.Elapsed = time.Since(start)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	defer resp.Body.Close()

	d.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	d.ResponseBody = string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.OK = true
	} else {
		d.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return d
}

// Replay re-posts a previously recorded delivery with a bumped attempt
// counter. The original payload is reused byte for byte so the signature
// the subscriber sees stays consistent with the event body.
func (m *Manager) Replay(ctx context.Context, deliveryID uuid.UUID) (*Delivery, error) {
	original, err := m.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	sub, err := m.store.GetSubscription(ctx, original.SubscriptionID)
	if err != nil {
		return nil, err
	}

	var event Event
	if err := json.Unmarshal(original.Payload, &event); err != nil {
		return nil, fmt.Errorf("unmarshal original payload: %w", err)
	}
	return m.deliverTo(ctx, sub, event, original.Attempt+1), nil
}

// Ping sends a synthetic event so a subscriber can verify its endpoint
// and signature handling before real traffic arrives.
func (m *Manager) Ping(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	sub, err := m.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	event := Event{
		ID:        uuid.New().String(),
		Type:      "webhook.test",
		Entity:    "webhook",
		EntityID:  sub.ID.String(),
		ClinicID:  sub.ClinicID,
		Payload:   json.RawMessage(`{"test":true}`),
		Timestamp: time.Now(),
	}
	return m.deliverTo(ctx, sub, event, 1), nil
}

// DeliveryLog returns the paginated delivery attempts of one subscription.
func (m *Manager) DeliveryLog(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]*Delivery, int, error) {
	return m.store.ListDeliveries(ctx, subscriptionID, limit, offset)
}
