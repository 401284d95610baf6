package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestManager(client *http.Client) *Manager {
	return NewManager(NewMemoryStore(), WithHTTPClient(client))
}

func mustSubscribe(t *testing.T, m *Manager, url, clinicID string, events []string) *Subscription {
	t.Helper()
	sub, err := m.Subscribe(context.Background(), clinicID, url, "test-secret", events)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return sub
}

func testEvent(clinicID string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      "ticket.created",
		Entity:    "ticket",
		EntityID:  "t-1",
		ClinicID:  clinicID,
		Payload:   json.RawMessage(`{"status":"pending"}`),
		Timestamp: time.Now(),
	}
}

func TestManager_Subscribe(t *testing.T) {
	m := NewManager(NewMemoryStore())

	sub, err := m.Subscribe(context.Background(), "clinic-1", "https://crm.example.com/hook", "s3cret", []string{"ticket.*"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.ID == uuid.Nil {
		t.Error("expected a generated ID")
	}
	if !sub.Active {
		t.Error("new subscriptions should start active")
	}
	if sub.Secret != "s3cret" {
		t.Errorf("expected provided secret to be kept, got %q", sub.Secret)
	}

	stored, err := m.store.GetSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("subscription not stored: %v", err)
	}
	if stored.URL != "https://crm.example.com/hook" {
		t.Errorf("unexpected stored URL %q", stored.URL)
	}
}

func TestManager_Subscribe_GeneratesSecret(t *testing.T) {
	m := NewManager(NewMemoryStore())

	sub, err := m.Subscribe(context.Background(), "clinic-1", "https://crm.example.com/hook", "", []string{"*"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.Secret) != 64 {
		t.Errorf("expected a 64-char hex secret, got %d chars", len(sub.Secret))
	}
}

func TestManager_Subscribe_ValidatesURL(t *testing.T) {
	m := NewManager(NewMemoryStore())

	cases := []string{"", "ftp://example.com/hook", "not a url at all\x00"}
	for _, rawURL := range cases {
		if _, err := m.Subscribe(context.Background(), "clinic-1", rawURL, "", []string{"*"}); err == nil {
			t.Errorf("expected error for URL %q", rawURL)
		}
	}
}

func TestManager_Subscribe_RequiresEvents(t *testing.T) {
	m := NewManager(NewMemoryStore())

	if _, err := m.Subscribe(context.Background(), "clinic-1", "https://example.com/hook", "", nil); err == nil {
		t.Error("expected error for empty event list")
	}
}

func TestManager_SetActive(t *testing.T) {
	m := NewManager(NewMemoryStore())
	sub := mustSubscribe(t, m, "https://example.com/hook", "clinic-1", []string{"*"})

	paused, err := m.SetActive(context.Background(), sub.ID, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paused.Active {
		t.Error("expected subscription to be paused")
	}

	resumed, err := m.SetActive(context.Background(), sub.ID, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resumed.Active {
		t.Error("expected subscription to be active again")
	}
}

func TestManager_SetActive_NotFound(t *testing.T) {
	m := NewManager(NewMemoryStore())
	if _, err := m.SetActive(context.Background(), uuid.New(), false); err == nil {
		t.Error("expected error for unknown subscription")
	}
}

func TestSignPayload(t *testing.T) {
	sig := SignPayload([]byte(`{"hello":"world"}`), "secret")
	if len(sig) != 64 {
		t.Errorf("expected 64-char hex signature, got %d chars", len(sig))
	}
	if sig != SignPayload([]byte(`{"hello":"world"}`), "secret") {
		t.Error("signature should be deterministic")
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"t-1"}`)
	sig := SignPayload(payload, "secret")

	if !VerifySignature(payload, "secret", sig) {
		t.Error("expected valid signature to verify")
	}
	if VerifySignature(payload, "secret", "deadbeef") {
		t.Error("expected bogus signature to fail")
	}
	if VerifySignature(payload, "wrong-secret", sig) {
		t.Error("expected wrong secret to fail")
	}
}

func TestMatchEvent(t *testing.T) {
	cases := []struct {
		pattern, eventType string
		want               bool
	}{
		{"ticket.created", "ticket.created", true},
		{"ticket.created", "ticket.updated", false},
		{"ticket.*", "ticket.created", true},
		{"ticket.*", "message.appended", false},
		{"*.created", "ticket.created", true},
		{"*.created", "ticket.updated", false},
	}
	for _, tc := range cases {
		if got := matchEvent(tc.pattern, tc.eventType); got != tc.want {
			t.Errorf("matchEvent(%q, %q) = %v, want %v", tc.pattern, tc.eventType, got, tc.want)
		}
	}
}

func TestManager_Deliver(t *testing.T) {
	var received Event
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	mustSubscribe(t, m, ts.URL, "clinic-1", []string{"ticket.*"})

	deliveries := m.Deliver(context.Background(), testEvent("clinic-1"))
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	if !deliveries[0].OK {
		t.Errorf("expected successful delivery, got error %q", deliveries[0].Error)
	}
	if received.Type != "ticket.created" {
		t.Errorf("expected event type 'ticket.created', got %q", received.Type)
	}
}

func TestManager_Deliver_FiltersByEventAndClinic(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	mustSubscribe(t, m, ts.URL, "clinic-1", []string{"message.appended"})
	mustSubscribe(t, m, ts.URL, "clinic-2", []string{"ticket.*"})

	// clinic-1's only subscription wants messages, clinic-2's belongs to
	// another clinic. Neither should receive a clinic-1 ticket event.
	if got := m.Deliver(context.Background(), testEvent("clinic-1")); len(got) != 0 {
		t.Errorf("expected 0 deliveries, got %d", len(got))
	}
}

func TestManager_Deliver_PausedSkipped(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	sub := mustSubscribe(t, m, ts.URL, "clinic-1", []string{"*"})
	if _, err := m.SetActive(context.Background(), sub.ID, false); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if got := m.Deliver(context.Background(), testEvent("clinic-1")); len(got) != 0 {
		t.Errorf("expected paused subscription to be skipped, got %d deliveries", len(got))
	}
}

func TestManager_Deliver_Headers(t *testing.T) {
	var sigHeader, idHeader, tsHeader string
	var body []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sigHeader = r.Header.Get("X-Webhook-Signature")
		idHeader = r.Header.Get("X-Webhook-ID")
		tsHeader = r.Header.Get("X-Webhook-Timestamp")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	sub := mustSubscribe(t, m, ts.URL, "clinic-1", []string{"*"})

	m.Deliver(context.Background(), testEvent("clinic-1"))

	if !strings.HasPrefix(sigHeader, "sha256=") {
		t.Fatalf("expected sha256= signature header, got %q", sigHeader)
	}
	if !VerifySignature(body, sub.Secret, strings.TrimPrefix(sigHeader, "sha256=")) {
		t.Error("signature header does not verify against the body")
	}
	if idHeader != sub.ID.String() {
		t.Errorf("expected subscription ID header %q, got %q", sub.ID, idHeader)
	}
	if _, err := time.Parse(time.RFC3339, tsHeader); err != nil {
		t.Errorf("timestamp header %q is not RFC3339: %v", tsHeader, err)
	}
}

func TestManager_Deliver_RecordsFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	sub := mustSubscribe(t, m, ts.URL, "clinic-1", []string{"*"})

	deliveries := m.Deliver(context.Background(), testEvent("clinic-1"))
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(deliveries))
	}
	d := deliveries[0]
	if d.OK {
		t.Error("expected delivery to be marked failed")
	}
	if d.StatusCode != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", d.StatusCode)
	}
	if !strings.Contains(d.ResponseBody, "nope") {
		t.Errorf("expected response body to be captured, got %q", d.ResponseBody)
	}

	logged, total, err := m.DeliveryLog(context.Background(), sub.ID, 10, 0)
	if err != nil {
		t.Fatalf("delivery log: %v", err)
	}
	if total != 1 || len(logged) != 1 {
		t.Fatalf("expected 1 logged attempt, got %d", total)
	}
}

func TestManager_Deliver_UnreachableEndpoint(t *testing.T) {
	m := NewManager(NewMemoryStore(), WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	mustSubscribe(t, m, "http://127.0.0.1:1/hook", "clinic-1", []string{"*"})

	deliveries := m.Deliver(context.Background(), testEvent("clinic-1"))
	if len(deliveries) != 1 {
		t.Fatalf("expected 1 recorded attempt, got %d", len(deliveries))
	}
	if deliveries[0].OK || deliveries[0].Error == "" {
		t.Error("expected connection error to be recorded")
	}
}

func TestManager_Replay(t *testing.T) {
	var attempts int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	mustSubscribe(t, m, ts.URL, "clinic-1", []string{"*"})

	first := m.Deliver(context.Background(), testEvent("clinic-1"))[0]
	if first.OK {
		t.Fatal("expected first attempt to fail")
	}

	replayed, err := m.Replay(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replayed.OK {
		t.Errorf("expected replay to succeed, got error %q", replayed.Error)
	}
	if replayed.Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", replayed.Attempt)
	}
	if replayed.EventID != first.EventID {
		t.Error("replay should reuse the original event")
	}
}

func TestManager_Replay_NotFound(t *testing.T) {
	m := NewManager(NewMemoryStore())
	if _, err := m.Replay(context.Background(), uuid.New()); err == nil {
		t.Error("expected error for unknown delivery")
	}
}

func TestManager_Ping(t *testing.T) {
	var received Event
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	sub := mustSubscribe(t, m, ts.URL, "clinic-1", []string{"ticket.*"})

	d, err := m.Ping(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !d.OK {
		t.Errorf("expected test delivery to succeed, got %q", d.Error)
	}
	if received.Type != "webhook.test" {
		t.Errorf("expected synthetic event type 'webhook.test', got %q", received.Type)
	}
}

func TestManager_DeliveryLog_Paginates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	sub := mustSubscribe(t, m, ts.URL, "clinic-1", []string{"*"})
	for i := 0; i < 5; i++ {
		m.Deliver(context.Background(), testEvent("clinic-1"))
	}

	page1, total, err := m.DeliveryLog(context.Background(), sub.ID, 2, 0)
	if err != nil {
		t.Fatalf("delivery log: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(page1) != 2 {
		t.Errorf("expected page of 2, got %d", len(page1))
	}

	page3, _, _ := m.DeliveryLog(context.Background(), sub.ID, 2, 4)
	if len(page3) != 1 {
		t.Errorf("expected last page of 1, got %d", len(page3))
	}
}

func TestManager_ConcurrentDeliver(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	sub := mustSubscribe(t, m, ts.URL, "clinic-1", []string{"*"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Deliver(context.Background(), testEvent("clinic-1"))
		}()
	}
	wg.Wait()

	_, total, err := m.DeliveryLog(context.Background(), sub.ID, 100, 0)
	if err != nil {
		t.Fatalf("delivery log: %v", err)
	}
	if total != 10 {
		t.Errorf("expected 10 recorded deliveries, got %d", total)
	}
}

func TestMemoryStore_SubscriptionNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetSubscription(context.Background(), uuid.New()); err == nil {
		t.Error("expected not-found error")
	}
	if err := s.DeleteSubscription(context.Background(), uuid.New()); err == nil {
		t.Error("expected not-found error")
	}
}

// -- Handler --

func handlerRequest(t *testing.T, h *Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e.Group("/webhooks"))

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateSubscription(t *testing.T) {
	m := NewManager(NewMemoryStore())
	h := NewHandler(m)

	rec := handlerRequest(t, h, http.MethodPost, "/webhooks",
		`{"url":"https://crm.example.com/hook","events":["ticket.*"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}

	var sub Subscription
	if err := json.Unmarshal(rec.Body.Bytes(), &sub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sub.Secret == "" {
		t.Error("creation response should include the generated secret")
	}
}

func TestHandler_CreateSubscription_BadURL(t *testing.T) {
	h := NewHandler(NewManager(NewMemoryStore()))

	rec := handlerRequest(t, h, http.MethodPost, "/webhooks",
		`{"url":"ftp://example.com","events":["*"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_ListSubscriptions_HidesSecret(t *testing.T) {
	m := NewManager(NewMemoryStore())
	mustSubscribe(t, m, "https://example.com/hook", "", []string{"*"})
	h := NewHandler(m)

	rec := handlerRequest(t, h, http.MethodGet, "/webhooks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "test-secret") {
		t.Error("list response must not expose secrets")
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected paginated response with total 1, got %s", rec.Body)
	}
}

func TestHandler_GetSubscription_NotFound(t *testing.T) {
	h := NewHandler(NewManager(NewMemoryStore()))

	rec := handlerRequest(t, h, http.MethodGet, "/webhooks/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_PauseResume(t *testing.T) {
	m := NewManager(NewMemoryStore())
	sub := mustSubscribe(t, m, "https://example.com/hook", "", []string{"*"})
	h := NewHandler(m)

	rec := handlerRequest(t, h, http.MethodPost, fmt.Sprintf("/webhooks/%s/pause", sub.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"active":false`) {
		t.Errorf("expected paused subscription, got %s", rec.Body)
	}

	rec = handlerRequest(t, h, http.MethodPost, fmt.Sprintf("/webhooks/%s/resume", sub.ID), "")
	if !strings.Contains(rec.Body.String(), `"active":true`) {
		t.Errorf("expected resumed subscription, got %s", rec.Body)
	}
}

func TestHandler_TestSubscription(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	sub := mustSubscribe(t, m, ts.URL, "", []string{"*"})
	h := NewHandler(m)

	rec := handlerRequest(t, h, http.MethodPost, fmt.Sprintf("/webhooks/%s/test", sub.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Errorf("expected successful test delivery, got %s", rec.Body)
	}
}

func TestHandler_ListDeliveriesAndReplay(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	sub := mustSubscribe(t, m, ts.URL, "", []string{"*"})
	d := m.Deliver(context.Background(), testEvent(""))[0]
	h := NewHandler(m)

	rec := handlerRequest(t, h, http.MethodGet, fmt.Sprintf("/webhooks/%s/deliveries", sub.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), d.ID.String()) {
		t.Errorf("expected delivery %s in log, got %s", d.ID, rec.Body)
	}

	rec = handlerRequest(t, h, http.MethodPost, fmt.Sprintf("/webhooks/deliveries/%s/replay", d.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"attempt":2`) {
		t.Errorf("expected replay attempt 2, got %s", rec.Body)
	}
}
