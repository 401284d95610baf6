package webhook

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/platform/websocket"
)

// Publisher adapts the Manager to the realtime event stream so every
// event broadcast to WebSocket clients also fans out to registered webhook
// endpoints.
type Publisher struct {
	manager *Manager
}

// NewPublisher creates a Publisher backed by the given manager.
func NewPublisher(m *Manager) *Publisher {
	return &Publisher{manager: m}
}

// Publish forwards the event to all subscribed endpoints for the clinic.
// The service publishes each event once per topic; only the clinic-wide copy
// is delivered so endpoints see each event exactly once. Delivery runs in
// the background because subscriber endpoints must not add request latency.
func (p *Publisher) Publish(_ context.Context, ev websocket.Event) error {
	if ev.Topic != websocket.ClinicTicketsTopic(ev.ClinicID) {
		return nil
	}
	entity := ev.Type
	if i := strings.Index(entity, "."); i > 0 {
		entity = entity[:i]
	}
	event := Event{
		ID:        uuid.New().String(),
		Type:      ev.Type,
		Entity:    entity,
		EntityID:  ev.TicketID,
		ClinicID:  ev.ClinicID,
		Payload:   ev.Data,
		Timestamp: ev.Timestamp,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		p.manager.Deliver(ctx, event)
	}()
	return nil
}
