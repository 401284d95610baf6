// Package websocket pushes live ticket updates to operator consoles. A
// console connects once, lands on its clinic's board feed, and can open or
// close per-ticket conversation feeds as the operator navigates.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types emitted by the ticket service.
const (
	EventTicketCreated   = "ticket.created"
	EventTicketUpdated   = "ticket.updated"
	EventMessageAppended = "message.appended"
)

// ClinicTicketsTopic returns the feed carrying every ticket and message
// event for a clinic. Consoles showing the board stay on this feed.
func ClinicTicketsTopic(clinicID string) string {
	return "clinic:" + clinicID + ":tickets"
}

// TicketTopic returns the feed scoped to a single conversation.
func TicketTopic(clinicID, ticketID string) string {
	return "clinic:" + clinicID + ":ticket:" + ticketID
}

// Event is one frame pushed to consoles.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	ClinicID  string          `json:"clinicId"`
	TicketID  string          `json:"ticketId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Command is an inbound frame from a console: follow or leave feeds.
type Command struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// EventPublisher is what the ticket service publishes through.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Session is one console connection. Frames are buffered on the send
// channel; a session that cannot keep up has frames dropped rather than
// stalling the board for everyone else.
type Session struct {
	ID      string
	send    chan []byte
	topics  map[string]struct{}
	dropped int64
}

// Receive returns the channel the write pump drains. It is closed when
// the session detaches.
func (s *Session) Receive() <-chan []byte {
	return s.send
}

// Dropped reports how many frames were discarded because the session's
// buffer was full.
func (s *Session) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

func (s *Session) push(frame []byte) {
	select {
	case s.send <- frame:
	default:
		atomic.AddInt64(&s.dropped, 1)
	}
}

// Hub routes events to the sessions following each feed.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	topics   map[string]map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[*Session]struct{}),
		topics:   make(map[string]map[*Session]struct{}),
	}
}

// Attach creates a session already following the given feeds.
func (h *Hub) Attach(id string, topics ...string) *Session {
	s := &Session{
		ID:     id,
		send:   make(chan []byte, 256),
		topics: make(map[string]struct{}, len(topics)),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[s] = struct{}{}
	for _, topic := range topics {
		h.follow(s, topic)
	}
	return s
}

// Detach removes the session from every feed and closes its channel.
// Detaching twice is safe.
func (h *Hub) Detach(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s]; !ok {
		return
	}
	for topic := range s.topics {
		h.leave(s, topic)
	}
	delete(h.sessions, s)
	close(s.send)
}

// Subscribe adds feeds to an attached session, as when an operator opens
// a conversation view.
func (h *Hub) Subscribe(s *Session, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.follow(s, topic)
	}
}

// Unsubscribe removes feeds from an attached session.
func (h *Hub) Unsubscribe(s *Session, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		h.leave(s, topic)
	}
}

// follow and leave require h.mu held.
func (h *Hub) follow(s *Session, topic string) {
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Session]struct{})
	}
	h.topics[topic][s] = struct{}{}
	s.topics[topic] = struct{}{}
}

func (h *Hub) leave(s *Session, topic string) {
	if followers, ok := h.topics[topic]; ok {
		delete(followers, s)
		if len(followers) == 0 {
			delete(h.topics, topic)
		}
	}
	delete(s.topics, topic)
}

// Handle applies a console command.
func (h *Hub) Handle(s *Session, cmd Command) {
	switch cmd.Action {
	case "subscribe":
		h.Subscribe(s, cmd.Topics)
	case "unsubscribe":
		h.Unsubscribe(s, cmd.Topics)
	}
}

// Broadcast sends the event to every session following its topic. The
// frame is marshalled once and shared.
func (h *Hub) Broadcast(topic string, event Event) {
	frame, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.topics[topic] {
		s.push(frame)
	}
}

// BroadcastAll sends the event to every attached session regardless of
// feeds, for clinic-wide announcements.
func (h *Hub) BroadcastAll(event Event) {
	frame, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		s.push(frame)
	}
}

// Publish implements EventPublisher.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.Broadcast(event.Topic, event)
	return nil
}

// SessionCount returns the number of attached sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Audience returns how many sessions follow a feed.
func (h *Hub) Audience(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
