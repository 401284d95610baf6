package websocket

import "context"

// Fanout publishes each event to every underlying publisher. It lets the
// ticket service feed the WebSocket hub and outbound webhooks through a
// single EventPublisher.
type Fanout []EventPublisher

// Publish sends the event to all publishers and returns the first error.
func (f Fanout) Publish(ctx context.Context, event Event) error {
	var firstErr error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
