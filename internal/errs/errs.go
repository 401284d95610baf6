// Package errs defines the error taxonomy shared by the ticket engine and
// its HTTP handlers. Commands fail with exactly one of these sentinels (or
// an error wrapping one), so callers can branch with errors.Is and handlers
// can map to a status code without inspecting strings.
package errs

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound covers both "does not exist" and "exists in another
	// clinic". The two cases are indistinguishable on purpose so that a
	// caller from another clinic cannot learn whether a ticket id is in use.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the actor lacks rights for the requested
	// transition: not the assignee, not online for a self-claim, or no
	// management rights for acting on someone else's ticket.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict means an optimistic claim lost the race. The caller
	// should re-read the ticket instead of retrying blindly.
	ErrConflict = errors.New("conflict")

	// ErrTicketClosed means a write was attempted against a terminal
	// ticket.
	ErrTicketClosed = errors.New("ticket closed")

	// ErrDeliveryFailed means the gateway could not deliver an outbound
	// message. It is recorded on the message after commit and never rolls
	// back the append.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// HTTPStatus maps a taxonomy error to its HTTP status code. Unknown errors
// map to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTicketClosed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrDeliveryFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
