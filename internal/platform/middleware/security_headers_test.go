package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func securedServe(handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tickets", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, SecurityHeaders()(handler)(c)
}

func TestSecurityHeaders_LockedDownForConversationData(t *testing.T) {
	rec, err := securedServe(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for header, want := range apiHeaders {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("header %s: got %q, want %q", header, got, want)
		}
	}

	// The two that matter most for patient message history: responses
	// must never be cached and never framed.
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("conversation responses must not be cacheable")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("console responses must not be frameable")
	}
}

func TestSecurityHeaders_SetBeforeHandlerOutcome(t *testing.T) {
	rec, err := securedServe(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "ticket not found")
	})

	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected handler 404 to pass through, got %v", err)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected headers to be present on error responses too")
	}
}
