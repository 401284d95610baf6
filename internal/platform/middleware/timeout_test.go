package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func timedServe(target string, timeout time.Duration, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, RequestTimeout(timeout)(handler)(c)
}

func TestRequestTimeout_FastCommandCompletes(t *testing.T) {
	called := false
	_, err := timedServe("/api/v1/tickets", 5*time.Second, func(c echo.Context) error {
		called = true
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected the request context to carry a deadline")
		}
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to run")
	}
}

func TestRequestTimeout_StuckCommandGets504(t *testing.T) {
	rec, err := timedServe("/api/v1/tickets", 50*time.Millisecond, func(c echo.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return c.String(http.StatusOK, "ok")
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected an error message in the timeout response")
	}
}

func TestRequestTimeout_ConsoleSocketExempt(t *testing.T) {
	called := false
	_, err := timedServe("/ws", 50*time.Millisecond, func(c echo.Context) error {
		called = true
		if deadline, ok := c.Request().Context().Deadline(); ok && time.Until(deadline) < time.Second {
			t.Error("websocket path must not get the short API deadline")
		}
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to run for the websocket path")
	}
}

func TestRequestTimeout_HandlerErrorPassesThrough(t *testing.T) {
	_, err := timedServe("/api/v1/tickets/123", 5*time.Second, func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "ticket not found")
	})
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 to pass through, got %v", err)
	}
}
