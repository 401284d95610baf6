package bot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/platform/db"
)

// clinicContext builds an echo context carrying the clinic id the way the
// clinic middleware plants it.
func clinicContext(e *echo.Echo, method, target, clinic, body string) (echo.Context, *httptest.ResponseRecorder) {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req = req.WithContext(context.WithValue(req.Context(), db.ClinicIDKey, clinic))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_UpsertRule(t *testing.T) {
	responder := NewResponder()
	h := NewHandler(responder)
	e := echo.New()

	body := `{"keywords":["horario"],"match":"contains","action":"reply","reply":"Das 8h as 18h","active":true,"clinic_id":"spoofed"}`
	c, rec := clinicContext(e, http.MethodPut, "/bot/rules/r-1", "acme", body)
	c.SetParamNames("id")
	c.SetParamValues("r-1")

	if err := h.UpsertRule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rules := responder.ListRules("acme")
	if len(rules) != 1 || rules[0].ID != "r-1" {
		t.Fatalf("expected rule registered for acme, got %v", rules)
	}
	// The payload's clinic_id must not be trusted.
	if len(responder.ListRules("spoofed")) != 0 {
		t.Error("rule must be scoped to the calling clinic, not the payload")
	}
	if !responder.Active("acme") {
		t.Error("registering a rule must activate the clinic")
	}
}

func TestHandler_UpsertRule_Invalid(t *testing.T) {
	h := NewHandler(NewResponder())
	e := echo.New()

	c, _ := clinicContext(e, http.MethodPut, "/bot/rules/r-1", "acme", `{"action":"reply"}`)
	c.SetParamNames("id")
	c.SetParamValues("r-1")

	err := h.UpsertRule(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_ListRules(t *testing.T) {
	responder := NewResponder()
	responder.RegisterRule(activeRule("r-1", 0, ActionReply, "hi"))
	h := NewHandler(responder)
	e := echo.New()

	c, rec := clinicContext(e, http.MethodGet, "/bot/rules", "acme", "")
	if err := h.ListRules(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Data []Rule `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "r-1" {
		t.Fatalf("expected r-1 listed, got %v", resp.Data)
	}
}

func TestHandler_DeleteRule(t *testing.T) {
	responder := NewResponder()
	responder.RegisterRule(activeRule("r-1", 0, ActionReply, "hi"))
	h := NewHandler(responder)
	e := echo.New()

	c, rec := clinicContext(e, http.MethodDelete, "/bot/rules/r-1", "acme", "")
	c.SetParamNames("id")
	c.SetParamValues("r-1")
	if err := h.DeleteRule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	c, _ = clinicContext(e, http.MethodDelete, "/bot/rules/r-1", "acme", "")
	c.SetParamNames("id")
	c.SetParamValues("r-1")
	err := h.DeleteRule(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing rule, got %v", err)
	}
}

func TestHandler_SetGreeting(t *testing.T) {
	responder := NewResponder()
	h := NewHandler(responder)
	e := echo.New()

	c, rec := clinicContext(e, http.MethodPut, "/bot/greeting", "acme", `{"greeting":"Bem-vindo!"}`)
	if err := h.SetGreeting(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !responder.Active("acme") {
		t.Error("setting a greeting must activate the clinic")
	}

	resp, ok := responder.Respond("acme", "qualquer coisa", true)
	if !ok || resp.Reply != "Bem-vindo!" {
		t.Fatalf("expected greeting reply, got %v", resp)
	}
}
