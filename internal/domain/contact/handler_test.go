package contact

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	h := NewHandler(newTestService())
	e := echo.New()
	return h, e
}

func TestHandler_CreateContact(t *testing.T) {
	h, e := newTestHandler()

	body := `{"phone":"+55 11 99999-0000","name":"Maria Silva"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contacts", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateContact(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var created Contact
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.Phone != "+5511999990000" {
		t.Errorf("expected normalized phone in response, got %s", created.Phone)
	}
}

func TestHandler_CreateContact_InvalidPhone(t *testing.T) {
	h, e := newTestHandler()

	body := `{"phone":"not-a-phone","name":"Maria"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/contacts", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.CreateContact(c)
	if err == nil {
		t.Fatal("expected error for invalid phone")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", httpErr.Code)
	}
}

func TestHandler_GetContact(t *testing.T) {
	h, e := newTestHandler()

	contact := &Contact{Phone: "+5511999990000", Name: "Maria"}
	h.svc.CreateContact(context.Background(), contact)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(contact.ID.String())

	if err := h.GetContact(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetContact_NotFound(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetContact(c)
	if err == nil {
		t.Fatal("expected error for unknown contact")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", httpErr.Code)
	}
}

func TestHandler_ListContacts(t *testing.T) {
	h, e := newTestHandler()

	h.svc.CreateContact(context.Background(), &Contact{Phone: "+5511999990001", Name: "Ana"})
	h.svc.CreateContact(context.Background(), &Contact{Phone: "+5511999990002", Name: "Bruno"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/contacts", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListContacts(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 2 {
		t.Errorf("expected total 2, got %d", resp.Total)
	}
}

func TestHandler_BlockContact(t *testing.T) {
	h, e := newTestHandler()

	contact := &Contact{Phone: "+5511999990000", Name: "Maria"}
	h.svc.CreateContact(context.Background(), contact)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(contact.ID.String())

	if err := h.BlockContact(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var blocked Contact
	json.Unmarshal(rec.Body.Bytes(), &blocked)
	if !blocked.Blocked {
		t.Error("expected blocked contact in response")
	}
}

func TestHandler_DeleteContact(t *testing.T) {
	h, e := newTestHandler()

	contact := &Contact{Phone: "+5511999990000", Name: "Maria"}
	h.svc.CreateContact(context.Background(), contact)

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(contact.ID.String())

	if err := h.DeleteContact(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}
