package bot

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/platform/db"
)

// Handler exposes the clinic's autoresponder configuration. Rules and the
// greeting are scoped to the calling clinic; the clinic id always comes
// from the request context, never from the payload.
type Handler struct {
	responder *Responder
}

func NewHandler(responder *Responder) *Handler {
	return &Handler{responder: responder}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/rules", h.ListRules)
	api.PUT("/rules/:id", h.UpsertRule)
	api.DELETE("/rules/:id", h.DeleteRule)
	api.PUT("/greeting", h.SetGreeting)
}

func (h *Handler) ListRules(c echo.Context) error {
	clinicID := db.ClinicFromContext(c.Request().Context())
	rules := h.responder.ListRules(clinicID)
	return c.JSON(http.StatusOK, map[string]interface{}{"data": rules})
}

func (h *Handler) UpsertRule(c echo.Context) error {
	var rule Rule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rule.ID = c.Param("id")
	rule.ClinicID = db.ClinicFromContext(c.Request().Context())
	if err := h.responder.RegisterRule(rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, rule)
}

func (h *Handler) DeleteRule(c echo.Context) error {
	clinicID := db.ClinicFromContext(c.Request().Context())
	if err := h.responder.DeleteRule(clinicID, c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type greetingRequest struct {
	Greeting string `json:"greeting"`
}

func (h *Handler) SetGreeting(c echo.Context) error {
	var req greetingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	clinicID := db.ClinicFromContext(c.Request().Context())
	h.responder.SetGreeting(clinicID, req.Greeting)
	return c.JSON(http.StatusOK, map[string]string{
		"clinic_id": clinicID,
		"greeting":  req.Greeting,
	})
}
