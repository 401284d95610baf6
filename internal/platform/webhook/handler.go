package webhook

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/errs"
	"github.com/clinicore/clinicore/pkg/pagination"
)

// Handler exposes subscription management for clinic admins.
type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("", h.CreateSubscription)
	api.GET("", h.ListSubscriptions)
	api.GET("/:id", h.GetSubscription)
	api.DELETE("/:id", h.DeleteSubscription)
	api.POST("/:id/pause", h.PauseSubscription)
	api.POST("/:id/resume", h.ResumeSubscription)
	api.POST("/:id/test", h.TestSubscription)
	api.GET("/:id/deliveries", h.ListDeliveries)
	api.POST("/deliveries/:id/replay", h.ReplayDelivery)
}

type createSubscriptionRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

func clinicID(c echo.Context) string {
	if id, ok := c.Get("clinic_id").(string); ok {
		return id
	}
	return ""
}

// sanitized returns a copy with the secret blanked. The store hands out
// shared pointers, so the stored secret must not be cleared in place.
func sanitized(sub *Subscription) *Subscription {
	out := *sub
	out.Secret = ""
	return &out
}

func (h *Handler) CreateSubscription(c echo.Context) error {
	var req createSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sub, err := h.mgr.Subscribe(c.Request().Context(), clinicID(c), req.URL, req.Secret, req.Events)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// The only response that includes the secret.
	return c.JSON(http.StatusCreated, sub)
}

func (h *Handler) ListSubscriptions(c echo.Context) error {
	params := pagination.FromContext(c)
	subs, total, err := h.mgr.store.ListSubscriptions(c.Request().Context(), clinicID(c), params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]*Subscription, len(subs))
	for i, sub := range subs {
		out[i] = sanitized(sub)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, params.Limit, params.Offset))
}

func (h *Handler) GetSubscription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sub, err := h.mgr.store.GetSubscription(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "subscription not found")
	}
	return c.JSON(http.StatusOK, sanitized(sub))
}

func (h *Handler) DeleteSubscription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.mgr.store.DeleteSubscription(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "subscription not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PauseSubscription(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *Handler) ResumeSubscription(c echo.Context) error {
	return h.setActive(c, true)
}

func (h *Handler) setActive(c echo.Context, active bool) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sub, err := h.mgr.SetActive(c.Request().Context(), id, active)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "subscription not found")
	}
	return c.JSON(http.StatusOK, sanitized(sub))
}

func (h *Handler) TestSubscription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	delivery, err := h.mgr.Ping(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "subscription not found")
	}
	return c.JSON(http.StatusOK, delivery)
}

func (h *Handler) ListDeliveries(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	params := pagination.FromContext(c)
	deliveries, total, err := h.mgr.DeliveryLog(c.Request().Context(), id, params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(deliveries, total, params.Limit, params.Offset))
}

func (h *Handler) ReplayDelivery(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	delivery, err := h.mgr.Replay(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "delivery not found")
	}
	return c.JSON(http.StatusOK, delivery)
}
