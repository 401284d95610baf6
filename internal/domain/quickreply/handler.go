package quickreply

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/errs"
	"github.com/clinicore/clinicore/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/quick-replies", h.ListQuickReplies)
	api.POST("/quick-replies", h.CreateQuickReply)
	api.GET("/quick-replies/:id", h.GetQuickReply)
	api.PUT("/quick-replies/:id", h.UpdateQuickReply)
	api.DELETE("/quick-replies/:id", h.DeleteQuickReply)
	api.POST("/quick-replies/expand", h.Expand)
}

func (h *Handler) CreateQuickReply(c echo.Context) error {
	var q QuickReply
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateQuickReply(c.Request().Context(), &q); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, q)
}

func (h *Handler) GetQuickReply(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	q, err := h.svc.GetQuickReply(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "quick reply not found")
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) UpdateQuickReply(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var q QuickReply
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q.ID = id
	if err := h.svc.UpdateQuickReply(c.Request().Context(), &q); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) DeleteQuickReply(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteQuickReply(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "quick reply not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListQuickReplies(c echo.Context) error {
	params := pagination.FromContext(c)
	replies, total, err := h.svc.ListQuickReplies(c.Request().Context(), params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(replies, total, params.Limit, params.Offset))
}

type expandRequest struct {
	Shortcut string            `json:"shortcut"`
	Vars     map[string]string `json:"vars"`
}

// Expand lets clients preview a rendered template before sending it.
func (h *Handler) Expand(c echo.Context) error {
	var req expandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Shortcut == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "shortcut is required")
	}
	text, err := h.svc.Expand(c.Request().Context(), req.Shortcut, req.Vars)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "quick reply not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"text": text})
}
