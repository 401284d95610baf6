package contact

import (
	"errors"
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
	api.GET("/contacts", h.ListContacts)
	api.GET("/contacts/:id", h.GetContact)
	api.POST("/contacts", h.CreateContact)
	api.PUT("/contacts/:id", h.UpdateContact)
	api.DELETE("/contacts/:id", h.DeleteContact)
	api.POST("/contacts/:id/block", h.BlockContact)
	api.POST("/contacts/:id/unblock", h.UnblockContact)
}

func (h *Handler) CreateContact(c echo.Context) error {
	var contact Contact
	if err := c.Bind(&contact); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateContact(c.Request().Context(), &contact); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, contact)
}

func (h *Handler) GetContact(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	contact, err := h.svc.GetContact(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "contact not found")
	}
	return c.JSON(http.StatusOK, contact)
}

func (h *Handler) UpdateContact(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var contact Contact
	if err := c.Bind(&contact); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	contact.ID = id
	if err := h.svc.UpdateContact(c.Request().Context(), &contact); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "contact not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, contact)
}

func (h *Handler) DeleteContact(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteContact(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "contact not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListContacts(c echo.Context) error {
	params := pagination.FromContext(c)
	search := c.QueryParam("search")

	contacts, total, err := h.svc.ListContacts(c.Request().Context(), search, params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(contacts, total, params.Limit, params.Offset))
}

func (h *Handler) BlockContact(c echo.Context) error {
	return h.setBlocked(c, true)
}

func (h *Handler) UnblockContact(c echo.Context) error {
	return h.setBlocked(c, false)
}

func (h *Handler) setBlocked(c echo.Context, blocked bool) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	contact, err := h.svc.SetBlocked(c.Request().Context(), id, blocked)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "contact not found")
	}
	return c.JSON(http.StatusOK, contact)
}
