package operator

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/errs"
	"github.com/clinicore/clinicore/internal/platform/auth"
	"github.com/clinicore/clinicore/internal/platform/db"
	"github.com/clinicore/clinicore/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/operators", h.ListOperators)
	api.GET("/operators/:id", h.GetOperator)
	api.POST("/operators/:id/heartbeat", h.Heartbeat)
	api.POST("/operators/:id/logout", h.Logout)

	// Account management is restricted to managers.
	admin := api.Group("", auth.RequireRole("manager", "admin"))
	admin.POST("/operators", h.CreateOperator)
	admin.PUT("/operators/:id", h.UpdateOperator)
	admin.POST("/operators/:id/deactivate", h.DeactivateOperator)
	admin.DELETE("/operators/:id", h.DeleteOperator)
}

func (h *Handler) CreateOperator(c echo.Context) error {
	var op Operator
	if err := c.Bind(&op); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateOperator(c.Request().Context(), &op); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, op)
}

func (h *Handler) GetOperator(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	op, err := h.svc.GetOperator(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "operator not found")
	}
	return c.JSON(http.StatusOK, op)
}

func (h *Handler) UpdateOperator(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var op Operator
	if err := c.Bind(&op); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	op.ID = id
	if err := h.svc.UpdateOperator(c.Request().Context(), &op); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, op)
}

func (h *Handler) DeactivateOperator(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	clinicID := db.ClinicFromContext(c.Request().Context())
	if err := h.svc.DeactivateOperator(c.Request().Context(), clinicID, id); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "operator not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteOperator(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteOperator(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "operator not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListOperators(c echo.Context) error {
	params := pagination.FromContext(c)

	var sectorID *uuid.UUID
	if raw := c.QueryParam("sector_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid sector_id")
		}
		sectorID = &id
	}

	clinicID := db.ClinicFromContext(c.Request().Context())
	ops, total, err := h.svc.ListWithPresence(c.Request().Context(), clinicID, sectorID, params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(ops, total, params.Limit, params.Offset))
}

func (h *Handler) Heartbeat(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	clinicID := db.ClinicFromContext(c.Request().Context())
	if err := h.svc.Heartbeat(c.Request().Context(), clinicID, id); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Logout(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	clinicID := db.ClinicFromContext(c.Request().Context())
	if err := h.svc.Logout(c.Request().Context(), clinicID, id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
