package ticket

import (
	"context"
	"errors"
	"net/http"
	"strconv"

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
	api.GET("/tickets", h.ListTickets)
	api.GET("/tickets/board", h.Board)
	api.GET("/tickets/:id", h.GetTicket)
	api.GET("/tickets/:id/messages", h.ListMessages)
	api.POST("/tickets/:id/assign", h.Assign)
	api.POST("/tickets/:id/release", h.Release)
	api.POST("/tickets/:id/waiting", h.MarkWaiting)
	api.POST("/tickets/:id/close", h.Close)
	api.POST("/tickets/:id/transfer", h.TransferSector)
	api.POST("/tickets/:id/messages", h.Send)
	api.POST("/tickets/:id/messages/:messageId/resend", h.Resend)

	api.GET("/sectors", h.ListSectors)
	admin := api.Group("", auth.RequireRole("manager", "admin"))
	admin.POST("/sectors", h.CreateSector)
	admin.DELETE("/sectors/:id", h.DeleteSector)
}

// actorFromContext builds the command principal from the authenticated
// request. The operator id is the JWT subject.
func actorFromContext(c echo.Context) (Actor, error) {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "request has no operator identity")
	}
	return Actor{OperatorID: id, Roles: auth.RolesFromContext(ctx)}, nil
}

func ticketID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid ticket id")
	}
	return id, nil
}

func (h *Handler) ListTickets(c echo.Context) error {
	params := pagination.FromContext(c)
	f := ListFilter{Limit: params.Limit, Offset: params.Offset}

	if raw := c.QueryParam("status"); raw != "" {
		st := Status(raw)
		if !st.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		f.Status = st
	}
	for param, dst := range map[string]**uuid.UUID{
		"sector_id":   &f.SectorID,
		"operator_id": &f.OperatorID,
		"contact_id":  &f.ContactID,
	} {
		if raw := c.QueryParam(param); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+param)
			}
			*dst = &id
		}
	}

	tickets, total, err := h.svc.ListTickets(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(tickets, total, params.Limit, params.Offset))
}

func (h *Handler) Board(c echo.Context) error {
	var sectorID *uuid.UUID
	if raw := c.QueryParam("sector_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid sector_id")
		}
		sectorID = &id
	}
	board, err := h.svc.Board(c.Request().Context(), sectorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, board)
}

func (h *Handler) GetTicket(c echo.Context) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTicket(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "ticket not found")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListMessages(c echo.Context) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	var afterSeq int64
	if raw := c.QueryParam("after_seq"); raw != "" {
		afterSeq, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after_seq")
		}
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	messages, err := h.svc.ListMessages(c.Request().Context(), id, afterSeq, limit)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	if messages == nil {
		messages = []*Message{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": messages})
}

type assignRequest struct {
	OperatorID uuid.UUID `json:"operator_id"`
}

func (h *Handler) Assign(c echo.Context) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.OperatorID == uuid.Nil {
		// Claiming for yourself is the common path.
		req.OperatorID = actor.OperatorID
	}

	clinicID := db.ClinicFromContext(c.Request().Context())
	t, err := h.svc.Assign(c.Request().Context(), clinicID, id, req.OperatorID, actor)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Release(c echo.Context) error {
	return h.transition(c, h.svc.Release)
}

func (h *Handler) MarkWaiting(c echo.Context) error {
	return h.transition(c, h.svc.MarkWaiting)
}

func (h *Handler) Close(c echo.Context) error {
	return h.transition(c, h.svc.Close)
}

type transitionFunc func(ctx context.Context, clinicID string, ticketID uuid.UUID, actor Actor) (*Ticket, error)

func (h *Handler) transition(c echo.Context, fn transitionFunc) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	clinicID := db.ClinicFromContext(c.Request().Context())
	t, err := fn(c.Request().Context(), clinicID, id, actor)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

type transferRequest struct {
	SectorID uuid.UUID `json:"sector_id"`
}

func (h *Handler) TransferSector(c echo.Context) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SectorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "sector_id is required")
	}

	clinicID := db.ClinicFromContext(c.Request().Context())
	t, err := h.svc.TransferSector(c.Request().Context(), clinicID, id, req.SectorID, actor)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, t)
}

type sendRequest struct {
	Content  string      `json:"content"`
	Type     MessageType `json:"type"`
	MediaURL string      `json:"media_url"`
	Caption  string      `json:"caption"`
}

func (h *Handler) Send(c echo.Context) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	clinicID := db.ClinicFromContext(c.Request().Context())
	msg, err := h.svc.Send(c.Request().Context(), clinicID, id, actor, SendInput{
		Content:  req.Content,
		Type:     req.Type,
		MediaURL: req.MediaURL,
		Caption:  req.Caption,
	})
	if err != nil {
		if errors.Is(err, errs.ErrDeliveryFailed) && msg != nil {
			// Saved but not delivered: return the message so the client
			// can offer a manual resend.
			return c.JSON(errs.HTTPStatus(err), msg)
		}
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) Resend(c echo.Context) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message id")
	}
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}

	clinicID := db.ClinicFromContext(c.Request().Context())
	msg, err := h.svc.Resend(c.Request().Context(), clinicID, id, messageID, actor)
	if err != nil {
		if errors.Is(err, errs.ErrDeliveryFailed) && msg != nil {
			return c.JSON(errs.HTTPStatus(err), msg)
		}
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, msg)
}

func (h *Handler) CreateSector(c echo.Context) error {
	var s Sector
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateSector(c.Request().Context(), &s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) ListSectors(c echo.Context) error {
	sectors, err := h.svc.ListSectors(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sectors == nil {
		sectors = []*Sector{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": sectors})
}

func (h *Handler) DeleteSector(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteSector(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "sector not found")
	}
	return c.NoContent(http.StatusNoContent)
}
