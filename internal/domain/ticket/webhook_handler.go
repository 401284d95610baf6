package ticket

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicore/clinicore/internal/platform/db"
)

// WebhookHandler receives messaging-provider callbacks. The route is open
// in the auth skipper, so it authenticates with its own shared token.
type WebhookHandler struct {
	svc       *Service
	responder Responder
	token     string
}

func NewWebhookHandler(svc *Service, responder Responder, token string) *WebhookHandler {
	return &WebhookHandler{svc: svc, responder: responder, token: token}
}

func (h *WebhookHandler) RegisterRoutes(api *echo.Group) {
	api.POST("/webhook/whatsapp", h.HandleWhatsApp)
}

type webhookPayload struct {
	FromPhone         string `json:"from_phone"`
	ProfileName       string `json:"profile_name"`
	Content           string `json:"content"`
	MediaType         string `json:"media_type"`
	MediaURL          string `json:"media_url"`
	ProviderMessageID string `json:"provider_message_id"`
}

func (h *WebhookHandler) HandleWhatsApp(c echo.Context) error {
	token := c.Request().Header.Get("X-Webhook-Token")
	if token == "" {
		token = c.QueryParam("token")
	}
	if h.token == "" || token != h.token {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook token")
	}

	var payload webhookPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	clinicID := db.ClinicFromContext(c.Request().Context())
	result, err := h.svc.HandleInbound(c.Request().Context(), clinicID, h.responder, InboundMessage{
		FromPhone:         payload.FromPhone,
		ProfileName:       payload.ProfileName,
		Content:           payload.Content,
		MediaType:         payload.MediaType,
		MediaURL:          payload.MediaURL,
		ProviderMessageID: payload.ProviderMessageID,
	})
	if err != nil {
		// The provider retries non-2xx deliveries, so only genuinely
		// malformed payloads should come back 4xx.
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if result.Duplicate || result.Dropped {
		return c.JSON(http.StatusOK, result)
	}
	return c.JSON(http.StatusCreated, result)
}
