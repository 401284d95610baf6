package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 4096
)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Consoles authenticate with a bearer token, not cookies, so
		// cross-origin upgrades carry no ambient credentials.
		return true
	},
}

// Handler upgrades console connections and runs their read/write pumps.
type Handler struct {
	hub *Hub
	log zerolog.Logger
}

func NewHandler(hub *Hub, log zerolog.Logger) *Handler {
	return &Handler{hub: hub, log: log}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.Connect)
}

// Connect upgrades the request and attaches a session. The session starts
// on its clinic's board feed; the console widens or narrows it afterwards
// with subscribe commands.
func (h *Handler) Connect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	var topics []string
	if clinicID, ok := c.Get("jwt_clinic_id").(string); ok && clinicID != "" {
		topics = append(topics, ClinicTicketsTopic(clinicID))
	}

	session := h.hub.Attach(uuid.New().String(), topics...)
	h.log.Debug().Str("session_id", session.ID).Int("sessions", h.hub.SessionCount()).
		Msg("console connected")

	go h.writePump(session, ws)
	go h.readPump(session, ws)
	return nil
}

func (h *Handler) readPump(session *Session, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Detach(session)
		ws.Close()
		h.log.Debug().Str("session_id", session.ID).Int64("dropped_frames", session.Dropped()).
			Msg("console disconnected")
	}()

	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var cmd Command
		if err := json.Unmarshal(frame, &cmd); err != nil {
			continue
		}
		h.hub.Handle(session, cmd)
	}
}

func (h *Handler) writePump(session *Session, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame, ok := <-session.Receive():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, nil)
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
