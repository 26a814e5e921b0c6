package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"gowa-gateway/internal/ws"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the apikey check already ran; browsers on other origins are allowed
	CheckOrigin: func(r *http.Request) bool { return true },
}

// GET /ws?instance=<name>
// Streams realtime events, optionally limited to one instance.
func (h *Handler) WebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return nil
	}

	client := ws.NewClient(h.hub, conn, c.QueryParam("instance"))
	if !h.hub.Register(client) {
		_ = conn.Close()
		return nil
	}

	go client.WritePump()
	go client.ReadPump()
	return nil
}
