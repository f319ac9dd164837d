package websocket

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/princekumarofficial/channel-media-service/internal/http/middleware"
	"github.com/princekumarofficial/channel-media-service/internal/utils/response"
	wsClient "github.com/princekumarofficial/channel-media-service/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Admins connect from tooling on arbitrary origins; the token gates access.
		return true
	},
}

// WebSocketHandler streams pipeline events to an authenticated admin
// @Summary Live admin event feed
// @Description Upgrades to a WebSocket that receives media.discovered, media.approved and backfill.completed events
// @Tags events
// @Param token query string true "JWT of an admin user"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} response.Response "Unauthorized"
// @Failure 403 {object} response.Response "Not an admin"
// @Router /ws [get]
func WebSocketHandler(hub *wsClient.Hub, auth *middleware.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, status, err := auth.Authenticate(r)
		if err != nil {
			slog.Warn("WebSocket connection rejected", slog.String("error", err.Error()))
			response.WriteJSON(w, status, response.GeneralError(err))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("Failed to upgrade WebSocket connection", slog.String("error", err.Error()))
			return
		}

		client := wsClient.NewClient(conn, caller.ID(), hub)
		hub.RegisterClient(client)
		client.Start()

		slog.Info("WebSocket connection established", slog.String("caller", caller.ID()))
	}
}
