package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"splitride/internal/domain"
	"splitride/internal/middleware"
	"splitride/internal/realtime"
)

// WSHandler upgrades HTTP requests to realtime connections.
type WSHandler struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *realtime.Hub, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Connect handles GET /ws. An identified caller joins its user room on
// connect; drivers also receive the open request feed.
func (h *WSHandler) Connect(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	user := middleware.CurrentUser(c)
	if user == nil {
		h.hub.Serve(conn, "", false)
		return
	}
	h.hub.Serve(conn, user.ID, user.Role == domain.UserRoleDriver)
}
