package notification

import (
	"log/slog"
	"net/http"
	"time"

	"parkshare/internal/pkg/jwt"
	"parkshare/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

type WSHandler struct {
	hub *Hub
	jwt *jwt.Service
	log *slog.Logger
}

func NewWSHandler(hub *Hub, jwtService *jwt.Service, log *slog.Logger) *WSHandler {
	return &WSHandler{hub: hub, jwt: jwtService, log: log}
}

// HandleWebSocket serves GET /ws/offers?token=JWT. Browsers cannot set
// headers on a websocket handshake, so the token travels in the query.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "token query parameter is required")
		return
	}
	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	userID := claims.UserID
	h.hub.Register(userID, conn)
	h.log.Debug("offer stream connected", "user_id", userID)
	defer func() {
		h.hub.Unregister(userID, conn)
		h.log.Debug("offer stream disconnected", "user_id", userID)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// The stream is push-only; reads just drive pong handling and detect close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("offer stream error", "user_id", userID, "error", err)
			}
			return
		}
	}
}
