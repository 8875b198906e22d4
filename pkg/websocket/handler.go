package websocket

import (
	"net/http"
	"strings"

	"guardian/internal/config"
	"guardian/internal/utils"
	"guardian/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Handler struct {
	hub       *Hub
	upgrader  websocket.Upgrader
	jwtSecret string
	options   ClientOptions
	log       *logger.Logger
}

func NewHandler(hub *Hub, cfg *config.WebSocketConfig, jwtSecret string, log *logger.Logger) *Handler {
	pingPeriod := cfg.PingInterval
	if pingPeriod <= 0 || pingPeriod >= cfg.PongTimeout {
		pingPeriod = (cfg.PongTimeout * 9) / 10
	}

	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      originChecker(cfg.AllowedOrigins),
		},
		jwtSecret: jwtSecret,
		options: ClientOptions{
			PongWait:       cfg.PongTimeout,
			PingPeriod:     pingPeriod,
			MaxMessageSize: cfg.MaxMessageSize,
		},
		log: log,
	}
}

// HandleWebSocket upgrades an authenticated request. Browsers cannot set
// headers on the upgrade, so the token may also arrive as ?token=.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		tokenString = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if tokenString == "" {
		utils.UnauthorizedResponse(c)
		return
	}

	claims, err := utils.ValidateToken(tokenString, h.jwtSecret)
	if err != nil {
		h.log.LogSecurityEvent("websocket_auth_failed", "low", map[string]interface{}{
			"client_ip": c.ClientIP(),
			"error":     err.Error(),
		})
		utils.ErrorResponse(c, http.StatusUnauthorized, utils.CodeUnauthorized, utils.ErrInvalidToken)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, claims.UserID, h.options)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Handler) GetHub() *Hub {
	return h.hub
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
