package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/openctemio/webhooks/internal/infra/http/middleware"
	"github.com/openctemio/webhooks/pkg/apierror"
	"github.com/openctemio/webhooks/pkg/logger"
)

// Handler upgrades authenticated requests to delivery streams.
type Handler struct {
	hub            *Hub
	logger         *logger.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewHandler creates a new WebSocket handler. An empty allowedOrigins list
// only accepts same-host origins.
func NewHandler(hub *Hub, allowedOrigins []string, log *logger.Logger) *Handler {
	h := &Handler{
		hub:            hub,
		logger:         log.With("handler", "delivery_stream"),
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// ServeWS handles WebSocket upgrade requests.
// GET /api/v1/deliveries/stream
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		apierror.Unauthorized("authentication required").WriteJSON(w)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			"user_id", userID,
			"error", err,
		)
		return
	}

	client := NewClient(h.hub, conn, userID, h.logger)
	if !h.hub.RegisterClient(client) {
		client.Close()
		return
	}

	h.logger.Info("websocket client connected",
		"client_id", client.ID,
		"user_id", userID,
	)

	go client.WritePump()
	go client.ReadPump()
}

// Hub returns the hub instance.
func (h *Handler) Hub() *Hub {
	return h.hub
}
