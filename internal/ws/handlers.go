package ws

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/darkden-lab/taskflow/internal/auth"
	"github.com/darkden-lab/taskflow/internal/httputil"
)

// TokenValidator verifies a bearer token. *auth.JWTService satisfies it.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Handler upgrades HTTP connections to WebSocket and registers them with
// the hub under the authenticated user.
type Handler struct {
	hub       *Hub
	validator TokenValidator
	upgrader  websocket.Upgrader
}

func NewHandler(hub *Hub, validator TokenValidator, allowedOrigins []string) *Handler {
	return &Handler{
		hub:       hub,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     OriginChecker(allowedOrigins),
		},
	}
}

// RegisterRoutes wires the notification stream endpoint. It authenticates
// on its own, so r must not require a bearer header.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws/notifications", h.ServeWS).Methods(http.MethodGet)
}

// ServeWS handles GET /ws/notifications. The JWT comes from the `token`
// query parameter or the Authorization header, since browsers cannot set
// headers on a WebSocket handshake.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token = parts[1]
		}
	}
	if token == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already wrote the error response.
		return
	}

	client := NewClient(h.hub, conn, claims.UserID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
