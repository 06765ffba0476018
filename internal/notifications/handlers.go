package notifications

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"github.com/darkden-lab/taskflow/internal/auth"
	"github.com/darkden-lab/taskflow/internal/httputil"
)

// Handlers provides HTTP handlers for the notifications API.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// RegisterRoutes wires the notification endpoints onto r, which must
// already authenticate requests.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/notifications", h.List).Methods("GET")
	r.HandleFunc("/api/notifications/unread-count", h.UnreadCount).Methods("GET")
	r.HandleFunc("/api/notifications/read-all", h.MarkAllRead).Methods("PATCH")
	r.HandleFunc("/api/notifications/{id}/read", h.MarkRead).Methods("PATCH")
	r.HandleFunc("/api/notifications/{id}", h.Delete).Methods("DELETE")
}

// List handles GET /api/notifications?status=
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	status := Status(strings.ToUpper(r.URL.Query().Get("status")))
	list, err := h.svc.List(r.Context(), userID, status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

// UnreadCount handles GET /api/notifications/unread-count
func (h *Handlers) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	count, err := h.svc.UnreadCount(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"count": count})
}

// MarkRead handles PATCH /api/notifications/{id}/read
func (h *Handlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	n, err := h.svc.MarkRead(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

// MarkAllRead handles PATCH /api/notifications/read-all
func (h *Handlers) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	updated, err := h.svc.MarkAllRead(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// Delete handles DELETE /api/notifications/{id}
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.svc.Delete(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Notification deleted successfully"})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "notification not found")
	case errors.Is(err, ErrInvalidStatus):
		httputil.WriteError(w, http.StatusBadRequest, "invalid status")
	case errors.Is(err, ErrInvalidTransition):
		httputil.WriteError(w, http.StatusConflict, "notification can no longer be marked as read")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("notification request failed")
		httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}
