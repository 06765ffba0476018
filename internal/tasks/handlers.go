package tasks

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"github.com/darkden-lab/taskflow/internal/auth"
	"github.com/darkden-lab/taskflow/internal/httputil"
)

// Handlers exposes the task use cases over HTTP.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// RegisterRoutes wires the task endpoints onto r, which must already
// authenticate requests.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/tasks", h.Create).Methods("POST")
	r.HandleFunc("/api/tasks", h.List).Methods("GET")
	r.HandleFunc("/api/tasks/{id}", h.Get).Methods("GET")
	r.HandleFunc("/api/tasks/{id}", h.Update).Methods("PATCH")
	r.HandleFunc("/api/tasks/{id}", h.Delete).Methods("DELETE")
	r.HandleFunc("/api/tasks/{id}/subtasks/{subtaskId}/toggle", h.ToggleSubtask).Methods("PATCH")
}

// Create handles POST /api/tasks
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var in CreateInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.svc.Create(r.Context(), userID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, t)
}

// List handles GET /api/tasks?status=&categoryId=
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := r.URL.Query()
	f := Filter{UserID: userID, Status: Status(q.Get("status")), CategoryID: q.Get("categoryId")}
	if f.Status != "" {
		if err := validate.Var(string(f.Status), "oneof=PENDING IN_PROGRESS COMPLETED CANCELLED"); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	tasks, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tasks)
}

// Get handles GET /api/tasks/{id}
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	t, err := h.svc.Get(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

// Update handles PATCH /api/tasks/{id}
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var in UpdateInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.svc.Update(r.Context(), mux.Vars(r)["id"], userID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

// Delete handles DELETE /api/tasks/{id}
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
	w.WriteHeader(http.StatusNoContent)
}

// ToggleSubtask handles PATCH /api/tasks/{id}/subtasks/{subtaskId}/toggle
func (h *Handlers) ToggleSubtask(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	vars := mux.Vars(r)
	st, err := h.svc.ToggleSubtask(r.Context(), vars["id"], vars["subtaskId"], userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.Is(err, ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, ErrForbidden):
		httputil.WriteError(w, http.StatusForbidden, "you do not have access to this task")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("task request failed")
		httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}
