// Package api exposes the coordinator's request surface over HTTP/JSON.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gamecast-dev/gamecast/internal/coordinator"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	coord *coordinator.Coordinator
}

// NewHandler creates a new HTTP handler.
func NewHandler(coord *coordinator.Coordinator) *Handler {
	return &Handler{coord: coord}
}

// CreateSession handles POST /v1/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req coordinator.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sess, err := h.coord.CreateSession(r.Context(), req)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /v1/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, err := h.coord.GetSession(r.Context(), id)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// ListSessions handles GET /v1/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.coord.ListActiveSessions(r.Context())
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessions)
}

// TerminateSession handles DELETE /v1/sessions/{id}. It returns 202: the
// terminate signal is accepted, teardown completes asynchronously and is
// observed by polling GET.
func (h *Handler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.coord.TerminateSession(r.Context(), id); err != nil {
		writeCoordinatorError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCoordinatorError maps the coordinator error taxonomy to HTTP
// status codes.
func writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, coordinator.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
