package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/delivery-stats/internal/app"
	"github.com/ignite/delivery-stats/internal/pkg/httputil"
)

// Handlers serves the run endpoints.
type Handlers struct {
	runs *RunManager
}

// NewHandlers creates Handlers backed by runs.
func NewHandlers(runs *RunManager) *Handlers {
	return &Handlers{runs: runs}
}

// StartRun launches a collection run. Mode defaults to recent.
//
//	POST /runs
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	var req app.Request
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Mode == "" {
		req.Mode = app.ModeRecent
	}
	if err := req.Validate(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	st, err := h.runs.Start(r.Context(), req)
	switch {
	case errors.Is(err, ErrRunActive):
		httputil.Conflict(w, err.Error())
	case err != nil:
		httputil.InternalError(w, r, err)
	default:
		w.Header().Set("Location", "/runs/"+st.ID)
		httputil.Accepted(w, st)
	}
}

// GetRun returns one run's status.
//
//	GET /runs/{id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		httputil.BadRequest(w, "invalid run id")
		return
	}
	st, ok := h.runs.Get(id)
	if !ok {
		httputil.NotFound(w, "run not found")
		return
	}
	httputil.OK(w, st)
}

// ListRuns returns the known runs, newest first.
//
//	GET /runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{"runs": h.runs.List()})
}
