package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"dockhand/internal/dockhand/events"
	"dockhand/internal/dockhand/orchestrator"
	"dockhand/internal/dockhand/task"
	"dockhand/internal/version"
)

// logsTailLimit is how many lines the logs endpoint returns.
const logsTailLimit = 100

// actionResponse is the {success, message} shape of start/stop/remove.
type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// logsResponse is returned by the logs endpoint.
type logsResponse struct {
	Success bool   `json:"success"`
	Logs    string `json:"logs,omitempty"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type statusResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Commit     string    `json:"commit"`
	BuildTime  string    `json:"build_time"`
	StartedAt  time.Time `json:"started_at"`
	UptimeSecs float64   `json:"uptime_seconds"`
	TaskCount  int       `json:"task_count"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, actionResponse{Message: "cannot read body"})
		return
	}

	// Schema validation wants the generic decoded form; the typed decode
	// below can then assume a well-shaped document.
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		writeJSON(w, http.StatusBadRequest, actionResponse{Message: "invalid JSON: " + err.Error()})
		return
	}
	if err := s.schema.Validate(doc); err != nil {
		writeJSON(w, http.StatusBadRequest, actionResponse{Message: "invalid task spec: " + err.Error()})
		return
	}

	var spec task.Spec
	if err := json.Unmarshal(body, &spec); err != nil {
		writeJSON(w, http.StatusBadRequest, actionResponse{Message: "invalid JSON: " + err.Error()})
		return
	}

	t, err := s.orch.Create(r.Context(), spec)
	if err != nil {
		var verr *task.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, actionResponse{Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, actionResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.List())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, actionResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.Start(r.Context(), id); err != nil {
		writeJSON(w, statusForError(err), actionResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "task started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.Stop(r.Context(), id); err != nil {
		writeJSON(w, statusForError(err), actionResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "task stopped"})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.Remove(r.Context(), id); err != nil {
		writeJSON(w, statusForError(err), actionResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "task removed"})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logs, err := s.orch.Logs(r.Context(), id, logsTailLimit)
	if err != nil {
		writeJSON(w, statusForError(err), logsResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, logsResponse{Success: true, Logs: logs})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, actionResponse{Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	if s.events == nil {
		writeJSON(w, http.StatusOK, []events.Event{})
		return
	}
	evs, err := s.events.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, actionResponse{Message: err.Error()})
		return
	}
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  s.startedAt,
		UptimeSecs: time.Since(s.startedAt).Seconds(),
		TaskCount:  len(s.orch.List()),
	})
}

// statusForError maps the error taxonomy to HTTP codes: absent task or
// container reference → 404/409, everything else (runtime or persistence
// failures) → 500.
func statusForError(err error) int {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNoContainer):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
