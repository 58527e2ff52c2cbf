package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/casework/internal/artifact"
	"github.com/roach88/casework/internal/gate"
	"github.com/roach88/casework/internal/jobs"
	"github.com/roach88/casework/internal/task"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

type startRequest struct {
	Params task.Params `json:"params"`
}

type startResponse struct {
	JobID string `json:"job_id"`
}

type artifactResponse struct {
	Location string      `json:"location"`
	Kind     string      `json:"kind"`
	Report   gate.Report `json:"report"`
}

type errorResponse struct {
	Error  string       `json:"error"`
	Issues []gate.Issue `json:"issues,omitempty"`
}

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		UptimeSeconds: s.uptimeSeconds(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	id, err := s.jobs.Start(r.Context(), req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+id)
	writeJSON(w, http.StatusAccepted, startResponse{JobID: id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var statuses []task.JobStatus
	for _, st := range r.URL.Query()["status"] {
		statuses = append(statuses, task.JobStatus(st))
	}
	list, err := s.jobs.List(r.Context(), statuses...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	summary, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Progress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{JobID: id})
}

func (s *Server) handleValidation(w http.ResponseWriter, r *http.Request) {
	report, err := s.jobs.Validate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	gen, ok := s.generators[format]
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown artifact format %q", format)})
		return
	}
	loc, report, err := s.jobs.Generate(r.Context(), chi.URLParam(r, "id"), gen)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, artifactResponse{Location: loc, Kind: gen.Kind(), Report: report})
}

// writeError maps lifecycle errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var blocked *gate.ValidationBlockedError
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, jobs.ErrNotFinished), errors.Is(err, jobs.ErrFinished), errors.Is(err, jobs.ErrNotRunning):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &blocked):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Issues: blocked.Issues})
	case artifact.IsMissingField(err):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, jobs.ErrShuttingDown):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
