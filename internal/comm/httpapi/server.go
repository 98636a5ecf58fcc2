// Package httpapi carries the engine/worker contract over HTTP. The server
// exposes an Engine; the client implements comm.Layer against it.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Vincamine/PipelineRunner-sub000/internal/comm"
	"github.com/Vincamine/PipelineRunner-sub000/internal/dispatch"
	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/execution/specvalidator"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/auditlog"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/auth"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/httpserver"
	"github.com/Vincamine/PipelineRunner-sub000/internal/repo"
)

const maxBodyBytes = 1 << 20

// Engine is what the server needs from the dispatcher.
type Engine interface {
	comm.Layer
	Submit(ctx context.Context, req dispatch.SubmitRequest) (domain.PipelineExecution, error)
	Cancel(ctx context.Context, pipelineExecutionID string) error
	PipelineStatus(ctx context.Context, pipelineExecutionID string) (dispatch.StatusReport, error)
	ListRuns(ctx context.Context, pipelineID string) ([]dispatch.RunSummary, error)
	RunStatus(ctx context.Context, pipelineID string, runNumber int) (dispatch.StatusReport, error)
}

type SubmitBody struct {
	PipelineID string                     `json:"pipelineId,omitempty"`
	Definition *domain.PipelineDefinition `json:"definition,omitempty"`
	CommitHash string                     `json:"commitHash,omitempty"`
	IsLocal    bool                       `json:"isLocal,omitempty"`
}

type RunsBody struct {
	Runs []dispatch.RunSummary `json:"runs"`
}

type StatusBody struct {
	Status domain.Status `json:"status"`
	Logs   string        `json:"logs,omitempty"`
}

type DependenciesBody struct {
	Dependencies []string `json:"dependencies"`
}

type JobsBody struct {
	Jobs []domain.JobExecution `json:"jobs"`
}

// AuditFunc records a run-level action taken through the API. actor is the
// authenticated caller or empty.
type AuditFunc func(ctx context.Context, actor, action, pipelineExecutionID string, payload map[string]any) error

type ServerOptions struct {
	Audit AuditFunc
}

type Server struct {
	logger *slog.Logger
	engine Engine
	audit  AuditFunc
}

func NewServer(logger *slog.Logger, engine Engine, opts ServerOptions) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{logger: logger, engine: engine, audit: opts.Audit}
}

// Register mounts the API routes on r.
func (s *Server) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/pipelines/runs", s.handleSubmit)
		r.Get("/pipelines/{id}/runs", s.handleListRuns)
		r.Get("/pipelines/{id}/runs/{run}", s.handleRunStatus)

		r.Get("/pipeline-executions/{id}", s.handlePipelineStatus)
		r.Post("/pipeline-executions/{id}/cancel", s.handleCancel)
		r.Get("/pipeline-executions/{id}/jobs", s.handleListJobs)

		r.Get("/jobs/{id}", s.handleSnapshot)
		r.Get("/jobs/{id}/status", s.handleGetStatus)
		r.Post("/jobs/{id}/status", s.handleReportStatus)
		r.Get("/jobs/{id}/dependencies", s.handleDependencies)
		r.Post("/jobs/{id}/enqueue", s.handleEnqueue)
	})
}

// Handler returns a router with only the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Register(r)
	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body SubmitBody
	if err := decodeJSON(r, &body); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	req := dispatch.SubmitRequest{
		PipelineID: strings.TrimSpace(body.PipelineID),
		CommitHash: strings.TrimSpace(body.CommitHash),
		IsLocal:    body.IsLocal,
	}
	if body.Definition != nil {
		req.Definition = *body.Definition
	}
	pipeline, err := s.engine.Submit(r.Context(), req)
	if err != nil && pipeline.ID == "" {
		s.writeEngineError(w, r, err)
		return
	}
	if err != nil {
		// The run exists but never started; report it so the caller can look it up.
		s.logger.Warn("pipeline execution failed to start", "pipeline_execution_id", pipeline.ID, "error", err)
	}
	s.record(r, auditlog.ActionRunSubmitted, pipeline.ID, map[string]any{
		"pipeline_id": pipeline.PipelineID,
		"run_number":  pipeline.RunNumber,
		"commit_hash": pipeline.CommitHash,
	})
	httpserver.WriteJSON(w, http.StatusCreated, pipeline)
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.PipelineStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, report)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.engine.ListRuns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if runs == nil {
		runs = []dispatch.RunSummary{}
	}
	httpserver.WriteJSON(w, http.StatusOK, RunsBody{Runs: runs})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runNumber, err := strconv.Atoi(chi.URLParam(r, "run"))
	if err != nil || runNumber < 1 {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_run_number", "run number must be a positive integer")
		return
	}
	report, err := s.engine.RunStatus(r.Context(), chi.URLParam(r, "id"), runNumber)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, report)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Cancel(r.Context(), id); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.record(r, auditlog.ActionRunCanceled, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.engine.ListJobExecutions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []domain.JobExecution{}
	}
	httpserver.WriteJSON(w, http.StatusOK, JobsBody{Jobs: jobs})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.GetJobSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.GetJobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, StatusBody{Status: status})
}

func (s *Server) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	var body StatusBody
	if err := decodeJSON(r, &body); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	status, err := domain.ParseStatus(string(body.Status))
	if err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}
	if err := s.engine.ReportJobStatus(r.Context(), chi.URLParam(r, "id"), status, body.Logs); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request) {
	deps, err := s.engine.GetJobDependencies(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if deps == nil {
		deps = []string{}
	}
	httpserver.WriteJSON(w, http.StatusOK, DependenciesBody{Dependencies: deps})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.EnqueueJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// record never fails the request; audit errors are logged.
func (s *Server) record(r *http.Request, action, pipelineExecutionID string, payload map[string]any) {
	if s.audit == nil {
		return
	}
	var actor string
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		actor = identity.Subject
	}
	if err := s.audit(r.Context(), actor, action, pipelineExecutionID, payload); err != nil {
		s.logger.Warn("audit failed", "action", action, "pipeline_execution_id", pipelineExecutionID, "error", err)
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *specvalidator.ValidationError
	switch {
	case errors.As(err, &verr):
		httpserver.WriteError(w, r, http.StatusBadRequest, "validation_failed", verr.Error())
	case errors.Is(err, repo.ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidStatus):
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, domain.ErrTerminal):
		httpserver.WriteError(w, r, http.StatusConflict, "already_terminal", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		httpserver.WriteError(w, r, http.StatusConflict, "invalid_transition", err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error", "")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("multiple json values")
	}
	return nil
}
