// Package server exposes the HTTP submission surface: a thin JSON API over
// the job launcher and the submission store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sciml-hpc/gpulaunch/internal/accounting"
	"github.com/sciml-hpc/gpulaunch/internal/config"
	"github.com/sciml-hpc/gpulaunch/internal/models"
	"github.com/sciml-hpc/gpulaunch/internal/scheduler"
	"github.com/sciml-hpc/gpulaunch/internal/store"
)

// JobHandler holds the dependencies for job-related endpoints.
type JobHandler struct {
	Logger    *zap.Logger
	Scheduler scheduler.Scheduler
	Store     store.SubmissionStore
	Budget    accounting.Budget
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(logger *zap.Logger, sched scheduler.Scheduler, st store.SubmissionStore, budget accounting.Budget) *JobHandler {
	return &JobHandler{Logger: logger, Scheduler: sched, Store: st, Budget: budget}
}

// SubmitJobResponse is the body returned for an accepted submission.
type SubmitJobResponse struct {
	JobID       string    `json:"job_id"`
	Backend     string    `json:"backend"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SubmitJob handles POST /api/v1/jobs: decode, validate, budget-check,
// submit, record.
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var jr models.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&jr); err != nil {
		h.Logger.Error("Failed to decode job submission request", zap.Error(err))
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := jr.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Budget.Check(jr.Resources); err != nil {
		h.Logger.Warn("Submission rejected by budget check",
			zap.String("job_name", jr.Name), zap.Error(err))
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	result, err := h.Scheduler.Submit(r.Context(), &jr)
	if err != nil {
		h.Logger.Error("Submission failed",
			zap.String("job_name", jr.Name), zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, models.ErrSubmissionRejected) {
			status = http.StatusUnprocessableEntity
		}
		h.respondError(w, status, err.Error())
		return
	}

	rec := &store.SubmissionRecord{
		JobID:       result.JobID,
		JobName:     jr.Name,
		Backend:     result.Backend,
		Request:     jr,
		State:       models.StateSubmitted,
		SubmittedAt: result.SubmittedAt,
	}
	if err := h.Store.SaveSubmission(r.Context(), rec); err != nil {
		// The job is already accepted by the scheduler; the record is
		// bookkeeping, so log and return success anyway.
		h.Logger.Error("Failed to record submission",
			zap.String("job_id", result.JobID), zap.Error(err))
	}

	h.respondJSON(w, http.StatusAccepted, SubmitJobResponse{
		JobID:       result.JobID,
		Backend:     result.Backend,
		State:       string(models.StateSubmitted),
		SubmittedAt: result.SubmittedAt,
	})
}

// GetJob handles GET /api/v1/jobs/{jobID}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	rec, err := h.Store.GetSubmission(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			h.respondError(w, http.StatusNotFound, "job not found")
			return
		}
		h.Logger.Error("Failed to read submission record",
			zap.String("job_id", jobID), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to read job")
		return
	}
	h.respondJSON(w, http.StatusOK, rec)
}

func (h *JobHandler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.Logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *JobHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{Error: message})
}

// NewRouter builds the chi router for the submission surface.
func NewRouter(handler *JobHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", handler.SubmitJob)
		r.Get("/jobs/{jobID}", handler.GetJob)
	})
	return r
}

// Server wraps http.Server with the configured timeouts.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New creates the HTTP server for the given handler.
func New(cfg config.ServerConfig, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP submission surface listening", zap.String("address", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
