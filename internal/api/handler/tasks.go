package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kzinmr/jobpoll/internal/api/response"
	"github.com/kzinmr/jobpoll/internal/jobs"
	"github.com/kzinmr/jobpoll/pkg/models"
)

const maxBodyBytes = 1 << 20

// Submitter enqueues analysis jobs.
type Submitter interface {
	SubmitAnalyze(ctx context.Context, params models.AnalyzeParams) (string, error)
}

// StatusReader reads job state.
type StatusReader interface {
	GetStatus(ctx context.Context, jobID string) (models.JobState, error)
}

// Pinger checks backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SubmitResponse is the body of a 202 from the submit endpoint.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// NewSubmitAnalyzeHandler returns an http.HandlerFunc for POST /api/v1/tasks/analyze.
func NewSubmitAnalyzeHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Could not read request body", nil)
			return
		}

		params, err := models.DecodeAnalyzeParams(body)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
			return
		}

		id, err := svc.SubmitAnalyze(r.Context(), params)
		if err != nil {
			if errors.Is(err, jobs.ErrUnknownKind) {
				slog.Error("analyze kind not registered", "error", err.Error())
				response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Job kind not available", nil)
				return
			}
			response.Error(w, http.StatusServiceUnavailable, response.CodeBrokerUnavailable, "Could not enqueue job", nil)
			return
		}

		response.Accepted(w, SubmitResponse{JobID: id})
	}
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/tasks/{jobID}.
func NewStatusHandler(svc StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if _, err := uuid.Parse(jobID); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "job id must be a UUID", nil)
			return
		}

		st, err := svc.GetStatus(r.Context(), jobID)
		if err != nil {
			slog.Error("get job status failed", "job_id", jobID, "error", err.Error())
			response.Error(w, http.StatusInternalServerError, response.CodeBackendError, "Could not read job status", nil)
			return
		}

		response.JSON(w, st.View())
	}
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health that
// checks result backend and broker connectivity.
func NewHealthHandler(backend, broker Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"result_backend": "ok",
			"broker":         "ok",
		}

		if err := backend.Ping(r.Context()); err != nil {
			slog.Warn("result backend ping failed", "error", err.Error())
			checks["result_backend"] = "degraded"
		}
		if err := broker.Ping(r.Context()); err != nil {
			slog.Warn("broker ping failed", "error", err.Error())
			checks["broker"] = "degraded"
		}

		degraded := checks["result_backend"] != "ok" || checks["broker"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, response.CodeDegraded,
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
