package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cipherworks/fhemarket/internal/api/middleware"
	"github.com/cipherworks/fhemarket/internal/api/response"
	"github.com/cipherworks/fhemarket/internal/cache"
	"github.com/cipherworks/fhemarket/internal/store"
	"github.com/cipherworks/fhemarket/pkg/models"
	"github.com/go-chi/chi/v5"
)

// jobStatusTTL bounds staleness of the cached status used by pollers.
const jobStatusTTL = 30 * time.Second

// JobService is the lifecycle surface the job handlers depend on.
type JobService interface {
	PostJob(ctx context.Context, consumer models.Address, inputCommitment models.Hash, deadline time.Time, price int64) (*models.Job, error)
	AcceptJob(ctx context.Context, provider models.Address, jobID int64) (*models.Job, error)
	SubmitResult(ctx context.Context, provider models.Address, jobID int64, resultCommitment models.Hash) (*models.Job, error)
	Settle(ctx context.Context, caller models.Address, jobID int64) (*models.Job, error)
	DisputeJob(ctx context.Context, consumer models.Address, jobID int64) (*models.Job, error)
	CancelJob(ctx context.Context, consumer models.Address, jobID int64) (*models.Job, error)
	RefundExpiredJob(ctx context.Context, consumer models.Address, jobID int64) (*models.Job, error)
	ResolveDispute(ctx context.Context, caller models.Address, jobID int64, providerWins bool) (*models.Job, error)
	GetJob(ctx context.Context, jobID int64) (*models.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, error)
}

// NewPostJobHandler returns the handler for POST /api/v1/jobs.
func NewPostJobHandler(svc JobService, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := middleware.GetAddress(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller address", nil)
			return
		}

		var req struct {
			InputCommitment string `json:"input_commitment"`
			Deadline        string `json:"deadline"`
			Price           int64  `json:"price"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		commitment, err := models.ParseHash(req.InputCommitment)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "input_commitment must be a 32-byte hex value", nil)
			return
		}
		deadline, err := time.Parse(time.RFC3339, req.Deadline)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "deadline must be a valid RFC3339 timestamp", nil)
			return
		}

		job, err := svc.PostJob(r.Context(), addr, commitment, deadline, req.Price)
		if err != nil {
			writeError(w, err)
			return
		}

		cacheJobStatus(r.Context(), c, job)
		response.Created(w, job)
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		job, err := svc.GetJob(r.Context(), jobID)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewJobStatusHandler returns the handler for GET /api/v1/jobs/{jobID}/status.
// Pollers hit this often, so the status is served from cache when fresh.
func NewJobStatusHandler(svc JobService, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		if status, found, err := c.GetJobStatus(r.Context(), jobID); err == nil && found {
			response.JSON(w, map[string]any{"id": jobID, "status": status})
			return
		}

		job, err := svc.GetJob(r.Context(), jobID)
		if err != nil {
			writeError(w, err)
			return
		}
		cacheJobStatus(r.Context(), c, job)
		response.JSON(w, map[string]any{"id": job.ID, "status": job.Status})
	}
}

// NewListJobsHandler returns the handler for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.JobFilter{Status: r.URL.Query().Get("status")}

		if raw := r.URL.Query().Get("consumer"); raw != "" {
			addr, err := models.ParseAddress(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "consumer must be a valid address", nil)
				return
			}
			filter.Consumer = addr
		}
		if raw := r.URL.Query().Get("provider"); raw != "" {
			addr, err := models.ParseAddress(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "provider must be a valid address", nil)
				return
			}
			filter.Provider = addr
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if limit, err := strconv.Atoi(raw); err == nil {
				filter.Limit = limit
			}
		}

		jobs, err := svc.ListJobs(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		if jobs == nil {
			jobs = []*models.Job{}
		}
		response.JSON(w, jobs)
	}
}

// jobAction is the shared shape of the state-transition endpoints.
func jobAction(c cache.Cache, fn func(ctx context.Context, caller models.Address, jobID int64) (*models.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := middleware.GetAddress(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller address", nil)
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		job, err := fn(r.Context(), addr, jobID)
		if err != nil {
			writeError(w, err)
			return
		}

		cacheJobStatus(r.Context(), c, job)
		response.JSON(w, job)
	}
}

// NewAcceptJobHandler returns the handler for POST /api/v1/jobs/{jobID}/accept.
func NewAcceptJobHandler(svc JobService, c cache.Cache) http.HandlerFunc {
	return jobAction(c, svc.AcceptJob)
}

// NewSubmitResultHandler returns the handler for POST /api/v1/jobs/{jobID}/result.
func NewSubmitResultHandler(svc JobService, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := middleware.GetAddress(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller address", nil)
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		var req struct {
			ResultCommitment string `json:"result_commitment"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		commitment, err := models.ParseHash(req.ResultCommitment)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "result_commitment must be a 32-byte hex value", nil)
			return
		}

		job, err := svc.SubmitResult(r.Context(), addr, jobID, commitment)
		if err != nil {
			writeError(w, err)
			return
		}

		cacheJobStatus(r.Context(), c, job)
		response.JSON(w, job)
	}
}

// NewSettleJobHandler returns the handler for POST /api/v1/jobs/{jobID}/settle.
func NewSettleJobHandler(svc JobService, c cache.Cache) http.HandlerFunc {
	return jobAction(c, svc.Settle)
}

// NewDisputeJobHandler returns the handler for POST /api/v1/jobs/{jobID}/dispute.
func NewDisputeJobHandler(svc JobService, c cache.Cache) http.HandlerFunc {
	return jobAction(c, svc.DisputeJob)
}

// NewCancelJobHandler returns the handler for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(svc JobService, c cache.Cache) http.HandlerFunc {
	return jobAction(c, svc.CancelJob)
}

// NewRefundJobHandler returns the handler for POST /api/v1/jobs/{jobID}/refund.
func NewRefundJobHandler(svc JobService, c cache.Cache) http.HandlerFunc {
	return jobAction(c, svc.RefundExpiredJob)
}

// NewResolveDisputeHandler returns the handler for POST /api/v1/jobs/{jobID}/resolve.
func NewResolveDisputeHandler(svc JobService, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := middleware.GetAddress(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller address", nil)
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		var req struct {
			ProviderWins bool `json:"provider_wins"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := svc.ResolveDispute(r.Context(), addr, jobID, req.ProviderWins)
		if err != nil {
			writeError(w, err)
			return
		}

		cacheJobStatus(r.Context(), c, job)
		response.JSON(w, job)
	}
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil || jobID < 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a non-negative integer", nil)
		return 0, false
	}
	return jobID, true
}

func cacheJobStatus(ctx context.Context, c cache.Cache, job *models.Job) {
	if c == nil {
		return
	}
	// Best effort; the database remains the source of truth.
	_ = c.SetJobStatus(ctx, job.ID, job.Status, jobStatusTTL)
}
