package api

import (
	"net/http"

	mw "github.com/cipherworks/fhemarket/internal/api/middleware"
	"github.com/cipherworks/fhemarket/internal/api/response"
	"github.com/cipherworks/fhemarket/pkg/models"
	"github.com/go-chi/chi/v5"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	DepositHandler  http.HandlerFunc
	WithdrawHandler http.HandlerFunc
	BalanceHandler  http.HandlerFunc

	StakeHandler        http.HandlerFunc
	UnstakeHandler      http.HandlerFunc
	ProviderInfoHandler http.HandlerFunc

	RegisterProviderHandler http.HandlerFunc
	UpdateProviderHandler   http.HandlerFunc
	ListProvidersHandler    http.HandlerFunc
	GetProviderHandler      http.HandlerFunc

	PostJobHandler      http.HandlerFunc
	ListJobsHandler     http.HandlerFunc
	GetJobHandler       http.HandlerFunc
	JobStatusHandler    http.HandlerFunc
	AcceptJobHandler    http.HandlerFunc
	SubmitResultHandler http.HandlerFunc
	SettleJobHandler    http.HandlerFunc
	DisputeJobHandler   http.HandlerFunc
	CancelJobHandler    http.HandlerFunc
	RefundJobHandler    http.HandlerFunc
	ResolveHandler      http.HandlerFunc

	SubmitInputHandler       http.HandlerFunc
	GrantAccessHandler       http.HandlerFunc
	RevokeAccessHandler      http.HandlerFunc
	SubmitResultDataHandler  http.HandlerFunc
	RequestDecryptionHandler http.HandlerFunc
	FulfillDecryptionHandler http.HandlerFunc
	GetBridgeRecordHandler   http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/vault/deposit", orNotImplemented(deps.DepositHandler))
		r.Post("/api/v1/vault/withdraw", orNotImplemented(deps.WithdrawHandler))
		r.Get("/api/v1/vault/balance", orNotImplemented(deps.BalanceHandler))

		r.Post("/api/v1/staking/stake", orNotImplemented(deps.StakeHandler))
		r.Post("/api/v1/staking/unstake", orNotImplemented(deps.UnstakeHandler))
		r.Get("/api/v1/staking/{address}", orNotImplemented(deps.ProviderInfoHandler))

		r.Post("/api/v1/providers", orNotImplemented(deps.RegisterProviderHandler))
		r.Put("/api/v1/providers", orNotImplemented(deps.UpdateProviderHandler))
		r.Get("/api/v1/providers", orNotImplemented(deps.ListProvidersHandler))
		r.Get("/api/v1/providers/{address}", orNotImplemented(deps.GetProviderHandler))

		r.Post("/api/v1/jobs", orNotImplemented(deps.PostJobHandler))
		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Get("/api/v1/jobs/{jobID}/status", orNotImplemented(deps.JobStatusHandler))
		r.Post("/api/v1/jobs/{jobID}/accept", orNotImplemented(deps.AcceptJobHandler))
		r.Post("/api/v1/jobs/{jobID}/result", orNotImplemented(deps.SubmitResultHandler))
		r.Post("/api/v1/jobs/{jobID}/settle", orNotImplemented(deps.SettleJobHandler))
		r.Post("/api/v1/jobs/{jobID}/dispute", orNotImplemented(deps.DisputeJobHandler))
		r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJobHandler))
		r.Post("/api/v1/jobs/{jobID}/refund", orNotImplemented(deps.RefundJobHandler))

		r.Post("/api/v1/bridge/{jobID}/input", orNotImplemented(deps.SubmitInputHandler))
		r.Post("/api/v1/bridge/{jobID}/access/grant", orNotImplemented(deps.GrantAccessHandler))
		r.Post("/api/v1/bridge/{jobID}/access/revoke", orNotImplemented(deps.RevokeAccessHandler))
		r.Post("/api/v1/bridge/{jobID}/result", orNotImplemented(deps.SubmitResultDataHandler))
		r.Post("/api/v1/bridge/{jobID}/decryption", orNotImplemented(deps.RequestDecryptionHandler))
		r.Get("/api/v1/bridge/{jobID}", orNotImplemented(deps.GetBridgeRecordHandler))

		// Arbiter routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeArbiter))

			r.Post("/api/v1/jobs/{jobID}/resolve", orNotImplemented(deps.ResolveHandler))
		})

		// Oracle callback routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeOracle))

			r.Post("/api/v1/bridge/{jobID}/decryption/fulfill", orNotImplemented(deps.FulfillDecryptionHandler))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
