package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cipherworks/fhemarket/internal/api/middleware"
	"github.com/cipherworks/fhemarket/internal/api/response"
	"github.com/cipherworks/fhemarket/pkg/models"
	"github.com/go-chi/chi/v5"
)

// StakingService is the collateral surface the staking handlers depend on.
type StakingService interface {
	Stake(ctx context.Context, provider models.Address, amount int64) (*models.StakeRecord, error)
	Unstake(ctx context.Context, provider models.Address, amount int64) (*models.StakeRecord, error)
	GetProviderInfo(ctx context.Context, provider models.Address) (*models.StakeRecord, error)
}

// NewStakeHandler returns the handler for POST /api/v1/staking/stake.
func NewStakeHandler(svc StakingService) http.HandlerFunc {
	return stakeMove(svc.Stake)
}

// NewUnstakeHandler returns the handler for POST /api/v1/staking/unstake.
func NewUnstakeHandler(svc StakingService) http.HandlerFunc {
	return stakeMove(svc.Unstake)
}

func stakeMove(fn func(ctx context.Context, provider models.Address, amount int64) (*models.StakeRecord, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := middleware.GetAddress(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller address", nil)
			return
		}

		var req struct {
			Amount int64 `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		rec, err := fn(r.Context(), addr, req.Amount)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, rec)
	}
}

// NewProviderInfoHandler returns the handler for
// GET /api/v1/staking/{address}.
func NewProviderInfoHandler(svc StakingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, err := models.ParseAddress(chi.URLParam(r, "address"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "address must be a valid address", nil)
			return
		}

		rec, err := svc.GetProviderInfo(r.Context(), addr)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, rec)
	}
}
