package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cipherworks/fhemarket/internal/api/middleware"
	"github.com/cipherworks/fhemarket/internal/api/response"
	"github.com/cipherworks/fhemarket/pkg/models"
)

// VaultService is the balance surface the vault handlers depend on.
type VaultService interface {
	Deposit(ctx context.Context, addr models.Address, amount int64) (int64, error)
	Withdraw(ctx context.Context, addr models.Address, amount int64) (int64, error)
	Balance(ctx context.Context, addr models.Address) (int64, error)
}

type vaultResponse struct {
	Address models.Address `json:"address"`
	Balance int64          `json:"balance"`
}

// NewDepositHandler returns the handler for POST /api/v1/vault/deposit.
func NewDepositHandler(svc VaultService) http.HandlerFunc {
	return vaultMove(svc.Deposit)
}

// NewWithdrawHandler returns the handler for POST /api/v1/vault/withdraw.
func NewWithdrawHandler(svc VaultService) http.HandlerFunc {
	return vaultMove(svc.Withdraw)
}

func vaultMove(fn func(ctx context.Context, addr models.Address, amount int64) (int64, error)) http.HandlerFunc {
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

		balance, err := fn(r.Context(), addr, req.Amount)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, vaultResponse{Address: addr, Balance: balance})
	}
}

// NewBalanceHandler returns the handler for GET /api/v1/vault/balance.
func NewBalanceHandler(svc VaultService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := middleware.GetAddress(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller address", nil)
			return
		}

		balance, err := svc.Balance(r.Context(), addr)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, vaultResponse{Address: addr, Balance: balance})
	}
}
