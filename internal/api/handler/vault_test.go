package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cipherworks/fhemarket/internal/market"
	"github.com/cipherworks/fhemarket/pkg/models"
)

// --- mock VaultService ---

type mockVaultService struct {
	depositFn  func(ctx context.Context, addr models.Address, amount int64) (int64, error)
	withdrawFn func(ctx context.Context, addr models.Address, amount int64) (int64, error)
	balanceFn  func(ctx context.Context, addr models.Address) (int64, error)
}

func (m *mockVaultService) Deposit(ctx context.Context, addr models.Address, amount int64) (int64, error) {
	return m.depositFn(ctx, addr, amount)
}

func (m *mockVaultService) Withdraw(ctx context.Context, addr models.Address, amount int64) (int64, error) {
	return m.withdrawFn(ctx, addr, amount)
}

func (m *mockVaultService) Balance(ctx context.Context, addr models.Address) (int64, error) {
	return m.balanceFn(ctx, addr)
}

// --- mock StakingService ---

type mockStakingService struct {
	stakeFn   func(ctx context.Context, provider models.Address, amount int64) (*models.StakeRecord, error)
	unstakeFn func(ctx context.Context, provider models.Address, amount int64) (*models.StakeRecord, error)
	infoFn    func(ctx context.Context, provider models.Address) (*models.StakeRecord, error)
}

func (m *mockStakingService) Stake(ctx context.Context, provider models.Address, amount int64) (*models.StakeRecord, error) {
	return m.stakeFn(ctx, provider, amount)
}

func (m *mockStakingService) Unstake(ctx context.Context, provider models.Address, amount int64) (*models.StakeRecord, error) {
	return m.unstakeFn(ctx, provider, amount)
}

func (m *mockStakingService) GetProviderInfo(ctx context.Context, provider models.Address) (*models.StakeRecord, error) {
	return m.infoFn(ctx, provider)
}

// --- vault tests ---

func TestDepositHandler_Success(t *testing.T) {
	svc := &mockVaultService{depositFn: func(_ context.Context, addr models.Address, amount int64) (int64, error) {
		if addr != testConsumer {
			t.Errorf("unexpected address: %s", addr)
		}
		if amount != 5000 {
			t.Errorf("unexpected amount: %d", amount)
		}
		return 5000, nil
	}}

	h := NewDepositHandler(svc)
	rec := httptest.NewRecorder()
	body := map[string]any{"amount": 5000}
	h.ServeHTTP(rec, withAddr(jsonReq(t, http.MethodPost, "/api/v1/vault/deposit", body), testConsumer))

	data := parseData(t, rec, http.StatusOK)
	if data["balance"] != float64(5000) {
		t.Errorf("unexpected balance: %v", data["balance"])
	}
	if data["address"] != testConsumer.String() {
		t.Errorf("unexpected address: %v", data["address"])
	}
}

func TestDepositHandler_InvalidAmount(t *testing.T) {
	svc := &mockVaultService{depositFn: func(context.Context, models.Address, int64) (int64, error) {
		return 0, market.ErrInvalidAmount
	}}
	h := NewDepositHandler(svc)
	rec := httptest.NewRecorder()
	body := map[string]any{"amount": -1}
	h.ServeHTTP(rec, withAddr(jsonReq(t, http.MethodPost, "/api/v1/vault/deposit", body), testConsumer))

	if status, code := parseErr(t, rec); status != http.StatusBadRequest || code != "INVALID_AMOUNT" {
		t.Errorf("expected 400 INVALID_AMOUNT, got %d %s", status, code)
	}
}

func TestWithdrawHandler_InsufficientBalance(t *testing.T) {
	svc := &mockVaultService{withdrawFn: func(context.Context, models.Address, int64) (int64, error) {
		return 0, market.ErrInsufficientBalance
	}}
	h := NewWithdrawHandler(svc)
	rec := httptest.NewRecorder()
	body := map[string]any{"amount": 9999}
	h.ServeHTTP(rec, withAddr(jsonReq(t, http.MethodPost, "/api/v1/vault/withdraw", body), testConsumer))

	if status, code := parseErr(t, rec); status != http.StatusConflict || code != "INSUFFICIENT_BALANCE" {
		t.Errorf("expected 409 INSUFFICIENT_BALANCE, got %d %s", status, code)
	}
}

func TestBalanceHandler_MissingAddress(t *testing.T) {
	h := NewBalanceHandler(&mockVaultService{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/vault/balance", nil))

	if status, code := parseErr(t, rec); status != http.StatusUnauthorized || code != "INVALID_TOKEN" {
		t.Errorf("expected 401 INVALID_TOKEN, got %d %s", status, code)
	}
}

// --- staking tests ---

func TestStakeHandler_Success(t *testing.T) {
	svc := &mockStakingService{stakeFn: func(_ context.Context, provider models.Address, amount int64) (*models.StakeRecord, error) {
		return &models.StakeRecord{Address: provider, Staked: amount, Reputation: 50}, nil
	}}

	h := NewStakeHandler(svc)
	rec := httptest.NewRecorder()
	body := map[string]any{"amount": 200000}
	h.ServeHTTP(rec, withAddr(jsonReq(t, http.MethodPost, "/api/v1/staking/stake", body), testProvider))

	data := parseData(t, rec, http.StatusOK)
	if data["staked"] != float64(200000) {
		t.Errorf("unexpected staked: %v", data["staked"])
	}
	if data["reputation"] != float64(50) {
		t.Errorf("unexpected reputation: %v", data["reputation"])
	}
}

func TestUnstakeHandler_LockedCollateral(t *testing.T) {
	svc := &mockStakingService{unstakeFn: func(context.Context, models.Address, int64) (*models.StakeRecord, error) {
		return nil, market.ErrInsufficientStake
	}}
	h := NewUnstakeHandler(svc)
	rec := httptest.NewRecorder()
	body := map[string]any{"amount": 200000}
	h.ServeHTTP(rec, withAddr(jsonReq(t, http.MethodPost, "/api/v1/staking/unstake", body), testProvider))

	if status, code := parseErr(t, rec); status != http.StatusConflict || code != "INSUFFICIENT_STAKE" {
		t.Errorf("expected 409 INSUFFICIENT_STAKE, got %d %s", status, code)
	}
}

func TestProviderInfoHandler_Success(t *testing.T) {
	svc := &mockStakingService{infoFn: func(_ context.Context, provider models.Address) (*models.StakeRecord, error) {
		if provider != testProvider {
			t.Errorf("unexpected provider: %s", provider)
		}
		return &models.StakeRecord{Address: provider, Staked: 100, Locked: 40, Reputation: 55, CompletedJobs: 3}, nil
	}}

	h := NewProviderInfoHandler(svc)
	rec := httptest.NewRecorder()
	r := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/staking/x", nil), "address", testProvider.String())
	h.ServeHTTP(rec, r)

	data := parseData(t, rec, http.StatusOK)
	if data["locked"] != float64(40) {
		t.Errorf("unexpected locked: %v", data["locked"])
	}
	if data["completed_jobs"] != float64(3) {
		t.Errorf("unexpected completed_jobs: %v", data["completed_jobs"])
	}
}

func TestProviderInfoHandler_BadAddress(t *testing.T) {
	h := NewProviderInfoHandler(&mockStakingService{})
	rec := httptest.NewRecorder()
	r := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/staking/x", nil), "address", "0xshort")
	h.ServeHTTP(rec, r)

	if status, code := parseErr(t, rec); status != http.StatusBadRequest || code != "INVALID_REQUEST" {
		t.Errorf("expected 400 INVALID_REQUEST, got %d %s", status, code)
	}
}
