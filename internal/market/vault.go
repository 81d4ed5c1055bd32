package market

import (
	"context"
	"errors"

	"github.com/cipherworks/fhemarket/internal/store"
	"github.com/cipherworks/fhemarket/pkg/models"
)

// Deposit credits an account's vault balance. The vault stands in for native
// value transfer: every payable operation debits it, every refund or
// settlement credits it.
func (e *Engine) Deposit(ctx context.Context, addr models.Address, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int64
	var queue []*models.Event
	err := e.store.InTx(ctx, func(s store.Store) error {
		var err error
		balance, err = s.AddBalance(ctx, addr, amount)
		if err != nil {
			return err
		}
		return e.emit(ctx, s, &queue, models.EventVaultDeposited, nil, addr, map[string]any{
			"address": addr,
			"amount":  amount,
			"balance": balance,
		})
	})
	if err != nil {
		return 0, err
	}

	e.publish(ctx, queue)
	return balance, nil
}

// Withdraw debits an account's vault balance.
func (e *Engine) Withdraw(ctx context.Context, addr models.Address, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance int64
	var queue []*models.Event
	err := e.store.InTx(ctx, func(s store.Store) error {
		var err error
		balance, err = s.AddBalance(ctx, addr, -amount)
		if err != nil {
			if errors.Is(err, store.ErrInsufficientBalance) {
				return ErrInsufficientBalance
			}
			return err
		}
		return e.emit(ctx, s, &queue, models.EventVaultWithdrawn, nil, addr, map[string]any{
			"address": addr,
			"amount":  amount,
			"balance": balance,
		})
	})
	if err != nil {
		return 0, err
	}

	e.publish(ctx, queue)
	return balance, nil
}

// Balance returns an account's free vault balance. Unknown accounts read as
// zero.
func (e *Engine) Balance(ctx context.Context, addr models.Address) (int64, error) {
	return e.store.GetBalance(ctx, addr)
}
