package market

import (
	"context"
	"errors"

	"github.com/cipherworks/fhemarket/internal/store"
	"github.com/cipherworks/fhemarket/pkg/models"
)

// Stake moves amount from the caller's vault balance into their collateral.
// Stakes below MinStake are rejected outright. The first stake initializes
// reputation to the baseline.
func (e *Engine) Stake(ctx context.Context, provider models.Address, amount int64) (*models.StakeRecord, error) {
	if amount < e.params.MinStake {
		return nil, ErrInsufficientStake
	}

	var rec *models.StakeRecord
	var queue []*models.Event
	err := e.store.InTx(ctx, func(s store.Store) error {
		if _, err := s.AddBalance(ctx, provider, -amount); err != nil {
			if errors.Is(err, store.ErrInsufficientBalance) {
				return ErrInsufficientBalance
			}
			return err
		}

		var err error
		rec, err = s.GetStakeForUpdate(ctx, provider)
		if errors.Is(err, store.ErrNotFound) {
			rec = &models.StakeRecord{
				Address:    provider,
				Reputation: InitialReputation,
			}
		} else if err != nil {
			return err
		}

		rec.Staked += amount
		if err := s.UpsertStake(ctx, rec); err != nil {
			return err
		}

		return e.emit(ctx, s, &queue, models.EventProviderStaked, nil, provider, map[string]any{
			"provider": provider,
			"amount":   amount,
			"staked":   rec.Staked,
		})
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, queue)
	return rec, nil
}

// Unstake returns amount from the caller's collateral to their vault balance.
// Collateral locked against open accepted jobs cannot be withdrawn.
func (e *Engine) Unstake(ctx context.Context, provider models.Address, amount int64) (*models.StakeRecord, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var rec *models.StakeRecord
	var queue []*models.Event
	err := e.store.InTx(ctx, func(s store.Store) error {
		var err error
		rec, err = s.GetStakeForUpdate(ctx, provider)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInsufficientStake
		}
		if err != nil {
			return err
		}
		if amount > rec.Staked-rec.Locked {
			return ErrInsufficientStake
		}

		rec.Staked -= amount
		if err := s.UpsertStake(ctx, rec); err != nil {
			return err
		}

		if _, err := s.AddBalance(ctx, provider, amount); err != nil {
			return err
		}

		return e.emit(ctx, s, &queue, models.EventProviderUnstaked, nil, provider, map[string]any{
			"provider": provider,
			"amount":   amount,
			"staked":   rec.Staked,
		})
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, queue)
	return rec, nil
}

// GetProviderInfo returns a provider's stake, reputation, and completed-job
// counter. Providers that never staked read as a zero record.
func (e *Engine) GetProviderInfo(ctx context.Context, provider models.Address) (*models.StakeRecord, error) {
	rec, err := e.store.GetStake(ctx, provider)
	if errors.Is(err, store.ErrNotFound) {
		return &models.StakeRecord{Address: provider}, nil
	}
	return rec, err
}

// ResolveDispute is the arbitration hook out of the disputed state. A
// resolution for the provider settles the job in their favor and rewards
// reputation; a resolution against them refunds the consumer, slashes the
// provider's stake by up to the job price, and compensates the consumer with
// the slashed amount.
func (e *Engine) ResolveDispute(ctx context.Context, caller models.Address, jobID int64, providerWins bool) (*models.Job, error) {
	if caller != e.params.Arbiter {
		return nil, ErrNotArbiter
	}

	var job *models.Job
	var queue []*models.Event
	err := e.store.InTx(ctx, func(s store.Store) error {
		var err error
		job, err = lockJob(ctx, s, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusDisputed {
			return ErrInvalidState
		}

		if providerWins {
			if err := e.closeToProvider(ctx, s, &queue, job, caller, ReputationWinBonus); err != nil {
				return err
			}
		} else {
			if err := e.slashProvider(ctx, s, &queue, job, caller); err != nil {
				return err
			}
		}

		return e.emit(ctx, s, &queue, models.EventDisputeResolved, &job.ID, caller, map[string]any{
			"job_id":        job.ID,
			"provider_wins": providerWins,
		})
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, queue)
	return job, nil
}

// slashProvider resolves a dispute against the provider: the consumer gets
// their escrow back plus a penalty carved from the provider's stake, and the
// provider's reputation drops.
func (e *Engine) slashProvider(ctx context.Context, s store.Store, queue *[]*models.Event,
	job *models.Job, actor models.Address) error {

	provider := *job.Provider
	escrow := job.Escrow

	job.Escrow = 0
	if err := transition(job, models.JobStatusCancelled); err != nil {
		return err
	}
	if err := s.UpdateJob(ctx, job); err != nil {
		return err
	}

	stake, err := s.GetStakeForUpdate(ctx, provider)
	if err != nil {
		return err
	}
	penalty := min(stake.Staked, job.Price)
	stake.Staked -= penalty
	stake.Locked = min(max(0, stake.Locked-e.params.MinStake), stake.Staked)
	stake.Reputation = max(0, stake.Reputation-ReputationSlashPenalty)
	if err := s.UpsertStake(ctx, stake); err != nil {
		return err
	}

	if _, err := s.AddBalance(ctx, job.Consumer, escrow+penalty); err != nil {
		return err
	}

	if err := e.emit(ctx, s, queue, models.EventJobCancelled, &job.ID, actor, map[string]any{
		"job_id": job.ID,
		"reason": "Dispute resolved",
		"amount": escrow,
	}); err != nil {
		return err
	}
	return e.emit(ctx, s, queue, models.EventProviderSlashed, &job.ID, actor, map[string]any{
		"job_id":   job.ID,
		"provider": provider,
		"penalty":  penalty,
	})
}
