// Package market implements the job lifecycle engine, the vault, the staking
// ledger with slashing, and the provider registry. Every mutating operation
// runs inside one store transaction: state is updated to its post-transfer
// value before any balance is credited, and any failure rolls the whole call
// back with no escrow movement.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cipherworks/fhemarket/internal/events"
	"github.com/cipherworks/fhemarket/internal/store"
	"github.com/cipherworks/fhemarket/pkg/models"
	"github.com/google/uuid"
)

// Reputation bookkeeping. New providers start at the baseline; clean
// settlements nudge the score up, an adverse arbitration knocks it down,
// always clamped to [0, MaxReputation].
const (
	InitialReputation      = 50
	MaxReputation          = 100
	ReputationSettleBonus  = 1
	ReputationWinBonus     = 5
	ReputationSlashPenalty = 10
)

// Params are the marketplace policy knobs.
type Params struct {
	// MinStake is the collateral floor, in base units, to accept a job.
	MinStake int64
	// DisputePeriod is the window after result submission during which the
	// consumer may dispute and before which they cannot settle.
	DisputePeriod time.Duration
	// Arbiter may settle immediately and resolve disputes.
	Arbiter models.Address
}

// Engine coordinates jobs, escrow, stakes, and the registry.
type Engine struct {
	store  store.Store
	pub    events.Publisher
	params Params
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine.
func NewEngine(s store.Store, pub events.Publisher, params Params, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		pub:    pub,
		params: params,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// emit appends a structured notification inside the current transaction and
// queues it for post-commit publication.
func (e *Engine) emit(ctx context.Context, s store.Store, queue *[]*models.Event,
	evType string, jobID *int64, actor models.Address, payload any) error {

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	ev := &models.Event{
		ID:        uuid.New(),
		Type:      evType,
		JobID:     jobID,
		Actor:     actor,
		Payload:   raw,
		CreatedAt: e.now().UTC(),
	}
	if err := s.InsertEvent(ctx, ev); err != nil {
		return err
	}
	*queue = append(*queue, ev)
	return nil
}

// publish fans queued events out to live observers. The events are already
// durable; a broker failure is logged, not surfaced.
func (e *Engine) publish(ctx context.Context, queue []*models.Event) {
	for _, ev := range queue {
		if err := e.pub.Publish(ctx, ev); err != nil {
			slog.Warn("event publish failed", "type", ev.Type, "error", err)
		}
	}
}

// PostJob escrows price from the consumer's vault balance and creates a job
// in the posted state. Deadline must be strictly in the future.
func (e *Engine) PostJob(ctx context.Context, consumer models.Address, inputCommitment models.Hash, deadline time.Time, price int64) (*models.Job, error) {
	if price <= 0 {
		return nil, ErrInvalidEscrow
	}
	now := e.now().UTC()
	if !deadline.After(now) {
		return nil, ErrInvalidDeadline
	}

	var job *models.Job
	var queue []*models.Event
	err := e.store.InTx(ctx, func(s store.Store) error {
		if _, err := s.AddBalance(ctx, consumer, -price); err != nil {
			if errors.Is(err, store.ErrInsufficientBalance) {
				return ErrInsufficientBalance
			}
			return err
		}

		id, err := s.NextJobID(ctx)
		if err != nil {
			return err
		}

		job = &models.Job{
			ID:              id,
			Consumer:        consumer,
			Price:           price,
			Escrow:          price,
			InputCommitment: inputCommitment,
			Deadline:        deadline.UTC(),
			Status:          models.JobStatusPosted,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.CreateJob(ctx, job); err != nil {
			return err
		}

		return e.emit(ctx, s, &queue, models.EventJobPosted, &job.ID, consumer, map[string]any{
			"job_id":           job.ID,
			"consumer":         consumer,
			"input_commitment": inputCommitment,
			"price":            price,
			"deadline":         job.Deadline,
		})
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, queue)
	return job, nil
}

// AcceptJob assigns the caller as the job's provider. The caller must have
// MinStake of free collateral, which is locked against the job until it
// closes. The provider field is written exactly once.
func (e *Engine) AcceptJob(ctx context.Context, provider models.Address, jobID int64) (*models.Job, error) {
	var job *models.Job
	var queue []*models.Event
	err := e.store.InTx(ctx, func(s store.Store) error {
		var err error
		job, err = lockJob(ctx, s, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusPosted {
			return ErrInvalidState
		}

		stake, err := s.GetStakeForUpdate(ctx, provider)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInsufficientStake
		}
		if err != nil {
			return err
		}
		if stake.Staked-stake.Locked < e.params.MinStake {
			return ErrInsufficientStake
		}

		stake.Locked += e.params.MinStake
		if err := s.UpsertStake(ctx, stake); err != nil {
			return err
		}

		if err := transition(job, models.JobStatusAccepted); err != nil {
			return err
		}
		job.Provider = &provider
		if err := s.UpdateJob(ctx, job); err != nil {
			return err
		}

		return e.emit(ctx, s, &queue, models.EventJobAccepted, &job.ID, provider, map[string]any{
			"job_id":   job.ID,
			"provider": provider,
		})
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, queue)
	return job, nil
}

// SubmitResult records the provider's result commitment and starts the
// dispute window.
func (e *Engine) SubmitResult(ctx context.Context, provider models.Address, jobID int64, resultCommitment models.Hash) (*models.Job, error) {
	var job *models.Job
	var queue []*models.Event
	err := e.store.InTx(ctx, func(s store.Store) error {
		var err error
		job, err = lockJob(ctx, s, jobID)
		if err != nil {
			return err
		}
		if job.Provider == nil || *job.Provider != provider {
			return ErrNotProvider
		}
		if job.Status != models.JobStatusAccepted {
			return ErrInvalidState
		}

		now := e.now().UTC()
		if err := transition(job, models.JobStatusResultSubmitted); err != nil {
			return err
		}
		job.ResultCommitment = &resultCommitment
		job.SubmittedAt = &now
		if err := s.UpdateJob(ctx, job); err != nil {
			return err
		}

		return e.emit(ctx, s, &queue, models.EventResultSubmitted, &job.ID, provider, map[string]any{
			"job_id":            job.ID,
			"result_commitment": resultCommitment,
			"submitted_at":      now,
		})
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, queue)
	return job, nil
}

// Settle releases escrow to the provider. The consumer may settle once the
// dispute period has elapsed; the arbiter may settle immediately. Escrow is
// zeroed and the status advanced before the provider's balance is credited.
func (e *Engine) Settle(ctx context.Context, caller models.Address, jobID int64) (*models.Job, error) {
	var job *models.Job
	var queue []*models.Event
	err := e.store.InTx(ctx, func(s store.Store) error {
		var err error
		job, err = lockJob(ctx, s, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusResultSubmitted {
			return ErrInvalidState
		}

		switch caller {
		case e.params.Arbiter:
			// immediate settlement
		case job.Consumer:
			if e.now().UTC().Before(job.SubmittedAt.Add(e.params.DisputePeriod)) {
				return ErrDisputePeriodNotEnded
			}
		default:
			return ErrNotConsumer
		}

		return e.closeToProvider(ctx, s, &queue, job, caller, ReputationSettleBonus)
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, queue)
	return job, nil
}

// DisputeJob escalates a submitted result to arbitration. Only the consumer,
// and only strictly inside the dispute window. Escrow stays held.
func (e *Engine) DisputeJob(ctx context.Context, consumer models.Address, jobID int64) (*models.Job, error) {
	var job *models.Job
	var queue []*models.Event
	err := e.store.InTx(ctx, func(s store.Store) error {
		var err error
		job, err = lockJob(ctx, s, jobID)
		if err != nil {
			return err
		}
		if job.Consumer != consumer {
			return ErrNotConsumer
		}
		if job.Status != models.JobStatusResultSubmitted {
			return ErrInvalidState
		}
		if !e.now().UTC().Before(job.SubmittedAt.Add(e.params.DisputePeriod)) {
			return ErrDisputePeriodEnded
		}

		if err := transition(job, models.JobStatusDisputed); err != nil {
			return err
		}
		if err := s.UpdateJob(ctx, job); err != nil {
			return err
		}

		return e.emit(ctx, s, &queue, models.EventJobDisputed, &job.ID, consumer, map[string]any{
			"job_id":   job.ID,
			"consumer": consumer,
		})
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, queue)
	return job, nil
}

// CancelJob refunds a job no provider has accepted yet.
func (e *Engine) CancelJob(ctx context.Context, consumer models.Address, jobID int64) (*models.Job, error) {
	var job *models.Job
	var queue []*models.Event
	err := e.store.InTx(ctx, func(s store.Store) error {
		var err error
		job, err = lockJob(ctx, s, jobID)
		if err != nil {
			return err
		}
		if job.Consumer != consumer {
			return ErrNotConsumer
		}
		if job.Status != models.JobStatusPosted {
			return ErrInvalidState
		}

		return e.refundToConsumer(ctx, s, &queue, job, consumer, "Cancelled by consumer", false)
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, queue)
	return job, nil
}

// RefundExpiredJob refunds an accepted job whose deadline passed with no
// result. Consumer-only, so a third party cannot grief an active provider.
// Expiry never happens implicitly; this call is the only exit.
func (e *Engine) RefundExpiredJob(ctx context.Context, consumer models.Address, jobID int64) (*models.Job, error) {
	var job *models.Job
	var queue []*models.Event
	err := e.store.InTx(ctx, func(s store.Store) error {
		var err error
		job, err = lockJob(ctx, s, jobID)
		if err != nil {
			return err
		}
		if job.Consumer != consumer {
			return ErrNotConsumer
		}
		if job.Status != models.JobStatusAccepted {
			return ErrInvalidState
		}
		if !e.now().UTC().After(job.Deadline) {
			return ErrDeadlineNotPassed
		}

		return e.refundToConsumer(ctx, s, &queue, job, consumer, "Expired", true)
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, queue)
	return job, nil
}

// GetJob returns a job snapshot.
func (e *Engine) GetJob(ctx context.Context, jobID int64) (*models.Job, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// ListJobs returns job snapshots matching the filter.
func (e *Engine) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, error) {
	return e.store.ListJobs(ctx, filter)
}

// closeToProvider settles a live job in the provider's favor: escrow is
// zeroed, the job closed, the provider's lock released and reputation
// adjusted, and only then their vault balance credited.
func (e *Engine) closeToProvider(ctx context.Context, s store.Store, queue *[]*models.Event,
	job *models.Job, actor models.Address, reputationBonus int64) error {

	provider := *job.Provider
	amount := job.Escrow

	job.Escrow = 0
	if err := transition(job, models.JobStatusSettled); err != nil {
		return err
	}
	if err := s.UpdateJob(ctx, job); err != nil {
		return err
	}

	stake, err := s.GetStakeForUpdate(ctx, provider)
	if err != nil {
		return err
	}
	stake.Locked = max(0, stake.Locked-e.params.MinStake)
	stake.CompletedJobs++
	stake.Reputation = min(MaxReputation, stake.Reputation+reputationBonus)
	if err := s.UpsertStake(ctx, stake); err != nil {
		return err
	}

	if _, err := s.AddBalance(ctx, provider, amount); err != nil {
		return err
	}

	return e.emit(ctx, s, queue, models.EventJobSettled, &job.ID, actor, map[string]any{
		"job_id":   job.ID,
		"provider": provider,
		"amount":   amount,
	})
}

// refundToConsumer cancels a job and returns its escrow. unlockStake releases
// the accepted provider's collateral when one was assigned.
func (e *Engine) refundToConsumer(ctx context.Context, s store.Store, queue *[]*models.Event,
	job *models.Job, actor models.Address, reason string, unlockStake bool) error {

	amount := job.Escrow
	consumer := job.Consumer

	job.Escrow = 0
	if err := transition(job, models.JobStatusCancelled); err != nil {
		return err
	}
	if err := s.UpdateJob(ctx, job); err != nil {
		return err
	}

	if unlockStake && job.Provider != nil {
		stake, err := s.GetStakeForUpdate(ctx, *job.Provider)
		if err != nil {
			return err
		}
		stake.Locked = max(0, stake.Locked-e.params.MinStake)
		if err := s.UpsertStake(ctx, stake); err != nil {
			return err
		}
	}

	if _, err := s.AddBalance(ctx, consumer, amount); err != nil {
		return err
	}

	return e.emit(ctx, s, queue, models.EventJobCancelled, &job.ID, actor, map[string]any{
		"job_id": job.ID,
		"reason": reason,
		"amount": amount,
	})
}

func lockJob(ctx context.Context, s store.Store, jobID int64) (*models.Job, error) {
	job, err := s.GetJobForUpdate(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}
