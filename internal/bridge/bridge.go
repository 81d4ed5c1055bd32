// Package bridge keeps the encrypted-data ledger that parallels the job
// table: opaque input/result handles, their proofs, and the per-job access
// list gating who may read the input off-chain. Handles and proofs are never
// decoded; a proof is accepted if present, semantic validation belongs to the
// external relayer.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cipherworks/fhemarket/internal/events"
	"github.com/cipherworks/fhemarket/internal/market"
	"github.com/cipherworks/fhemarket/internal/store"
	"github.com/cipherworks/fhemarket/pkg/models"
	"github.com/google/uuid"
)

var (
	ErrAlreadySubmitted = errors.New("handle already submitted")
	ErrInvalidProof     = errors.New("proof required")
	ErrNoResult         = errors.New("no result submitted")
	ErrNotPending       = errors.New("no decryption pending")
)

// Bridge manages commitment records keyed by job ID.
type Bridge struct {
	store store.Store
	pub   events.Publisher
	now   func() time.Time
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithClock overrides the bridge's time source.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// New creates a Bridge.
func New(s store.Store, pub events.Publisher, opts ...Option) *Bridge {
	b := &Bridge{store: s, pub: pub, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SubmitEncryptedInput stores the consumer's encrypted input handle and its
// proof, once per job.
func (b *Bridge) SubmitEncryptedInput(ctx context.Context, consumer models.Address, jobID int64, handle models.Hash, proof []byte) (*models.CommitmentRecord, error) {
	if len(proof) == 0 {
		return nil, ErrInvalidProof
	}

	var rec *models.CommitmentRecord
	var queue []*models.Event
	err := b.store.InTx(ctx, func(s store.Store) error {
		job, err := getJob(ctx, s, jobID)
		if err != nil {
			return err
		}
		if job.Consumer != consumer {
			return market.ErrNotConsumer
		}

		rec, err = b.lockOrInitRecord(ctx, s, jobID)
		if err != nil {
			return err
		}
		if rec.InputHandle != nil {
			return ErrAlreadySubmitted
		}

		now := b.now().UTC()
		rec.InputHandle = &handle
		rec.InputProof = proof
		rec.InputAt = &now
		if err := s.UpsertCommitment(ctx, rec); err != nil {
			return err
		}

		return b.emit(ctx, s, &queue, models.EventEncryptedInputSubmitted, jobID, consumer, map[string]any{
			"job_id": jobID,
			"handle": handle,
		})
	})
	if err != nil {
		return nil, err
	}

	b.publish(ctx, queue)
	return rec, nil
}

// GrantAccess adds a provider to the job's input access list. This list is
// the only mechanism by which a provider becomes authorized to read the
// encrypted input outside the ledger.
func (b *Bridge) GrantAccess(ctx context.Context, consumer models.Address, jobID int64, provider models.Address) error {
	return b.changeAccess(ctx, consumer, jobID, provider, true)
}

// RevokeAccess removes a provider from the job's input access list.
func (b *Bridge) RevokeAccess(ctx context.Context, consumer models.Address, jobID int64, provider models.Address) error {
	return b.changeAccess(ctx, consumer, jobID, provider, false)
}

func (b *Bridge) changeAccess(ctx context.Context, consumer models.Address, jobID int64, provider models.Address, grant bool) error {
	var queue []*models.Event
	err := b.store.InTx(ctx, func(s store.Store) error {
		job, err := getJob(ctx, s, jobID)
		if err != nil {
			return err
		}
		if job.Consumer != consumer {
			return market.ErrNotConsumer
		}

		if _, err := b.lockOrInitRecord(ctx, s, jobID); err != nil {
			return err
		}

		evType := models.EventInputAccessGranted
		if grant {
			err = s.GrantCommitmentAccess(ctx, jobID, provider)
		} else {
			err = s.RevokeCommitmentAccess(ctx, jobID, provider)
			evType = models.EventInputAccessRevoked
		}
		if err != nil {
			return err
		}

		return b.emit(ctx, s, &queue, evType, jobID, consumer, map[string]any{
			"job_id":   jobID,
			"provider": provider,
		})
	})
	if err != nil {
		return err
	}

	b.publish(ctx, queue)
	return nil
}

// SubmitEncryptedResult stores the accepted provider's encrypted result
// handle, proof, and proof hash, once per job.
func (b *Bridge) SubmitEncryptedResult(ctx context.Context, provider models.Address, jobID int64, handle models.Hash, proof []byte, proofHash models.Hash) (*models.CommitmentRecord, error) {
	if len(proof) == 0 {
		return nil, ErrInvalidProof
	}

	var rec *models.CommitmentRecord
	var queue []*models.Event
	err := b.store.InTx(ctx, func(s store.Store) error {
		job, err := getJob(ctx, s, jobID)
		if err != nil {
			return err
		}
		if job.Provider == nil || *job.Provider != provider {
			return market.ErrNotProvider
		}

		rec, err = b.lockOrInitRecord(ctx, s, jobID)
		if err != nil {
			return err
		}
		if rec.ResultHandle != nil {
			return ErrAlreadySubmitted
		}

		now := b.now().UTC()
		rec.ResultHandle = &handle
		rec.ResultProof = proof
		rec.ResultProofHash = &proofHash
		rec.ResultProvider = &provider
		rec.ResultAt = &now
		if err := s.UpsertCommitment(ctx, rec); err != nil {
			return err
		}

		return b.emit(ctx, s, &queue, models.EventEncryptedResultSubmitted, jobID, provider, map[string]any{
			"job_id":     jobID,
			"handle":     handle,
			"proof_hash": proofHash,
		})
	})
	if err != nil {
		return nil, err
	}

	b.publish(ctx, queue)
	return rec, nil
}

// RequestResultDecryption marks the job's result for decryption by the
// external oracle. Consumer-only, and only after a result handle exists. The
// decrypted value arrives asynchronously through FulfillDecryption.
func (b *Bridge) RequestResultDecryption(ctx context.Context, consumer models.Address, jobID int64) (*models.CommitmentRecord, error) {
	var rec *models.CommitmentRecord
	var queue []*models.Event
	err := b.store.InTx(ctx, func(s store.Store) error {
		job, err := getJob(ctx, s, jobID)
		if err != nil {
			return err
		}
		if job.Consumer != consumer {
			return market.ErrNotConsumer
		}

		rec, err = s.GetCommitmentForUpdate(ctx, jobID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoResult
		}
		if err != nil {
			return err
		}
		if rec.ResultHandle == nil {
			return ErrNoResult
		}

		rec.DecryptionPending = true
		if err := s.UpsertCommitment(ctx, rec); err != nil {
			return err
		}

		return b.emit(ctx, s, &queue, models.EventDecryptionRequested, jobID, consumer, map[string]any{
			"job_id": jobID,
			"handle": rec.ResultHandle,
		})
	})
	if err != nil {
		return nil, err
	}

	b.publish(ctx, queue)
	return rec, nil
}

// FulfillDecryption is the oracle callback delivering a decrypted result
// value for a pending request.
func (b *Bridge) FulfillDecryption(ctx context.Context, oracle models.Address, jobID int64, value int64) (*models.CommitmentRecord, error) {
	var rec *models.CommitmentRecord
	var queue []*models.Event
	err := b.store.InTx(ctx, func(s store.Store) error {
		var err error
		rec, err = s.GetCommitmentForUpdate(ctx, jobID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotPending
		}
		if err != nil {
			return err
		}
		if !rec.DecryptionPending || rec.Decrypted {
			return ErrNotPending
		}

		now := b.now().UTC()
		rec.DecryptionPending = false
		rec.Decrypted = true
		rec.DecryptedValue = &value
		rec.DecryptedAt = &now
		if err := s.UpsertCommitment(ctx, rec); err != nil {
			return err
		}

		return b.emit(ctx, s, &queue, models.EventDecryptionFulfilled, jobID, oracle, map[string]any{
			"job_id": jobID,
			"value":  value,
		})
	})
	if err != nil {
		return nil, err
	}

	b.publish(ctx, queue)
	return rec, nil
}

// GetRecord returns the commitment record for a job, access list included.
func (b *Bridge) GetRecord(ctx context.Context, jobID int64) (*models.CommitmentRecord, error) {
	rec, err := b.store.GetCommitment(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, market.ErrJobNotFound
	}
	return rec, err
}

// lockOrInitRecord locks the job's commitment row, creating an empty one on
// first touch.
func (b *Bridge) lockOrInitRecord(ctx context.Context, s store.Store, jobID int64) (*models.CommitmentRecord, error) {
	rec, err := s.GetCommitmentForUpdate(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		rec = &models.CommitmentRecord{JobID: jobID}
		if err := s.UpsertCommitment(ctx, rec); err != nil {
			return nil, err
		}
		return s.GetCommitmentForUpdate(ctx, jobID)
	}
	return rec, err
}

func (b *Bridge) emit(ctx context.Context, s store.Store, queue *[]*models.Event,
	evType string, jobID int64, actor models.Address, payload any) error {

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	ev := &models.Event{
		ID:        uuid.New(),
		Type:      evType,
		JobID:     &jobID,
		Actor:     actor,
		Payload:   raw,
		CreatedAt: b.now().UTC(),
	}
	if err := s.InsertEvent(ctx, ev); err != nil {
		return err
	}
	*queue = append(*queue, ev)
	return nil
}

func (b *Bridge) publish(ctx context.Context, queue []*models.Event) {
	for _, ev := range queue {
		if err := b.pub.Publish(ctx, ev); err != nil {
			slog.Warn("event publish failed", "type", ev.Type, "error", err)
		}
	}
}

func getJob(ctx context.Context, s store.Store, jobID int64) (*models.Job, error) {
	job, err := s.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, market.ErrJobNotFound
	}
	return job, err
}
