package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted on every state transition. Observers reconstruct job and
// provider state from the event stream without re-reading storage.
const (
	EventJobPosted                = "market.job.posted"
	EventJobAccepted              = "market.job.accepted"
	EventResultSubmitted          = "market.job.result_submitted"
	EventJobSettled               = "market.job.settled"
	EventJobDisputed              = "market.job.disputed"
	EventJobCancelled             = "market.job.cancelled"
	EventDisputeResolved          = "market.job.dispute_resolved"
	EventProviderStaked           = "market.provider.staked"
	EventProviderUnstaked         = "market.provider.unstaked"
	EventProviderSlashed          = "market.provider.slashed"
	EventProviderRegistered       = "market.provider.registered"
	EventProviderUpdated          = "market.provider.updated"
	EventVaultDeposited           = "market.vault.deposited"
	EventVaultWithdrawn           = "market.vault.withdrawn"
	EventEncryptedInputSubmitted  = "market.bridge.input_submitted"
	EventInputAccessGranted       = "market.bridge.access_granted"
	EventInputAccessRevoked       = "market.bridge.access_revoked"
	EventEncryptedResultSubmitted = "market.bridge.result_submitted"
	EventDecryptionRequested      = "market.bridge.decryption_requested"
	EventDecryptionFulfilled      = "market.bridge.decryption_fulfilled"
)

// Event is one structured notification. JobID is set for job-scoped events,
// Actor is the address whose call caused the transition.
type Event struct {
	ID        uuid.UUID       `db:"id"         json:"id"`
	Type      string          `db:"type"       json:"type"`
	JobID     *int64          `db:"job_id"     json:"job_id,omitempty"`
	Actor     Address         `db:"actor"      json:"actor"`
	Payload   json.RawMessage `db:"payload"    json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
