package models

import "time"

// CommitmentRecord is the encrypted-data bridge entry for a job. It shares the
// job's ID but is independently owned: the consumer writes the input handle
// and manages the access list, the accepted provider writes the result handle.
// Handles and proofs are opaque; the bridge only checks presence and size.
type CommitmentRecord struct {
	JobID           int64      `db:"job_id"            json:"job_id"`
	InputHandle     *Hash      `db:"input_handle"      json:"input_handle,omitempty"`
	InputProof      []byte     `db:"input_proof"       json:"input_proof,omitempty"`
	InputAt         *time.Time `db:"input_at"          json:"input_at,omitempty"`
	ResultHandle    *Hash      `db:"result_handle"     json:"result_handle,omitempty"`
	ResultProof     []byte     `db:"result_proof"      json:"result_proof,omitempty"`
	ResultProofHash *Hash      `db:"result_proof_hash" json:"result_proof_hash,omitempty"`
	ResultProvider  *Address   `db:"result_provider"   json:"result_provider,omitempty"`
	ResultAt        *time.Time `db:"result_at"         json:"result_at,omitempty"`
	// Access is the consumer-managed list of provider addresses allowed to
	// read the input handle off-chain.
	Access []Address `db:"-" json:"access"`
	// Decryption state: a request marks the record pending; the external
	// decryption oracle fulfills it asynchronously.
	DecryptionPending bool       `db:"decryption_pending" json:"decryption_pending"`
	Decrypted         bool       `db:"decrypted"          json:"decrypted"`
	DecryptedValue    *int64     `db:"decrypted_value"    json:"decrypted_value,omitempty"`
	DecryptedAt       *time.Time `db:"decrypted_at"       json:"decrypted_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at"         json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"         json:"updated_at"`
}

// HasAccess reports whether addr is in the access list.
func (c *CommitmentRecord) HasAccess(addr Address) bool {
	for _, a := range c.Access {
		if a == addr {
			return true
		}
	}
	return false
}
