package models

import "time"

const (
	JobStatusPosted          = "posted"
	JobStatusAccepted        = "accepted"
	JobStatusResultSubmitted = "result_submitted"
	JobStatusSettled         = "settled"
	JobStatusCancelled       = "cancelled"
	JobStatusDisputed        = "disputed"
)

// Job is one escrowed compute job. IDs are dense, monotonically increasing
// integers assigned at posting and never reused. Escrow equals Price while the
// job is live and is zeroed exactly once, at settlement or refund.
type Job struct {
	ID               int64      `db:"id"                json:"id"`
	Consumer         Address    `db:"consumer"          json:"consumer"`
	Provider         *Address   `db:"provider"          json:"provider,omitempty"`
	Price            int64      `db:"price"             json:"price"`
	Escrow           int64      `db:"escrow"            json:"escrow"`
	InputCommitment  Hash       `db:"input_commitment"  json:"input_commitment"`
	ResultCommitment *Hash      `db:"result_commitment" json:"result_commitment,omitempty"`
	SubmittedAt      *time.Time `db:"submitted_at"      json:"submitted_at,omitempty"`
	Deadline         time.Time  `db:"deadline"          json:"deadline"`
	Status           string     `db:"status"            json:"status"`
	CreatedAt        time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"        json:"updated_at"`
}

// Terminal reports whether the job can never transition again.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusSettled || j.Status == JobStatusCancelled
}
