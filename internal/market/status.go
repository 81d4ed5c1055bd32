package market

import "github.com/cipherworks/fhemarket/pkg/models"

// validTransitions is the closed job state machine. Every mutating operation
// consults it through canTransition, so the full graph lives in one place.
// Settled and cancelled are terminal; disputed exits only through arbitration.
var validTransitions = map[string][]string{
	models.JobStatusPosted:          {models.JobStatusAccepted, models.JobStatusCancelled},
	models.JobStatusAccepted:        {models.JobStatusResultSubmitted, models.JobStatusCancelled},
	models.JobStatusResultSubmitted: {models.JobStatusSettled, models.JobStatusDisputed},
	models.JobStatusDisputed:        {models.JobStatusSettled, models.JobStatusCancelled},
}

func canTransition(from, to string) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transition moves job to the target status or fails with ErrInvalidState.
// Statuses are monotonic along the graph; a job never revisits an earlier one.
func transition(job *models.Job, to string) error {
	if !canTransition(job.Status, to) {
		return ErrInvalidState
	}
	job.Status = to
	return nil
}
