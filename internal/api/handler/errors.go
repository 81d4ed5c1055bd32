package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cipherworks/fhemarket/internal/api/response"
	"github.com/cipherworks/fhemarket/internal/bridge"
	"github.com/cipherworks/fhemarket/internal/market"
)

// domainError maps one domain sentinel to a wire error.
type domainError struct {
	status  int
	code    string
	message string
}

var domainErrors = []struct {
	err  error
	resp domainError
}{
	{market.ErrJobNotFound, domainError{http.StatusNotFound, "JOB_NOT_FOUND", "Job does not exist"}},
	{market.ErrInvalidState, domainError{http.StatusConflict, "INVALID_STATE", "Job is not in a state that allows this operation"}},
	{market.ErrInvalidEscrow, domainError{http.StatusBadRequest, "INVALID_ESCROW", "Escrow value is required"}},
	{market.ErrInvalidDeadline, domainError{http.StatusBadRequest, "INVALID_DEADLINE", "Deadline must be in the future"}},
	{market.ErrInsufficientStake, domainError{http.StatusConflict, "INSUFFICIENT_STAKE", "Stake is below the required minimum"}},
	{market.ErrInsufficientBalance, domainError{http.StatusConflict, "INSUFFICIENT_BALANCE", "Vault balance is too low"}},
	{market.ErrInvalidAmount, domainError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be positive"}},
	{market.ErrNotProvider, domainError{http.StatusForbidden, "NOT_PROVIDER", "Caller is not the job's provider"}},
	{market.ErrNotConsumer, domainError{http.StatusForbidden, "NOT_CONSUMER", "Caller is not the job's consumer"}},
	{market.ErrNotArbiter, domainError{http.StatusForbidden, "NOT_ARBITER", "Caller is not the arbiter"}},
	{market.ErrDisputePeriodNotEnded, domainError{http.StatusConflict, "DISPUTE_PERIOD_NOT_ENDED", "The dispute period has not elapsed"}},
	{market.ErrDisputePeriodEnded, domainError{http.StatusConflict, "DISPUTE_PERIOD_ENDED", "The dispute period has ended"}},
	{market.ErrDeadlineNotPassed, domainError{http.StatusConflict, "DEADLINE_NOT_PASSED", "The job deadline has not passed"}},
	{market.ErrAlreadyRegistered, domainError{http.StatusConflict, "ALREADY_REGISTERED", "Provider is already registered"}},
	{market.ErrNotRegistered, domainError{http.StatusNotFound, "NOT_REGISTERED", "Provider is not registered"}},
	{bridge.ErrAlreadySubmitted, domainError{http.StatusConflict, "ALREADY_SUBMITTED", "Handle already submitted for this job"}},
	{bridge.ErrInvalidProof, domainError{http.StatusBadRequest, "INVALID_PROOF", "A proof is required"}},
	{bridge.ErrNoResult, domainError{http.StatusConflict, "NO_RESULT", "No result has been submitted for this job"}},
	{bridge.ErrNotPending, domainError{http.StatusConflict, "NOT_PENDING", "No decryption is pending for this job"}},
}

// writeError translates a domain error into the response envelope. Unknown
// errors are logged and surfaced as 500s.
func writeError(w http.ResponseWriter, err error) {
	for _, de := range domainErrors {
		if errors.Is(err, de.err) {
			response.Error(w, de.resp.status, de.resp.code, de.resp.message, nil)
			return
		}
	}
	slog.Error("unhandled domain error", "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
