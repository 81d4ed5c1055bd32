package market

import "errors"

// Domain sentinels. Every rejected operation surfaces exactly one of these;
// handlers map them to stable reason codes. No partial state survives a
// rejection: each operation runs inside a single store transaction.
var (
	ErrInvalidEscrow         = errors.New("escrow required")
	ErrInvalidDeadline       = errors.New("deadline must be in the future")
	ErrJobNotFound           = errors.New("job not found")
	ErrInvalidState          = errors.New("invalid job state for operation")
	ErrInsufficientStake     = errors.New("insufficient stake")
	ErrNotProvider           = errors.New("caller is not the job provider")
	ErrNotConsumer           = errors.New("caller is not the job consumer")
	ErrNotArbiter            = errors.New("caller is not the arbiter")
	ErrDisputePeriodNotEnded = errors.New("dispute period not ended")
	ErrDisputePeriodEnded    = errors.New("dispute period ended")
	ErrDeadlineNotPassed     = errors.New("deadline not passed")
	ErrAlreadyRegistered     = errors.New("provider already registered")
	ErrNotRegistered         = errors.New("provider not registered")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInsufficientBalance   = errors.New("insufficient vault balance")
)
