package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrForbidden            = errors.New("forbidden")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrAlreadyParticipant   = errors.New("already a participant")
	ErrNotParticipant       = errors.New("not a participant")
	ErrNoSlotsAvailable     = errors.New("no slots available")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrSeatUnavailable      = errors.New("seat unavailable")
	ErrWalletFrozen         = errors.New("wallet frozen")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrRateLimited          = errors.New("rate limit exceeded")
)
