package domain

import "github.com/cockroachdb/errors"

// Reason is the machine-readable failure kind carried by an Outcome.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonNotFound            Reason = "NotFound"
	ReasonForbidden           Reason = "Forbidden"
	ReasonConflict            Reason = "Conflict"
	ReasonInsufficientFunds   Reason = "InsufficientFunds"
	ReasonAlreadyParticipant  Reason = "AlreadyParticipant"
	ReasonNotParticipant      Reason = "NotParticipant"
	ReasonNoSlotsAvailable    Reason = "NoSlotsAvailable"
	ReasonInvalidTransition   Reason = "InvalidTransition"
	ReasonUpstreamUnavailable Reason = "UpstreamUnavailable"
	ReasonSeatUnavailable     Reason = "SeatUnavailable"
	ReasonInvalidInput        Reason = "InvalidInput"
	ReasonWalletFrozen        Reason = "WalletFrozen"
	ReasonWalletNotFound      Reason = "WalletNotFound"
	ReasonRateLimited         Reason = "RateLimited"
	ReasonInternal            Reason = "Internal"
)

// Outcome is the structured result handed to callers for expected failures.
type Outcome struct {
	Success bool   `json:"success"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

var reasons = []struct {
	err    error
	reason Reason
}{
	// Order matters: more specific kinds first.
	{ErrWalletNotFound, ReasonWalletNotFound},
	{ErrNotFound, ReasonNotFound},
	{ErrForbidden, ReasonForbidden},
	{ErrSerializationFailure, ReasonConflict},
	{ErrConflict, ReasonConflict},
	{ErrInsufficientFunds, ReasonInsufficientFunds},
	{ErrAlreadyParticipant, ReasonAlreadyParticipant},
	{ErrNotParticipant, ReasonNotParticipant},
	{ErrNoSlotsAvailable, ReasonNoSlotsAvailable},
	{ErrInvalidTransition, ReasonInvalidTransition},
	{ErrUpstreamUnavailable, ReasonUpstreamUnavailable},
	{ErrSeatUnavailable, ReasonSeatUnavailable},
	{ErrInvalidInput, ReasonInvalidInput},
	{ErrWalletFrozen, ReasonWalletFrozen},
	{ErrRateLimited, ReasonRateLimited},
}

// ReasonOf maps err onto its failure kind. Unknown errors are ReasonInternal.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInternal
}

// IsExpected reports whether err is a recoverable business outcome rather
// than an infrastructure failure.
func IsExpected(err error) bool {
	r := ReasonOf(err)
	return r != ReasonNone && r != ReasonInternal
}

func OutcomeOf(err error) Outcome {
	if err == nil {
		return Outcome{Success: true}
	}
	reason := ReasonOf(err)
	msg := err.Error()
	if reason == ReasonInternal {
		msg = "internal error"
	}
	return Outcome{Success: false, Reason: reason, Message: msg}
}
