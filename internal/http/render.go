package http

import (
	"encoding/json"
	"net/http"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
)

var reasonStatus = map[domain.Reason]int{
	domain.ReasonNotFound:            http.StatusNotFound,
	domain.ReasonWalletNotFound:      http.StatusNotFound,
	domain.ReasonForbidden:           http.StatusForbidden,
	domain.ReasonConflict:            http.StatusConflict,
	domain.ReasonAlreadyParticipant:  http.StatusConflict,
	domain.ReasonNotParticipant:      http.StatusConflict,
	domain.ReasonNoSlotsAvailable:    http.StatusConflict,
	domain.ReasonInvalidTransition:   http.StatusConflict,
	domain.ReasonSeatUnavailable:     http.StatusConflict,
	domain.ReasonInsufficientFunds:   http.StatusUnprocessableEntity,
	domain.ReasonWalletFrozen:        http.StatusLocked,
	domain.ReasonInvalidInput:        http.StatusBadRequest,
	domain.ReasonUpstreamUnavailable: http.StatusServiceUnavailable,
	domain.ReasonRateLimited:         http.StatusTooManyRequests,
}

func StatusFor(reason domain.Reason) int {
	if s, ok := reasonStatus[reason]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as an Outcome. Internal failures are logged with
// the request logger and shown to the client without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	out := domain.OutcomeOf(err)
	if out.Reason == domain.ReasonInternal {
		LoggerFrom(r.Context()).WithError(err).Error("request failed")
	}
	writeJSON(w, StatusFor(out.Reason), out)
}

func writeInvalid(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, domain.Outcome{Reason: domain.ReasonInvalidInput, Message: msg})
}
