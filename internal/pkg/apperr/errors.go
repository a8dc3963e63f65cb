// Package apperr holds the error taxonomy shared by the subscription engine
// and the HTTP layer.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrQuotaExceeded          = errors.New("quota exceeded")
	ErrIntentExpired          = errors.New("payment intent expired")
	ErrIntentAlreadyConsumed  = errors.New("payment intent already consumed")
	ErrAmountMismatch         = errors.New("payment amount mismatch")
	ErrUnavailable            = errors.New("dependency unavailable")
	ErrConflict               = errors.New("concurrent modification")
	ErrInvalidInput           = errors.New("invalid input")
)

func IsNotFound(err error) bool               { return errors.Is(err, ErrNotFound) }
func IsInvalidStateTransition(err error) bool { return errors.Is(err, ErrInvalidStateTransition) }
func IsQuotaExceeded(err error) bool          { return errors.Is(err, ErrQuotaExceeded) }
func IsUnavailable(err error) bool            { return errors.Is(err, ErrUnavailable) }
func IsConflict(err error) bool               { return errors.Is(err, ErrConflict) }

// IsExpected reports whether err is a user-facing outcome rather than a fault.
func IsExpected(err error) bool {
	return IsNotFound(err) || IsInvalidStateTransition(err) || IsQuotaExceeded(err) ||
		errors.Is(err, ErrInvalidInput) || IsConflict(err)
}

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrIntentExpired):
		return "intent_expired"
	case errors.Is(err, ErrIntentAlreadyConsumed):
		return "intent_already_consumed"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	switch Code(err) {
	case "":
		return http.StatusOK
	case "not_found":
		return http.StatusNotFound
	case "invalid_state_transition", "conflict", "intent_already_consumed":
		return http.StatusConflict
	case "quota_exceeded":
		return http.StatusPaymentRequired
	case "intent_expired":
		return http.StatusGone
	case "amount_mismatch", "invalid_input":
		return http.StatusUnprocessableEntity
	case "unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns text safe to show an end user. Internal faults never
// leak their details.
func PublicMessage(err error) string {
	switch Code(err) {
	case "unavailable", "internal_error":
		return "The service is temporarily unavailable, please try again later"
	case "quota_exceeded":
		return "Your plan's player limit has been reached. Upgrade your plan to add more players"
	default:
		return err.Error()
	}
}
