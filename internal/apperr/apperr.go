// Package apperr holds the error taxonomy shared by the saga, the provider
// adapters and the HTTP layer.
//
// Callers wrap these sentinels with fmt.Errorf("...: %w", ...) and classify
// them with errors.Is; Kind and HTTPStatus are the only places that map the
// taxonomy onto wire-level codes.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrInvalidRequest marks malformed or incomplete input. Never retried.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidAmount marks an amount that is non-numeric, fractional or not positive.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrProviderUnavailable marks a transient failure of a SaaS dependency.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrVerificationUnavailable is returned once verification retries are exhausted.
	ErrVerificationUnavailable = errors.New("verification unavailable")
	// ErrBookingUnavailable is returned when the carrier could not book a shipment.
	ErrBookingUnavailable = errors.New("booking unavailable")
	// ErrAmountMismatch marks a verified amount that differs from the intent amount.
	ErrAmountMismatch = errors.New("amount mismatch")
	// ErrDuplicateEvent marks an event that was already applied.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrInvalidSignature marks a payload that failed its authenticity check.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInProgress marks an idempotency key currently held by another caller.
	ErrInProgress = errors.New("operation already in progress")
	// ErrManualRetryRequired is returned when a failed booking needs the operator retry.
	ErrManualRetryRequired = errors.New("shipment booking failed, manual retry required")
	// ErrNotFound marks a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a request that is illegal in the current state.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized marks missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// Kind returns a stable, machine-readable name for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"

	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"

	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"

	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"

	case errors.Is(err, ErrDuplicateEvent):
		return "duplicate_event"

	case errors.Is(err, ErrVerificationUnavailable):
		return "verification_unavailable"

	case errors.Is(err, ErrBookingUnavailable):
		return "booking_unavailable"

	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"

	case errors.Is(err, ErrManualRetryRequired):
		return "manual_retry_required"

	case errors.Is(err, ErrInProgress):
		return "in_progress"

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, ErrConflict):
		return "conflict"

	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

// HTTPStatus maps err onto an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrDuplicateEvent):
		return http.StatusOK

	case errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest

	case errors.Is(err, ErrAmountMismatch):
		return http.StatusUnprocessableEntity

	case errors.Is(err, ErrBookingUnavailable):
		return http.StatusBadGateway

	case errors.Is(err, ErrVerificationUnavailable),
		errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, ErrInProgress):
		return http.StatusServiceUnavailable

	case errors.Is(err, ErrManualRetryRequired),
		errors.Is(err, ErrConflict):
		return http.StatusConflict

	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout

	default:
		return http.StatusInternalServerError
	}
}
