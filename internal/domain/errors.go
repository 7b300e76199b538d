package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch marks a failure to retrieve or decode the product catalog.
	ErrFetch = errors.New("fetch product catalog")

	// ErrValidation marks a listing that cannot become a ForecastProduct.
	ErrValidation = errors.New("invalid forecast product")

	// ErrStoreUnavailable marks a failed call to the idempotency store.
	ErrStoreUnavailable = errors.New("idempotency store unavailable")

	// ErrReservationLost is returned when a commit or release finds the key
	// no longer held by the caller's reservation.
	ErrReservationLost = errors.New("reservation no longer held")

	// ErrUnroutable is returned when the broker reports that a mandatory
	// message matched no queue.
	ErrUnroutable = errors.New("message unroutable")

	// ErrRejected is returned when the broker negatively acknowledges a message.
	ErrRejected = errors.New("message rejected by broker")

	// ErrConnectionLost marks a broker transport failure. The connection is
	// not reused after it.
	ErrConnectionLost = errors.New("broker connection lost")
)

// ValidationError describes why a raw listing was rejected.
type ValidationError struct {
	ID     string // empty when the id itself is missing
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid forecast product: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid forecast product %s: %s: %s", e.ID, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
