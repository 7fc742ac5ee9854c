// Package apperr defines the error kinds the chat core reports. Services
// wrap these sentinels with %w so transports can map any error to a wire
// code and HTTP status in one place.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrTransportDropped = errors.New("transport dropped")
)

// Code returns the wire-level error code for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrStoreUnavailable):
		return "STORE_UNAVAILABLE"
	case errors.Is(err, ErrTransportDropped):
		return "TRANSPORT_DROPPED"
	default:
		return "INTERNAL"
	}
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
