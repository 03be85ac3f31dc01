package api

import (
	"net/http"

	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/telemetry"
)

const (
	ErrInvalidConfig = errors.ErrorCode("api_invalid_config")
	ErrServe         = errors.ErrorCode("api_serve_failed")
)

// statusFor maps an error code onto the HTTP status returned to clients.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrInvalidArgument, errors.ErrConflictingCommand:
		return http.StatusBadRequest
	case errors.ErrNotFound, telemetry.ErrUnknownDevice:
		return http.StatusNotFound
	case errors.ErrInvalidMode:
		return http.StatusConflict
	case errors.ErrStoreUnavailable, errors.ErrUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
