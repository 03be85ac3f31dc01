package telemetry

import "codeberg.org/mutker/fogctl/internal/errors"

const (
	ErrInvalidConfig  = errors.ErrorCode("telemetry_invalid_config")
	ErrUnknownDevice  = errors.ErrorCode("telemetry_unknown_device")
	ErrInvalidPayload = errors.ErrInvalidArgument
)
