package metrics

import "codeberg.org/mutker/fogctl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrorCode("metrics_invalid_config")
	ErrRegister      = errors.ErrorCode("metrics_register_failed")
)
