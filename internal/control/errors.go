package control

import "codeberg.org/mutker/fogctl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrorCode("control_invalid_config")
)
