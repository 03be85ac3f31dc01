package fan

import "codeberg.org/mutker/fogctl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrorCode("fan_invalid_config")
	ErrUnknownFan    = errors.ErrorCode("fan_unknown")
)
