package trend

import "codeberg.org/mutker/fogctl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrorCode("trend_invalid_config")
)
