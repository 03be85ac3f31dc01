package alert

import "codeberg.org/mutker/fogctl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrorCode("alert_invalid_config")
	ErrNotifyFailed  = errors.ErrorCode("alert_notify_failed")
)
