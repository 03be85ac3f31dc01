package environment

import "codeberg.org/mutker/fogctl/internal/errors"

const (
	ErrInvalidConfig   = errors.ErrorCode("environment_invalid_config")
	ErrUnknownProfile  = errors.ErrorCode("environment_unknown_profile")
	ErrLoadProfiles    = errors.ErrorCode("environment_load_profiles")
	ErrInvalidProfiles = errors.ErrorCode("environment_invalid_profiles")
)
