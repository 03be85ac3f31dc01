package telemetry

import (
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
)

const (
	defaultMaxGPUID   = 16
	defaultStaleAfter = 30 * time.Second
	maxBodyBytes      = 1 << 20
)

type Config struct {
	MaxGPUID   int           `mapstructure:"max_gpu_id"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

func DefaultConfig() Config {
	return Config{
		MaxGPUID:   defaultMaxGPUID,
		StaleAfter: defaultStaleAfter,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.MaxGPUID < 1 {
		return errFactory.WithData(ErrInvalidConfig, "max_gpu_id must be positive")
	}

	if c.StaleAfter <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "stale_after must be positive")
	}

	return nil
}
