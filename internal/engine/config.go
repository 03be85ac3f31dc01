package engine

import (
	"codeberg.org/mutker/fogctl/internal/alert"
	"codeberg.org/mutker/fogctl/internal/control"
	"codeberg.org/mutker/fogctl/internal/environment"
	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/fan"
	"codeberg.org/mutker/fogctl/internal/telemetry"
	"codeberg.org/mutker/fogctl/internal/trend"
)

const (
	// Share of the curve's top speed a reported RPM may deviate by.
	fanReportTolerance = 0.15

	defaultActionLogSize = 100
	maxHistoryHours      = 168
)

// Config gathers the settings of every component the engine owns.
type Config struct {
	ActionLogSize int
	Telemetry     telemetry.Config
	Fan           fan.Config
	Control       control.Config
	Trend         trend.Config
	Alert         alert.Config
	Environment   environment.Config
}

func DefaultConfig() Config {
	return Config{
		ActionLogSize: defaultActionLogSize,
		Telemetry:     telemetry.DefaultConfig(),
		Fan:           fan.DefaultConfig(),
		Control:       control.DefaultConfig(),
		Trend:         trend.DefaultConfig(),
		Alert:         alert.DefaultConfig(),
		Environment:   environment.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if c.ActionLogSize < 1 {
		return errors.New().WithData(errors.ErrInvalidConfig, "action log size must be at least 1")
	}

	validators := []interface{ Validate() error }{
		c.Telemetry, c.Fan, c.Control, c.Trend, c.Alert, c.Environment,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	return nil
}
