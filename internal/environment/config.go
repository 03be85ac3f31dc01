package environment

import "codeberg.org/mutker/fogctl/internal/errors"

const (
	defaultActiveProfile = 5
	defaultMinPower      = 30
	defaultPowerGain     = 5.0
)

type Config struct {
	ProfilesFile  string  `mapstructure:"profiles_file"`
	ActiveProfile int     `mapstructure:"active_profile"`
	MinPower      int     `mapstructure:"min_power"`
	PowerGain     float64 `mapstructure:"power_gain"`
}

func DefaultConfig() Config {
	return Config{
		ActiveProfile: defaultActiveProfile,
		MinPower:      defaultMinPower,
		PowerGain:     defaultPowerGain,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.ActiveProfile < 1 {
		return errFactory.WithData(ErrInvalidConfig, "active_profile must be positive")
	}

	if c.MinPower < 0 || c.MinPower > MaxPower {
		return errFactory.WithData(ErrInvalidConfig, "min_power must be within 0-100")
	}

	if c.PowerGain < 0 {
		return errFactory.WithData(ErrInvalidConfig, "power_gain must not be negative")
	}

	return nil
}
