package gpu

import (
	"strings"
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
)

const (
	defaultInterval = 5 * time.Second
	defaultDeviceID = "local-nvml"
	defaultRoomTemp = 25.0
	minInterval     = time.Second
)

// Config controls the optional probe that reports the GPUs of this host.
type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	DeviceID string        `mapstructure:"device_id"`
	RoomTemp float64       `mapstructure:"room_temp"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:  false,
		Interval: defaultInterval,
		DeviceID: defaultDeviceID,
		RoomTemp: defaultRoomTemp,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	errFactory := errors.New()

	if c.Interval < minInterval {
		return errFactory.WithData(ErrInvalidConfig, "probe interval must be at least 1s")
	}

	if strings.TrimSpace(c.DeviceID) == "" {
		return errFactory.WithData(ErrInvalidConfig, "probe device id must not be empty")
	}

	return nil
}
