package trend

import (
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
)

const (
	defaultCorrosionRate     = 0.1
	defaultCIMedium          = 1.0
	defaultCIHigh            = 2.0
	defaultFWIElevated       = 100.0
	defaultFWICritical       = 200.0
	defaultEfficiencyStart   = 1.5
	defaultEfficiencyFull    = 3.0
	defaultEfficiencyFloor   = 0.96
	defaultPowerStart        = 150.0
	defaultPowerFull         = 200.0
	defaultPowerCeiling      = 1.10
	defaultReferenceRPM      = 5000.0
	defaultHotGPUTemp        = 70.0
	defaultHumidityRateLimit = 1.0
	defaultDustRateLimit     = 2.0
	defaultTickInterval      = time.Minute
	humidityVolatilityFactor = 1.2
	dustAccelerationFactor   = 1.15
	hotGPUFactor             = 1.5
	corrosionDustCoefficient = 0.01
	corrosionRoomReference   = 25.0
	corrosionRoomScale       = 10.0
	wearDustCoefficient      = 0.2
	wearDustReference        = 50.0
)

type Config struct {
	CorrosionRate     float64       `mapstructure:"corrosion_rate"`
	CIMedium          float64       `mapstructure:"ci_medium"`
	CIHigh            float64       `mapstructure:"ci_high"`
	FWIElevated       float64       `mapstructure:"fwi_elevated"`
	FWICritical       float64       `mapstructure:"fwi_critical"`
	EfficiencyStart   float64       `mapstructure:"efficiency_start"`
	EfficiencyFull    float64       `mapstructure:"efficiency_full"`
	EfficiencyFloor   float64       `mapstructure:"efficiency_floor"`
	PowerStart        float64       `mapstructure:"power_start"`
	PowerFull         float64       `mapstructure:"power_full"`
	PowerCeiling      float64       `mapstructure:"power_ceiling"`
	ReferenceRPM      float64       `mapstructure:"reference_rpm"`
	HotGPUTemp        float64       `mapstructure:"hot_gpu_temp"`
	HumidityRateLimit float64       `mapstructure:"humidity_rate_limit"`
	DustRateLimit     float64       `mapstructure:"dust_rate_limit"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
}

func DefaultConfig() Config {
	return Config{
		CorrosionRate:     defaultCorrosionRate,
		CIMedium:          defaultCIMedium,
		CIHigh:            defaultCIHigh,
		FWIElevated:       defaultFWIElevated,
		FWICritical:       defaultFWICritical,
		EfficiencyStart:   defaultEfficiencyStart,
		EfficiencyFull:    defaultEfficiencyFull,
		EfficiencyFloor:   defaultEfficiencyFloor,
		PowerStart:        defaultPowerStart,
		PowerFull:         defaultPowerFull,
		PowerCeiling:      defaultPowerCeiling,
		ReferenceRPM:      defaultReferenceRPM,
		HotGPUTemp:        defaultHotGPUTemp,
		HumidityRateLimit: defaultHumidityRateLimit,
		DustRateLimit:     defaultDustRateLimit,
		TickInterval:      defaultTickInterval,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch {
	case c.CorrosionRate < 0:
		return errFactory.WithData(ErrInvalidConfig, "corrosion_rate must not be negative")
	case c.CIMedium <= 0 || c.CIHigh <= c.CIMedium:
		return errFactory.WithData(ErrInvalidConfig, "ci thresholds must satisfy 0 < ci_medium < ci_high")
	case c.FWIElevated <= 0 || c.FWICritical <= c.FWIElevated:
		return errFactory.WithData(ErrInvalidConfig, "fwi thresholds must satisfy 0 < fwi_elevated < fwi_critical")
	case c.EfficiencyFull <= c.EfficiencyStart:
		return errFactory.WithData(ErrInvalidConfig, "efficiency_full must be greater than efficiency_start")
	case c.EfficiencyFloor <= 0 || c.EfficiencyFloor > 1:
		return errFactory.WithData(ErrInvalidConfig, "efficiency_floor must be within (0, 1]")
	case c.PowerFull <= c.PowerStart:
		return errFactory.WithData(ErrInvalidConfig, "power_full must be greater than power_start")
	case c.PowerCeiling < 1:
		return errFactory.WithData(ErrInvalidConfig, "power_ceiling must be at least 1")
	case c.ReferenceRPM <= 0:
		return errFactory.WithData(ErrInvalidConfig, "reference_rpm must be positive")
	case c.TickInterval < time.Second:
		return errFactory.WithData(ErrInvalidConfig, "tick_interval must be at least 1s")
	}

	return nil
}
