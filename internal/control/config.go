package control

import "codeberg.org/mutker/fogctl/internal/errors"

// FallbackPolicy decides what fans without a manual command do while the
// system is in manual mode.
type FallbackPolicy string

const (
	// FallbackTrack keeps uncommanded fans on the automatic target.
	FallbackTrack FallbackPolicy = "track"
	// FallbackHold freezes uncommanded fans at the manual baseline.
	FallbackHold FallbackPolicy = "hold"
)

func (p FallbackPolicy) IsValid() bool {
	return p == FallbackTrack || p == FallbackHold
}

const (
	defaultTempMin       = 40.0
	defaultTempMax       = 90.0
	defaultPWMMin        = 20
	defaultPWMMax        = 100
	defaultRoomReference = 25.0
	defaultRoomInfluence = 0.3
	defaultRoomSpan      = 10.0
	defaultSmoothingStep = 10
	defaultTrendEpsilon  = 0.5
)

type Config struct {
	TempMin        float64        `mapstructure:"temp_min"`
	TempMax        float64        `mapstructure:"temp_max"`
	PWMMin         int            `mapstructure:"pwm_min"`
	PWMMax         int            `mapstructure:"pwm_max"`
	RoomReference  float64        `mapstructure:"room_reference"`
	RoomInfluence  float64        `mapstructure:"room_influence"`
	RoomSpan       float64        `mapstructure:"room_span"`
	SmoothingStep  int            `mapstructure:"smoothing_step"`
	TrendEpsilon   float64        `mapstructure:"trend_epsilon"`
	ManualFallback FallbackPolicy `mapstructure:"manual_fallback"`
}

func DefaultConfig() Config {
	return Config{
		TempMin:        defaultTempMin,
		TempMax:        defaultTempMax,
		PWMMin:         defaultPWMMin,
		PWMMax:         defaultPWMMax,
		RoomReference:  defaultRoomReference,
		RoomInfluence:  defaultRoomInfluence,
		RoomSpan:       defaultRoomSpan,
		SmoothingStep:  defaultSmoothingStep,
		TrendEpsilon:   defaultTrendEpsilon,
		ManualFallback: FallbackTrack,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	switch {
	case c.TempMax <= c.TempMin:
		return errFactory.WithData(ErrInvalidConfig, "temp_max must be greater than temp_min")
	case c.PWMMin < 0 || c.PWMMax > 100 || c.PWMMin > c.PWMMax:
		return errFactory.WithData(ErrInvalidConfig, "pwm band must satisfy 0 <= pwm_min <= pwm_max <= 100")
	case c.RoomInfluence < 0 || c.RoomInfluence > 1:
		return errFactory.WithData(ErrInvalidConfig, "room_influence must be within 0-1")
	case c.RoomSpan <= 0:
		return errFactory.WithData(ErrInvalidConfig, "room_span must be positive")
	case c.SmoothingStep < 1:
		return errFactory.WithData(ErrInvalidConfig, "smoothing_step must be at least 1")
	case c.TrendEpsilon < 0:
		return errFactory.WithData(ErrInvalidConfig, "trend_epsilon must not be negative")
	case !c.ManualFallback.IsValid():
		return errFactory.WithData(ErrInvalidConfig, "manual_fallback must be track or hold")
	}

	return nil
}
