package fan

import (
	"sort"
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
)

const (
	defaultCount       = 8
	defaultInitialPWM  = 20
	defaultMinRPM      = 800
	defaultMaxRPM      = 5000
	defaultStatsWindow = time.Hour
	highPWMThreshold   = 80
)

// CurvePoint maps a duty cycle onto the RPM it produces.
type CurvePoint struct {
	PWM int `mapstructure:"pwm" json:"pwm"`
	RPM int `mapstructure:"rpm" json:"rpm"`
}

type Config struct {
	Count       int           `mapstructure:"count"`
	InitialPWM  int           `mapstructure:"initial_pwm"`
	Curve       []CurvePoint  `mapstructure:"curve"`
	StatsWindow time.Duration `mapstructure:"stats_window"`
}

func DefaultConfig() Config {
	return Config{
		Count:      defaultCount,
		InitialPWM: defaultInitialPWM,
		Curve: []CurvePoint{
			{PWM: 0, RPM: defaultMinRPM},
			{PWM: 100, RPM: defaultMaxRPM},
		},
		StatsWindow: defaultStatsWindow,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Count < 1 {
		return errFactory.WithData(ErrInvalidConfig, "fan count must be at least 1")
	}
	if c.InitialPWM < 0 || c.InitialPWM > MaxPWM {
		return errFactory.WithData(ErrInvalidConfig, "initial pwm must be within 0-100")
	}
	if c.StatsWindow <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "stats window must be positive")
	}
	if len(c.Curve) < 2 {
		return errFactory.WithData(ErrInvalidConfig, "rpm curve needs at least two points")
	}

	points := append([]CurvePoint(nil), c.Curve...)
	sort.Slice(points, func(i, j int) bool { return points[i].PWM < points[j].PWM })
	for i, p := range points {
		if p.PWM < 0 || p.PWM > MaxPWM || p.RPM < 0 {
			return errFactory.WithData(ErrInvalidConfig, "rpm curve point out of range")
		}
		if i > 0 && p.PWM == points[i-1].PWM {
			return errFactory.WithData(ErrInvalidConfig, "rpm curve has duplicate pwm points")
		}
	}

	return nil
}
