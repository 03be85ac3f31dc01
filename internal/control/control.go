package control

import "math"

// ThermalState describes the short-term temperature trend of one GPU.
type ThermalState string

const (
	Heating ThermalState = "heating"
	Steady  ThermalState = "steady"
	Cooling ThermalState = "cooling"
)

// Decision carries every stage of the cascade for one fan.
type Decision struct {
	Base       int     `json:"base_pwm"`
	Corrected  int     `json:"corrected_pwm"`
	Target     int     `json:"target_pwm"`
	Next       int     `json:"next_pwm"`
	Efficiency float64 `json:"cooling_efficiency"`
}

// Controller implements the cascade control law. It holds no mutable state
// and is safe for concurrent use.
type Controller struct {
	cfg Config
}

func New(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// BaseTarget maps GPU temperature linearly onto the PWM band. Temperatures
// outside [TempMin, TempMax] clamp to the band edges.
func (c *Controller) BaseTarget(gpuTemp float64) int {
	if gpuTemp <= c.cfg.TempMin {
		return c.cfg.PWMMin
	}
	if gpuTemp >= c.cfg.TempMax {
		return c.cfg.PWMMax
	}

	frac := (gpuTemp - c.cfg.TempMin) / (c.cfg.TempMax - c.cfg.TempMin)
	target := float64(c.cfg.PWMMin) + frac*float64(c.cfg.PWMMax-c.cfg.PWMMin)

	return clamp(int(math.Round(target)), c.cfg.PWMMin, c.cfg.PWMMax)
}

// RoomCorrection scales base by up to ±RoomInfluence depending on how far
// the room is from the reference temperature, then clamps to 0-100.
func (c *Controller) RoomCorrection(base int, roomTemp float64) int {
	deviation := (roomTemp - c.cfg.RoomReference) / c.cfg.RoomSpan
	deviation = math.Max(-1, math.Min(1, deviation))
	correction := float64(base) * deviation * c.cfg.RoomInfluence

	return clamp(int(math.Round(float64(base)+correction)), 0, 100)
}

// Compensate raises the target to make up for degraded cooling efficiency.
// An efficiency of 0.96 means each PWM point removes 4% less heat, so the
// target is divided by it. Efficiencies outside (0, 1] are treated as 1.
func (c *Controller) Compensate(corrected int, efficiency float64) int {
	efficiency = sanitizeEfficiency(efficiency)

	return clamp(int(math.Round(float64(corrected)/efficiency)), 0, 100)
}

// Smooth moves current toward target by at most SmoothingStep; differences
// within the step snap straight to target.
func (c *Controller) Smooth(current, target int) int {
	step := c.cfg.SmoothingStep
	diff := target - current
	switch {
	case diff > step:
		return current + step
	case diff < -step:
		return current - step
	default:
		return target
	}
}

// Decide runs the full cascade for one fan.
func (c *Controller) Decide(gpuTemp, roomTemp, efficiency float64, currentPWM int) Decision {
	base := c.BaseTarget(gpuTemp)
	corrected := c.RoomCorrection(base, roomTemp)
	efficiency = sanitizeEfficiency(efficiency)
	target := c.Compensate(corrected, efficiency)

	return Decision{
		Base:       base,
		Corrected:  corrected,
		Target:     target,
		Next:       c.Smooth(currentPWM, target),
		Efficiency: efficiency,
	}
}

func sanitizeEfficiency(efficiency float64) float64 {
	if efficiency <= 0 || efficiency > 1 || math.IsNaN(efficiency) {
		return 1
	}

	return efficiency
}

// Trend classifies a temperature change against the configured epsilon.
func (c *Controller) Trend(previous, current float64) ThermalState {
	delta := current - previous
	switch {
	case delta > c.cfg.TrendEpsilon:
		return Heating
	case delta < -c.cfg.TrendEpsilon:
		return Cooling
	default:
		return Steady
	}
}

func clamp(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}

	if value > maxValue {
		return maxValue
	}

	return value
}
