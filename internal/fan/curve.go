package fan

import (
	"math"
	"sort"
)

const (
	MinPWM = 0
	MaxPWM = 100
)

// Curve converts PWM duty cycles to RPM by piecewise-linear interpolation.
type Curve struct {
	points []CurvePoint
}

func NewCurve(points []CurvePoint) Curve {
	sorted := append([]CurvePoint(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PWM < sorted[j].PWM })

	return Curve{points: sorted}
}

// RPM returns the rotation speed for pwm. Values outside the curve use the
// nearest end point.
func (c Curve) RPM(pwm int) int {
	if len(c.points) == 0 {
		return 0
	}

	pwm = ClampPWM(pwm)
	first, last := c.points[0], c.points[len(c.points)-1]
	if pwm <= first.PWM {
		return first.RPM
	}
	if pwm >= last.PWM {
		return last.RPM
	}

	for i := 1; i < len(c.points); i++ {
		hi := c.points[i]
		if pwm > hi.PWM {
			continue
		}
		lo := c.points[i-1]
		frac := float64(pwm-lo.PWM) / float64(hi.PWM-lo.PWM)

		return lo.RPM + int(math.Round(frac*float64(hi.RPM-lo.RPM)))
	}

	return last.RPM
}

// MaxRPM is the highest speed the curve can produce.
func (c Curve) MaxRPM() int {
	maxRPM := 0
	for _, p := range c.points {
		maxRPM = max(maxRPM, p.RPM)
	}

	return maxRPM
}

// ClampPWM bounds a duty cycle to the 0-100 range.
func ClampPWM(pwm int) int {
	return clamp(pwm, MinPWM, MaxPWM)
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
