package environment

import (
	"math"
	"sync"

	"codeberg.org/mutker/fogctl/internal/errors"
)

const (
	MinPower = 0
	MaxPower = 100
)

type ActuatorState struct {
	DehumidifierActive bool `json:"dehumidifier_active"`
	DehumidifierPower  int  `json:"dehumidifier_power"`
	HumidifierActive   bool `json:"humidifier_active"`
	HumidifierPower    int  `json:"humidifier_power"`
}

// Controller tracks the committed humidifier and dehumidifier state.
type Controller struct {
	mu       sync.RWMutex
	minPower int
	gain     float64
	state    ActuatorState
}

func NewController(cfg Config) *Controller {
	return &Controller{
		minPower: cfg.MinPower,
		gain:     cfg.PowerGain,
	}
}

// Synthesize computes the automatic actuator state pulling humidity toward
// the profile's optimal band. Inside the band both devices are off.
func (c *Controller) Synthesize(humidity float64, p Profile) ActuatorState {
	switch {
	case humidity > p.OptimalHigh:
		return ActuatorState{
			DehumidifierActive: true,
			DehumidifierPower:  c.power(humidity - p.OptimalHigh),
		}
	case humidity < p.OptimalLow:
		return ActuatorState{
			HumidifierActive: true,
			HumidifierPower:  c.power(p.OptimalLow - humidity),
		}
	default:
		return ActuatorState{}
	}
}

func (c *Controller) power(deviation float64) int {
	power := int(math.Round(float64(c.minPower) + c.gain*deviation))

	return clampPower(power, c.minPower, MaxPower)
}

// Normalize validates a manually submitted state. Powers are clamped to
// 0-100 and inactive devices report zero power. Requesting both devices at
// once is rejected.
func Normalize(s ActuatorState) (ActuatorState, error) {
	if s.DehumidifierActive && s.HumidifierActive {
		return ActuatorState{}, errors.New().WithData(errors.ErrConflictingCommand,
			"dehumidifier and humidifier cannot be active at the same time")
	}

	s.DehumidifierPower = clampPower(s.DehumidifierPower, MinPower, MaxPower)
	s.HumidifierPower = clampPower(s.HumidifierPower, MinPower, MaxPower)

	if !s.DehumidifierActive {
		s.DehumidifierPower = 0
	}
	if !s.HumidifierActive {
		s.HumidifierPower = 0
	}

	return s, nil
}

// Commit stores s as the applied state and returns the previous one.
func (c *Controller) Commit(s ActuatorState) ActuatorState {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state
	c.state = s

	return prev
}

func (c *Controller) State() ActuatorState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

func clampPower(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}

	return value
}
