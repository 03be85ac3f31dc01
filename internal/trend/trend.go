package trend

import (
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
	"k8s.io/utils/clock"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type WearLevel string

const (
	WearNormal   WearLevel = "normal"
	WearElevated WearLevel = "elevated"
	WearCritical WearLevel = "critical"
)

// Sample holds the inputs the indices integrate over. OptimalLow and
// OptimalHigh bound the active profile's optimal humidity band.
type Sample struct {
	Humidity    float64
	Dust        float64
	RoomTemp    float64
	AvgRPM      float64
	AvgGPUTemp  float64
	OptimalLow  float64
	OptimalHigh float64
}

type State struct {
	CorrosionIndex    float64   `json:"corrosion_index"`
	FanWearIndex      float64   `json:"fan_wear_index"`
	RiskLevel         RiskLevel `json:"risk_level"`
	WearLevel         WearLevel `json:"wear_level"`
	CoolingEfficiency float64   `json:"cooling_efficiency"`
	FanPower          float64   `json:"fan_power"`
	LastUpdate        time.Time `json:"last_update"`
}

// Accumulator integrates the corrosion and fan wear indices over wall-clock
// time. Both indices only grow until Reset.
type Accumulator struct {
	mu    sync.RWMutex
	cfg   Config
	clock clock.PassiveClock

	ci, fwi    float64
	lastUpdate time.Time

	sample       Sample
	hasSample    bool
	sampledAt    time.Time
	humidityRate float64
	dustRate     float64
}

func New(cfg Config, clk clock.PassiveClock) *Accumulator {
	return &Accumulator{
		cfg:        cfg,
		clock:      clk,
		lastUpdate: clk.Now(),
	}
}

// Observe records the latest inputs and derives humidity and dust rates of
// change from the previous observation.
func (a *Accumulator) Observe(s Sample) {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hasSample {
		if hours := now.Sub(a.sampledAt).Hours(); hours > 0 {
			a.humidityRate = (s.Humidity - a.sample.Humidity) / hours
			a.dustRate = (s.Dust - a.sample.Dust) / hours
		}
	}

	a.sample = s
	a.sampledAt = now
	a.hasSample = true
}

// Tick integrates the indices over the time elapsed since the last update.
// A zero or negative interval returns ErrClockAnomaly and leaves the state
// untouched.
func (a *Accumulator) Tick() (State, error) {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	elapsed := now.Sub(a.lastUpdate)
	if elapsed <= 0 {
		return a.stateLocked(), errors.New().WithData(errors.ErrClockAnomaly, "elapsed "+elapsed.String())
	}

	if a.hasSample {
		hours := elapsed.Hours()
		a.ci += a.corrosionDelta(hours)
		a.fwi += a.wearDelta(hours)
	}
	a.lastUpdate = now

	return a.stateLocked(), nil
}

func (a *Accumulator) corrosionDelta(hours float64) float64 {
	s := a.sample

	excess := 0.0
	switch {
	case s.Humidity > s.OptimalHigh:
		excess = s.Humidity - s.OptimalHigh
	case s.Humidity < s.OptimalLow:
		excess = s.OptimalLow - s.Humidity
	}
	if excess == 0 {
		return 0
	}

	dustFactor := 1 + corrosionDustCoefficient*math.Max(0, s.Dust)
	tempFactor := math.Exp((s.RoomTemp - corrosionRoomReference) / corrosionRoomScale)
	delta := a.cfg.CorrosionRate * excess * dustFactor * tempFactor * hours

	if math.Abs(a.humidityRate) > a.cfg.HumidityRateLimit {
		delta *= humidityVolatilityFactor
	}

	return math.Max(0, delta)
}

func (a *Accumulator) wearDelta(hours float64) float64 {
	s := a.sample

	rpmFactor := math.Max(0, s.AvgRPM) / a.cfg.ReferenceRPM
	dustFactor := 1 + wearDustCoefficient*math.Max(0, s.Dust)/wearDustReference
	delta := rpmFactor * dustFactor * hours

	if s.AvgGPUTemp > a.cfg.HotGPUTemp {
		delta *= hotGPUFactor
	}
	if a.dustRate > a.cfg.DustRateLimit {
		delta *= dustAccelerationFactor
	}

	return math.Max(0, delta)
}

func (a *Accumulator) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.stateLocked()
}

func (a *Accumulator) stateLocked() State {
	return State{
		CorrosionIndex:    a.ci,
		FanWearIndex:      a.fwi,
		RiskLevel:         a.riskLevel(a.ci),
		WearLevel:         a.wearLevel(a.fwi),
		CoolingEfficiency: a.coolingEfficiency(a.ci),
		FanPower:          a.fanPower(a.fwi),
		LastUpdate:        a.lastUpdate,
	}
}

// CoolingEfficiency is the feedback modifier consumed by the controller.
func (a *Accumulator) CoolingEfficiency() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.coolingEfficiency(a.ci)
}

// Reset zeroes both indices and restarts integration from now.
func (a *Accumulator) Reset() State {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.ci = 0
	a.fwi = 0
	a.lastUpdate = now
	a.humidityRate = 0
	a.dustRate = 0

	return a.stateLocked()
}

// Restore seeds the counters from a persisted snapshot. Negative values are
// treated as zero.
func (a *Accumulator) Restore(ci, fwi float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ci = math.Max(0, ci)
	a.fwi = math.Max(0, fwi)
	a.lastUpdate = a.clock.Now()
}

func (a *Accumulator) riskLevel(ci float64) RiskLevel {
	switch {
	case ci >= a.cfg.CIHigh:
		return RiskHigh
	case ci >= a.cfg.CIMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}

func (a *Accumulator) wearLevel(fwi float64) WearLevel {
	switch {
	case fwi >= a.cfg.FWICritical:
		return WearCritical
	case fwi >= a.cfg.FWIElevated:
		return WearElevated
	default:
		return WearNormal
	}
}

func (a *Accumulator) coolingEfficiency(ci float64) float64 {
	frac := progress(ci, a.cfg.EfficiencyStart, a.cfg.EfficiencyFull)

	return 1 - frac*(1-a.cfg.EfficiencyFloor)
}

func (a *Accumulator) fanPower(fwi float64) float64 {
	frac := progress(fwi, a.cfg.PowerStart, a.cfg.PowerFull)

	return 1 + frac*(a.cfg.PowerCeiling-1)
}

// progress maps value onto [0,1] across [from, to].
func progress(value, from, to float64) float64 {
	if value <= from {
		return 0
	}
	if value >= to {
		return 1
	}

	return (value - from) / (to - from)
}
