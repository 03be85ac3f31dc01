package alert

import (
	"fmt"
	"time"

	"codeberg.org/mutker/fogctl/internal/environment"
	"codeberg.org/mutker/fogctl/internal/telemetry"
	"codeberg.org/mutker/fogctl/internal/trend"
)

type Severity string

const (
	Warning  Severity = "warning"
	Critical Severity = "critical"
)

type Kind string

const (
	KindGPUTemperature Kind = "gpu_temperature"
	KindHumidityHigh   Kind = "humidity_high"
	KindHumidityLow    Kind = "humidity_low"
	KindDustHigh       Kind = "dust_high"
	KindCorrosionRisk  Kind = "corrosion_risk"
	KindFanWear        Kind = "fan_wear"
)

// Subsystem tags for alerts that are not tied to a GPU.
const (
	SubsystemGPU         = "gpu"
	SubsystemEnvironment = "environment"
	SubsystemTrend       = "trend"
)

type Alert struct {
	Kind      Kind      `json:"alert_type"`
	Subsystem string    `json:"subsystem"`
	GPUID     int       `json:"gpu_id,omitempty"`
	Value     float64   `json:"current_value"`
	Threshold float64   `json:"threshold"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Key identifies the condition an alert describes, independent of its value.
func (a Alert) Key() string {
	if a.GPUID > 0 {
		return fmt.Sprintf("%s/%d", a.Kind, a.GPUID)
	}

	return string(a.Kind)
}

// Evaluator classifies readings against thresholds. It keeps no state
// between calls.
type Evaluator struct {
	cfg Config
}

func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// GPU returns at most one alert per reading, at the highest severity
// breached.
func (e *Evaluator) GPU(readings []telemetry.GPUReading, at time.Time) []Alert {
	var alerts []Alert
	for _, r := range readings {
		var threshold float64
		var severity Severity
		switch {
		case r.Temperature >= e.cfg.GPUCritical:
			threshold, severity = e.cfg.GPUCritical, Critical
		case r.Temperature >= e.cfg.GPUWarning:
			threshold, severity = e.cfg.GPUWarning, Warning
		default:
			continue
		}

		alerts = append(alerts, Alert{
			Kind:      KindGPUTemperature,
			Subsystem: SubsystemGPU,
			GPUID:     r.GPUID,
			Value:     r.Temperature,
			Threshold: threshold,
			Severity:  severity,
			Timestamp: at,
			Message:   fmt.Sprintf("GPU %d temperature %.1f°C reached %s threshold %.0f°C", r.GPUID, r.Temperature, severity, threshold),
		})
	}

	return alerts
}

// Environment checks humidity against the profile's optimal band and dust
// against its limit.
func (e *Evaluator) Environment(r telemetry.EnvironmentalReading, p environment.Profile) []Alert {
	var alerts []Alert

	if a, ok := e.humidity(r, p); ok {
		alerts = append(alerts, a)
	}

	if r.Dust > p.DustLimit {
		alerts = append(alerts, Alert{
			Kind:      KindDustHigh,
			Subsystem: SubsystemEnvironment,
			Value:     r.Dust,
			Threshold: p.DustLimit,
			Severity:  Critical,
			Timestamp: r.Timestamp,
			Message:   fmt.Sprintf("Physical cleaning required: dust at %.1f µg/m³ (threshold %.0f µg/m³)", r.Dust, p.DustLimit),
		})
	}

	return alerts
}

func (e *Evaluator) humidity(r telemetry.EnvironmentalReading, p environment.Profile) (Alert, bool) {
	margin := e.cfg.HumidityCriticalMargin

	a := Alert{
		Subsystem: SubsystemEnvironment,
		Value:     r.Humidity,
		Timestamp: r.Timestamp,
	}

	switch {
	case r.Humidity > p.OptimalHigh:
		a.Kind = KindHumidityHigh
		a.Threshold, a.Severity = p.OptimalHigh, Warning
		if r.Humidity > p.OptimalHigh+margin {
			a.Threshold, a.Severity = p.OptimalHigh+margin, Critical
		}
		a.Message = fmt.Sprintf("High humidity %.1f%% above %.0f%%: corrosion risk", r.Humidity, a.Threshold)
	case r.Humidity < p.OptimalLow:
		a.Kind = KindHumidityLow
		a.Threshold, a.Severity = p.OptimalLow, Warning
		if r.Humidity < p.OptimalLow-margin {
			a.Threshold, a.Severity = p.OptimalLow-margin, Critical
		}
		a.Message = fmt.Sprintf("Low humidity %.1f%% below %.0f%%: static discharge risk", r.Humidity, a.Threshold)
	default:
		return Alert{}, false
	}

	return a, true
}

// Trend derives alerts from the accumulated indices.
func (e *Evaluator) Trend(s trend.State, at time.Time) []Alert {
	var alerts []Alert

	if s.RiskLevel == trend.RiskHigh {
		alerts = append(alerts, Alert{
			Kind:      KindCorrosionRisk,
			Subsystem: SubsystemTrend,
			Value:     s.CorrosionIndex,
			Severity:  Warning,
			Timestamp: at,
			Message:   fmt.Sprintf("Corrosion index %.2f is high, cooling efficiency %.0f%%", s.CorrosionIndex, s.CoolingEfficiency*100),
		})
	}

	if s.WearLevel == trend.WearCritical {
		alerts = append(alerts, Alert{
			Kind:      KindFanWear,
			Subsystem: SubsystemTrend,
			Value:     s.FanWearIndex,
			Severity:  Critical,
			Timestamp: at,
			Message:   fmt.Sprintf("Fan wear index %.1f is critical, fan maintenance required", s.FanWearIndex),
		})
	}

	return alerts
}
