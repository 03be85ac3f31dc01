package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
)

// Decode reads one JSON payload, rejecting unknown fields and trailing data.
func Decode(r io.Reader) (Payload, error) {
	errFactory := errors.New()

	dec := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	dec.DisallowUnknownFields()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return Payload{}, errFactory.Wrap(ErrInvalidPayload, err)
	}

	if dec.More() {
		return Payload{}, errFactory.WithData(ErrInvalidPayload, "trailing data after payload")
	}

	return p, nil
}

// Validator turns payloads into readings.
type Validator struct {
	maxGPUID int
}

func NewValidator(cfg Config) *Validator {
	return &Validator{maxGPUID: cfg.MaxGPUID}
}

// Validate checks p and returns a normalized Reading. Loads and humidity are
// clamped to 0-100; everything else out of range is rejected. A payload
// without a timestamp is stamped with receivedAt.
func (v *Validator) Validate(p Payload, receivedAt time.Time) (Reading, error) {
	errFactory := errors.New()
	invalid := func(format string, args ...any) error {
		return errFactory.WithData(ErrInvalidPayload, fmt.Sprintf(format, args...))
	}

	deviceID := strings.TrimSpace(p.DeviceID)
	if deviceID == "" {
		return Reading{}, invalid("device_id is required")
	}

	if !finite(p.Sensors.RoomTemp) {
		return Reading{}, invalid("room_temp must be a finite number")
	}

	ts := receivedAt
	if p.Timestamp != nil && !p.Timestamp.IsZero() {
		ts = *p.Timestamp
	}

	seen := make(map[int]bool, len(p.Sensors.GPUTemps))
	gpus := make([]GPUReading, 0, len(p.Sensors.GPUTemps))
	for _, g := range p.Sensors.GPUTemps {
		if g.GPUID < 1 || g.GPUID > v.maxGPUID {
			return Reading{}, invalid("gpu_id %d outside 1-%d", g.GPUID, v.maxGPUID)
		}
		if seen[g.GPUID] {
			return Reading{}, invalid("duplicate gpu_id %d", g.GPUID)
		}
		if !finite(g.Temperature) || !finite(g.Load) {
			return Reading{}, invalid("gpu %d: temperature and load must be finite numbers", g.GPUID)
		}
		seen[g.GPUID] = true

		g.Load = clamp(g.Load, 0, 100)
		gpus = append(gpus, g)
	}
	sort.Slice(gpus, func(i, j int) bool { return gpus[i].GPUID < gpus[j].GPUID })

	reading := Reading{
		DeviceID:  deviceID,
		Timestamp: ts,
		GPUs:      gpus,
		RoomTemp:  p.Sensors.RoomTemp,
	}

	if env := p.Environment; env != nil {
		if !finite(env.Humidity) || !finite(env.Dust) {
			return Reading{}, invalid("humidity and dust must be finite numbers")
		}
		if env.Dust < 0 {
			return Reading{}, invalid("dust must not be negative, got %.2f", env.Dust)
		}

		reading.Environment = &EnvironmentalReading{
			Humidity:  clamp(env.Humidity, 0, 100),
			Dust:      env.Dust,
			Timestamp: ts,
		}
	}

	if p.Fans != nil {
		reading.Fans = append(reading.Fans, p.Fans.FanStates...)
	}

	return reading, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, minValue, maxValue float64) float64 {
	return math.Max(minValue, math.Min(maxValue, v))
}
