package gpu

import (
	"context"

	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/logger"
	"codeberg.org/mutker/fogctl/internal/telemetry"
	"k8s.io/utils/clock"
)

// maxReportedGPUs matches the highest gpu id the telemetry endpoint accepts.
const maxReportedGPUs = 16

// SubmitFunc hands a sampled payload to the control loop.
type SubmitFunc func(ctx context.Context, p telemetry.Payload) error

// Probe periodically samples the local GPUs and submits them as telemetry
// of a single device.
type Probe struct {
	cfg    Config
	sensor Sensor
	submit SubmitFunc
	clock  clock.WithTicker
	log    logger.Logger
}

type Option func(*Probe)

func WithClock(clk clock.WithTicker) Option {
	return func(p *Probe) {
		if clk != nil {
			p.clock = clk
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(p *Probe) {
		if l != nil {
			p.log = l
		}
	}
}

func NewProbe(cfg Config, sensor Sensor, submit SubmitFunc, opts ...Option) (*Probe, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Probe{
		cfg:    cfg,
		sensor: sensor,
		submit: submit,
		clock:  clock.RealClock{},
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Sample reads every local GPU once. GPUs that fail to read are left out
// of the payload so the control loop treats them as missing.
func (p *Probe) Sample() (telemetry.Payload, error) {
	count, err := p.sensor.Count()
	if err != nil {
		return telemetry.Payload{}, err
	}

	now := p.clock.Now().UTC()
	payload := telemetry.Payload{
		DeviceID:  p.cfg.DeviceID,
		Timestamp: &now,
		Sensors:   telemetry.SensorPayload{RoomTemp: p.cfg.RoomTemp},
		Fans:      &telemetry.FanPayload{},
	}

	for i := 0; i < min(count, maxReportedGPUs); i++ {
		gpuID := i + 1

		temp, err := p.sensor.Temperature(i)
		if err != nil {
			p.warn(err, gpuID, "Failed to read GPU temperature")
			continue
		}

		load, err := p.sensor.Utilization(i)
		if err != nil {
			p.warn(err, gpuID, "Failed to read GPU utilization")
			continue
		}

		payload.Sensors.GPUTemps = append(payload.Sensors.GPUTemps, telemetry.GPUReading{
			GPUID:       gpuID,
			Temperature: temp,
			Load:        load,
		})

		if speeds, err := p.sensor.FanSpeeds(i); err == nil && len(speeds) > 0 {
			payload.Fans.FanStates = append(payload.Fans.FanStates, telemetry.FanReport{
				FanID: gpuID,
				PWM:   average(speeds),
			})
		}
	}

	return payload, nil
}

// Run initializes the sensor and samples on every interval until ctx is
// cancelled.
func (p *Probe) Run(ctx context.Context) error {
	if err := p.sensor.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := p.sensor.Shutdown(); err != nil {
			p.log.Error().Err(err).Msg("Failed to shut down GPU sensor")
		}
	}()

	if count, err := p.sensor.Count(); err == nil {
		for i := 0; i < count; i++ {
			p.log.Info().Int("gpu_id", i+1).Str("name", p.sensor.Name(i)).Msg("Detected local GPU")
		}
	}

	ticker := p.clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			p.tick(ctx)
		}
	}
}

func (p *Probe) tick(ctx context.Context) {
	payload, err := p.Sample()
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to sample local GPUs")
		return
	}

	if err := p.submit(ctx, payload); err != nil {
		p.log.Warn().Err(err).Str("device_id", p.cfg.DeviceID).Msg("Local GPU telemetry rejected")
	}
}

func (p *Probe) warn(err error, gpuID int, msg string) {
	var coded errors.Error
	if errors.As(err, &coded) {
		p.log.WarnWithCode(coded).Int("gpu_id", gpuID).Msg(msg)
		return
	}

	p.log.Warn().Err(err).Int("gpu_id", gpuID).Msg(msg)
}

func average(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}

	return total / len(values)
}
