package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"codeberg.org/mutker/fogctl/internal/alert"
	"codeberg.org/mutker/fogctl/internal/control"
	"codeberg.org/mutker/fogctl/internal/environment"
	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/mode"
	"codeberg.org/mutker/fogctl/internal/store"
	"codeberg.org/mutker/fogctl/internal/telemetry"
	"codeberg.org/mutker/fogctl/internal/trend"
)

// Process validates a telemetry payload and runs one control cycle for the
// sending device. Validation happens before the commit lock is taken.
func (e *Engine) Process(_ context.Context, p telemetry.Payload) (CycleResult, error) {
	started := e.clock.Now()

	reading, err := e.validator.Validate(p, started)
	if err != nil {
		e.metrics.TelemetryRejected()
		return CycleResult{}, err
	}

	e.mu.Lock()
	result := e.cycleLocked(reading, started)
	e.mu.Unlock()

	e.metrics.TelemetryAccepted()
	e.metrics.ObserveCycle(e.clock.Since(started))

	if e.notify != nil && len(result.Alerts) > 0 {
		e.notify.Notify(result.Alerts)
	}

	return result, nil
}

func (e *Engine) cycleLocked(r telemetry.Reading, now time.Time) CycleResult {
	gpuIDs := make([]int, 0, len(r.GPUs))
	for _, g := range r.GPUs {
		gpuIDs = append(gpuIDs, g.GPUID)
	}
	known := e.devices.Touch(r.DeviceID, gpuIDs)

	batch := store.Batch{}
	e.lastCycle = now

	for _, g := range r.GPUs {
		status := GPUStatus{
			DeviceID:     r.DeviceID,
			GPUID:        g.GPUID,
			Temperature:  g.Temperature,
			Load:         g.Load,
			ThermalState: control.Steady,
			UpdatedAt:    r.Timestamp,
		}
		if prev, ok := e.gpus[g.GPUID]; ok {
			status.ThermalState = e.controller.Trend(prev.Temperature, g.Temperature)
		}
		e.gpus[g.GPUID] = status
		e.metrics.GPUTemperature(r.DeviceID, g.GPUID, g.Temperature)

		batch.GPUs = append(batch.GPUs, store.GPURecord{
			Timestamp:   r.Timestamp,
			DeviceID:    r.DeviceID,
			GPUID:       g.GPUID,
			Temperature: g.Temperature,
			Load:        g.Load,
		})
	}

	roomTemp := r.RoomTemp
	e.roomTemp = &roomTemp

	result := CycleResult{
		DeviceID:  r.DeviceID,
		Timestamp: now,
		Mode:      e.arbiter.Get().Mode,
	}

	if r.Environment != nil {
		env := *r.Environment
		e.environment = &env
		batch.Environment = append(batch.Environment, store.EnvironmentRecord{
			Timestamp: env.Timestamp,
			DeviceID:  r.DeviceID,
			Humidity:  env.Humidity,
			Dust:      env.Dust,
			RoomTemp:  roomTemp,
		})

		if result.Mode == mode.Auto {
			state := e.applyAutoActuatorsLocked(now, &batch)
			result.Actuators = &state
		}
	}

	e.checkFanReportsLocked(r)
	result.Commands, result.Missing = e.controlFansLocked(r, known, now, &batch)
	e.pending[r.DeviceID] = result.Commands

	e.observeTrendsLocked(r)

	e.gpuAlerts[r.DeviceID] = e.evaluator.GPU(r.GPUs, now)
	if e.environment != nil {
		e.envAlerts = e.evaluator.Environment(*e.environment, e.profiles.Active())
	}
	e.trendAlerts = e.evaluator.Trend(e.trends.State(), now)

	result.Alerts = e.alertsLocked()
	batch.Alerts = e.newAlertsLocked(result.Alerts)

	e.store.Append(batch)

	e.log.Debug().
		Str("device_id", r.DeviceID).
		Int("gpus", len(r.GPUs)).
		Int("commands", len(result.Commands)).
		Int("alerts", len(result.Alerts)).
		Str("mode", string(result.Mode)).
		Msg("Control cycle complete")

	return result
}

// checkFanReportsLocked compares the fan speeds a device reports against
// the speed expected for the duty cycle it was last commanded.
func (e *Engine) checkFanReportsLocked(r telemetry.Reading) {
	curve := e.fans.Curve()
	tolerance := int(float64(curve.MaxRPM()) * fanReportTolerance)

	for _, rep := range r.Fans {
		st, err := e.fans.Get(rep.FanID)
		if err != nil {
			continue
		}

		if rep.PWM != st.CurrentPWM {
			e.log.Debug().
				Str("device_id", r.DeviceID).
				Int("fan_id", rep.FanID).
				Int("reported_pwm", rep.PWM).
				Int("commanded_pwm", st.CurrentPWM).
				Msg("Device has not applied the latest fan command")
			continue
		}

		expected := curve.RPM(st.CurrentPWM)
		if diff := rep.RPM - expected; diff > tolerance || diff < -tolerance {
			e.log.Warn().
				Str("device_id", r.DeviceID).
				Int("fan_id", rep.FanID).
				Int("reported_rpm", rep.RPM).
				Int("expected_rpm", expected).
				Msg("Fan speed does not match its duty cycle")
		}
	}
}

// controlFansLocked decides the PWM of every fan that belongs to a GPU the
// device reports or has reported before.
func (e *Engine) controlFansLocked(r telemetry.Reading, known map[int]bool, now time.Time, batch *store.Batch) ([]FanCommand, []int) {
	scope := make(map[int]bool, len(known)+len(r.GPUs))
	for id := range known {
		scope[id] = true
	}
	for _, g := range r.GPUs {
		scope[g.GPUID] = true
	}

	ids := make([]int, 0, len(scope))
	for id := range scope {
		if e.fans.Has(id) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	efficiency := e.trends.CoolingEfficiency()
	commands := make([]FanCommand, 0, len(ids))
	var missing []int

	for _, id := range ids {
		current, err := e.fans.Get(id)
		if err != nil {
			continue
		}

		pwm, source, manual := e.arbiter.Resolve(id)
		if !manual {
			g, ok := r.GPU(id)
			if !ok {
				missing = append(missing, id)
				e.metrics.MissingSensor(r.DeviceID)
				e.log.WarnWithCode(errors.New().WithData(errors.ErrMissingSensorData, fmt.Sprintf("gpu %d", id))).
					Str("device_id", r.DeviceID).
					Int("fan_id", id).
					Int("pwm", current.CurrentPWM).
					Msg("GPU reading missing, holding fan PWM")

				commands = append(commands, FanCommand{
					FanID:  id,
					PWM:    current.CurrentPWM,
					RPM:    current.CurrentRPM,
					Source: SourceHold,
				})
				continue
			}

			pwm = e.controller.Decide(g.Temperature, r.RoomTemp, efficiency, current.CurrentPWM).Next
			source = mode.SourceAuto
		}

		st, err := e.fans.Commit(id, pwm, now)
		if err != nil {
			continue
		}
		e.metrics.Fan(st.ID, st.CurrentPWM, st.CurrentRPM)

		cmd := FanCommand{FanID: id, PWM: st.CurrentPWM, RPM: st.CurrentRPM, Source: string(source)}
		commands = append(commands, cmd)
		batch.Fans = append(batch.Fans, store.FanRecord{
			Timestamp: now,
			FanID:     id,
			PWM:       cmd.PWM,
			RPM:       cmd.RPM,
			Source:    cmd.Source,
		})
	}

	return commands, missing
}

func (e *Engine) applyAutoActuatorsLocked(now time.Time, batch *store.Batch) environment.ActuatorState {
	state := e.actuators.Synthesize(e.environment.Humidity, e.profiles.Active())
	if prev := e.actuators.Commit(state); prev != state {
		batch.Actuators = append(batch.Actuators, actuatorRecord(now, string(mode.Auto), state))
	}

	return state
}

// observeTrendsLocked feeds the latest inputs to the accumulator and
// integrates the time since its last update.
func (e *Engine) observeTrendsLocked(r telemetry.Reading) {
	if e.environment == nil {
		return
	}

	profile := e.profiles.Active()
	sample := trend.Sample{
		Humidity:    e.environment.Humidity,
		Dust:        e.environment.Dust,
		RoomTemp:    r.RoomTemp,
		AvgRPM:      e.fans.AverageRPM(),
		AvgGPUTemp:  e.averageGPUTempLocked(),
		OptimalLow:  profile.OptimalLow,
		OptimalHigh: profile.OptimalHigh,
	}
	e.trends.Observe(sample)

	e.tickTrendsLocked()
}

func (e *Engine) tickTrendsLocked() (trend.State, bool) {
	state, err := e.trends.Tick()
	if err != nil {
		e.metrics.ClockAnomaly()
		e.log.Debug().Err(err).Msg("Skipping trend accumulation")
		return state, false
	}
	e.metrics.Trend(state.CorrosionIndex, state.FanWearIndex, state.CoolingEfficiency)

	return state, true
}

func (e *Engine) averageGPUTempLocked() float64 {
	if len(e.gpus) == 0 {
		return 0
	}

	total := 0.0
	for _, g := range e.gpus {
		total += g.Temperature
	}

	return total / float64(len(e.gpus))
}

// alertsLocked returns the current alert set ordered by subsystem.
func (e *Engine) alertsLocked() []alert.Alert {
	devices := make([]string, 0, len(e.gpuAlerts))
	for id := range e.gpuAlerts {
		devices = append(devices, id)
	}
	sort.Strings(devices)

	alerts := []alert.Alert{}
	for _, id := range devices {
		alerts = append(alerts, e.gpuAlerts[id]...)
	}
	alerts = append(alerts, e.envAlerts...)
	alerts = append(alerts, e.trendAlerts...)

	return alerts
}

// newAlertsLocked returns records for alerts that were not active at the
// same severity before, and forgets the ones that cleared.
func (e *Engine) newAlertsLocked(current []alert.Alert) []store.AlertRecord {
	next := make(map[string]alert.Severity, len(current))
	var records []store.AlertRecord

	for _, a := range current {
		next[a.Key()] = a.Severity
		if e.active[a.Key()] == a.Severity {
			continue
		}

		e.metrics.Alert(string(a.Kind), string(a.Severity))
		records = append(records, alertRecord(a))
	}
	e.active = next

	return records
}

func actuatorRecord(at time.Time, source string, s environment.ActuatorState) store.ActuatorRecord {
	return store.ActuatorRecord{
		Timestamp:          at,
		Source:             source,
		DehumidifierActive: s.DehumidifierActive,
		DehumidifierPower:  s.DehumidifierPower,
		HumidifierActive:   s.HumidifierActive,
		HumidifierPower:    s.HumidifierPower,
	}
}

func trendRecord(s trend.State) store.TrendRecord {
	return store.TrendRecord{
		Timestamp:         s.LastUpdate,
		CorrosionIndex:    s.CorrosionIndex,
		FanWearIndex:      s.FanWearIndex,
		RiskLevel:         string(s.RiskLevel),
		WearLevel:         string(s.WearLevel),
		CoolingEfficiency: s.CoolingEfficiency,
		FanPower:          s.FanPower,
	}
}
