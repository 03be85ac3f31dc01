package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"codeberg.org/mutker/fogctl/internal/alert"
	"codeberg.org/mutker/fogctl/internal/environment"
	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/fan"
	"codeberg.org/mutker/fogctl/internal/store"
	"codeberg.org/mutker/fogctl/internal/telemetry"
	"codeberg.org/mutker/fogctl/internal/trend"
)

// CurrentState returns the latest GPU readings, fan states and alerts.
func (e *Engine) CurrentState() CurrentState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return CurrentState{
		Timestamp: e.timestampLocked(),
		Mode:      e.arbiter.Get().Mode,
		RoomTemp:  copyFloat(e.roomTemp),
		GPUs:      e.gpuStatusesLocked(),
		Fans:      e.fans.Snapshot(),
		Alerts:    e.alertsLocked(),
	}
}

// Environment returns the latest environmental reading together with the
// actuator state and the environmental alerts.
func (e *Engine) Environment() EnvironmentState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var reading *telemetry.EnvironmentalReading
	if e.environment != nil {
		r := *e.environment
		reading = &r
	}

	return EnvironmentState{
		Timestamp: e.timestampLocked(),
		Reading:   reading,
		RoomTemp:  copyFloat(e.roomTemp),
		Actuators: e.actuators.State(),
		Profile:   e.profiles.Active(),
		Alerts:    append([]alert.Alert{}, e.envAlerts...),
	}
}

func (e *Engine) FanStatistics() []fan.Statistics {
	return e.fans.Statistics(e.clock.Now())
}

func (e *Engine) Mode() ModeState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.modeStateLocked()
}

func (e *Engine) modeStateLocked() ModeState {
	return ModeState{
		SystemMode: e.arbiter.Get(),
		Policy:     string(e.arbiter.Policy()),
		Commands:   e.arbiter.Commands(),
	}
}

func (e *Engine) Trends() trend.State {
	return e.trends.State()
}

func (e *Engine) Profiles() []environment.Profile {
	return e.profiles.List()
}

func (e *Engine) ActiveProfile() environment.Profile {
	return e.profiles.Active()
}

func (e *Engine) Devices() []telemetry.Device {
	return e.devices.List()
}

// PopCommands hands out and clears the pending fan batch of a device. The
// second return value is false when nothing is pending.
func (e *Engine) PopCommands(deviceID string) ([]FanCommand, bool, error) {
	if _, err := e.devices.Get(deviceID); err != nil {
		return nil, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cmds := e.pending[deviceID]
	delete(e.pending, deviceID)

	return cmds, len(cmds) > 0, nil
}

// ActuatorCommand returns the actuator state a known device should apply.
func (e *Engine) ActuatorCommand(deviceID string) (environment.ActuatorState, error) {
	if _, err := e.devices.Get(deviceID); err != nil {
		return environment.ActuatorState{}, err
	}

	return e.actuators.State(), nil
}

// Actions returns up to limit operator actions, newest first. The in-memory
// log answers when it holds enough entries; older ones come from the store.
func (e *Engine) Actions(ctx context.Context, limit int) (History[Action], error) {
	if limit < 1 {
		return History[Action]{}, errors.New().WithData(errors.ErrInvalidArgument, fmt.Sprintf("limit must be positive, got %d", limit))
	}

	recent := e.recentActions(limit)
	if len(recent) == limit {
		return History[Action]{Data: recent}, nil
	}

	records, err := e.store.Actions(ctx, limit)
	if err != nil {
		e.warnStale(err, "actions")
		return History[Action]{Data: recent, Stale: true}, nil
	}

	// Writes are buffered, so the store may lag behind memory.
	if len(records) <= len(recent) {
		return History[Action]{Data: recent}, nil
	}

	out := make([]Action, 0, len(records))
	for _, r := range records {
		out = append(out, Action(r))
	}

	return History[Action]{Data: out}, nil
}

func (e *Engine) recentActions(limit int) []Action {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Action, 0, min(limit, len(e.actions)))
	for i := len(e.actions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.actions[i])
	}

	return out
}

func (e *Engine) GPUHistory(ctx context.Context, hours int) (History[store.GPURecord], error) {
	return history(ctx, e, "gpu", hours, e.store.GPUHistory, func() []store.GPURecord {
		out := []store.GPURecord{}
		for _, g := range e.gpuStatusesLocked() {
			out = append(out, store.GPURecord{
				Timestamp:   g.UpdatedAt,
				DeviceID:    g.DeviceID,
				GPUID:       g.GPUID,
				Temperature: g.Temperature,
				Load:        g.Load,
			})
		}
		return out
	})
}

func (e *Engine) EnvironmentHistory(ctx context.Context, hours int) (History[store.EnvironmentRecord], error) {
	return history(ctx, e, "environment", hours, e.store.EnvironmentHistory, func() []store.EnvironmentRecord {
		out := []store.EnvironmentRecord{}
		if e.environment != nil {
			r := store.EnvironmentRecord{
				Timestamp: e.environment.Timestamp,
				Humidity:  e.environment.Humidity,
				Dust:      e.environment.Dust,
			}
			if e.roomTemp != nil {
				r.RoomTemp = *e.roomTemp
			}
			out = append(out, r)
		}
		return out
	})
}

func (e *Engine) FanHistory(ctx context.Context, hours int) (History[store.FanRecord], error) {
	return history(ctx, e, "fans", hours, e.store.FanHistory, func() []store.FanRecord {
		out := []store.FanRecord{}
		for _, st := range e.fans.Snapshot() {
			out = append(out, store.FanRecord{
				Timestamp: st.UpdatedAt,
				FanID:     st.ID,
				PWM:       st.CurrentPWM,
				RPM:       st.CurrentRPM,
			})
		}
		return out
	})
}

func (e *Engine) ActuatorHistory(ctx context.Context, hours int) (History[store.ActuatorRecord], error) {
	return history(ctx, e, "actuators", hours, e.store.ActuatorHistory, func() []store.ActuatorRecord {
		return []store.ActuatorRecord{actuatorRecord(e.timestampLocked(), "", e.actuators.State())}
	})
}

func (e *Engine) TrendHistory(ctx context.Context, hours int) (History[store.TrendRecord], error) {
	return history(ctx, e, "trends", hours, e.store.TrendHistory, func() []store.TrendRecord {
		return []store.TrendRecord{trendRecord(e.trends.State())}
	})
}

func (e *Engine) AlertHistory(ctx context.Context, hours int) (History[store.AlertRecord], error) {
	return history(ctx, e, "alerts", hours, e.store.AlertHistory, func() []store.AlertRecord {
		out := []store.AlertRecord{}
		for _, a := range e.alertsLocked() {
			out = append(out, alertRecord(a))
		}
		return out
	})
}

// history queries the store for the last hours and falls back to the
// in-memory snapshot, flagged stale, when the store cannot answer.
func history[T any](
	ctx context.Context,
	e *Engine,
	name string,
	hours int,
	query func(context.Context, time.Time) ([]T, error),
	snapshot func() []T,
) (History[T], error) {
	if hours < 1 || hours > maxHistoryHours {
		return History[T]{}, errors.New().WithData(errors.ErrInvalidArgument,
			fmt.Sprintf("hours must be between 1 and %d, got %d", maxHistoryHours, hours))
	}

	since := e.clock.Now().Add(-time.Duration(hours) * time.Hour)
	data, err := query(ctx, since)
	if err == nil {
		return History[T]{Data: data}, nil
	}
	e.warnStale(err, name)

	e.mu.RLock()
	defer e.mu.RUnlock()

	return History[T]{Data: snapshot(), Stale: true}, nil
}

func (e *Engine) warnStale(err error, what string) {
	var coded errors.Error
	if !errors.As(err, &coded) {
		coded = errors.New().Wrap(errors.ErrStoreUnavailable, err)
	}

	e.log.WarnWithCode(coded).Str("query", what).Msg("Store query failed, serving in-memory snapshot")
}

func (e *Engine) gpuStatusesLocked() []GPUStatus {
	out := make([]GPUStatus, 0, len(e.gpus))
	for _, g := range e.gpus {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GPUID < out[j].GPUID })

	return out
}

// timestampLocked is the time of the last control cycle, or now before the
// first one.
func (e *Engine) timestampLocked() time.Time {
	if e.lastCycle.IsZero() {
		return e.clock.Now()
	}

	return e.lastCycle
}

func alertRecord(a alert.Alert) store.AlertRecord {
	return store.AlertRecord{
		Timestamp: a.Timestamp,
		Kind:      string(a.Kind),
		Subsystem: a.Subsystem,
		GPUID:     a.GPUID,
		Value:     a.Value,
		Threshold: a.Threshold,
		Severity:  string(a.Severity),
		Message:   a.Message,
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v

	return &c
}
