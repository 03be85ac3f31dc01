package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeberg.org/mutker/fogctl/internal/environment"
	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/mode"
	"codeberg.org/mutker/fogctl/internal/store"
	"codeberg.org/mutker/fogctl/internal/trend"
)

// SetMode switches between automatic and manual control. Setting the
// current mode again changes nothing and is not logged.
func (e *Engine) SetMode(_ context.Context, m mode.Mode, actor string) (ModeState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, changed, err := e.arbiter.Set(m, actor, e.fans.PWMs())
	if err != nil {
		return ModeState{}, err
	}

	if changed {
		now := e.clock.Now()
		batch := store.Batch{}
		e.recordActionLocked(now, state.ChangedBy, ActionSetMode, string(m), &batch)
		e.metrics.Mode(m == mode.Manual)

		// Returning to auto drops queued manual batches and hands the
		// actuators back to the controller.
		if m == mode.Auto {
			clear(e.pending)
			if e.environment != nil {
				e.applyAutoActuatorsLocked(now, &batch)
			}
		}

		e.store.Append(batch)
		e.log.Info().Str("mode", string(m)).Str("changed_by", state.ChangedBy).Msg("System mode changed")
	}

	return e.modeStateLocked(), nil
}

// SubmitManualCommands applies a manual fan batch. It fails with
// ErrInvalidMode unless the system is in manual mode.
func (e *Engine) SubmitManualCommands(_ context.Context, commands []mode.Command, actor string) (mode.Submission, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.arbiter.Submit(commands, e.fans.Has)
	if err != nil {
		return mode.Submission{}, err
	}

	now := e.clock.Now()
	batch := store.Batch{}
	applied := make(map[int]FanCommand, len(res.Accepted))
	for _, cmd := range res.Accepted {
		st, err := e.fans.Commit(cmd.FanID, cmd.PWM, now)
		if err != nil {
			continue
		}
		e.metrics.Fan(st.ID, st.CurrentPWM, st.CurrentRPM)

		fc := FanCommand{FanID: st.ID, PWM: st.CurrentPWM, RPM: st.CurrentRPM, Source: string(mode.SourceManual)}
		applied[st.ID] = fc
		batch.Fans = append(batch.Fans, store.FanRecord{
			Timestamp: now, FanID: fc.FanID, PWM: fc.PWM, RPM: fc.RPM, Source: fc.Source,
		})
	}

	e.replacePendingLocked(applied)
	e.metrics.ManualCommands(len(res.Accepted))

	if len(res.Ignored) > 0 {
		e.log.Warn().Ints("fan_ids", res.Ignored).Msg("Ignoring manual commands for unknown fans")
	}

	e.recordActionLocked(now, actor, ActionManualFans, formatCommands(res.Accepted), &batch)
	e.store.Append(batch)

	return res, nil
}

// replacePendingLocked updates every device whose fans were commanded.
func (e *Engine) replacePendingLocked(applied map[int]FanCommand) {
	for _, d := range e.devices.List() {
		var cmds []FanCommand
		for _, gpu := range d.GPUIDs {
			if fc, ok := applied[gpu]; ok {
				cmds = append(cmds, fc)
			}
		}
		if len(cmds) > 0 {
			e.pending[d.ID] = cmds
		}
	}
}

// SubmitActuators commits an operator-chosen actuator state. Only allowed in
// manual mode.
func (e *Engine) SubmitActuators(_ context.Context, s environment.ActuatorState, actor string) (environment.ActuatorState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.arbiter.Get().Mode != mode.Manual {
		return environment.ActuatorState{}, errors.New().WithData(errors.ErrInvalidMode, "environmental control requires manual mode")
	}

	normalized, err := environment.Normalize(s)
	if err != nil {
		return environment.ActuatorState{}, err
	}

	now := e.clock.Now()
	e.actuators.Commit(normalized)

	batch := store.Batch{Actuators: []store.ActuatorRecord{actuatorRecord(now, string(mode.Manual), normalized)}}
	e.recordActionLocked(now, actor, ActionManualActuator, fmt.Sprintf("dehumidifier=%t/%d humidifier=%t/%d",
		normalized.DehumidifierActive, normalized.DehumidifierPower,
		normalized.HumidifierActive, normalized.HumidifierPower), &batch)
	e.store.Append(batch)

	return normalized, nil
}

// SelectProfile activates a profile and resets the trend indices.
func (e *Engine) SelectProfile(_ context.Context, id int, actor string) (environment.Profile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.profiles.Select(id)
	if err != nil {
		return environment.Profile{}, err
	}

	now := e.clock.Now()
	state := e.trends.Reset()
	e.trendAlerts = nil
	e.metrics.Trend(state.CorrosionIndex, state.FanWearIndex, state.CoolingEfficiency)

	batch := store.Batch{Trends: []store.TrendRecord{trendRecord(state)}}
	if e.environment != nil {
		e.envAlerts = e.evaluator.Environment(*e.environment, p)
		if e.arbiter.Get().Mode == mode.Auto {
			e.applyAutoActuatorsLocked(now, &batch)
		}
	}
	e.recordActionLocked(now, actor, ActionSelectProfile, fmt.Sprintf("%d %s", p.ID, p.Name), &batch)
	e.store.Append(batch)

	e.log.Info().Int("profile_id", p.ID).Str("name", p.Name).Msg("Environmental profile selected, trends reset")

	return p, nil
}

// ResetTrends zeroes the corrosion and fan wear indices.
func (e *Engine) ResetTrends(_ context.Context, actor string) trend.State {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	state := e.trends.Reset()
	e.trendAlerts = nil
	e.metrics.Trend(state.CorrosionIndex, state.FanWearIndex, state.CoolingEfficiency)

	batch := store.Batch{Trends: []store.TrendRecord{trendRecord(state)}}
	e.recordActionLocked(now, actor, ActionResetTrends, "", &batch)
	e.store.Append(batch)

	return state
}

// TickTrends advances the trend indices and persists a snapshot. Called
// periodically, independent of telemetry arrival.
func (e *Engine) TickTrends(_ context.Context) (trend.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.tickTrendsLocked()
	if !ok {
		return state, errors.New().New(errors.ErrClockAnomaly)
	}

	e.trendAlerts = e.evaluator.Trend(state, state.LastUpdate)
	batch := store.Batch{
		Trends: []store.TrendRecord{trendRecord(state)},
		Alerts: e.newAlertsLocked(e.alertsLocked()),
	}
	e.store.Append(batch)

	return state, nil
}

// RestoreTrends seeds the indices from the most recent persisted snapshot.
func (e *Engine) RestoreTrends(ctx context.Context) (bool, error) {
	latest, found, err := e.store.LatestTrend(ctx)
	if err != nil || !found {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.trends.Restore(latest.CorrosionIndex, latest.FanWearIndex)
	state := e.trends.State()
	e.metrics.Trend(state.CorrosionIndex, state.FanWearIndex, state.CoolingEfficiency)

	e.log.Info().
		Float64("corrosion_index", state.CorrosionIndex).
		Float64("fan_wear_index", state.FanWearIndex).
		Time("snapshot", latest.Timestamp).
		Msg("Trend indices restored")

	return true, nil
}

func (e *Engine) recordActionLocked(at time.Time, actor, action, detail string, batch *store.Batch) {
	if actor == "" {
		actor = mode.SystemActor
	}

	a := Action{Timestamp: at, Actor: actor, Action: action, Detail: detail}
	e.actions = append(e.actions, a)
	if over := len(e.actions) - e.actionLimit; over > 0 {
		e.actions = append([]Action(nil), e.actions[over:]...)
	}

	batch.Actions = append(batch.Actions, store.ActionRecord{
		Timestamp: a.Timestamp,
		Actor:     a.Actor,
		Action:    a.Action,
		Detail:    a.Detail,
	})
}

func formatCommands(cmds []mode.Command) string {
	parts := make([]string, 0, len(cmds))
	for _, c := range cmds {
		parts = append(parts, fmt.Sprintf("fan%d=%d", c.FanID, c.PWM))
	}

	return strings.Join(parts, " ")
}
