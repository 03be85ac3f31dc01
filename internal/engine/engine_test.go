package engine

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/fogctl/internal/control"
	"codeberg.org/mutker/fogctl/internal/environment"
	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/logger"
	"codeberg.org/mutker/fogctl/internal/mode"
	"codeberg.org/mutker/fogctl/internal/store"
	"codeberg.org/mutker/fogctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingStore keeps every appended batch and can be told to fail reads.
type recordingStore struct {
	store.Store

	mu      sync.Mutex
	batches []store.Batch
	failing bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Store: store.NewNoop()}
}

func (s *recordingStore) Append(b store.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
}

func (s *recordingStore) unavailable() error {
	return errors.New().New(errors.ErrStoreUnavailable)
}

func (s *recordingStore) GPUHistory(ctx context.Context, since time.Time) ([]store.GPURecord, error) {
	if s.failing {
		return nil, s.unavailable()
	}
	return s.Store.GPUHistory(ctx, since)
}

func (s *recordingStore) Actions(ctx context.Context, limit int) ([]store.ActionRecord, error) {
	if s.failing {
		return nil, s.unavailable()
	}
	return s.Store.Actions(ctx, limit)
}

func (s *recordingStore) LatestTrend(context.Context) (store.TrendRecord, bool, error) {
	return store.TrendRecord{Timestamp: start, CorrosionIndex: 1.25, FanWearIndex: 42}, true, nil
}

func (s *recordingStore) trends() []store.TrendRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.TrendRecord
	for _, b := range s.batches {
		out = append(out, b.Trends...)
	}
	return out
}

func (s *recordingStore) actions() []store.ActionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.ActionRecord
	for _, b := range s.batches {
		out = append(out, b.Actions...)
	}
	return out
}

func newTestEngine(t *testing.T, mutate func(*Config), opts ...Option) (*Engine, *testingclock.FakeClock) {
	t.Helper()

	clk := testingclock.NewFakeClock(start)
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	e, err := New(cfg, append([]Option{WithClock(clk)}, opts...)...)
	require.NoError(t, err)

	return e, clk
}

func payload(device string, room float64, temps map[int]float64) telemetry.Payload {
	p := telemetry.Payload{DeviceID: device}
	p.Sensors.RoomTemp = room
	for id := 1; id <= 16; id++ {
		if temp, ok := temps[id]; ok {
			p.Sensors.GPUTemps = append(p.Sensors.GPUTemps, telemetry.GPUReading{GPUID: id, Temperature: temp, Load: 50})
		}
	}
	return p
}

func command(t *testing.T, cmds []FanCommand, fanID int) FanCommand {
	t.Helper()
	for _, c := range cmds {
		if c.FanID == fanID {
			return c
		}
	}
	require.Failf(t, "missing command", "no command for fan %d", fanID)
	return FanCommand{}
}

func TestProcess_HotGPURampsTowardFull(t *testing.T) {
	e, clk := newTestEngine(t, nil)
	ctx := context.Background()

	var last int
	for i := 1; i <= 8; i++ {
		res, err := e.Process(ctx, payload("rack-1", 35, map[int]float64{1: 95}))
		require.NoError(t, err)

		cmd := command(t, res.Commands, 1)
		assert.Equal(t, string(mode.SourceAuto), cmd.Source)
		assert.LessOrEqual(t, cmd.PWM-last, 10)
		last = cmd.PWM
		clk.Step(5 * time.Second)
	}

	assert.Equal(t, 100, last)
}

func TestProcess_FirstCycleMovesByStep(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	res, err := e.Process(context.Background(), payload("rack-1", 35, map[int]float64{1: 95}))
	require.NoError(t, err)

	assert.Equal(t, 30, command(t, res.Commands, 1).PWM)
	assert.Equal(t, mode.Auto, res.Mode)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, 1, res.Alerts[0].GPUID)
}

func TestProcess_WarnsOnFanSpeedMismatch(t *testing.T) {
	var buf bytes.Buffer
	e, _ := newTestEngine(t, nil, WithLogger(logger.New(&buf)))
	ctx := context.Background()

	_, err := e.Process(ctx, payload("rack-1", 25, map[int]float64{1: 95, 2: 40, 3: 40}))
	require.NoError(t, err)
	buf.Reset()

	p := payload("rack-1", 25, map[int]float64{1: 95, 2: 40, 3: 40})
	p.Fans = &telemetry.FanPayload{FanStates: []telemetry.FanReport{
		{FanID: 1, PWM: 30, RPM: 900},
		{FanID: 2, PWM: 20, RPM: 1640},
		{FanID: 3, PWM: 55, RPM: 900},
		{FanID: 42, PWM: 10, RPM: 100},
	}}
	_, err = e.Process(ctx, p)
	require.NoError(t, err)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Fan speed does not match its duty cycle"))
	assert.Contains(t, out, `"expected_rpm":2060`)
	assert.Contains(t, out, "Device has not applied the latest fan command")
}

func TestProcess_MissingGPUHoldsPWM(t *testing.T) {
	e, clk := newTestEngine(t, nil)
	ctx := context.Background()

	temps := map[int]float64{1: 50, 2: 50, 3: 50, 4: 50, 5: 52.5}
	for i := 0; i < 2; i++ {
		_, err := e.Process(ctx, payload("rack-1", 25, temps))
		require.NoError(t, err)
		clk.Step(5 * time.Second)
	}

	state := e.CurrentState()
	require.Equal(t, 40, state.Fans[4].CurrentPWM)

	delete(temps, 5)
	res, err := e.Process(ctx, payload("rack-1", 25, temps))
	require.NoError(t, err)

	cmd := command(t, res.Commands, 5)
	assert.Equal(t, 40, cmd.PWM)
	assert.Equal(t, SourceHold, cmd.Source)
	assert.Equal(t, []int{5}, res.Missing)
	assert.Empty(t, res.Alerts)
	assert.Equal(t, 40, e.CurrentState().Fans[4].CurrentPWM)
}

func TestProcess_RejectsInvalidPayload(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	_, err := e.Process(context.Background(), payload("", 25, map[int]float64{1: 50}))
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidArgument, errors.CodeOf(err))

	assert.Empty(t, e.Devices())
}

func TestManualCommands_RequireManualMode(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.SubmitManualCommands(ctx, []mode.Command{{FanID: 3, PWM: 50}}, "operator")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidMode))

	_, err = e.SetMode(ctx, mode.Manual, "operator")
	require.NoError(t, err)

	res, err := e.SubmitManualCommands(ctx, []mode.Command{{FanID: 3, PWM: 150}, {FanID: 42, PWM: 10}}, "operator")
	require.NoError(t, err)
	assert.Equal(t, []mode.Command{{FanID: 3, PWM: 100}}, res.Accepted)
	assert.Equal(t, []int{42}, res.Ignored)

	fan3 := e.CurrentState().Fans[2]
	assert.Equal(t, 100, fan3.CurrentPWM)
	assert.Equal(t, []mode.Command{{FanID: 3, PWM: 100}}, e.Mode().Commands)
}

func TestSetMode_Idempotent(t *testing.T) {
	s := newRecordingStore()
	e, clk := newTestEngine(t, nil, WithStore(s))
	ctx := context.Background()

	before := e.Mode()
	clk.Step(time.Minute)

	after, err := e.SetMode(ctx, mode.Auto, "operator")
	require.NoError(t, err)
	assert.Equal(t, before.LastChanged, after.LastChanged)
	assert.Equal(t, mode.SystemActor, after.ChangedBy)
	assert.Empty(t, s.actions())

	after, err = e.SetMode(ctx, mode.Manual, "operator")
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), after.LastChanged)
	assert.Equal(t, "operator", after.ChangedBy)
	require.Len(t, s.actions(), 1)
	assert.Equal(t, ActionSetMode, s.actions()[0].Action)
}

func TestManualMode_FallbackPolicies(t *testing.T) {
	tests := []struct {
		name   string
		policy control.FallbackPolicy
		want   int
		source string
	}{
		{name: "track follows the controller", policy: control.FallbackTrack, want: 30, source: string(mode.SourceAuto)},
		{name: "hold keeps the baseline", policy: control.FallbackHold, want: 20, source: string(mode.SourceBaseline)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, func(c *Config) { c.Control.ManualFallback = tt.policy })
			ctx := context.Background()

			_, err := e.SetMode(ctx, mode.Manual, "operator")
			require.NoError(t, err)

			// Before the first batch every fan keeps its baseline.
			res, err := e.Process(ctx, payload("rack-1", 25, map[int]float64{1: 95, 2: 95}))
			require.NoError(t, err)
			assert.Equal(t, 20, command(t, res.Commands, 2).PWM)
			assert.Equal(t, string(mode.SourceBaseline), command(t, res.Commands, 2).Source)

			_, err = e.SubmitManualCommands(ctx, []mode.Command{{FanID: 1, PWM: 60}}, "operator")
			require.NoError(t, err)

			res, err = e.Process(ctx, payload("rack-1", 25, map[int]float64{1: 95, 2: 95}))
			require.NoError(t, err)

			manual := command(t, res.Commands, 1)
			assert.Equal(t, 60, manual.PWM)
			assert.Equal(t, string(mode.SourceManual), manual.Source)

			other := command(t, res.Commands, 2)
			assert.Equal(t, tt.want, other.PWM)
			assert.Equal(t, tt.source, other.Source)
		})
	}
}

func TestSubmitActuators(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	on := environment.ActuatorState{DehumidifierActive: true, DehumidifierPower: 150}

	_, err := e.SubmitActuators(ctx, on, "operator")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidMode))

	_, err = e.SetMode(ctx, mode.Manual, "operator")
	require.NoError(t, err)

	got, err := e.SubmitActuators(ctx, on, "operator")
	require.NoError(t, err)
	assert.Equal(t, 100, got.DehumidifierPower)
	assert.Equal(t, got, e.Environment().Actuators)

	_, err = e.SubmitActuators(ctx, environment.ActuatorState{DehumidifierActive: true, HumidifierActive: true}, "operator")
	assert.True(t, errors.HasCode(err, errors.ErrConflictingCommand))
}

func TestProcess_AutoActuatorsFollowHumidity(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	p := payload("rack-1", 25, map[int]float64{1: 50})
	p.Environment = &telemetry.EnvironmentData{Humidity: 75, Dust: 10}

	res, err := e.Process(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, res.Actuators)
	assert.True(t, res.Actuators.DehumidifierActive)
	assert.False(t, res.Actuators.HumidifierActive)
}

func TestSelectProfile_ResetsTrends(t *testing.T) {
	s := newRecordingStore()
	e, clk := newTestEngine(t, nil, WithStore(s))
	ctx := context.Background()

	p := payload("rack-1", 25, map[int]float64{1: 50})
	p.Environment = &telemetry.EnvironmentData{Humidity: 75, Dust: 0}

	var previous float64
	for i := 0; i < 3; i++ {
		clk.Step(time.Hour)
		_, err := e.Process(ctx, p)
		require.NoError(t, err)

		ci := e.Trends().CorrosionIndex
		assert.Greater(t, ci, previous)
		previous = ci
	}

	profile, err := e.SelectProfile(ctx, 1, "operator")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.ID)
	assert.Equal(t, 1, e.ActiveProfile().ID)

	state := e.Trends()
	assert.Zero(t, state.CorrosionIndex)
	assert.Zero(t, state.FanWearIndex)

	trends := s.trends()
	require.NotEmpty(t, trends)
	assert.Zero(t, trends[len(trends)-1].CorrosionIndex)

	_, err = e.SelectProfile(ctx, 99, "operator")
	assert.True(t, errors.HasCode(err, errors.ErrNotFound))
}

func TestTickTrends(t *testing.T) {
	s := newRecordingStore()
	e, clk := newTestEngine(t, nil, WithStore(s))
	ctx := context.Background()

	_, err := e.TickTrends(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrClockAnomaly))

	clk.Step(time.Minute)
	state, err := e.TickTrends(ctx)
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), state.LastUpdate)
	assert.Len(t, s.trends(), 1)
}

func TestRestoreTrends(t *testing.T) {
	e, _ := newTestEngine(t, nil, WithStore(newRecordingStore()))

	restored, err := e.RestoreTrends(context.Background())
	require.NoError(t, err)
	assert.True(t, restored)

	state := e.Trends()
	assert.InDelta(t, 1.25, state.CorrosionIndex, 1e-9)
	assert.InDelta(t, 42, state.FanWearIndex, 1e-9)
}

func TestPopCommands(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, _, err := e.PopCommands("rack-1")
	assert.True(t, errors.HasCode(err, telemetry.ErrUnknownDevice))

	_, err = e.Process(ctx, payload("rack-1", 25, map[int]float64{1: 60, 2: 60}))
	require.NoError(t, err)

	cmds, ok, err := e.PopCommands("rack-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cmds, 2)

	_, ok, err = e.PopCommands("rack-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManualCommands_QueueForOwningDevice(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Process(ctx, payload("rack-1", 25, map[int]float64{1: 60}))
	require.NoError(t, err)
	_, err = e.Process(ctx, payload("rack-2", 25, map[int]float64{2: 60}))
	require.NoError(t, err)
	_, _, _ = e.PopCommands("rack-1")
	_, _, _ = e.PopCommands("rack-2")

	_, err = e.SetMode(ctx, mode.Manual, "operator")
	require.NoError(t, err)
	_, err = e.SubmitManualCommands(ctx, []mode.Command{{FanID: 2, PWM: 70}}, "operator")
	require.NoError(t, err)

	_, ok, err := e.PopCommands("rack-1")
	require.NoError(t, err)
	assert.False(t, ok)

	cmds, ok, err := e.PopCommands("rack-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []FanCommand{{FanID: 2, PWM: 70, RPM: 3740, Source: string(mode.SourceManual)}}, cmds)
}

func TestSetMode_AutoDropsQueuedManualCommands(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Process(ctx, payload("rack-1", 25, map[int]float64{1: 60}))
	require.NoError(t, err)
	_, _, _ = e.PopCommands("rack-1")

	_, err = e.SetMode(ctx, mode.Manual, "operator")
	require.NoError(t, err)
	_, err = e.SubmitManualCommands(ctx, []mode.Command{{FanID: 1, PWM: 95}}, "operator")
	require.NoError(t, err)

	_, err = e.SetMode(ctx, mode.Auto, "operator")
	require.NoError(t, err)

	cmds, ok, err := e.PopCommands("rack-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, cmds)

	res, err := e.Process(ctx, payload("rack-1", 25, map[int]float64{1: 60}))
	require.NoError(t, err)
	assert.Equal(t, string(mode.SourceAuto), command(t, res.Commands, 1).Source)
}

func TestHistory_StaleWhenStoreUnavailable(t *testing.T) {
	s := newRecordingStore()
	e, _ := newTestEngine(t, nil, WithStore(s))
	ctx := context.Background()

	_, err := e.Process(ctx, payload("rack-1", 25, map[int]float64{1: 60}))
	require.NoError(t, err)

	h, err := e.GPUHistory(ctx, 1)
	require.NoError(t, err)
	assert.False(t, h.Stale)

	s.failing = true
	h, err = e.GPUHistory(ctx, 1)
	require.NoError(t, err)
	assert.True(t, h.Stale)
	require.Len(t, h.Data, 1)
	assert.InDelta(t, 60, h.Data[0].Temperature, 1e-9)

	_, err = e.GPUHistory(ctx, 0)
	assert.Equal(t, errors.ErrInvalidArgument, errors.CodeOf(err))
	_, err = e.GPUHistory(ctx, maxHistoryHours+1)
	assert.Equal(t, errors.ErrInvalidArgument, errors.CodeOf(err))
}

func TestActions_InMemoryFallback(t *testing.T) {
	s := newRecordingStore()
	e, _ := newTestEngine(t, func(c *Config) { c.ActionLogSize = 2 }, WithStore(s))
	ctx := context.Background()

	_, err := e.SetMode(ctx, mode.Manual, "alice")
	require.NoError(t, err)
	_, err = e.SetMode(ctx, mode.Auto, "bob")
	require.NoError(t, err)
	e.ResetTrends(ctx, "carol")

	s.failing = true
	h, err := e.Actions(ctx, 10)
	require.NoError(t, err)
	assert.True(t, h.Stale)
	require.Len(t, h.Data, 2)
	assert.Equal(t, "carol", h.Data[0].Actor)
	assert.Equal(t, ActionResetTrends, h.Data[0].Action)
	assert.Equal(t, "bob", h.Data[1].Actor)

	assert.Len(t, s.actions(), 3)
}
