package gpu

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

type fakeSensor struct {
	temps    []float64
	loads    []float64
	fans     [][]int
	failTemp map[int]bool
	inits    int
	shutdown int
}

func (f *fakeSensor) Initialize() error { f.inits++; return nil }
func (f *fakeSensor) Shutdown() error   { f.shutdown++; return nil }
func (f *fakeSensor) Count() (int, error) {
	return len(f.temps), nil
}
func (f *fakeSensor) Name(int) string { return "Fake GPU" }

func (f *fakeSensor) Temperature(i int) (float64, error) {
	if f.failTemp[i] {
		return 0, errors.New().New(ErrTemperatureReadFailed)
	}
	return f.temps[i], nil
}

func (f *fakeSensor) Utilization(i int) (float64, error) { return f.loads[i], nil }

func (f *fakeSensor) FanSpeeds(i int) ([]int, error) {
	if i >= len(f.fans) {
		return nil, nil
	}
	return f.fans[i], nil
}

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.DeviceID = "node-a"
	cfg.RoomTemp = 27
	return cfg
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := enabledConfig()
	cfg.Interval = 10 * time.Millisecond
	assert.True(t, errors.HasCode(cfg.Validate(), ErrInvalidConfig))

	cfg = enabledConfig()
	cfg.DeviceID = " "
	assert.True(t, errors.HasCode(cfg.Validate(), ErrInvalidConfig))
}

func TestSample(t *testing.T) {
	sensor := &fakeSensor{
		temps:    []float64{61, 72, 80},
		loads:    []float64{10, 95, 50},
		fans:     [][]int{{40, 50}, {70}},
		failTemp: map[int]bool{2: true},
	}

	p, err := NewProbe(enabledConfig(), sensor, nil)
	require.NoError(t, err)

	payload, err := p.Sample()
	require.NoError(t, err)

	assert.Equal(t, "node-a", payload.DeviceID)
	assert.InDelta(t, 27, payload.Sensors.RoomTemp, 1e-9)
	assert.Equal(t, []telemetry.GPUReading{
		{GPUID: 1, Temperature: 61, Load: 10},
		{GPUID: 2, Temperature: 72, Load: 95},
	}, payload.Sensors.GPUTemps)
	assert.Equal(t, []telemetry.FanReport{
		{FanID: 1, PWM: 45},
		{FanID: 2, PWM: 70},
	}, payload.Fans.FanStates)
}

func TestRunSubmitsOnEveryTick(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	sensor := &fakeSensor{temps: []float64{60}, loads: []float64{20}}

	var mu sync.Mutex
	var got []telemetry.Payload
	submit := func(_ context.Context, p telemetry.Payload) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, p)
		return nil
	}

	p, err := NewProbe(enabledConfig(), sensor, submit, WithClock(clk))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, clk.HasWaiters, time.Second, 5*time.Millisecond)
	clk.Step(5 * time.Second)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, sensor.inits)
	assert.Equal(t, 1, sensor.shutdown)
}
