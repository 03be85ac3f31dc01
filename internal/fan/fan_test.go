package fan_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/fogctl/internal/fan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestCurveLinearDefault(t *testing.T) {
	c := fan.NewCurve(fan.DefaultConfig().Curve)

	assert.Equal(t, 800, c.RPM(0))
	assert.Equal(t, 5000, c.RPM(100))
	assert.Equal(t, 2900, c.RPM(50))
	assert.Equal(t, 1640, c.RPM(20))
	assert.Equal(t, 5000, c.RPM(150), "pwm above range uses the top of the curve")
	assert.Equal(t, 800, c.RPM(-5))
	assert.Equal(t, 5000, c.MaxRPM())
}

func TestCurvePiecewise(t *testing.T) {
	c := fan.NewCurve([]fan.CurvePoint{
		{PWM: 100, RPM: 3000},
		{PWM: 0, RPM: 0},
		{PWM: 50, RPM: 2000},
	})

	assert.Equal(t, 1000, c.RPM(25))
	assert.Equal(t, 2500, c.RPM(75))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, fan.DefaultConfig().Validate())

	cfg := fan.DefaultConfig()
	cfg.Count = 0
	assert.Error(t, cfg.Validate())

	cfg = fan.DefaultConfig()
	cfg.Curve = []fan.CurvePoint{{PWM: 0, RPM: 800}}
	assert.Error(t, cfg.Validate())

	cfg = fan.DefaultConfig()
	cfg.Curve = []fan.CurvePoint{{PWM: 10, RPM: 800}, {PWM: 10, RPM: 900}}
	assert.Error(t, cfg.Validate())
}

func TestTableCommit(t *testing.T) {
	table := fan.NewTable(fan.DefaultConfig(), t0)

	for id := 1; id <= 8; id++ {
		assert.True(t, table.Has(id))
	}

	st, err := table.Commit(3, 150, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 100, st.CurrentPWM)
	assert.Equal(t, 20, st.PreviousPWM)
	assert.Equal(t, 5000, st.CurrentRPM)

	_, err = table.Commit(42, 50, t0)
	assert.Error(t, err)
	assert.False(t, table.Has(42))

	snap := table.Snapshot()
	require.Len(t, snap, 8)
	snap[2].CurrentPWM = 0
	got, err := table.Get(3)
	require.NoError(t, err)
	assert.Equal(t, 100, got.CurrentPWM, "snapshots are copies")
}

func TestStatisticsTimeWeighted(t *testing.T) {
	cfg := fan.DefaultConfig()
	cfg.Count = 1
	table := fan.NewTable(cfg, t0)

	// 20% for 30 minutes, then 90% for 30 minutes.
	_, err := table.Commit(1, 90, t0.Add(30*time.Minute))
	require.NoError(t, err)

	stats := table.Statistics(t0.Add(time.Hour))
	require.Len(t, stats, 1)
	s := stats[0]
	assert.Equal(t, 90, s.CurrentPWM)
	assert.InDelta(t, 55.0, s.AvgPWM, 0.01)
	assert.Equal(t, 20, s.MinPWM)
	assert.Equal(t, 90, s.MaxPWM)
	assert.Equal(t, 1800, s.TimeOnHighSecs)
}

func TestStatisticsWindowDropsOldSamples(t *testing.T) {
	cfg := fan.DefaultConfig()
	cfg.Count = 1
	table := fan.NewTable(cfg, t0)

	_, err := table.Commit(1, 95, t0.Add(10*time.Minute))
	require.NoError(t, err)
	_, err = table.Commit(1, 40, t0.Add(2*time.Hour))
	require.NoError(t, err)

	stats := table.Statistics(t0.Add(2*time.Hour + 30*time.Minute))
	s := stats[0]
	assert.Equal(t, 40, s.MinPWM)
	assert.Equal(t, 95, s.MaxPWM)
	assert.Equal(t, 1800, s.TimeOnHighSecs, "only the half hour of 95% inside the window counts")
	assert.InDelta(t, 67.5, s.AvgPWM, 0.01)
}
