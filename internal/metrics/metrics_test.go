package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeberg.org/mutker/fogctl/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := metrics.New()

	r.TelemetryAccepted()
	r.TelemetryAccepted()
	r.TelemetryRejected()
	r.ObserveCycle(3 * time.Millisecond)
	r.MissingSensor("rack-a")
	r.Fan(3, 60, 3320)
	r.GPUTemperature("rack-a", 3, 71.5)
	r.Alert("gpu_temperature", "warning")
	r.Mode(true)
	r.ManualCommands(4)
	r.Trend(1.5, 20, 0.99)
	r.ClockAnomaly()

	require.NoError(t, r.RegisterStore(func() metrics.StoreStats {
		return metrics.StoreStats{Pending: 7, Dropped: 2}
	}))

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `fogctl_telemetry_requests_total{result="accepted"} 2`)
	assert.Contains(t, text, `fogctl_telemetry_requests_total{result="rejected"} 1`)
	assert.Contains(t, text, `fogctl_missing_sensor_readings_total{device_id="rack-a"} 1`)
	assert.Contains(t, text, `fogctl_fan_pwm_percent{fan_id="3"} 60`)
	assert.Contains(t, text, `fogctl_fan_rpm{fan_id="3"} 3320`)
	assert.Contains(t, text, `fogctl_gpu_temperature_celsius{device_id="rack-a",gpu_id="3"} 71.5`)
	assert.Contains(t, text, `fogctl_alerts_total{kind="gpu_temperature",severity="warning"} 1`)
	assert.Contains(t, text, "fogctl_manual_mode 1")
	assert.Contains(t, text, "fogctl_manual_commands_total 4")
	assert.Contains(t, text, "fogctl_corrosion_index 1.5")
	assert.Contains(t, text, "fogctl_cooling_efficiency 0.99")
	assert.Contains(t, text, "fogctl_clock_anomalies_total 1")
	assert.Contains(t, text, "fogctl_store_pending_batches 7")
	assert.Contains(t, text, "fogctl_store_dropped_batches_total 2")
	assert.Contains(t, text, "fogctl_control_cycle_seconds_count 1")
}

func TestRegisterStoreTwiceFails(t *testing.T) {
	r := metrics.New()
	stats := func() metrics.StoreStats { return metrics.StoreStats{} }

	require.NoError(t, r.RegisterStore(stats))
	assert.Error(t, r.RegisterStore(stats))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *metrics.Recorder

	assert.NotPanics(t, func() {
		r.TelemetryAccepted()
		r.Fan(1, 50, 2900)
		r.Trend(0, 0, 1)
		r.Mode(false)
	})
	assert.NoError(t, r.RegisterStore(nil))
}

func TestModeGauge(t *testing.T) {
	r := metrics.New()

	r.Mode(true)
	r.Mode(false)
	mfs, err := r.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range mfs {
		if mf.GetName() == "fogctl_manual_mode" {
			assert.Equal(t, 0.0, mf.GetMetric()[0].GetGauge().GetValue())
			return
		}
	}
	t.Fatal("fogctl_manual_mode not gathered")
}

func TestTelemetryCounterValue(t *testing.T) {
	r := metrics.New()
	r.TelemetryAccepted()

	count, err := testutil.GatherAndCount(r.Registry(), "fogctl_telemetry_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
