package telemetry_test

import (
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var received = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const samplePayload = `{
  "device_id": "esp32_master_001",
  "sensors": {
    "gpu_temps": [
      {"gpu_id": 2, "temperature": 71.5, "load": 120},
      {"gpu_id": 1, "temperature": 65.5, "load": 95}
    ],
    "room_temp": 26.5
  },
  "environment": {"humidity": 104, "dust": 21.0},
  "fans": {"fan_states": [{"fan_id": 1, "rpm": 3200, "pwm_duty": 75}]}
}`

func decodeAndValidate(t *testing.T, body string) (telemetry.Reading, error) {
	t.Helper()

	p, err := telemetry.Decode(strings.NewReader(body))
	require.NoError(t, err)

	return telemetry.NewValidator(telemetry.DefaultConfig()).Validate(p, received)
}

func TestValidateNormalizesPayload(t *testing.T) {
	r, err := decodeAndValidate(t, samplePayload)
	require.NoError(t, err)

	assert.Equal(t, "esp32_master_001", r.DeviceID)
	assert.Equal(t, received, r.Timestamp)
	assert.Equal(t, 26.5, r.RoomTemp)
	require.Len(t, r.GPUs, 2)
	assert.Equal(t, 1, r.GPUs[0].GPUID, "readings are sorted by gpu id")
	assert.Equal(t, 100.0, r.GPUs[1].Load, "load is clamped")
	require.NotNil(t, r.Environment)
	assert.Equal(t, 100.0, r.Environment.Humidity, "humidity is clamped")
	assert.Equal(t, received, r.Environment.Timestamp)
	assert.Len(t, r.Fans, 1)

	g, ok := r.GPU(2)
	assert.True(t, ok)
	assert.Equal(t, 71.5, g.Temperature)
	_, ok = r.GPU(5)
	assert.False(t, ok)
}

func TestValidateKeepsDeviceTimestamp(t *testing.T) {
	r, err := decodeAndValidate(t, `{"device_id":"d","timestamp":"2024-02-29T23:00:00Z","sensors":{"gpu_temps":[],"room_temp":20}}`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC), r.Timestamp.UTC())
	assert.Nil(t, r.Environment)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing device", `{"sensors":{"gpu_temps":[],"room_temp":20}}`},
		{"gpu id zero", `{"device_id":"d","sensors":{"gpu_temps":[{"gpu_id":0,"temperature":50,"load":1}],"room_temp":20}}`},
		{"gpu id too large", `{"device_id":"d","sensors":{"gpu_temps":[{"gpu_id":17,"temperature":50,"load":1}],"room_temp":20}}`},
		{"duplicate gpu", `{"device_id":"d","sensors":{"gpu_temps":[{"gpu_id":1,"temperature":50,"load":1},{"gpu_id":1,"temperature":51,"load":1}],"room_temp":20}}`},
		{"negative dust", `{"device_id":"d","sensors":{"gpu_temps":[],"room_temp":20},"environment":{"humidity":50,"dust":-1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeAndValidate(t, tt.body)
			require.Error(t, err)
			assert.Equal(t, errors.ErrInvalidArgument, errors.CodeOf(err))
		})
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	for _, body := range []string{`{`, `{"device_id":"d","unknown":1}`, `{"device_id":"d"} {"device_id":"e"}`} {
		_, err := telemetry.Decode(strings.NewReader(body))
		require.Error(t, err, body)
		assert.Equal(t, errors.ErrInvalidArgument, errors.CodeOf(err))
	}
}

func TestRegistry(t *testing.T) {
	clk := testingclock.NewFakeClock(received)
	reg := telemetry.NewRegistry(telemetry.DefaultConfig(), clk)

	known := reg.Touch("rack-a", []int{1, 2})
	assert.Empty(t, known)

	clk.Step(10 * time.Second)
	known = reg.Touch("rack-a", []int{1})
	assert.Equal(t, map[int]bool{1: true, 2: true}, known)

	d, err := reg.Get("rack-a")
	require.NoError(t, err)
	assert.Equal(t, received, d.FirstSeen)
	assert.Equal(t, received.Add(10*time.Second), d.LastSeen)
	assert.Equal(t, []int{1, 2}, d.GPUIDs)
	assert.True(t, d.Online)

	clk.Step(time.Minute)
	d, err = reg.Get("rack-a")
	require.NoError(t, err)
	assert.False(t, d.Online)

	_, err = reg.Get("rack-b")
	assert.Equal(t, telemetry.ErrUnknownDevice, errors.CodeOf(err))

	reg.Touch("rack-0", nil)
	devices := reg.List()
	require.Len(t, devices, 2)
	assert.Equal(t, "rack-0", devices[0].ID)
}
