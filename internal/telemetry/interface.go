package telemetry

import "time"

// Payload is the telemetry document posted by a device.
type Payload struct {
	DeviceID    string           `json:"device_id"`
	Timestamp   *time.Time       `json:"timestamp,omitempty"`
	Sensors     SensorPayload    `json:"sensors"`
	Environment *EnvironmentData `json:"environment,omitempty"`
	Fans        *FanPayload      `json:"fans,omitempty"`
}

type SensorPayload struct {
	GPUTemps []GPUReading `json:"gpu_temps"`
	RoomTemp float64      `json:"room_temp"`
}

type EnvironmentData struct {
	Humidity float64 `json:"humidity"`
	Dust     float64 `json:"dust"`
}

type FanPayload struct {
	FanStates []FanReport `json:"fan_states"`
}

type GPUReading struct {
	GPUID       int     `json:"gpu_id"`
	Temperature float64 `json:"temperature"`
	Load        float64 `json:"load"`
}

type EnvironmentalReading struct {
	Humidity  float64   `json:"humidity"`
	Dust      float64   `json:"dust"`
	Timestamp time.Time `json:"timestamp"`
}

// FanReport is what the device says its fan is doing. It is checked
// against the commanded duty cycle but never drives control.
type FanReport struct {
	FanID int `json:"fan_id"`
	RPM   int `json:"rpm"`
	PWM   int `json:"pwm_duty"`
}

// Reading is a validated payload.
type Reading struct {
	DeviceID    string
	Timestamp   time.Time
	GPUs        []GPUReading
	RoomTemp    float64
	Environment *EnvironmentalReading
	Fans        []FanReport
}

// GPU returns the reading for id, if present.
func (r Reading) GPU(id int) (GPUReading, bool) {
	for _, g := range r.GPUs {
		if g.GPUID == id {
			return g, true
		}
	}

	return GPUReading{}, false
}
