package engine

import (
	"time"

	"codeberg.org/mutker/fogctl/internal/alert"
	"codeberg.org/mutker/fogctl/internal/control"
	"codeberg.org/mutker/fogctl/internal/environment"
	"codeberg.org/mutker/fogctl/internal/fan"
	"codeberg.org/mutker/fogctl/internal/mode"
	"codeberg.org/mutker/fogctl/internal/telemetry"
)

// Fan command sources beyond those of the mode arbiter.
const (
	SourceHold = "hold"
)

type GPUStatus struct {
	DeviceID     string               `json:"device_id"`
	GPUID        int                  `json:"gpu_id"`
	Temperature  float64              `json:"temperature"`
	Load         float64              `json:"load"`
	ThermalState control.ThermalState `json:"thermal_state"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// FanCommand is the PWM a device should apply to one fan.
type FanCommand struct {
	FanID  int    `json:"fan_id"`
	PWM    int    `json:"pwm_duty"`
	RPM    int    `json:"rpm"`
	Source string `json:"source"`
}

type CycleResult struct {
	DeviceID  string                     `json:"device_id"`
	Timestamp time.Time                  `json:"timestamp"`
	Mode      mode.Mode                  `json:"mode"`
	Commands  []FanCommand               `json:"commands"`
	Missing   []int                      `json:"missing_gpu_ids,omitempty"`
	Actuators *environment.ActuatorState `json:"actuators,omitempty"`
	Alerts    []alert.Alert              `json:"alerts"`
}

type CurrentState struct {
	Timestamp time.Time     `json:"timestamp"`
	Mode      mode.Mode     `json:"mode"`
	RoomTemp  *float64      `json:"room_temp"`
	GPUs      []GPUStatus   `json:"gpus"`
	Fans      []fan.State   `json:"fans"`
	Alerts    []alert.Alert `json:"alerts"`
}

type EnvironmentState struct {
	Timestamp time.Time                       `json:"timestamp"`
	Reading   *telemetry.EnvironmentalReading `json:"reading"`
	RoomTemp  *float64                        `json:"room_temp"`
	Actuators environment.ActuatorState       `json:"actuators"`
	Profile   environment.Profile             `json:"profile"`
	Alerts    []alert.Alert                   `json:"alerts"`
}

type ModeState struct {
	mode.SystemMode
	Policy   string         `json:"manual_fallback"`
	Commands []mode.Command `json:"manual_commands"`
}

// Action is one entry of the operator action log.
type Action struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
}

// History wraps a store query result. Stale is set when the store could not
// answer and Data holds the last in-memory values instead.
type History[T any] struct {
	Data  []T  `json:"data"`
	Stale bool `json:"stale"`
}

// Operator action names.
const (
	ActionSetMode        = "set_mode"
	ActionManualFans     = "manual_fan_control"
	ActionManualActuator = "manual_environmental_control"
	ActionSelectProfile  = "select_profile"
	ActionResetTrends    = "reset_trends"
)
