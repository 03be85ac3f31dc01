package store

import (
	"context"
	"time"
)

// Store is the durable time-series collaborator. Append never blocks on
// I/O; queries are bounded by the configured timeout and fail with
// ErrUnavailable.
type Store interface {
	Append(b Batch)
	Flush(ctx context.Context) error
	GPUHistory(ctx context.Context, since time.Time) ([]GPURecord, error)
	EnvironmentHistory(ctx context.Context, since time.Time) ([]EnvironmentRecord, error)
	FanHistory(ctx context.Context, since time.Time) ([]FanRecord, error)
	ActuatorHistory(ctx context.Context, since time.Time) ([]ActuatorRecord, error)
	TrendHistory(ctx context.Context, since time.Time) ([]TrendRecord, error)
	AlertHistory(ctx context.Context, since time.Time) ([]AlertRecord, error)
	LatestTrend(ctx context.Context) (TrendRecord, bool, error)
	Actions(ctx context.Context, limit int) ([]ActionRecord, error)
	Stats() Stats
	Close() error
}

// Batch groups the records produced by one control cycle or operator
// action. Empty slices are skipped.
type Batch struct {
	GPUs        []GPURecord
	Environment []EnvironmentRecord
	Fans        []FanRecord
	Actuators   []ActuatorRecord
	Trends      []TrendRecord
	Alerts      []AlertRecord
	Actions     []ActionRecord
}

func (b Batch) Len() int {
	return len(b.GPUs) + len(b.Environment) + len(b.Fans) + len(b.Actuators) +
		len(b.Trends) + len(b.Alerts) + len(b.Actions)
}

type GPURecord struct {
	Timestamp   time.Time `json:"timestamp"`
	DeviceID    string    `json:"device_id"`
	GPUID       int       `json:"gpu_id"`
	Temperature float64   `json:"temperature"`
	Load        float64   `json:"load"`
}

type EnvironmentRecord struct {
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Humidity  float64   `json:"humidity"`
	Dust      float64   `json:"dust"`
	RoomTemp  float64   `json:"room_temp"`
}

type FanRecord struct {
	Timestamp time.Time `json:"timestamp"`
	FanID     int       `json:"fan_id"`
	PWM       int       `json:"pwm_duty"`
	RPM       int       `json:"rpm"`
	Source    string    `json:"source"`
}

type ActuatorRecord struct {
	Timestamp          time.Time `json:"timestamp"`
	Source             string    `json:"source"`
	DehumidifierActive bool      `json:"dehumidifier_active"`
	DehumidifierPower  int       `json:"dehumidifier_power"`
	HumidifierActive   bool      `json:"humidifier_active"`
	HumidifierPower    int       `json:"humidifier_power"`
}

type TrendRecord struct {
	Timestamp         time.Time `json:"timestamp"`
	CorrosionIndex    float64   `json:"corrosion_index"`
	FanWearIndex      float64   `json:"fan_wear_index"`
	RiskLevel         string    `json:"risk_level"`
	WearLevel         string    `json:"wear_level"`
	CoolingEfficiency float64   `json:"cooling_efficiency"`
	FanPower          float64   `json:"fan_power"`
}

type AlertRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"alert_type"`
	Subsystem string    `json:"subsystem"`
	GPUID     int       `json:"gpu_id,omitempty"`
	Value     float64   `json:"current_value"`
	Threshold float64   `json:"threshold"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
}

type ActionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
}

// Stats describes the write path.
type Stats struct {
	Pending        int
	Dropped        uint64
	FlushFailures  uint64
	RecordsWritten uint64
}
