package metrics

import (
	"net/http"
	"strconv"
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "fogctl_"

	resultAccepted = "accepted"
	resultRejected = "rejected"
)

// Recorder instruments the control loop. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	telemetry      *prometheus.CounterVec
	cycleLatency   prometheus.Histogram
	missingSensors *prometheus.CounterVec
	fanPWM         *prometheus.GaugeVec
	fanRPM         *prometheus.GaugeVec
	gpuTemp        *prometheus.GaugeVec
	alerts         *prometheus.CounterVec
	manualMode     prometheus.Gauge
	manualCommands prometheus.Counter
	corrosion      prometheus.Gauge
	fanWear        prometheus.Gauge
	efficiency     prometheus.Gauge
	clockAnomalies prometheus.Counter
}

// New creates a Recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		telemetry: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_requests_total",
				Help: "Telemetry payloads by result",
			},
			[]string{"result"},
		),
		cycleLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "control_cycle_seconds",
				Help:    "Control cycle latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
		missingSensors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "missing_sensor_readings_total",
				Help: "GPU readings missing from telemetry, fan held at its last PWM",
			},
			[]string{"device_id"},
		),
		fanPWM: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "fan_pwm_percent",
				Help: "Committed fan duty cycle",
			},
			[]string{"fan_id"},
		),
		fanRPM: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "fan_rpm",
				Help: "Fan speed derived from the committed duty cycle",
			},
			[]string{"fan_id"},
		),
		gpuTemp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "gpu_temperature_celsius",
				Help: "Latest reported GPU temperature",
			},
			[]string{"device_id", "gpu_id"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_total",
				Help: "Alerts raised by kind and severity",
			},
			[]string{"kind", "severity"},
		),
		manualMode: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "manual_mode",
				Help: "1 while the system is in manual mode",
			},
		),
		manualCommands: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "manual_commands_total",
				Help: "Accepted manual fan commands",
			},
		),
		corrosion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "corrosion_index",
				Help: "Accumulated corrosion index",
			},
		),
		fanWear: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "fan_wear_index",
				Help: "Accumulated fan wear index",
			},
		),
		efficiency: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "cooling_efficiency",
				Help: "Cooling efficiency modifier applied to fan targets",
			},
		),
		clockAnomalies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "clock_anomalies_total",
				Help: "Trend ticks skipped because time did not advance",
			},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.telemetry,
		r.cycleLatency,
		r.missingSensors,
		r.fanPWM,
		r.fanRPM,
		r.gpuTemp,
		r.alerts,
		r.manualMode,
		r.manualCommands,
		r.corrosion,
		r.fanWear,
		r.efficiency,
		r.clockAnomalies,
	)
	r.efficiency.Set(1)

	return r
}

// StoreStats is the subset of store statistics exported as metrics.
type StoreStats struct {
	Pending        int
	Dropped        uint64
	FlushFailures  uint64
	RecordsWritten uint64
}

// RegisterStore exports write-path statistics, read on every scrape.
func (r *Recorder) RegisterStore(stats func() StoreStats) error {
	if r == nil {
		return nil
	}

	cs := []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "store_pending_batches",
				Help: "Batches buffered for the next flush",
			},
			func() float64 { return float64(stats().Pending) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: metricPrefix + "store_dropped_batches_total",
				Help: "Batches dropped because the buffer was full or rejected",
			},
			func() float64 { return float64(stats().Dropped) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: metricPrefix + "store_flush_failures_total",
				Help: "Flushes that failed after all retries",
			},
			func() float64 { return float64(stats().FlushFailures) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: metricPrefix + "store_records_written_total",
				Help: "Records written to the store",
			},
			func() float64 { return float64(stats().RecordsWritten) },
		),
	}

	for _, c := range cs {
		if err := r.registry.Register(c); err != nil {
			return errors.New().Wrap(ErrRegister, err)
		}
	}

	return nil
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) TelemetryAccepted() {
	if r == nil {
		return
	}
	r.telemetry.WithLabelValues(resultAccepted).Inc()
}

func (r *Recorder) TelemetryRejected() {
	if r == nil {
		return
	}
	r.telemetry.WithLabelValues(resultRejected).Inc()
}

func (r *Recorder) ObserveCycle(d time.Duration) {
	if r == nil {
		return
	}
	r.cycleLatency.Observe(d.Seconds())
}

func (r *Recorder) MissingSensor(deviceID string) {
	if r == nil {
		return
	}
	r.missingSensors.WithLabelValues(deviceID).Inc()
}

func (r *Recorder) Fan(fanID, pwm, rpm int) {
	if r == nil {
		return
	}
	id := strconv.Itoa(fanID)
	r.fanPWM.WithLabelValues(id).Set(float64(pwm))
	r.fanRPM.WithLabelValues(id).Set(float64(rpm))
}

func (r *Recorder) GPUTemperature(deviceID string, gpuID int, temp float64) {
	if r == nil {
		return
	}
	r.gpuTemp.WithLabelValues(deviceID, strconv.Itoa(gpuID)).Set(temp)
}

func (r *Recorder) Alert(kind, severity string) {
	if r == nil {
		return
	}
	r.alerts.WithLabelValues(kind, severity).Inc()
}

func (r *Recorder) Mode(manual bool) {
	if r == nil {
		return
	}
	if manual {
		r.manualMode.Set(1)
		return
	}
	r.manualMode.Set(0)
}

func (r *Recorder) ManualCommands(n int) {
	if r == nil {
		return
	}
	r.manualCommands.Add(float64(n))
}

func (r *Recorder) Trend(ci, fwi, efficiency float64) {
	if r == nil {
		return
	}
	r.corrosion.Set(ci)
	r.fanWear.Set(fwi)
	r.efficiency.Set(efficiency)
}

func (r *Recorder) ClockAnomaly() {
	if r == nil {
		return
	}
	r.clockAnomalies.Inc()
}
