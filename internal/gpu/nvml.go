package gpu

import (
	"sync"

	"codeberg.org/mutker/fogctl/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// Sensor reads the local GPUs. Indexes are zero-based as in NVML.
type Sensor interface {
	Initialize() error
	Shutdown() error
	Count() (int, error)
	Name(index int) string
	Temperature(index int) (float64, error)
	Utilization(index int) (float64, error)
	FanSpeeds(index int) ([]int, error)
}

// NewNVMLSensor returns a Sensor backed by the NVIDIA management library.
func NewNVMLSensor() Sensor {
	return &nvmlSensor{}
}

type nvmlSensor struct {
	mu          sync.Mutex
	initialized bool
}

func (s *nvmlSensor) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	ret := nvml.Init()
	if !IsNVMLSuccess(ret) {
		return errors.New().Wrap(ErrInitFailed, newNVMLError(ret))
	}

	s.initialized = true

	return nil
}

func (s *nvmlSensor) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}

	ret := nvml.Shutdown()
	if !IsNVMLSuccess(ret) {
		return errors.New().Wrap(ErrShutdownFailed, newNVMLError(ret))
	}

	s.initialized = false

	return nil
}

func (s *nvmlSensor) Count() (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	count, ret := nvml.DeviceGetCount()
	if !IsNVMLSuccess(ret) {
		return 0, errors.New().Wrap(ErrDeviceCountFailed, newNVMLError(ret))
	}

	return count, nil
}

func (s *nvmlSensor) Name(index int) string {
	device, err := s.device(index)
	if err != nil {
		return ""
	}

	name, ret := device.GetName()
	if !IsNVMLSuccess(ret) {
		return ""
	}

	return name
}

func (s *nvmlSensor) Temperature(index int) (float64, error) {
	device, err := s.device(index)
	if err != nil {
		return 0, err
	}

	temp, ret := device.GetTemperature(nvml.TEMPERATURE_GPU)
	if !IsNVMLSuccess(ret) {
		return 0, errors.New().Wrap(ErrTemperatureReadFailed, newNVMLError(ret))
	}

	return float64(temp), nil
}

func (s *nvmlSensor) Utilization(index int) (float64, error) {
	device, err := s.device(index)
	if err != nil {
		return 0, err
	}

	util, ret := device.GetUtilizationRates()
	if !IsNVMLSuccess(ret) {
		return 0, errors.New().Wrap(ErrUtilizationReadFailed, newNVMLError(ret))
	}

	return float64(util.Gpu), nil
}

// FanSpeeds returns the duty of every fan on the board in percent.
func (s *nvmlSensor) FanSpeeds(index int) ([]int, error) {
	errFactory := errors.New()

	device, err := s.device(index)
	if err != nil {
		return nil, err
	}

	count, ret := device.GetNumFans()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrFanSpeedReadFailed, newNVMLError(ret))
	}

	speeds := make([]int, 0, count)
	for i := 0; i < count; i++ {
		speed, ret := device.GetFanSpeed_v2(i)
		if !IsNVMLSuccess(ret) {
			return nil, errFactory.Wrap(ErrFanSpeedReadFailed, newNVMLError(ret))
		}
		speeds = append(speeds, int(speed))
	}

	return speeds, nil
}

func (s *nvmlSensor) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New().New(ErrNotInitialized)
	}

	return nil
}

func (s *nvmlSensor) device(index int) (nvml.Device, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	device, ret := nvml.DeviceGetHandleByIndex(index)
	if !IsNVMLSuccess(ret) {
		return nil, errors.New().Wrap(ErrDeviceNotFound, newNVMLError(ret))
	}

	return device, nil
}
