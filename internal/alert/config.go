package alert

import (
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
)

const (
	defaultGPUWarning             = 90.0
	defaultGPUCritical            = 120.0
	defaultHumidityCriticalMargin = 20.0
	defaultCooldown               = 5 * time.Minute
	defaultTimeout                = 10 * time.Second
	defaultQueueSize              = 64
)

type Config struct {
	GPUWarning             float64 `mapstructure:"gpu_warning"`
	GPUCritical            float64 `mapstructure:"gpu_critical"`
	HumidityCriticalMargin float64 `mapstructure:"humidity_critical_margin"`
}

func DefaultConfig() Config {
	return Config{
		GPUWarning:             defaultGPUWarning,
		GPUCritical:            defaultGPUCritical,
		HumidityCriticalMargin: defaultHumidityCriticalMargin,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.GPUCritical <= c.GPUWarning {
		return errFactory.WithData(ErrInvalidConfig, "gpu_critical must be greater than gpu_warning")
	}

	if c.HumidityCriticalMargin <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "humidity_critical_margin must be positive")
	}

	return nil
}

// NotifyConfig configures the webhook notifier. An empty WebhookURL
// disables notifications.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Cooldown   time.Duration `mapstructure:"cooldown"`
	Timeout    time.Duration `mapstructure:"timeout"`
	QueueSize  int           `mapstructure:"queue_size"`
}

func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{
		Cooldown:  defaultCooldown,
		Timeout:   defaultTimeout,
		QueueSize: defaultQueueSize,
	}
}

func (c NotifyConfig) Enabled() bool {
	return c.WebhookURL != ""
}

func (c NotifyConfig) Validate() error {
	errFactory := errors.New()

	switch {
	case c.Cooldown < 0:
		return errFactory.WithData(ErrInvalidConfig, "cooldown must not be negative")
	case c.Timeout <= 0:
		return errFactory.WithData(ErrInvalidConfig, "timeout must be positive")
	case c.QueueSize < 1:
		return errFactory.WithData(ErrInvalidConfig, "queue_size must be at least 1")
	}

	return nil
}
