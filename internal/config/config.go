package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"codeberg.org/mutker/fogctl/internal/alert"
	"codeberg.org/mutker/fogctl/internal/api"
	"codeberg.org/mutker/fogctl/internal/control"
	"codeberg.org/mutker/fogctl/internal/engine"
	"codeberg.org/mutker/fogctl/internal/environment"
	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/fan"
	"codeberg.org/mutker/fogctl/internal/gpu"
	"codeberg.org/mutker/fogctl/internal/metrics"
	"codeberg.org/mutker/fogctl/internal/pid"
	"codeberg.org/mutker/fogctl/internal/store"
	"codeberg.org/mutker/fogctl/internal/telemetry"
	"codeberg.org/mutker/fogctl/internal/trend"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel  = string(LogLevelInfo)
	defaultEnvPrefix = "FOGCTL"
	configName       = "fogctl"
	configType       = "toml"

	defaultActionLogSize = 100
)

// Config composes the settings of every subsystem.
type Config struct {
	LogLevel      string             `mapstructure:"log_level"`
	PIDFile       string             `mapstructure:"pid_file"`
	ActionLogSize int                `mapstructure:"action_log_size"`
	Server        api.Config         `mapstructure:"server"`
	Telemetry     telemetry.Config   `mapstructure:"telemetry"`
	Fan           fan.Config         `mapstructure:"fan"`
	Control       control.Config     `mapstructure:"control"`
	Trend         trend.Config       `mapstructure:"trend"`
	Alerts        alert.Config       `mapstructure:"alerts"`
	Notify        alert.NotifyConfig `mapstructure:"notify"`
	Environment   environment.Config `mapstructure:"environment"`
	Store         store.Config       `mapstructure:"store"`
	Metrics       metrics.Config     `mapstructure:"metrics"`
	Probe         gpu.Config         `mapstructure:"probe"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:      DefaultLogLevel,
		PIDFile:       pid.DefaultPath(),
		ActionLogSize: defaultActionLogSize,
		Server:        api.DefaultConfig(),
		Telemetry:     telemetry.DefaultConfig(),
		Fan:           fan.DefaultConfig(),
		Control:       control.DefaultConfig(),
		Trend:         trend.DefaultConfig(),
		Alerts:        alert.DefaultConfig(),
		Notify:        alert.DefaultNotifyConfig(),
		Environment:   environment.DefaultConfig(),
		Store:         store.DefaultConfig(),
		Metrics:       metrics.DefaultConfig(),
		Probe:         gpu.DefaultConfig(),
	}
}

// Engine returns the part of the configuration owned by the control engine.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		ActionLogSize: c.ActionLogSize,
		Telemetry:     c.Telemetry,
		Fan:           c.Fan,
		Control:       c.Control,
		Trend:         c.Trend,
		Alert:         c.Alerts,
		Environment:   c.Environment,
	}
}

// Load reads configuration from defaults, the config file, environment
// variables and command line flags, in increasing order of precedence.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{
		envPrefix: defaultEnvPrefix,
		args:      os.Args[1:],
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v, "", reflect.ValueOf(DefaultConfig()))

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	flags := newFlagSet()
	if err := flags.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}
	if err := bindFlags(v, flags); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	path := o.configPath
	if path == "" {
		path, _ = flags.GetString("config")
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}
	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	flags.String("config", "", "Path to the configuration file")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.String("listen", api.DefaultConfig().ListenAddr, "HTTP listen address")
	flags.String("db-path", store.DefaultConfig().DBPath, "Path to the telemetry database")
	flags.String("pid-file", pid.DefaultPath(), "Path to the PID file")
	flags.Bool("probe", false, "Report the GPUs of this host through NVML")

	return flags
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"log_level":          "log-level",
		"server.listen_addr": "listen",
		"store.db_path":      "db-path",
		"pid_file":           "pid-file",
		"probe.enabled":      "probe",
	}

	for key, name := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return err
		}
	}

	return nil
}

func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()

	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	v.AddConfigPath("/etc/fogctl")
	v.AddConfigPath("$HOME/.config/fogctl")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// setDefaults registers every leaf of the default configuration under its
// mapstructure key, so environment variables can override any of them.
func setDefaults(v *viper.Viper, prefix string, value reflect.Value) {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		fv := value.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Time{}) {
			setDefaults(v, key, fv)
			continue
		}

		v.SetDefault(key, fv.Interface())
	}
}

// Validate checks the global settings and every subsystem section.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.Wrap(errors.ErrInvalidLogLevel, &ValidationError{
			Field:  "log_level",
			Value:  c.LogLevel,
			Reason: "must be one of debug, info, warning, error",
		})
	}

	if strings.TrimSpace(c.PIDFile) == "" {
		return errFactory.Wrap(errors.ErrInvalidConfig, &ValidationError{
			Field:  "pid_file",
			Value:  c.PIDFile,
			Reason: "must not be empty",
		})
	}

	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"server", c.Server},
		{"store", c.Store},
		{"metrics", c.Metrics},
		{"notify", c.Notify},
		{"probe", c.Probe},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return errFactory.Wrap(errors.ErrInvalidConfig, &ValidationError{Field: s.name, Reason: err.Error()})
		}
	}

	if err := c.Engine().Validate(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, &ValidationError{Field: "engine", Reason: err.Error()})
	}

	return nil
}
