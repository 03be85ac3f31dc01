package api

import (
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
)

const (
	defaultListenAddr      = ":8000"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultAllowedOrigin   = "*"
	maxRequestBytes        = 64 << 10
)

type Config struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigin   string        `mapstructure:"allowed_origin"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:      defaultListenAddr,
		ReadTimeout:     defaultReadTimeout,
		WriteTimeout:    defaultWriteTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		AllowedOrigin:   defaultAllowedOrigin,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.ListenAddr == "" {
		return errFactory.WithData(ErrInvalidConfig, "listen address must not be empty")
	}

	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "timeouts must be positive")
	}

	return nil
}
