package metrics

import (
	"strings"

	"codeberg.org/mutker/fogctl/internal/errors"
)

const defaultPath = "/metrics"

type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Path:    defaultPath,
	}
}

func (c Config) Validate() error {
	if c.Enabled && !strings.HasPrefix(c.Path, "/") {
		return errors.New().WithData(ErrInvalidConfig, "path must start with /")
	}

	return nil
}
