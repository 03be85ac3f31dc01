package store

import (
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
)

const (
	defaultDirPerm       = 0o755
	defaultDBPath        = "/var/lib/fogctl/telemetry.db"
	defaultBackupDir     = "/var/lib/fogctl/backups"
	defaultFlushInterval = 5 * time.Second
	defaultBufferSize    = 1024
	defaultMaxRetries    = 5
	defaultQueryTimeout  = 2 * time.Second
	defaultRetention     = 7 * 24 * time.Hour
	defaultPruneInterval = time.Hour
)

type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	DBPath        string        `mapstructure:"db_path"`
	BackupDir     string        `mapstructure:"backup_dir"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	BufferSize    int           `mapstructure:"buffer_size"`
	MaxRetries    int           `mapstructure:"max_retries"`
	QueryTimeout  time.Duration `mapstructure:"query_timeout"`
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		DBPath:        defaultDBPath,
		BackupDir:     defaultBackupDir,
		FlushInterval: defaultFlushInterval,
		BufferSize:    defaultBufferSize,
		MaxRetries:    defaultMaxRetries,
		QueryTimeout:  defaultQueryTimeout,
		Retention:     defaultRetention,
		PruneInterval: defaultPruneInterval,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Nothing else matters for the no-op store
	if !c.Enabled {
		return nil
	}

	switch {
	case c.DBPath == "":
		return errFactory.New(ErrInvalidDBPath)
	case c.FlushInterval <= 0:
		return errFactory.WithData(ErrInvalidConfig, "flush_interval must be positive")
	case c.BufferSize < 1:
		return errFactory.WithData(ErrInvalidConfig, "buffer_size must be at least 1")
	case c.MaxRetries < 1:
		return errFactory.WithData(ErrInvalidConfig, "max_retries must be at least 1")
	case c.QueryTimeout <= 0:
		return errFactory.WithData(ErrInvalidConfig, "query_timeout must be positive")
	case c.Retention < time.Hour:
		return errFactory.WithData(ErrInvalidConfig, "retention must be at least 1h")
	case c.PruneInterval <= 0:
		return errFactory.WithData(ErrInvalidConfig, "prune_interval must be positive")
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
