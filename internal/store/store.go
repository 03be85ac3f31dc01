package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/logger"
	"github.com/cenkalti/backoff/v5"
	"github.com/mattn/go-sqlite3"
	"k8s.io/utils/clock"
)

type Option func(*sqliteStore)

// WithClock replaces the clock driving the flush and prune tickers.
func WithClock(clk clock.WithTicker) Option {
	return func(s *sqliteStore) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithBackOff replaces the retry policy for failed flushes.
func WithBackOff(b func() backoff.BackOff) Option {
	return func(s *sqliteStore) {
		if b != nil {
			s.newBackOff = b
		}
	}
}

// New opens the configured store, or a no-op store when persistence is
// disabled.
func New(cfg Config, log logger.Logger, opts ...Option) (Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Store disabled, using no-op store")
		return NewNoop(), nil
	}

	return open(cfg, log, opts...)
}

type sqliteStore struct {
	db         *sql.DB
	log        logger.Logger
	cfg        Config
	clock      clock.WithTicker
	newBackOff func() backoff.BackOff

	mu     sync.Mutex
	buffer []Batch
	stats  Stats
	closed bool

	// flushMu serializes writers so the flusher and Flush never interleave.
	flushMu sync.Mutex

	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

func open(cfg Config, log logger.Logger, opts ...Option) (*sqliteStore, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := ValidateAndUpdateSchema(db, cfg.BackupDir, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	s := &sqliteStore{
		db:            db,
		log:           log,
		cfg:           cfg,
		clock:         clock.RealClock{},
		newBackOff:    defaultBackOff,
		buffer:        make([]Batch, 0, cfg.BufferSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Dur("flush_interval", cfg.FlushInterval).
		Dur("retention", cfg.Retention).
		Msg("Store initialized")

	go s.flusher()

	return s, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	return b
}

// Append buffers b for the next flush. When the buffer is full the oldest
// batch is dropped.
func (s *sqliteStore) Append(b Batch) {
	if b.Len() == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if len(s.buffer) >= s.cfg.BufferSize {
		dropped := len(s.buffer) - s.cfg.BufferSize + 1
		s.buffer = s.buffer[dropped:]
		s.stats.Dropped += uint64(dropped)
		s.log.Warn().Int("dropped", dropped).Msg("Store buffer full, dropping oldest batch")
	}

	s.buffer = append(s.buffer, b)
}

func (s *sqliteStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Pending = len(s.buffer)

	return st
}

// Flush writes all buffered batches, retrying with exponential backoff.
// Batches that still fail are put back at the front of the buffer.
func (s *sqliteStore) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	pending := s.buffer
	s.buffer = make([]Batch, 0, s.cfg.BufferSize)
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	written, err := backoff.Retry(ctx, func() (int, error) {
		return s.write(pending)
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.cfg.MaxRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Debug().Err(err).Dur("retry_in", next).Msg("Store flush failed, retrying")
		}),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.stats.FlushFailures++
		if isConstraintViolation(err) {
			// Retrying cannot fix rejected rows.
			s.stats.Dropped += uint64(len(pending))
			s.log.Error().Err(err).Int("batches", len(pending)).Msg("Database rejected records, dropping batches")
		} else {
			s.requeueLocked(pending)
		}

		return errors.New().Wrap(ErrUnavailable, err)
	}

	s.stats.RecordsWritten += uint64(written)
	s.log.Debug().Int("batches", len(pending)).Int("records", written).Msg("Flushed records to database")

	return nil
}

func (s *sqliteStore) requeueLocked(pending []Batch) {
	merged := append(pending, s.buffer...)
	if over := len(merged) - s.cfg.BufferSize; over > 0 {
		merged = merged[over:]
		s.stats.Dropped += uint64(over)
	}
	s.buffer = merged
}

func (s *sqliteStore) write(batches []Batch) (int, error) {
	errFactory := errors.New()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				s.log.Debug().Err(err).Msg("Failed to roll back transaction")
			}
		}
	}()

	written := 0
	for _, b := range batches {
		n, err := writeBatch(tx, b)
		if err != nil {
			if isConstraintViolation(err) {
				return 0, backoff.Permanent(errFactory.Wrap(ErrTransactionFailed, err))
			}
			return 0, errFactory.Wrap(ErrTransactionFailed, err)
		}
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	return written, nil
}

func writeBatch(tx *sql.Tx, b Batch) (int, error) {
	rows := make([]struct {
		sql  string
		args []any
	}, 0, b.Len())
	add := func(query string, args ...any) {
		rows = append(rows, struct {
			sql  string
			args []any
		}{query, args})
	}

	for _, r := range b.GPUs {
		add(insertGPUSQL, millis(r.Timestamp), r.DeviceID, r.GPUID, r.Temperature, r.Load)
	}
	for _, r := range b.Environment {
		add(insertEnvironmentSQL, millis(r.Timestamp), r.DeviceID, r.Humidity, r.Dust, r.RoomTemp)
	}
	for _, r := range b.Fans {
		add(insertFanSQL, millis(r.Timestamp), r.FanID, r.PWM, r.RPM, r.Source)
	}
	for _, r := range b.Actuators {
		add(insertActuatorSQL, millis(r.Timestamp), r.Source,
			boolToInt(r.DehumidifierActive), r.DehumidifierPower,
			boolToInt(r.HumidifierActive), r.HumidifierPower)
	}
	for _, r := range b.Trends {
		add(insertTrendSQL, millis(r.Timestamp), r.CorrosionIndex, r.FanWearIndex,
			r.RiskLevel, r.WearLevel, r.CoolingEfficiency, r.FanPower)
	}
	for _, r := range b.Alerts {
		add(insertAlertSQL, millis(r.Timestamp), r.Kind, r.Subsystem, r.GPUID,
			r.Value, r.Threshold, r.Severity, r.Message)
	}
	for _, r := range b.Actions {
		add(insertActionSQL, millis(r.Timestamp), r.Actor, r.Action, r.Detail)
	}

	for _, row := range rows {
		if _, err := tx.Exec(row.sql, row.args...); err != nil {
			return 0, err
		}
	}

	return len(rows), nil
}

// Prune deletes records older than the retention period.
func (s *sqliteStore) Prune(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	cutoff := millis(s.clock.Now().Add(-s.cfg.Retention))

	var total int64
	for _, table := range dataTables {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE timestamp < ?", cutoff)
		if err != nil {
			return total, errors.New().Wrap(ErrUnavailable, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}

	return total, nil
}

func (s *sqliteStore) flusher() {
	defer close(s.flushDoneChan)

	flushTicker := s.clock.NewTicker(s.cfg.FlushInterval)
	defer flushTicker.Stop()
	pruneTicker := s.clock.NewTicker(s.cfg.PruneInterval)
	defer pruneTicker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.shutdownChan
		cancel()
	}()

	for {
		select {
		case <-flushTicker.C():
			if err := s.Flush(ctx); err != nil {
				s.log.WarnWithCode(errors.New().Wrap(ErrUnavailable, err)).Msg("Store flush failed, keeping records buffered")
			}
		case <-pruneTicker.C():
			n, err := s.Prune(ctx)
			if err != nil {
				s.log.WarnWithCode(errors.New().Wrap(ErrUnavailable, err)).Msg("Retention pruning failed")
				continue
			}
			s.log.Debug().Int64("deleted", n).Msg("Pruned expired records")
		case <-s.shutdownChan:
			return
		}
	}
}

func (s *sqliteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.shutdownChan)
		<-s.flushDoneChan

		// Final flush gets a fresh context; the flusher's is cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.QueryTimeout*time.Duration(s.cfg.MaxRetries))
		defer cancel()
		if err := s.Flush(ctx); err != nil {
			s.log.WarnWithCode(errors.New().Wrap(ErrUnavailable, err)).
				Int("pending", s.Stats().Pending).
				Msg("Final flush failed, buffered records lost")
		}

		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "checkpoint_wal",
				Error: err.Error(),
			})
			s.db.Close()
			return
		}

		if err := s.db.Close(); err != nil {
			closeErr = errors.New().WithData(ErrStorageClose, struct {
				Phase string
				Error string
			}{
				Phase: "close_database",
				Error: err.Error(),
			})
			return
		}

		s.log.Info().Msg("Store closed gracefully")
	})

	return closeErr
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}

	return false
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
