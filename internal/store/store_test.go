package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/logger"
	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) Config {
	t.Helper()

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(dir, "telemetry.db")
	cfg.BackupDir = filepath.Join(dir, "backups")
	cfg.FlushInterval = time.Hour
	cfg.MaxRetries = 2

	return cfg
}

func openTestStore(t *testing.T, cfg Config) (*sqliteStore, *testingclock.FakeClock) {
	t.Helper()

	clk := testingclock.NewFakeClock(t0)
	s, err := open(cfg, logger.Nop(), WithClock(clk), WithBackOff(func() backoff.BackOff {
		return &backoff.ZeroBackOff{}
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, clk
}

func TestAppendFlushAndQuery(t *testing.T) {
	s, _ := openTestStore(t, testConfig(t))
	ctx := context.Background()

	s.Append(Batch{
		GPUs: []GPURecord{
			{Timestamp: t0, DeviceID: "rack-a", GPUID: 1, Temperature: 65.5, Load: 90},
			{Timestamp: t0, DeviceID: "rack-a", GPUID: 2, Temperature: 70, Load: 40},
		},
		Environment: []EnvironmentRecord{{Timestamp: t0, DeviceID: "rack-a", Humidity: 55, Dust: 21, RoomTemp: 26}},
		Fans:        []FanRecord{{Timestamp: t0, FanID: 1, PWM: 60, RPM: 3320, Source: "auto"}},
		Actuators:   []ActuatorRecord{{Timestamp: t0, Source: "auto", DehumidifierActive: true, DehumidifierPower: 45}},
		Alerts:      []AlertRecord{{Timestamp: t0, Kind: "dust_high", Subsystem: "environment", Value: 60, Threshold: 50, Severity: "critical", Message: "dust"}},
	})
	assert.Equal(t, 1, s.Stats().Pending)

	gpus, err := s.GPUHistory(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, gpus, "nothing is visible before a flush")

	require.NoError(t, s.Flush(ctx))
	stats := s.Stats()
	assert.Zero(t, stats.Pending)
	assert.Equal(t, uint64(6), stats.RecordsWritten)

	gpus, err = s.GPUHistory(ctx, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, gpus, 2)
	assert.Equal(t, GPURecord{Timestamp: t0, DeviceID: "rack-a", GPUID: 1, Temperature: 65.5, Load: 90}, gpus[0])

	env, err := s.EnvironmentHistory(ctx, t0)
	require.NoError(t, err)
	require.Len(t, env, 1)
	assert.Equal(t, 21.0, env[0].Dust)

	fans, err := s.FanHistory(ctx, t0)
	require.NoError(t, err)
	require.Len(t, fans, 1)
	assert.Equal(t, "auto", fans[0].Source)

	actuators, err := s.ActuatorHistory(ctx, t0)
	require.NoError(t, err)
	require.Len(t, actuators, 1)
	assert.True(t, actuators[0].DehumidifierActive)
	assert.False(t, actuators[0].HumidifierActive)

	alerts, err := s.AlertHistory(ctx, t0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "critical", alerts[0].Severity)

	later, err := s.GPUHistory(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestLatestTrendAndActions(t *testing.T) {
	s, _ := openTestStore(t, testConfig(t))
	ctx := context.Background()

	_, found, err := s.LatestTrend(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	s.Append(Batch{Trends: []TrendRecord{{Timestamp: t0, CorrosionIndex: 0.5, RiskLevel: "low", WearLevel: "normal", CoolingEfficiency: 1, FanPower: 1}}})
	s.Append(Batch{Trends: []TrendRecord{{Timestamp: t0.Add(time.Minute), CorrosionIndex: 1.2, FanWearIndex: 3, RiskLevel: "medium", WearLevel: "normal", CoolingEfficiency: 1, FanPower: 1}}})
	for i, action := range []string{"set_mode", "manual_fans", "select_profile"} {
		s.Append(Batch{Actions: []ActionRecord{{Timestamp: t0.Add(time.Duration(i) * time.Second), Actor: "operator", Action: action, Detail: "{}"}}})
	}
	require.NoError(t, s.Flush(ctx))

	latest, found, err := s.LatestTrend(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1.2, latest.CorrosionIndex)
	assert.Equal(t, "medium", latest.RiskLevel)

	trends, err := s.TrendHistory(ctx, t0)
	require.NoError(t, err)
	assert.Len(t, trends, 2)

	actions, err := s.Actions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "select_profile", actions[0].Action)
	assert.Equal(t, "manual_fans", actions[1].Action)
}

func TestAppendDropsOldestWhenFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.BufferSize = 2
	s, _ := openTestStore(t, cfg)

	for i := 1; i <= 3; i++ {
		s.Append(Batch{Fans: []FanRecord{{Timestamp: t0, FanID: i, PWM: 50, RPM: 2900, Source: "auto"}}})
	}
	s.Append(Batch{})

	stats := s.Stats()
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, uint64(1), stats.Dropped)

	require.NoError(t, s.Flush(context.Background()))
	fans, err := s.FanHistory(context.Background(), t0)
	require.NoError(t, err)
	require.Len(t, fans, 2)
	assert.Equal(t, 2, fans[0].FanID)
	assert.Equal(t, 3, fans[1].FanID)
}

func TestPruneRemovesExpiredRecords(t *testing.T) {
	s, clk := openTestStore(t, testConfig(t))
	ctx := context.Background()

	old := t0.Add(-8 * 24 * time.Hour)
	s.Append(Batch{
		GPUs:    []GPURecord{{Timestamp: old, DeviceID: "d", GPUID: 1, Temperature: 50, Load: 1}, {Timestamp: t0, DeviceID: "d", GPUID: 1, Temperature: 51, Load: 1}},
		Actions: []ActionRecord{{Timestamp: old, Actor: "operator", Action: "reset_trends", Detail: ""}},
	})
	require.NoError(t, s.Flush(ctx))

	deleted, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	gpus, err := s.GPUHistory(ctx, old.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, gpus, 1)
	assert.Equal(t, 51.0, gpus[0].Temperature)

	clk.Step(8 * 24 * time.Hour)
	deleted, err = s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestFailedFlushRequeues(t *testing.T) {
	s, _ := openTestStore(t, testConfig(t))

	s.Append(Batch{Fans: []FanRecord{{Timestamp: t0, FanID: 1, PWM: 50, RPM: 2900, Source: "auto"}}})
	require.NoError(t, s.db.Close())

	err := s.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrStoreUnavailable, errors.CodeOf(err))

	stats := s.Stats()
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, uint64(1), stats.FlushFailures)

	_, err = s.GPUHistory(context.Background(), t0)
	assert.Equal(t, errors.ErrStoreUnavailable, errors.CodeOf(err))
}

func TestSchemaMismatchBacksUpAndRecreates(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	s, _ := openTestStore(t, cfg)
	s.Append(Batch{Fans: []FanRecord{{Timestamp: t0, FanID: 1, PWM: 50, RPM: 2900, Source: "auto"}}})
	require.NoError(t, s.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO schema_versions (version, applied_at) VALUES (99, datetime('now'))`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, _ := openTestStore(t, cfg)
	fans, err := reopened.FanHistory(ctx, t0)
	require.NoError(t, err)
	assert.Empty(t, fans)

	version, err := GetSchemaVersion(reopened.db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	backups, err := os.ReadDir(cfg.BackupDir)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestNewDisabledReturnsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.DBPath = ""

	s, err := New(cfg, logger.Nop())
	require.NoError(t, err)

	s.Append(Batch{Fans: []FanRecord{{FanID: 1}}})
	require.NoError(t, s.Flush(context.Background()))
	fans, err := s.FanHistory(context.Background(), t0)
	require.NoError(t, err)
	assert.Empty(t, fans)
	assert.NoError(t, s.Close())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.DBPath = ""
	assert.Equal(t, ErrInvalidDBPath, errors.CodeOf(cfg.Validate()))

	cfg = DefaultConfig()
	cfg.MaxRetries = 0
	assert.Error(t, cfg.Validate())
}
