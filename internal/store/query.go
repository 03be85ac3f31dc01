package store

import (
	"context"
	"database/sql"
	"time"

	"codeberg.org/mutker/fogctl/internal/errors"
)

// query runs q under the configured timeout and hands each row to scan.
// Any failure is reported as ErrUnavailable.
func (s *sqliteStore) query(ctx context.Context, q string, scan func(*sql.Rows) error, args ...any) error {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return errFactory.Wrap(ErrUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return errFactory.Wrap(ErrUnavailable, err)
		}
	}

	if err := rows.Err(); err != nil {
		return errFactory.Wrap(ErrUnavailable, err)
	}

	return nil
}

func (s *sqliteStore) GPUHistory(ctx context.Context, since time.Time) ([]GPURecord, error) {
	out := []GPURecord{}
	err := s.query(ctx, `
        SELECT timestamp, device_id, gpu_id, temperature, load
        FROM gpu_readings
        WHERE timestamp >= ?
        ORDER BY timestamp, gpu_id`,
		func(rows *sql.Rows) error {
			var r GPURecord
			var ts int64
			if err := rows.Scan(&ts, &r.DeviceID, &r.GPUID, &r.Temperature, &r.Load); err != nil {
				return err
			}
			r.Timestamp = fromMillis(ts)
			out = append(out, r)
			return nil
		}, millis(since))

	return out, err
}

func (s *sqliteStore) EnvironmentHistory(ctx context.Context, since time.Time) ([]EnvironmentRecord, error) {
	out := []EnvironmentRecord{}
	err := s.query(ctx, `
        SELECT timestamp, device_id, humidity, dust, room_temp
        FROM environmental_readings
        WHERE timestamp >= ?
        ORDER BY timestamp`,
		func(rows *sql.Rows) error {
			var r EnvironmentRecord
			var ts int64
			if err := rows.Scan(&ts, &r.DeviceID, &r.Humidity, &r.Dust, &r.RoomTemp); err != nil {
				return err
			}
			r.Timestamp = fromMillis(ts)
			out = append(out, r)
			return nil
		}, millis(since))

	return out, err
}

func (s *sqliteStore) FanHistory(ctx context.Context, since time.Time) ([]FanRecord, error) {
	out := []FanRecord{}
	err := s.query(ctx, `
        SELECT timestamp, fan_id, pwm, rpm, source
        FROM fan_states
        WHERE timestamp >= ?
        ORDER BY timestamp, fan_id`,
		func(rows *sql.Rows) error {
			var r FanRecord
			var ts int64
			if err := rows.Scan(&ts, &r.FanID, &r.PWM, &r.RPM, &r.Source); err != nil {
				return err
			}
			r.Timestamp = fromMillis(ts)
			out = append(out, r)
			return nil
		}, millis(since))

	return out, err
}

func (s *sqliteStore) ActuatorHistory(ctx context.Context, since time.Time) ([]ActuatorRecord, error) {
	out := []ActuatorRecord{}
	err := s.query(ctx, `
        SELECT timestamp, source, dehumidifier_active, dehumidifier_power,
               humidifier_active, humidifier_power
        FROM actuator_states
        WHERE timestamp >= ?
        ORDER BY timestamp`,
		func(rows *sql.Rows) error {
			var r ActuatorRecord
			var ts int64
			if err := rows.Scan(&ts, &r.Source, &r.DehumidifierActive, &r.DehumidifierPower,
				&r.HumidifierActive, &r.HumidifierPower); err != nil {
				return err
			}
			r.Timestamp = fromMillis(ts)
			out = append(out, r)
			return nil
		}, millis(since))

	return out, err
}

func scanTrend(rows *sql.Rows) (TrendRecord, error) {
	var r TrendRecord
	var ts int64
	if err := rows.Scan(&ts, &r.CorrosionIndex, &r.FanWearIndex, &r.RiskLevel,
		&r.WearLevel, &r.CoolingEfficiency, &r.FanPower); err != nil {
		return TrendRecord{}, err
	}
	r.Timestamp = fromMillis(ts)

	return r, nil
}

func (s *sqliteStore) TrendHistory(ctx context.Context, since time.Time) ([]TrendRecord, error) {
	out := []TrendRecord{}
	err := s.query(ctx, `
        SELECT timestamp, corrosion_index, fan_wear_index, risk_level,
               wear_level, cooling_efficiency, fan_power
        FROM trend_snapshots
        WHERE timestamp >= ?
        ORDER BY timestamp`,
		func(rows *sql.Rows) error {
			r, err := scanTrend(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
			return nil
		}, millis(since))

	return out, err
}

func (s *sqliteStore) LatestTrend(ctx context.Context) (TrendRecord, bool, error) {
	var latest TrendRecord
	found := false
	err := s.query(ctx, `
        SELECT timestamp, corrosion_index, fan_wear_index, risk_level,
               wear_level, cooling_efficiency, fan_power
        FROM trend_snapshots
        ORDER BY timestamp DESC, rowid DESC
        LIMIT 1`,
		func(rows *sql.Rows) error {
			r, err := scanTrend(rows)
			if err != nil {
				return err
			}
			latest, found = r, true
			return nil
		})

	return latest, found, err
}

func (s *sqliteStore) AlertHistory(ctx context.Context, since time.Time) ([]AlertRecord, error) {
	out := []AlertRecord{}
	err := s.query(ctx, `
        SELECT timestamp, alert_type, subsystem, gpu_id, value, threshold, severity, message
        FROM alerts
        WHERE timestamp >= ?
        ORDER BY timestamp`,
		func(rows *sql.Rows) error {
			var r AlertRecord
			var ts int64
			if err := rows.Scan(&ts, &r.Kind, &r.Subsystem, &r.GPUID, &r.Value,
				&r.Threshold, &r.Severity, &r.Message); err != nil {
				return err
			}
			r.Timestamp = fromMillis(ts)
			out = append(out, r)
			return nil
		}, millis(since))

	return out, err
}

// Actions returns the most recent operator actions, newest first.
func (s *sqliteStore) Actions(ctx context.Context, limit int) ([]ActionRecord, error) {
	out := []ActionRecord{}
	err := s.query(ctx, `
        SELECT timestamp, actor, action, detail
        FROM operator_actions
        ORDER BY timestamp DESC, rowid DESC
        LIMIT ?`,
		func(rows *sql.Rows) error {
			var r ActionRecord
			var ts int64
			if err := rows.Scan(&ts, &r.Actor, &r.Action, &r.Detail); err != nil {
				return err
			}
			r.Timestamp = fromMillis(ts)
			out = append(out, r)
			return nil
		}, limit)

	return out, err
}
