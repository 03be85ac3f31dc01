package store

import (
	"database/sql"

	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/logger"
)

const (
	SchemaVersion = 1

	// Timestamps are unix milliseconds.
	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS gpu_readings (
	       timestamp   INTEGER NOT NULL,
	       device_id   TEXT NOT NULL,
	       gpu_id      INTEGER NOT NULL CHECK (gpu_id >= 1),
	       temperature REAL NOT NULL,
	       load        REAL NOT NULL CHECK (load BETWEEN 0 AND 100)
	   );
	   CREATE INDEX IF NOT EXISTS idx_gpu_readings_ts ON gpu_readings (timestamp);
	   CREATE TABLE IF NOT EXISTS environmental_readings (
	       timestamp   INTEGER NOT NULL,
	       device_id   TEXT NOT NULL,
	       humidity    REAL NOT NULL,
	       dust        REAL NOT NULL CHECK (dust >= 0),
	       room_temp   REAL NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_environmental_readings_ts ON environmental_readings (timestamp);
	   CREATE TABLE IF NOT EXISTS fan_states (
	       timestamp   INTEGER NOT NULL,
	       fan_id      INTEGER NOT NULL,
	       pwm         INTEGER NOT NULL CHECK (pwm BETWEEN 0 AND 100),
	       rpm         INTEGER NOT NULL,
	       source      TEXT NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_fan_states_ts ON fan_states (timestamp);
	   CREATE TABLE IF NOT EXISTS actuator_states (
	       timestamp           INTEGER NOT NULL,
	       source              TEXT NOT NULL,
	       dehumidifier_active INTEGER NOT NULL CHECK (dehumidifier_active IN (0, 1)),
	       dehumidifier_power  INTEGER NOT NULL CHECK (dehumidifier_power BETWEEN 0 AND 100),
	       humidifier_active   INTEGER NOT NULL CHECK (humidifier_active IN (0, 1)),
	       humidifier_power    INTEGER NOT NULL CHECK (humidifier_power BETWEEN 0 AND 100)
	   );
	   CREATE INDEX IF NOT EXISTS idx_actuator_states_ts ON actuator_states (timestamp);
	   CREATE TABLE IF NOT EXISTS trend_snapshots (
	       timestamp          INTEGER NOT NULL,
	       corrosion_index    REAL NOT NULL CHECK (corrosion_index >= 0),
	       fan_wear_index     REAL NOT NULL CHECK (fan_wear_index >= 0),
	       risk_level         TEXT NOT NULL,
	       wear_level         TEXT NOT NULL,
	       cooling_efficiency REAL NOT NULL,
	       fan_power          REAL NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_trend_snapshots_ts ON trend_snapshots (timestamp);
	   CREATE TABLE IF NOT EXISTS alerts (
	       timestamp   INTEGER NOT NULL,
	       alert_type  TEXT NOT NULL,
	       subsystem   TEXT NOT NULL,
	       gpu_id      INTEGER NOT NULL,
	       value       REAL NOT NULL,
	       threshold   REAL NOT NULL,
	       severity    TEXT NOT NULL CHECK (severity IN ('warning', 'critical')),
	       message     TEXT NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts (timestamp);
	   CREATE TABLE IF NOT EXISTS operator_actions (
	       timestamp   INTEGER NOT NULL,
	       actor       TEXT NOT NULL,
	       action      TEXT NOT NULL,
	       detail      TEXT NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_operator_actions_ts ON operator_actions (timestamp);`

	insertGPUSQL = `
    INSERT INTO gpu_readings (timestamp, device_id, gpu_id, temperature, load)
    VALUES (?, ?, ?, ?, ?)`

	insertEnvironmentSQL = `
    INSERT INTO environmental_readings (timestamp, device_id, humidity, dust, room_temp)
    VALUES (?, ?, ?, ?, ?)`

	insertFanSQL = `
    INSERT INTO fan_states (timestamp, fan_id, pwm, rpm, source)
    VALUES (?, ?, ?, ?, ?)`

	insertActuatorSQL = `
    INSERT INTO actuator_states (
        timestamp, source,
        dehumidifier_active, dehumidifier_power,
        humidifier_active, humidifier_power
    ) VALUES (?, ?, ?, ?, ?, ?)`

	insertTrendSQL = `
    INSERT INTO trend_snapshots (
        timestamp, corrosion_index, fan_wear_index,
        risk_level, wear_level, cooling_efficiency, fan_power
    ) VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertAlertSQL = `
    INSERT INTO alerts (
        timestamp, alert_type, subsystem, gpu_id,
        value, threshold, severity, message
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	insertActionSQL = `
    INSERT INTO operator_actions (timestamp, actor, action, detail)
    VALUES (?, ?, ?, ?)`
)

// dataTables lists every time-series table, oldest schema first.
var dataTables = []string{
	"gpu_readings",
	"environmental_readings",
	"fan_states",
	"actuator_states",
	"trend_snapshots",
	"alerts",
	"operator_actions",
}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for a new database
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
