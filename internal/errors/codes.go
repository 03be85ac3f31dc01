package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrNotFound        ErrorCode = "resource_not_found"
	ErrTimeout         ErrorCode = "operation_timeout"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Control errors
	ErrInvalidMode        ErrorCode = "invalid_mode"
	ErrOutOfRangeCommand  ErrorCode = "out_of_range_command"
	ErrMissingSensorData  ErrorCode = "missing_sensor_data"
	ErrStoreUnavailable   ErrorCode = "store_unavailable"
	ErrClockAnomaly       ErrorCode = "clock_anomaly"
	ErrConflictingCommand ErrorCode = "conflicting_command"
)

var errorMessages = map[ErrorCode]string{
	ErrInternal:           "Internal error occurred",
	ErrInvalidArgument:    "Invalid argument provided",
	ErrUnavailable:        "Service unavailable",
	ErrNotFound:           "Resource not found",
	ErrTimeout:            "Operation timed out",
	ErrAlreadyRunning:     "Another instance is already running",
	ErrInvalidConfig:      "Invalid configuration",
	ErrReadConfig:         "Failed to read config file",
	ErrBindFlags:          "Failed to bind flags",
	ErrInvalidLogLevel:    "Invalid log level",
	ErrInitFailed:         "Initialization failed",
	ErrShutdownFailed:     "Shutdown failed",
	ErrInvalidMode:        "Operation not allowed in the current system mode",
	ErrOutOfRangeCommand:  "Command value out of range",
	ErrMissingSensorData:  "Sensor data missing",
	ErrStoreUnavailable:   "Telemetry store unavailable",
	ErrClockAnomaly:       "Clock moved backwards or stood still",
	ErrConflictingCommand: "Conflicting actuator command",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
