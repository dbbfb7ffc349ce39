package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Stream errors
	ErrShapeMismatch    ErrorCode = "shape_mismatch"
	ErrNumericFault     ErrorCode = "numeric_fault"
	ErrTransientSend    ErrorCode = "transient_send_failure"
	ErrOversizePayload  ErrorCode = "oversize_payload"
	ErrMalformedMessage ErrorCode = "malformed_message"
	ErrConnectionSetup  ErrorCode = "connection_setup_failed"
	ErrNotConnected     ErrorCode = "not_connected"

	// Application errors
	ErrInitApp  ErrorCode = "init_app_failed"
	ErrMainLoop ErrorCode = "main_loop_failed"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"

	// Metrics errors
	ErrInitMetrics    ErrorCode = "init_metrics_failed"
	ErrCollectMetrics ErrorCode = "collect_metrics_failed"
	ErrCloseMetrics   ErrorCode = "close_metrics_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrNotImplemented:   "Operation not implemented",
	ErrUnavailable:      "Service unavailable",
	ErrInvalidConfig:    "Invalid configuration",
	ErrMissingConfig:    "Missing configuration",
	ErrBindFlags:        "Failed to bind flags",
	ErrReadConfig:       "Failed to read config file",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrAlreadyRunning:   "Another instance is already running",
	ErrShapeMismatch:    "Sample shape does not match channel count",
	ErrNumericFault:     "Filter produced non-finite output",
	ErrTransientSend:    "Datagram not delivered",
	ErrOversizePayload:  "Payload exceeds maximum datagram size",
	ErrMalformedMessage: "Malformed message",
	ErrConnectionSetup:  "Failed to set up connection",
	ErrNotConnected:     "Not connected",
	ErrOperationFailed:  "Operation failed",
	ErrTimeout:          "Operation timed out",
	ErrInvalidOperation: "Invalid operation",
	ErrInvalidInterval:  "Invalid interval value",
	ErrInitMetrics:      "Failed to initialize metrics",
	ErrCollectMetrics:   "Failed to collect metrics data",
	ErrCloseMetrics:     "Failed to close metrics connection",
	ErrInitApp:          "Failed to initialize application",
	ErrMainLoop:         "Error in main loop",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
