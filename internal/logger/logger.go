package logger

import (
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"github.com/rs/zerolog"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Logger()

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the logger with a console writer and the given level.
func Init(level string, isService bool) error {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	lvl, err := ParseLevel(level)
	if err != nil {
		SetLogLevel(InfoLevel)
		return err
	}
	SetLogLevel(lvl)

	return nil
}

// SetOutput redirects log output, used by tests to capture log lines.
func SetOutput(w io.Writer) {
	log = zerolog.New(w).With().Timestamp().Logger()
}

// ParseLevel maps a configured level name to a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, errors.New().WithData(errors.ErrInvalidLogLevel, level)
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with its error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Error().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

// WarnWithCode logs a recoverable fault with its error code
func WarnWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Warn().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error())}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Fatal().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

// With returns a Logger that tags every event with the component name.
func With(component string) Logger {
	return &componentLogger{component: component}
}

type componentLogger struct {
	component string
}

func (c *componentLogger) Debug() *LogEvent {
	return &LogEvent{log.Debug().Str("component", c.component)}
}

func (c *componentLogger) Info() *LogEvent {
	return &LogEvent{log.Info().Str("component", c.component)}
}

func (c *componentLogger) Warn() *LogEvent {
	return &LogEvent{log.Warn().Str("component", c.component)}
}

func (c *componentLogger) Error() *LogEvent {
	return &LogEvent{log.Error().Str("component", c.component)}
}

func (c *componentLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{ErrorWithCode(err).Str("component", c.component)}
}

func (c *componentLogger) WarnWithCode(err errors.Error) *LogEvent {
	return &LogEvent{WarnWithCode(err).Str("component", c.component)}
}
