// Package logx owns the process-wide zerolog logger. Long-lived components take a child
// logger from Component; one-off call sites use the level helpers.
package logx

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceName is attached to every log line.
const ServiceName = "trainchat"

// InitGlobalLogger configures the global logger: console output at debug level in
// development, JSON at info level otherwise. A non-empty level overrides the default.
func InitGlobalLogger(isDevelopment bool, level string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", ServiceName).Logger()

	lvl := zerolog.InfoLevel
	if isDevelopment {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		lvl = zerolog.DebugLevel
	}

	if level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	log.Logger = logger.Level(lvl).With().Caller().Logger()
	return nil
}

// Logger returns the global logger.
func Logger() *zerolog.Logger {
	return &log.Logger
}

// Component returns a child of the global logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// checkFields drops fields that are not key-value pairs, since zerolog panics on them.
func checkFields(level string, fields []any) []any {
	if len(fields)%2 != 0 {
		Logger().Warn().
			Int("fields_count", len(fields)).
			Str("log_level", level).
			Msg("Odd number of log fields, fields dropped.")
		return nil
	}
	return fields
}

// emit writes msg on e. The caller frame is the helper's caller.
func emit(e *zerolog.Event, level, msg string, fields []any) {
	e.Fields(checkFields(level, fields)).CallerSkipFrame(2).Msg(msg)
}

func Debug(msg string, fields ...any) {
	emit(Logger().Debug(), "debug", msg, fields)
}

// Info logs msg with optional key-value fields.
func Info(msg string, fields ...any) {
	emit(Logger().Info(), "info", msg, fields)
}

func Warn(msg string, fields ...any) {
	emit(Logger().Warn(), "warn", msg, fields)
}

// Error logs msg with err attached.
func Error(err error, msg string, fields ...any) {
	emit(Logger().Error().Err(err), "error", msg, fields)
}

// Fatal logs like Error and exits the process with status 1.
func Fatal(err error, msg string, fields ...any) {
	emit(Logger().Fatal().Err(err), "fatal", msg, fields)
}
