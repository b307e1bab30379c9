package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level represents the logging verbosity level
type Level int

const (
	// LevelNormal shows INFO and above (default)
	LevelNormal Level = 0
	// LevelVerbose shows DEBUG and above (-v)
	LevelVerbose Level = 1
	// LevelTrace shows DEBUG and above plus HTTP headers (-vv)
	LevelTrace Level = 2
)

var currentLevel Level

// Logger is the global zerolog logger instance
var Logger zerolog.Logger

// Setup initializes zerolog with a console writer to stderr.
// Level 0 logs INFO and above, 1 adds DEBUG (-v), 2 additionally
// enables HTTP header tracing in the Strava client (-vv).
func Setup(level Level) {
	currentLevel = level

	zerologLevel := zerolog.InfoLevel
	if level >= LevelVerbose {
		zerologLevel = zerolog.DebugLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	Logger = zerolog.New(output).
		Level(zerologLevel).
		With().
		Timestamp().
		Logger()
}

// IsVerbose returns true if verbose/debug logging is enabled
func IsVerbose() bool {
	return currentLevel >= LevelVerbose
}

// IsTraceEnabled returns true if trace-level logging (HTTP headers) is enabled
func IsTraceEnabled() bool {
	return currentLevel >= LevelTrace
}

// LeveledLogger implements retryablehttp.LeveledLogger using zerolog
type LeveledLogger struct{}

func (l *LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	Logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	Logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l *LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	Logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	Logger.Warn().Fields(keysAndValues).Msg(msg)
}

// Info logs at info level with key-value pairs
func Info(msg string, keysAndValues ...interface{}) {
	Logger.Info().Fields(keysAndValues).Msg(msg)
}

// Debug logs at debug level with key-value pairs
func Debug(msg string, keysAndValues ...interface{}) {
	Logger.Debug().Fields(keysAndValues).Msg(msg)
}

// Warn logs at warn level with key-value pairs
func Warn(msg string, keysAndValues ...interface{}) {
	Logger.Warn().Fields(keysAndValues).Msg(msg)
}

// Error logs at error level with key-value pairs
func Error(msg string, keysAndValues ...interface{}) {
	Logger.Error().Fields(keysAndValues).Msg(msg)
}
