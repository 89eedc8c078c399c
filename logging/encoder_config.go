package logging

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Standard field names for structured logging.
// These constants define the JSON keys shared by every log sink.
const (
	// FieldTimestamp is the key for the log entry timestamp
	FieldTimestamp = "ts"

	// FieldLevel is the key for the log level (debug, info, warn, error)
	FieldLevel = "level"

	// FieldComponent is the key for the logger name, e.g. "workflow" or "api"
	FieldComponent = "component"

	// FieldCaller is the key for the source file and line number
	FieldCaller = "caller"

	// FieldMessage is the key for the log message
	FieldMessage = "msg"

	// FieldStacktrace is the key for stack traces (on error)
	FieldStacktrace = "stacktrace"
)

// NewEncoderConfig returns the JSON encoder layout used by the file sink
// and by the console outside development mode.
//
// This is a pure function that returns a consistent configuration.
// The config uses:
//   - ISO8601 timestamps
//   - Lowercase level names
//   - Short caller paths with line numbers
//   - Durations in milliseconds, matching the duration_ms fields of
//     GenerationMetrics
//
// Example:
//
//	config := NewEncoderConfig()
//	encoder := zapcore.NewJSONEncoder(config)
func NewEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        FieldTimestamp,
		LevelKey:       FieldLevel,
		NameKey:        FieldComponent,
		CallerKey:      FieldCaller,
		MessageKey:     FieldMessage,
		StacktraceKey:  FieldStacktrace,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

// NewConsoleEncoderConfig returns the colored layout for development
// consoles. It differs from NewEncoderConfig in three places: capitalized
// colored levels, human-readable durations and a short clock-only time.
//
// Example:
//
//	encoder := zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
func NewConsoleEncoderConfig() zapcore.EncoderConfig {
	cfg := NewEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("15:04:05.000"))
	}
	return cfg
}
