package logging

import (
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
)

// LevelEnvVar overrides the log level for the whole service.
const LevelEnvVar = "BGSTUDIO_LOG_LEVEL"

// LevelFromEnv reads LevelEnvVar. It returns nil when the variable is unset
// or not a recognised level so NewLogger keeps its mode-based default.
func LevelFromEnv() *zapcore.Level {
	raw := os.Getenv(LevelEnvVar)
	if raw == "" {
		return nil
	}
	level, ok := ParseLevel(raw)
	if !ok {
		return nil
	}
	return &level
}

// ParseLevel maps debug, info, warn/warning, error and fatal
// (case-insensitive) to zap levels.
func ParseLevel(s string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "fatal":
		return zapcore.FatalLevel, true
	}
	return zapcore.InfoLevel, false
}
