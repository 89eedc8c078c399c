package logging

import (
	"go.uber.org/zap/zapcore"
)

// NewMultiCore creates a zapcore.Core that tees output to the console and,
// when filePath is non-empty, to a rotating JSON log file.
//
// The file always uses the JSON encoder. The console uses the colored
// console encoder in development and JSON otherwise.
func NewMultiCore(level zapcore.Level, console zapcore.WriteSyncer, filePath string, fileCfg FileWriterConfig, isDev bool) (zapcore.Core, error) {
	if filePath == "" {
		return newConsoleCore(level, console, isDev), nil
	}
	if err := ensureLogDir(filePath); err != nil {
		return nil, err
	}
	return NewMultiCoreWithWriters(level, console, NewFileWriterWithConfig(filePath, fileCfg), isDev), nil
}

// NewMultiCoreWithWriters tees to the given writers. Useful in tests with
// in-memory buffers.
func NewMultiCoreWithWriters(level zapcore.Level, consoleWriter, fileWriter zapcore.WriteSyncer, isDev bool) zapcore.Core {
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(NewEncoderConfig()),
		fileWriter,
		level,
	)
	return zapcore.NewTee(newConsoleCore(level, consoleWriter, isDev), fileCore)
}

func newConsoleCore(level zapcore.Level, w zapcore.WriteSyncer, isDev bool) zapcore.Core {
	var enc zapcore.Encoder
	if isDev {
		enc = zapcore.NewConsoleEncoder(NewConsoleEncoderConfig())
	} else {
		enc = zapcore.NewJSONEncoder(NewEncoderConfig())
	}
	return zapcore.NewCore(enc, w, level)
}
