package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// syncLogger ignores the "invalid argument" error Linux returns when
// syncing stdout.
func syncLogger(t testing.TB, logger *Logger) {
	t.Helper()
	if err := logger.Sync(); err != nil && !strings.Contains(err.Error(), "invalid argument") {
		t.Logf("Sync() warning: %v", err)
	}
}

func TestNewLogger_WritesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "bgstudio.log")

	logger, err := NewLogger(Options{FilePath: logPath})
	if err != nil {
		t.Fatalf("NewLogger() returned error: %v", err)
	}
	if logger.IsDevelopment() {
		t.Error("IsDevelopment() = true, want false")
	}
	if logger.LogFilePath() != logPath {
		t.Errorf("LogFilePath() = %q, want %q", logger.LogFilePath(), logPath)
	}

	logger.Info("workflow created", WorkflowID("wf-1"))
	syncLogger(t, logger)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if entry[FieldMessage] != "workflow created" {
		t.Errorf("msg = %v, want %q", entry[FieldMessage], "workflow created")
	}
	if entry["workflow_id"] != "wf-1" {
		t.Errorf("workflow_id = %v, want wf-1", entry["workflow_id"])
	}
}

func TestNewLogger_LevelOverride(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "level.log")
	level := zapcore.WarnLevel

	logger, err := NewLogger(Options{Development: true, FilePath: logPath, Level: &level})
	if err != nil {
		t.Fatalf("NewLogger() returned error: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept")
	syncLogger(t, logger)

	data, _ := os.ReadFile(logPath)
	if strings.Contains(string(data), "dropped") {
		t.Error("info entry written despite warn level")
	}
	if !strings.Contains(string(data), "kept") {
		t.Error("warn entry missing")
	}
}

func TestLogger_RedactsSensitiveFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core))

	logger.Info("calling provider",
		zap.String("runware_api_key", "rw-123456789"),
		zap.String("body", `[{"taskType":"authentication","apiKey":"abcdef"}]`),
		zap.String("model_id", "runware:101@1"),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["runware_api_key"] != RedactedPlaceholder {
		t.Errorf("runware_api_key = %v, want redacted", fields["runware_api_key"])
	}
	if strings.Contains(fields["body"].(string), "abcdef") {
		t.Errorf("body still contains key: %v", fields["body"])
	}
	if fields["model_id"] != "runware:101@1" {
		t.Errorf("model_id = %v, want unchanged", fields["model_id"])
	}
}

func TestLogger_WithAndNamed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := FromZap(zap.New(core)).Named("orchestrator").With(WorkflowID("wf-9"), zap.String("redis_password", "hunter22"))

	logger.Debug("transition", Stage("style_chosen"))

	entry := logs.All()[0]
	if entry.LoggerName != "orchestrator" {
		t.Errorf("LoggerName = %q, want orchestrator", entry.LoggerName)
	}
	ctx := entry.ContextMap()
	if ctx["workflow_id"] != "wf-9" || ctx["stage"] != "style_chosen" {
		t.Errorf("unexpected context: %v", ctx)
	}
	if ctx["redis_password"] != RedactedPlaceholder {
		t.Errorf("redis_password = %v, want redacted", ctx["redis_password"])
	}
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Error("nothing happens")
	if err := logger.Sync(); err != nil {
		t.Errorf("Sync() on nop logger = %v", err)
	}
}

func TestGenerationMetrics(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := FromZap(zap.New(core))

	logger.Info("background generated", Generation(GenerationMetrics{
		ModelID:       "bfl:2@1",
		QualityTier:   "premium",
		Steps:         40,
		GuidanceScale: 7,
		Width:         1024,
		Height:        1024,
		Seed:          42,
		Cost:          "0.12",
		Attempts:      2,
		Duration:      1500 * time.Millisecond,
		Success:       true,
	}))

	gen, ok := logs.All()[0].ContextMap()["generation"].(map[string]any)
	if !ok {
		t.Fatalf("generation field is not an object: %v", logs.All()[0].ContextMap())
	}
	if gen["model_id"] != "bfl:2@1" {
		t.Errorf("model_id = %v", gen["model_id"])
	}
	if fmt.Sprint(gen["duration_ms"]) != "1500" {
		t.Errorf("duration_ms = %v, want 1500", gen["duration_ms"])
	}
	if fmt.Sprint(gen["attempts"]) != "2" {
		t.Errorf("attempts = %v, want 2", gen["attempts"])
	}
	if _, has := gen["budget_tier"]; has {
		t.Error("empty budget_tier should be omitted")
	}
}
