package shutdown

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"bgstudio/logging"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestCleanupDownloads_RemovesOnlyTempFiles(t *testing.T) {
	dir := t.TempDir()
	temp1 := writeFile(t, dir, "temp_wf-1.png")
	temp2 := writeFile(t, dir, "temp_wf-2.png")
	kept := writeFile(t, dir, "wf-3.png")
	if err := os.Mkdir(filepath.Join(dir, "temp_dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	fn := CleanupDownloads(logging.FromZap(zaptest.NewLogger(t)), dir)
	if err := fn(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if exists(temp1) || exists(temp2) {
		t.Error("temp files were not removed")
	}
	if !exists(kept) {
		t.Error("archived image was removed")
	}
	if !exists(filepath.Join(dir, "temp_dir")) {
		t.Error("directories must be left alone")
	}
}

func TestCleanupDownloads_MissingDirectory(t *testing.T) {
	fn := CleanupDownloads(nil, filepath.Join(t.TempDir(), "missing"))
	if err := fn(context.Background()); err != nil {
		t.Errorf("cleanup of missing dir = %v", err)
	}
}

func TestCleanupDownloads_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	temp := writeFile(t, dir, "temp_a.png")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := CleanupDownloads(nil, dir)(ctx); err != nil {
		t.Errorf("cleanup = %v", err)
	}
	if !exists(temp) {
		t.Error("a cancelled cleanup must stop before deleting")
	}
}

func TestPruneArchive(t *testing.T) {
	dir := t.TempDir()
	old := writeFile(t, dir, "old.png")
	fresh := writeFile(t, dir, "fresh.png")
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	if n := PruneArchive(context.Background(), nil, dir, 0); n != 0 {
		t.Errorf("zero max age removed %d files", n)
	}
	if n := PruneArchive(context.Background(), nil, dir, 24*time.Hour); n != 1 {
		t.Errorf("removed %d files, want 1", n)
	}
	if exists(old) || !exists(fresh) {
		t.Error("wrong file pruned")
	}
}

func TestCleanupDownloads_WithManager(t *testing.T) {
	dir := t.TempDir()
	temp := writeFile(t, dir, "temp_x.png")
	logger := logging.FromZap(zaptest.NewLogger(t))

	m := NewManager(logger, WithTimeout(time.Second))
	m.Register("cleanup-downloads", PriorityFiles, CleanupDownloads(logger, dir))
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if exists(temp) {
		t.Error("temp file survived shutdown")
	}
}
