package shutdown

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"bgstudio/core"
	"bgstudio/logging"
)

// TempFilePattern matches partial downloads left by an interrupted archive.
const TempFilePattern = "temp_*"

// CleanupDownloads returns a shutdown function that removes partial
// downloads from dir. Failures are logged and never block shutdown.
//
//	manager.Register("cleanup-downloads", shutdown.PriorityFiles, shutdown.CleanupDownloads(logger, cfg.DownloadsDir))
func CleanupDownloads(logger *logging.Logger, dir string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		removeMatchingPattern(ctx, logger, filepath.Join(dir, TempFilePattern), func(_ string, info os.FileInfo) bool {
			return !info.IsDir()
		})
		return nil
	}
}

// PruneArchive removes archived images in dir older than maxAge. It runs
// alongside the database retention cleanup so files and rows expire
// together. A zero maxAge keeps everything.
func PruneArchive(ctx context.Context, logger *logging.Logger, dir string, maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	return removeMatchingPattern(ctx, logger, filepath.Join(dir, "*"), func(_ string, info os.FileInfo) bool {
		return !info.IsDir() && info.ModTime().Before(cutoff)
	})
}

// removeMatchingPattern deletes files matching pattern for which match
// returns true, and returns how many were removed.
func removeMatchingPattern(ctx context.Context, logger *logging.Logger, pattern string, match func(string, os.FileInfo) bool) int {
	if logger == nil {
		logger = logging.Nop()
	}
	paths, err := filepath.Glob(pattern)
	if err != nil {
		logger.Error("failed to list files", zap.String("pattern", pattern), zap.Error(err))
		return 0
	}

	removed, failed := 0, 0
	for _, path := range paths {
		if ctx.Err() != nil {
			logger.Warn("shutdown context cancelled during cleanup",
				zap.Int("removed", removed),
				zap.Int("remaining", len(paths)-removed-failed),
			)
			break
		}
		info, err := os.Stat(path)
		if err != nil || !match(path, info) {
			continue
		}
		if err := os.Remove(path); err != nil {
			failed++
			logger.Warn("failed to remove file", zap.String("file", filepath.Base(path)), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 || failed > 0 {
		logger.Info("file cleanup complete",
			zap.String("pattern", pattern),
			zap.Int("removed", removed),
			zap.Int("failed", failed),
		)
	}
	return removed
}
