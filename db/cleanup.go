package db

import (
	"context"
	"fmt"
	"time"
)

// CleanupResult contains statistics about a cleanup run.
type CleanupResult struct {
	ProcessedImagesDeleted int64
	ProviderCallsDeleted   int64
	TotalDeleted           int64
	Duration               time.Duration
}

// Cleanup deletes rows older than retentionDays from processed_images and
// provider_calls in one transaction, then runs VACUUM. A retention of 0
// keeps everything.
//
// Example:
//
//	result, err := database.Cleanup(ctx, 90)
//	if err != nil {
//	    logger.Warn("cleanup failed", zap.Error(err))
//	}
func (d *Database) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	return d.cleanupBefore(ctx, retentionDays, time.Now())
}

func (d *Database) cleanupBefore(ctx context.Context, retentionDays int, now time.Time) (CleanupResult, error) {
	start := time.Now()
	var result CleanupResult

	if retentionDays < 0 {
		return result, fmt.Errorf("retentionDays must be non-negative, got %d", retentionDays)
	}
	if retentionDays == 0 {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	cutoff := now.Add(-time.Duration(retentionDays) * 24 * time.Hour).UnixMilli()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return result, ErrClosed
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, target := range []struct {
		table string
		count *int64
	}{
		{"processed_images", &result.ProcessedImagesDeleted},
		{"provider_calls", &result.ProviderCallsDeleted},
	} {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+target.table+" WHERE created_at < ?", cutoff)
		if err != nil {
			return result, fmt.Errorf("failed to delete from %s: %w", target.table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return result, fmt.Errorf("failed to get rows affected for %s: %w", target.table, err)
		}
		*target.count = n
		result.TotalDeleted += n
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit transaction: %w", err)
	}

	// VACUUM cannot run inside a transaction.
	if result.TotalDeleted > 0 {
		if _, err := d.db.ExecContext(ctx, "VACUUM"); err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("cleanup succeeded but VACUUM failed: %w", err)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// CleanupSchedulerConfig holds configuration for the cleanup scheduler.
type CleanupSchedulerConfig struct {
	RetentionDays int
	Interval      time.Duration
	// OnCleanup is called after each run, for logging.
	OnCleanup func(result CleanupResult, err error)
}

// StartCleanupScheduler runs Cleanup immediately and then every Interval
// until ctx is cancelled.
func (d *Database) StartCleanupScheduler(ctx context.Context, config CleanupSchedulerConfig) {
	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	run := func() {
		result, err := d.Cleanup(ctx, config.RetentionDays)
		if config.OnCleanup != nil {
			config.OnCleanup(result, err)
		}
	}

	go func() {
		run()
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
