package db

import (
	"context"
	"fmt"
	"time"
)

// CleanupResult describes one retention pass.
type CleanupResult struct {
	Deleted int64
	// Files are the image and thumbnail paths of the deleted rows; the
	// caller removes them from disk.
	Files    []string
	Duration time.Duration
}

// Cleanup deletes generations older than retention.
func (d *Database) Cleanup(ctx context.Context, retention time.Duration) (CleanupResult, error) {
	start := time.Now()
	var result CleanupResult

	if retention <= 0 {
		return result, fmt.Errorf("retention must be positive, got %s", retention)
	}

	conn, release, err := d.conn()
	defer release()
	if err != nil {
		return result, err
	}

	cutoff := time.Now().Add(-retention).UnixMilli()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT image_path, thumb_path FROM generations WHERE created_at < ?`, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to list expired generations: %w", err)
	}
	for rows.Next() {
		var img, thumb string
		if err := rows.Scan(&img, &thumb); err != nil {
			rows.Close()
			return result, fmt.Errorf("failed to scan expired generation: %w", err)
		}
		for _, f := range []string{img, thumb} {
			if f != "" {
				result.Files = append(result.Files, f)
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE created_at < ?`, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to delete expired generations: %w", err)
	}
	result.Deleted, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit cleanup: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// StartCleanupScheduler runs Cleanup immediately and then every interval
// until ctx is done. report receives every outcome.
func (d *Database) StartCleanupScheduler(ctx context.Context, retention, interval time.Duration, report func(CleanupResult, error)) {
	if report == nil {
		report = func(CleanupResult, error) {}
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		report(d.Cleanup(ctx, retention))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report(d.Cleanup(ctx, retention))
			}
		}
	}()
}
