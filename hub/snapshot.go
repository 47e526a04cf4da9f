package hub

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SnapshotResult describes a completed pull.
type SnapshotResult struct {
	Dir        string
	Commit     string
	Files      int
	Downloaded int // files fetched in this call; the rest were cached
	TotalBytes int64
	Took       time.Duration
}

// Snapshot downloads every file of modelID at revision that is not already
// cached, then records the revision. Files are fetched in parallel.
func (c *Client) Snapshot(ctx context.Context, modelID, revision string) (*SnapshotResult, error) {
	start := time.Now()
	if revision == "" {
		revision = DefaultRevision
	}

	info, err := c.ModelInfo(ctx, modelID, revision)
	if err != nil {
		return nil, fmt.Errorf("fetch model info for %s: %w", modelID, err)
	}
	if len(info.Siblings) == 0 {
		return nil, fmt.Errorf("%w: %s@%s has no files", ErrNotFound, modelID, revision)
	}

	commit := info.SHA
	if commit == "" {
		commit = revision
	}
	dir := SnapshotDir(c.cacheDir, modelID, commit)

	tracker := newProgressTracker(info.TotalSize(), c.onProgress)
	c.logger.Info("pulling model",
		zap.String("model", modelID),
		zap.String("revision", revision),
		zap.String("commit", commit),
		zap.Int("files", len(info.Siblings)),
		zap.Int64("bytes", info.TotalSize()))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)

	dests := make([]string, len(info.Siblings))
	for i, s := range info.Siblings {
		dest, err := safeJoin(dir, s.Filename)
		if err != nil {
			return nil, err
		}
		dests[i] = dest
	}

	fetched := make([]bool, len(info.Siblings))
	for i, s := range info.Siblings {
		dest := dests[i]
		if cached(dest, s.Size) {
			tracker.set(s.Filename, s.Size)
			continue
		}

		g.Go(func() error {
			sha := ""
			if s.LFS != nil {
				sha = s.LFS.SHA256
			}
			u := c.FileURL(modelID, commit, s.Filename)
			err := c.retry(gctx, "download "+s.Filename, func() error {
				return c.downloadFile(gctx, u, dest, s.Filename, s.Size, sha, tracker)
			})
			if err != nil {
				return fmt.Errorf("download %s: %w", s.Filename, err)
			}
			fetched[i] = true
			c.logger.Debug("file downloaded", zap.String("file", s.Filename), zap.Int64("bytes", s.Size))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := os.WriteFile(filepath.Join(dir, completeMarker), []byte(commit+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("mark snapshot complete: %w", err)
	}
	ref := refPath(c.cacheDir, modelID, revision)
	if err := os.MkdirAll(filepath.Dir(ref), 0o755); err != nil {
		return nil, fmt.Errorf("write ref: %w", err)
	}
	if err := os.WriteFile(ref, []byte(commit), 0o644); err != nil {
		return nil, fmt.Errorf("write ref: %w", err)
	}

	res := &SnapshotResult{
		Dir:        dir,
		Commit:     commit,
		Files:      len(info.Siblings),
		TotalBytes: info.TotalSize(),
		Took:       time.Since(start),
	}
	for _, f := range fetched {
		if f {
			res.Downloaded++
		}
	}
	c.logger.Info("model ready",
		zap.String("dir", dir),
		zap.Int("downloaded", res.Downloaded),
		zap.Duration("took", res.Took))
	return res, nil
}

// cached reports whether dest exists with the expected size. An unknown size
// (0) accepts any existing file.
func cached(dest string, size int64) bool {
	info, err := os.Stat(dest)
	if err != nil || info.IsDir() {
		return false
	}
	return size <= 0 || info.Size() == size
}

// safeJoin rejects repository paths that would escape dir.
func safeJoin(dir, name string) (string, error) {
	p := filepath.Join(dir, filepath.FromSlash(name))
	if p != dir && !strings.HasPrefix(p, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("hub: refusing file path outside snapshot: %q", name)
	}
	return p, nil
}
