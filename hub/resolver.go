package hub

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Resolver turns a configured model id into a local directory. It
// satisfies pipeline.ModelResolver.
type Resolver struct {
	Client   *Client
	ModelID  string
	Revision string
	// AutoPull downloads the snapshot when it is not cached.
	AutoPull bool
	Logger   *zap.Logger
}

// Resolve returns, in order: ModelID itself when it names an existing
// directory, the cached snapshot, or a freshly pulled one when AutoPull is set.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	if info, err := os.Stat(r.ModelID); err == nil && info.IsDir() {
		return r.ModelID, nil
	}

	rev := r.Revision
	if rev == "" {
		rev = DefaultRevision
	}

	if dir, ok := LocalSnapshot(r.Client.CacheDir(), r.ModelID, rev); ok {
		return dir, nil
	}

	if !r.AutoPull {
		return "", fmt.Errorf("%w: %s@%s (run `zimage pull`)", ErrNotCached, r.ModelID, rev)
	}

	if r.Logger != nil {
		r.Logger.Info("model not cached, pulling", zap.String("model", r.ModelID), zap.String("revision", rev))
	}
	res, err := r.Client.Snapshot(ctx, r.ModelID, rev)
	if err != nil {
		return "", err
	}
	return res.Dir, nil
}
