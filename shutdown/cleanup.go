package shutdown

import (
	"context"
	"errors"
	"net/http"
	"syscall"

	"go.uber.org/zap"
)

// HTTPServer drains srv, closing remaining connections when ctx expires.
func HTTPServer(srv *http.Server) Func {
	return func(ctx context.Context) error {
		err := srv.Shutdown(ctx)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return srv.Close()
		}
		return err
	}
}

// Closer adapts a Close method that takes no context.
func Closer(fn func() error) Func {
	return func(context.Context) error { return fn() }
}

// SyncLogger flushes logger. Sync errors from terminals that do not support
// fsync are ignored.
func SyncLogger(logger *zap.Logger) Func {
	return func(context.Context) error {
		err := logger.Sync()
		if err == nil || errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EBADF) {
			return nil
		}
		return err
	}
}
