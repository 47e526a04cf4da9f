// Package pipeline keeps at most one loaded text-to-image pipeline, bound to
// the device it was last requested on.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"zimage_backend/devices"
	"zimage_backend/sdruntime"
)

// ModelResolver returns the local directory of the model snapshot,
// downloading it first if needed.
type ModelResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// ResolverFunc adapts a function to ModelResolver.
type ResolverFunc func(ctx context.Context) (string, error)

// Resolve implements ModelResolver.
func (f ResolverFunc) Resolve(ctx context.Context) (string, error) { return f(ctx) }

// StaticDir resolves to a fixed directory.
func StaticDir(dir string) ModelResolver {
	return ResolverFunc(func(context.Context) (string, error) { return dir, nil })
}

// Hooks observe the slot's lifecycle. Nil hooks are skipped.
type Hooks struct {
	OnLoading func(d devices.Device)
	OnLoaded  func(d devices.Device, took time.Duration)
	OnSwitch  func(from, to devices.Device)
}

// Cache owns the single pipeline slot. A Cache is safe for concurrent use;
// loads and the calls made through Do are serialized.
type Cache struct {
	mu sync.Mutex

	loader   sdruntime.Loader
	resolver ModelResolver
	modelID  string
	threads  int
	fastMath bool
	hooks    Hooks
	logger   *zap.Logger

	cudaAvailable bool
	clearCache    func(devices.Device)

	current sdruntime.Pipeline
	device  devices.Device
	closed  bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger; the default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithModelID names the model in log lines.
func WithModelID(id string) Option {
	return func(c *Cache) { c.modelID = id }
}

// WithThreads sets the CPU thread count passed to the loader.
func WithThreads(n int) Option {
	return func(c *Cache) { c.threads = n }
}

// WithMetalFastMath enables relaxed float math for pipelines loaded on Metal.
func WithMetalFastMath(on bool) Option {
	return func(c *Cache) { c.fastMath = on }
}

// WithCUDAAvailable records whether a CUDA device exists; the accelerator
// cache is only cleared on device switches when it does.
func WithCUDAAvailable(on bool) Option {
	return func(c *Cache) { c.cudaAvailable = on }
}

// WithCacheClearer replaces sdruntime.ClearDeviceCache.
func WithCacheClearer(fn func(devices.Device)) Option {
	return func(c *Cache) { c.clearCache = fn }
}

// WithHooks installs lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(c *Cache) { c.hooks = h }
}

// NewCache returns an empty cache. Nothing is loaded until the first Get.
func NewCache(loader sdruntime.Loader, resolver ModelResolver, opts ...Option) *Cache {
	c := &Cache{
		loader:     loader,
		resolver:   resolver,
		logger:     zap.NewNop(),
		clearCache: sdruntime.ClearDeviceCache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the pipeline bound to d, loading it on a miss. A cached
// pipeline on another device is closed first.
func (c *Cache) Get(ctx context.Context, d devices.Device) (sdruntime.Pipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(ctx, d)
}

// Do runs fn with the pipeline for d while holding the slot, so the pipeline
// cannot be swapped out or closed while fn uses it.
func (c *Cache) Do(ctx context.Context, d devices.Device, fn func(sdruntime.Pipeline) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.getLocked(ctx, d)
	if err != nil {
		return err
	}
	return fn(p)
}

// Current returns the device of the cached pipeline, if any.
func (c *Cache) Current() (devices.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device, c.current != nil
}

// Release closes the cached pipeline and empties the slot. The cache stays
// usable.
func (c *Cache) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseLocked()
}

// Close releases the slot; later calls to Get fail with
// sdruntime.ErrPipelineClosed.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.releaseLocked()
}

func (c *Cache) getLocked(ctx context.Context, d devices.Device) (sdruntime.Pipeline, error) {
	if c.closed {
		return nil, sdruntime.ErrPipelineClosed
	}

	if c.current != nil && c.device == d {
		return c.current, nil
	}

	if c.current != nil {
		from := c.device
		c.logger.Info("switching device",
			zap.String("from", from.String()),
			zap.String("to", d.String()))
		if err := c.releaseLocked(); err != nil {
			c.logger.Warn("failed to close previous pipeline", zap.Error(err))
		}
		if c.cudaAvailable && c.clearCache != nil {
			c.clearCache(from)
		}
		if c.hooks.OnSwitch != nil {
			c.hooks.OnSwitch(from, d)
		}
	}

	p, err := c.load(ctx, d)
	if err != nil {
		return nil, err
	}

	c.current = p
	c.device = d
	return p, nil
}

func (c *Cache) load(ctx context.Context, d devices.Device) (sdruntime.Pipeline, error) {
	start := time.Now()
	precision := sdruntime.PrecisionFor(d)

	c.logger.Info(fmt.Sprintf("Loading %s on %s", c.modelID, d),
		zap.String("device", d.String()),
		zap.String("precision", precision.String()))
	if c.hooks.OnLoading != nil {
		c.hooks.OnLoading(d)
	}

	dir, err := c.resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve model: %w", err)
	}

	p, err := c.loader(ctx, sdruntime.LoadOptions{
		ModelDir:  dir,
		Device:    d,
		Precision: precision,
		Threads:   c.threads,
		FastMath:  c.fastMath && d == devices.Metal,
	})
	if err != nil {
		return nil, fmt.Errorf("load pipeline on %s: %w", d, err)
	}

	if err := p.EnableAttentionSlicing(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("enable attention slicing: %w", err)
	}

	if s, ok := p.(sdruntime.VAESlicer); ok {
		if err := s.EnableVAESlicing(); err != nil {
			c.logger.Warn("VAE slicing unavailable", zap.Error(err))
		} else {
			c.logger.Info("VAE slicing enabled")
		}
	}
	if t, ok := p.(sdruntime.VAETiler); ok {
		if err := t.EnableVAETiling(); err != nil {
			c.logger.Warn("VAE tiling unavailable", zap.Error(err))
		} else {
			c.logger.Info("VAE tiling enabled")
		}
	}

	took := time.Since(start)
	c.logger.Info(fmt.Sprintf("Pipeline loaded on %s", d), zap.Duration("took", took))
	if c.hooks.OnLoaded != nil {
		c.hooks.OnLoaded(d, took)
	}
	return p, nil
}

func (c *Cache) releaseLocked() error {
	if c.current == nil {
		return nil
	}
	p := c.current
	c.current = nil
	c.device = ""
	if err := p.Close(); err != nil {
		return fmt.Errorf("close pipeline: %w", err)
	}
	return nil
}
