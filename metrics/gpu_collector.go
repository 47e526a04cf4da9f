package metrics

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// GPUReader reads one GPU sample.
type GPUReader interface {
	ReadGPUMetrics(ctx context.Context) (GPUMetrics, error)
}

// GPUCollectorConfig configures a GPUCollector.
type GPUCollectorConfig struct {
	// Interval between samples.
	Interval time.Duration
	// HistorySize is the number of samples kept (720 is one hour at 5s).
	HistorySize int
}

// DefaultGPUCollectorConfig samples every five seconds.
func DefaultGPUCollectorConfig() GPUCollectorConfig {
	return GPUCollectorConfig{Interval: 5 * time.Second, HistorySize: 720}
}

// GPUCollector samples a GPUReader periodically, keeps the recent samples
// and forwards each one to onSample.
type GPUCollector struct {
	mu sync.RWMutex

	cfg      GPUCollectorConfig
	reader   GPUReader
	onSample func(GPUMetrics)
	logger   *zap.Logger

	history []GPUMetrics
	head    int
	size    int

	last      GPUMetrics
	available bool
	lastErr   error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGPUCollector returns a stopped collector.
func NewGPUCollector(cfg GPUCollectorConfig, reader GPUReader, onSample func(GPUMetrics), logger *zap.Logger) *GPUCollector {
	if cfg.Interval < time.Second {
		cfg.Interval = 5 * time.Second
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 720
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GPUCollector{
		cfg:      cfg,
		reader:   reader,
		onSample: onSample,
		logger:   logger.Named("gpu"),
		history:  make([]GPUMetrics, cfg.HistorySize),
	}
}

// Start samples immediately and then every interval until ctx is done or
// Stop is called.
func (c *GPUCollector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()

		c.collectOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.collectOnce(ctx)
			}
		}
	}()
}

// Stop ends sampling and waits for the loop to exit.
func (c *GPUCollector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Available reports whether the last sample succeeded.
func (c *GPUCollector) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// LastError is the error of the last failed sample, or nil.
func (c *GPUCollector) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Current returns the last good sample.
func (c *GPUCollector) Current() GPUMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// History returns up to limit samples, oldest first.
func (c *GPUCollector) History(limit int) []GPUMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	limit = min(limit, c.size)
	if limit <= 0 {
		return []GPUMetrics{}
	}
	n := len(c.history)
	out := make([]GPUMetrics, limit)
	for i := range limit {
		out[i] = c.history[(c.head-limit+i+n)%n]
	}
	return out
}

func (c *GPUCollector) collectOnce(ctx context.Context) {
	m, err := c.reader.ReadGPUMetrics(ctx)

	c.mu.Lock()
	if err != nil {
		c.available = false
		c.lastErr = err
	} else {
		c.available = true
		c.lastErr = nil
		c.last = m
		c.history[c.head] = m
		c.head = (c.head + 1) % len(c.history)
		if c.size < len(c.history) {
			c.size++
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("GPU sample failed", zap.Error(err))
		return
	}
	if c.onSample != nil {
		c.onSample(m)
	}
}

// SMIReader samples the first GPU through nvidia-smi.
type SMIReader struct {
	Path    string
	Timeout time.Duration
}

// NewSMIReader uses nvidia-smi from PATH when path is empty.
func NewSMIReader(path string) *SMIReader {
	if path == "" {
		path = "nvidia-smi"
	}
	return &SMIReader{Path: path, Timeout: 5 * time.Second}
}

// ReadGPUMetrics runs one nvidia-smi query.
func (r *SMIReader) ReadGPUMetrics(ctx context.Context) (GPUMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Path,
		"--query-gpu=utilization.gpu,temperature.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return GPUMetrics{}, fmt.Errorf("nvidia-smi failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return parseSMIOutput(stdout.String())
}

// parseSMIOutput reads the first CSV line: utilization %, temperature C,
// memory used MiB, memory total MiB.
func parseSMIOutput(output string) (GPUMetrics, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return GPUMetrics{}, fmt.Errorf("empty nvidia-smi output")
	}

	record, err := csv.NewReader(strings.NewReader(output)).Read()
	if err != nil {
		return GPUMetrics{}, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(record) < 4 {
		return GPUMetrics{}, fmt.Errorf("unexpected field count: got %d, expected 4", len(record))
	}

	names := [4]string{"utilization", "temperature", "memory used", "memory total"}
	var v [4]float64
	for i := range v {
		v[i], err = strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return GPUMetrics{}, fmt.Errorf("failed to parse %s: %w", names[i], err)
		}
	}

	const mib = 1024 * 1024
	total := int64(v[3] * mib)
	used := int64(v[2] * mib)
	return GPUMetrics{
		Utilization: v[0],
		Temperature: v[1],
		MemoryTotal: total,
		MemoryUsed:  used,
		MemoryFree:  total - used,
	}, nil
}
