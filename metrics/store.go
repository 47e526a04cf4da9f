package metrics

import (
	"fmt"
	"sync"
	"time"

	"zimage_backend/imagegen"
)

// StoreConfig configures a Store.
type StoreConfig struct {
	// HistoryCapacity is the number of finished generations kept.
	HistoryCapacity int
	Version         string
}

// DefaultStoreConfig keeps the last 100 generations.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{HistoryCapacity: 100, Version: "dev"}
}

// Store aggregates generation outcomes in memory. It is an imagegen
// Publisher, so it can observe the same events the websocket clients get.
//
//	store := metrics.NewStore(metrics.DefaultStoreConfig(), time.Now())
//	svc := imagegen.NewService(cache, imagegen.WithPublisher(store))
//	snap := store.Snapshot(10)
type Store struct {
	mu sync.RWMutex

	// ring of finished generations
	history []GenerationRecord
	head    int
	size    int

	pending map[string]GenerationRecord

	total    int64
	success  int64
	failed   int64
	byDevice map[string]*deviceTotals
	lastErr  bool

	gpu    GPUMetrics
	hasGPU bool

	startTime time.Time
	version   string
	now       func() time.Time
}

type deviceTotals struct {
	count    int64
	success  int64
	duration time.Duration
}

// NewStore returns an empty Store; startTime anchors the uptime.
func NewStore(cfg StoreConfig, startTime time.Time) *Store {
	capacity := cfg.HistoryCapacity
	if capacity < 1 {
		capacity = 100
	}
	return &Store{
		history:   make([]GenerationRecord, capacity),
		pending:   make(map[string]GenerationRecord),
		byDevice:  make(map[string]*deviceTotals),
		startTime: startTime,
		version:   cfg.Version,
		now:       time.Now,
	}
}

// Publish consumes generation events. Other events are ignored.
func (s *Store) Publish(event string, payload any) {
	fields, _ := payload.(map[string]any)
	id := stringField(fields, "id")
	if id == "" {
		return
	}

	switch event {
	case imagegen.EventGenerationStarted:
		s.mu.Lock()
		s.pending[id] = GenerationRecord{
			ID:     id,
			Device: stringField(fields, "device"),
			Status: StatusRunning,
			Start:  s.now(),
		}
		s.mu.Unlock()

	case imagegen.EventGenerationCompleted:
		rec := s.takePending(id, fields)
		rec.Status = StatusSuccess
		if ms, ok := fields["duration_ms"].(int64); ok {
			rec.Duration = time.Duration(ms) * time.Millisecond
		}
		s.RecordGeneration(rec)

	case imagegen.EventGenerationFailed:
		rec := s.takePending(id, fields)
		rec.Status = StatusError
		rec.Error = stringField(fields, "error")
		s.RecordGeneration(rec)
	}
}

func (s *Store) takePending(id string, fields map[string]any) GenerationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.pending[id]
	delete(s.pending, id)
	if !ok {
		rec = GenerationRecord{ID: id, Device: stringField(fields, "device"), Start: now}
	}
	rec.End = now
	rec.Duration = now.Sub(rec.Start)
	return rec
}

// RecordGeneration adds a finished generation.
func (s *Store) RecordGeneration(rec GenerationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[s.head] = rec
	s.head = (s.head + 1) % len(s.history)
	if s.size < len(s.history) {
		s.size++
	}

	s.total++
	dt, ok := s.byDevice[rec.Device]
	if !ok {
		dt = &deviceTotals{}
		s.byDevice[rec.Device] = dt
	}
	dt.count++
	dt.duration += rec.Duration

	if rec.Status == StatusSuccess {
		s.success++
		dt.success++
		s.lastErr = false
	} else {
		s.failed++
		s.lastErr = true
	}
}

// Stats returns the aggregated counters.
func (s *Store) Stats() GenerationStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := GenerationStats{
		Total:    s.total,
		Success:  s.success,
		Failed:   s.failed,
		InFlight: len(s.pending),
		ByDevice: make(map[string]DeviceStats, len(s.byDevice)),
	}
	for device, dt := range s.byDevice {
		ds := DeviceStats{Count: dt.count, Success: dt.success, Failed: dt.count - dt.success}
		if dt.count > 0 {
			ds.SuccessRate = float64(dt.success) / float64(dt.count) * 100
			ds.AvgDuration = dt.duration / time.Duration(dt.count)
		}
		stats.ByDevice[device] = ds
	}
	return stats
}

// Recent returns up to limit finished generations, newest first.
func (s *Store) Recent(limit int) []GenerationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = min(limit, s.size)
	if limit <= 0 {
		return []GenerationRecord{}
	}
	out := make([]GenerationRecord, limit)
	n := len(s.history)
	for i := range limit {
		out[i] = s.history[(s.head-1-i+n)%n]
	}
	return out
}

// UpdateGPUMetrics stores the latest GPU sample.
func (s *Store) UpdateGPUMetrics(m GPUMetrics) {
	s.mu.Lock()
	s.gpu = m
	s.hasGPU = true
	s.mu.Unlock()
}

// GPUMetrics returns the latest GPU sample, if any was recorded.
func (s *Store) GPUMetrics() (GPUMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gpu, s.hasGPU
}

// System reports degraded health while the most recent generation failed.
func (s *Store) System() SystemStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	health := HealthRunning
	if s.lastErr {
		health = HealthDegraded
	}
	return SystemStatus{
		Health:    health,
		Version:   s.version,
		StartedAt: s.startTime,
		Uptime:    s.now().Sub(s.startTime),
	}
}

// Snapshot combines everything with the recent generations.
func (s *Store) Snapshot(recent int) Snapshot {
	snap := Snapshot{
		System:      s.System(),
		Generations: s.Stats(),
		Recent:      s.Recent(recent),
	}
	if gpu, ok := s.GPUMetrics(); ok {
		snap.GPU = &gpu
	}
	return snap
}

func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

var _ imagegen.Publisher = (*Store)(nil)
