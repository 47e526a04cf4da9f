// Package metrics keeps in-memory generation statistics and GPU samples for
// the web UI stats endpoint.
package metrics

import "time"

// GenerationRecord is one finished or running generation.
type GenerationRecord struct {
	ID       string        `json:"id"`
	Device   string        `json:"device"`
	Status   string        `json:"status"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// GPUMetrics is one utilization sample of the first CUDA device.
type GPUMetrics struct {
	// Utilization is the GPU utilization percentage (0-100)
	Utilization float64 `json:"utilization"`

	// Temperature in Celsius
	Temperature float64 `json:"temperature"`

	// Memory in bytes
	MemoryTotal int64 `json:"memory_total"`
	MemoryUsed  int64 `json:"memory_used"`
	MemoryFree  int64 `json:"memory_free"`
}

// DeviceStats aggregates the generations run on one device.
type DeviceStats struct {
	Count       int64         `json:"count"`
	Success     int64         `json:"success"`
	Failed      int64         `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// GenerationStats aggregates every generation since start.
type GenerationStats struct {
	Total    int64                  `json:"total"`
	Success  int64                  `json:"success"`
	Failed   int64                  `json:"failed"`
	InFlight int                    `json:"in_flight"`
	ByDevice map[string]DeviceStats `json:"by_device"`
}

// SystemStatus is the process health summary.
type SystemStatus struct {
	Health    string        `json:"health"`
	Version   string        `json:"version"`
	StartedAt time.Time     `json:"started_at"`
	Uptime    time.Duration `json:"uptime"`
}

// Snapshot is everything the stats endpoint returns.
type Snapshot struct {
	System      SystemStatus       `json:"system"`
	Generations GenerationStats    `json:"generations"`
	GPU         *GPUMetrics        `json:"gpu,omitempty"`
	Recent      []GenerationRecord `json:"recent"`
}

// Generation status values.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Health values.
const (
	HealthRunning  = "running"
	HealthDegraded = "degraded"
)
