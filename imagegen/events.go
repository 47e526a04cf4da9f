package imagegen

import (
	"time"

	"zimage_backend/devices"
	"zimage_backend/pipeline"
)

// Status events published while a pipeline loads and images are generated.
const (
	EventPipelineLoading     = "pipeline_loading"
	EventPipelineLoaded      = "pipeline_loaded"
	EventDeviceSwitched      = "device_switched"
	EventGenerationStarted   = "generation_started"
	EventGenerationCompleted = "generation_completed"
	EventGenerationFailed    = "generation_failed"
)

// Publisher receives status events. Publish must not block.
type Publisher interface {
	Publish(event string, payload any)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(event string, payload any)

// Publish implements Publisher.
func (f PublisherFunc) Publish(event string, payload any) { f(event, payload) }

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// PipelineHooks turns pipeline cache lifecycle callbacks into status events.
func PipelineHooks(pub Publisher) pipeline.Hooks {
	if pub == nil {
		pub = nopPublisher{}
	}
	return pipeline.Hooks{
		OnLoading: func(d devices.Device) {
			pub.Publish(EventPipelineLoading, map[string]any{"device": d})
		},
		OnLoaded: func(d devices.Device, took time.Duration) {
			pub.Publish(EventPipelineLoaded, map[string]any{
				"device":      d,
				"duration_ms": took.Milliseconds(),
			})
		},
		OnSwitch: func(from, to devices.Device) {
			pub.Publish(EventDeviceSwitched, map[string]any{"from": from, "to": to})
		},
	}
}
