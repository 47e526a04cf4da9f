package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GenerationMetrics summarizes one image generation for structured logs.
type GenerationMetrics struct {
	ID       string
	Device   string
	Width    int
	Height   int
	Steps    int
	Seed     int64
	Duration time.Duration
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (m GenerationMetrics) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", m.ID)
	enc.AddString("device", m.Device)
	enc.AddInt("width", m.Width)
	enc.AddInt("height", m.Height)
	enc.AddInt("steps", m.Steps)
	enc.AddInt64("seed", m.Seed)
	enc.AddInt64("duration_ms", m.Duration.Milliseconds())
	if m.Duration > 0 && m.Steps > 0 {
		enc.AddFloat64("seconds_per_step", m.Duration.Seconds()/float64(m.Steps))
	}
	return nil
}

// GenerationField nests m under the "generation" key.
func GenerationField(m GenerationMetrics) zap.Field {
	return zap.Object("generation", m)
}

// DeviceFields returns the device fields shared by pipeline log lines.
func DeviceFields(device, precision string) []zap.Field {
	return []zap.Field{
		zap.String("device", device),
		zap.String("precision", precision),
	}
}
