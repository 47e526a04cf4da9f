package sdruntime

import "errors"

// Sentinel errors for pipeline operations.
var (
	// Model errors
	ErrModelNotFound   = errors.New("sdruntime: model not found")
	ErrModelLoadFailed = errors.New("sdruntime: failed to load model")

	// Generation errors
	ErrGenerationFailed = errors.New("sdruntime: image generation failed")
	ErrOutOfVRAM        = errors.New("sdruntime: out of device memory")

	// Input validation errors
	ErrInvalidPrompt = errors.New("sdruntime: invalid prompt")
	ErrInvalidParams = errors.New("sdruntime: invalid generation parameters")

	// Lifecycle errors
	ErrPipelineClosed    = errors.New("sdruntime: pipeline is closed")
	ErrDeviceUnavailable = errors.New("sdruntime: device not available")
)
