//go:build !sd || !cgo

// Stub implementation used when stable-diffusion.cpp is not linked.

package sdruntime

import (
	"fmt"
	"sync/atomic"

	"zimage_backend/devices"
)

var stubContextCounter uint64

func loadModelImpl(opts LoadOptions) (*SDContext, error) {
	return &SDContext{
		id:       atomic.AddUint64(&stubContextCounter, 1),
		modelDir: opts.ModelDir,
		device:   opts.Device,
		valid:    true,
	}, nil
}

func generateImageImpl(ctx *SDContext, params GenerateParams, flags runtimeFlags) (*GenerateResult, error) {
	if !ctx.IsValid() {
		return nil, fmt.Errorf("%w: context is nil or invalid", ErrGenerationFailed)
	}
	return nil, fmt.Errorf("%w: stable-diffusion.cpp library not available (stub build). "+
		"Build with CGO_ENABLED=1 and -tags sd to enable image generation", ErrGenerationFailed)
}

func freeContextImpl(ctx *SDContext) {
	if ctx == nil {
		return
	}
	ctx.valid = false
}

func clearDeviceCacheImpl(devices.Device) {}

func backendInfoImpl() string {
	return "stub (no stable-diffusion.cpp library linked)"
}
