// Package sdruntime provides CGo bindings for stable-diffusion.cpp.
//
// Build requirements for the native implementation:
//   - stable-diffusion.cpp compiled as a shared library (libstable-diffusion.so/dylib)
//   - Header file: stable-diffusion.h
//   - CGO_CFLAGS and CGO_LDFLAGS pointing at both
//
// Example build with the library:
//
//	CGO_CFLAGS="-I/path/to/stable-diffusion.cpp" \
//	CGO_LDFLAGS="-L/path/to/stable-diffusion.cpp/build -lstable-diffusion" \
//	go build -tags sd
//
// Without the tag the stub implementation is compiled.
package sdruntime

import (
	"fmt"
	"os"

	"zimage_backend/devices"
)

// SDContext is an opaque handle to a loaded model.
type SDContext struct {
	// id keys the native context table
	id uint64
	// modelDir is the snapshot the context was loaded from
	modelDir string
	device   devices.Device
	valid    bool
}

// IsValid returns whether the context is usable.
func (c *SDContext) IsValid() bool {
	if c == nil {
		return false
	}
	return c.valid
}

// ModelDir returns the directory the context was loaded from.
func (c *SDContext) ModelDir() string {
	if c == nil {
		return ""
	}
	return c.modelDir
}

// LoadModel loads the model snapshot in opts.ModelDir.
//
// Errors:
//   - ErrModelNotFound: the directory does not exist
//   - ErrModelLoadFailed: the native runtime rejected the model
//   - ErrDeviceUnavailable: the library was built without the device's backend
//
// The returned context must be freed with FreeContext.
func LoadModel(opts LoadOptions) (*SDContext, error) {
	if err := checkModelDir(opts.ModelDir); err != nil {
		return nil, err
	}
	return loadModelImpl(opts)
}

// GenerateImage runs one text-to-image call on a loaded context.
func GenerateImage(ctx *SDContext, params GenerateParams, flags runtimeFlags) (*GenerateResult, error) {
	if err := ValidateParams(params); err != nil {
		return nil, err
	}
	return generateImageImpl(ctx, params, flags)
}

// FreeContext releases a context. Nil or already-freed contexts are a no-op.
func FreeContext(ctx *SDContext) {
	freeContextImpl(ctx)
}

// ClearDeviceCache returns cached allocator memory on d to the driver.
func ClearDeviceCache(d devices.Device) {
	clearDeviceCacheImpl(d)
}

// BackendInfo describes the linked runtime.
func BackendInfo() string {
	return backendInfoImpl()
}

func checkModelDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: no model directory given", ErrModelNotFound)
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrModelNotFound, dir)
	}
	if err != nil {
		return fmt.Errorf("%w: unable to access %s: %v", ErrModelLoadFailed, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrModelLoadFailed, dir)
	}
	return nil
}
