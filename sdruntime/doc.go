// Package sdruntime wraps stable-diffusion.cpp for text-to-image generation.
//
// A Pipeline is one model loaded on one device:
//
//	p, err := sdruntime.LoadPipeline(ctx, sdruntime.LoadOptions{
//	    ModelDir:  dir,
//	    Device:    devices.CUDA,
//	    Precision: sdruntime.PrecisionFor(devices.CUDA),
//	})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	res, err := p.Generate(ctx, sdruntime.GenerateParams{
//	    Prompt: "a lighthouse at dusk",
//	    Width:  768, Height: 768, Steps: 7,
//	    Seed:   sdruntime.ResolveSeed(-1),
//	    RNG:    sdruntime.RNGFor(devices.CUDA),
//	})
//
// # Build Tags
//
//   - Stub mode (default): go build
//     Models "load" but every generation returns ErrGenerationFailed.
//
//   - Real mode: CGO_ENABLED=1 go build -tags sd
//     Requires libstable-diffusion and stable-diffusion.h on the cgo paths:
//
//     CGO_CFLAGS="-I/path/to/stable-diffusion.cpp/include" \
//     CGO_LDFLAGS="-L/path/to/stable-diffusion.cpp/build/bin" \
//     go build -tags sd
//
// # Errors
//
// Use errors.Is with the sentinels in errors.go:
//
//	if errors.Is(err, sdruntime.ErrOutOfVRAM) {
//	    // retry smaller, or on another device
//	}
//
// # Thread Safety
//
// SDPipeline serializes calls with a mutex; the native context is not
// reentrant.
package sdruntime
