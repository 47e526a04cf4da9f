//go:build sd && cgo

// Native implementation over the stable-diffusion.cpp C API.
// Build with: CGO_ENABLED=1 go build -tags sd

package sdruntime

/*
#cgo LDFLAGS: -lstable-diffusion
#include <stdlib.h>
#include <stdint.h>
#include <stable-diffusion.h>

static void free_sd_image(sd_image_t* img) {
	if (img == NULL) return;
	free(img->data);
	free(img);
}
*/
import "C"

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"zimage_backend/devices"
)

var sdContextCounter uint64

// contexts maps SDContext.id to the native handle.
var contexts sync.Map // map[uint64]*C.sd_ctx_t

func loadModelImpl(opts LoadOptions) (*SDContext, error) {
	files, err := FindModelFiles(opts.ModelDir)
	if err != nil {
		return nil, err
	}

	if opts.Device.IsAccelerator() && !backendSupports(opts.Device) {
		return nil, fmt.Errorf("%w: %s (library backend: %s)", ErrDeviceUnavailable, opts.Device, BackendInfo())
	}

	var params C.sd_ctx_params_t
	C.sd_ctx_params_init(&params)

	var cstrs []*C.char
	cstr := func(s string) *C.char {
		if s == "" {
			return nil
		}
		c := C.CString(s)
		cstrs = append(cstrs, c)
		return c
	}
	defer func() {
		for _, c := range cstrs {
			C.free(unsafe.Pointer(c))
		}
	}()

	params.model_path = cstr(files.Checkpoint)
	params.diffusion_model_path = cstr(files.DiffusionModel)
	params.vae_path = cstr(files.VAE)
	params.llm_path = cstr(files.TextEncoder)

	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	params.n_threads = C.int(threads)
	params.vae_decode_only = C.bool(true)
	// attention slicing is always requested, so chunked attention is set at load
	params.diffusion_flash_attn = C.bool(true)

	if opts.Precision == PrecisionFloat16 {
		params.wtype = C.SD_TYPE_F16
	} else {
		params.wtype = C.SD_TYPE_F32
	}
	if opts.Device == devices.CUDA {
		params.rng_type = C.CUDA_RNG
	} else {
		params.rng_type = C.STD_DEFAULT_RNG
	}
	if opts.Device == devices.CPU {
		params.keep_clip_on_cpu = C.bool(true)
		params.keep_vae_on_cpu = C.bool(true)
	}

	cCtx := C.new_sd_ctx(&params)
	if cCtx == nil {
		return nil, fmt.Errorf("%w: new_sd_ctx returned null for %s", ErrModelLoadFailed, opts.ModelDir)
	}

	id := atomic.AddUint64(&sdContextCounter, 1)
	contexts.Store(id, cCtx)

	return &SDContext{
		id:       id,
		modelDir: opts.ModelDir,
		device:   opts.Device,
		valid:    true,
	}, nil
}

func generateImageImpl(ctx *SDContext, params GenerateParams, flags runtimeFlags) (*GenerateResult, error) {
	if !ctx.IsValid() {
		return nil, fmt.Errorf("%w: context is nil or invalid", ErrGenerationFailed)
	}
	v, ok := contexts.Load(ctx.id)
	if !ok {
		return nil, fmt.Errorf("%w: no native context found", ErrGenerationFailed)
	}
	cCtx := v.(*C.sd_ctx_t)

	cPrompt := C.CString(params.Prompt)
	defer C.free(unsafe.Pointer(cPrompt))
	cNeg := C.CString(params.NegativePrompt)
	defer C.free(unsafe.Pointer(cNeg))

	var gen C.sd_img_gen_params_t
	C.sd_img_gen_params_init(&gen)
	gen.prompt = cPrompt
	gen.negative_prompt = cNeg
	gen.width = C.int(params.Width)
	gen.height = C.int(params.Height)
	gen.seed = C.int64_t(params.Seed)
	gen.batch_count = 1
	gen.sample_params.sample_steps = C.int(params.Steps)
	gen.sample_params.guidance.txt_cfg = C.float(params.GuidanceScale)
	// batch_count is 1, so VAE slicing needs no native switch
	gen.vae_tiling_params.enabled = C.bool(flags.vaeTiling)

	img := C.generate_image(cCtx, &gen)
	if img == nil {
		return nil, fmt.Errorf("%w: generate_image returned null", ErrGenerationFailed)
	}
	defer C.free_sd_image(img)

	if img.data == nil {
		return nil, fmt.Errorf("%w: generate_image returned no pixels (out of memory?)", ErrOutOfVRAM)
	}

	w, h, ch := int(img.width), int(img.height), int(img.channel)
	data := C.GoBytes(unsafe.Pointer(img.data), C.int(w*h*ch))

	out, err := PixelsToImage(data, w, h, ch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	return &GenerateResult{Image: out, Width: w, Height: h, Seed: params.Seed}, nil
}

func freeContextImpl(ctx *SDContext) {
	if ctx == nil {
		return
	}
	if v, ok := contexts.LoadAndDelete(ctx.id); ok {
		C.free_sd_ctx(v.(*C.sd_ctx_t))
	}
	ctx.valid = false
}

// clearDeviceCacheImpl drops host staging buffers; ggml returns device memory
// when the context is freed.
func clearDeviceCacheImpl(devices.Device) {
	debug.FreeOSMemory()
}

func backendInfoImpl() string {
	return C.GoString(C.sd_get_system_info())
}

func backendSupports(d devices.Device) bool {
	info := strings.ToUpper(BackendInfo())
	switch d {
	case devices.CUDA:
		return strings.Contains(info, "CUDA")
	case devices.Metal:
		return strings.Contains(info, "METAL")
	default:
		return true
	}
}
