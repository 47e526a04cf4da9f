package sdruntime

import (
	"context"
	"fmt"
	"image"
	"sync"

	"zimage_backend/devices"
)

// LoadOptions configures how a model is loaded onto a device.
type LoadOptions struct {
	// ModelDir is the local snapshot directory of the model.
	ModelDir string

	// Device is the backend the weights are placed on.
	Device devices.Device

	// Precision is the compute type; see PrecisionFor.
	Precision Precision

	// Threads is the CPU thread count; 0 means runtime.NumCPU().
	Threads int

	// FastMath relaxes floating point rules on Metal.
	FastMath bool
}

// GenerateResult is the output of one generation.
type GenerateResult struct {
	Image  *image.NRGBA
	Width  int
	Height int
	Seed   int64
}

// Pipeline is a text-to-image model loaded on one device.
type Pipeline interface {
	// Device returns the device the pipeline is bound to.
	Device() devices.Device

	// EnableAttentionSlicing computes attention in chunks to lower peak memory.
	EnableAttentionSlicing() error

	// Generate runs the full sampling loop and decodes one image.
	Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error)

	// Close releases the weights. Close is safe to call more than once.
	Close() error
}

// VAESlicer is implemented by pipelines that can decode batches one image at
// a time.
type VAESlicer interface {
	EnableVAESlicing() error
}

// VAETiler is implemented by pipelines whose VAE can decode in tiles.
type VAETiler interface {
	EnableVAETiling() error
}

// Loader constructs a Pipeline. LoadPipeline is the production Loader.
type Loader func(ctx context.Context, opts LoadOptions) (Pipeline, error)

// SDPipeline is a Pipeline backed by a stable-diffusion.cpp context.
type SDPipeline struct {
	mu     sync.Mutex
	sd     *SDContext
	device devices.Device
	flags  runtimeFlags
	closed bool
}

// runtimeFlags are the memory options passed to every native call.
type runtimeFlags struct {
	attentionSlicing bool
	vaeSlicing       bool
	vaeTiling        bool
}

var (
	_ Pipeline  = (*SDPipeline)(nil)
	_ VAESlicer = (*SDPipeline)(nil)
	_ VAETiler  = (*SDPipeline)(nil)
)

// LoadPipeline loads the model in opts.ModelDir onto opts.Device.
func LoadPipeline(ctx context.Context, opts LoadOptions) (Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sd, err := LoadModel(opts)
	if err != nil {
		return nil, err
	}

	return &SDPipeline{sd: sd, device: opts.Device}, nil
}

// Device implements Pipeline.
func (p *SDPipeline) Device() devices.Device {
	return p.device
}

// EnableAttentionSlicing implements Pipeline.
func (p *SDPipeline) EnableAttentionSlicing() error {
	return p.setFlag(func(f *runtimeFlags) { f.attentionSlicing = true })
}

// EnableVAESlicing implements VAESlicer.
func (p *SDPipeline) EnableVAESlicing() error {
	return p.setFlag(func(f *runtimeFlags) { f.vaeSlicing = true })
}

// EnableVAETiling implements VAETiler.
func (p *SDPipeline) EnableVAETiling() error {
	return p.setFlag(func(f *runtimeFlags) { f.vaeTiling = true })
}

func (p *SDPipeline) setFlag(set func(*runtimeFlags)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}
	set(&p.flags)
	return nil
}

// Generate implements Pipeline. The call is synchronous; ctx is only checked
// before the native sampling loop starts.
func (p *SDPipeline) Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPipelineClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := GenerateImage(p.sd, params, p.flags)
	if err != nil {
		return nil, fmt.Errorf("generate on %s: %w", p.device, err)
	}
	return result, nil
}

// Close implements Pipeline.
func (p *SDPipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	FreeContext(p.sd)
	return nil
}
