package sdruntime

import (
	"fmt"

	"zimage_backend/devices"
)

// Precision is the numeric type the model weights are computed in.
type Precision int

const (
	PrecisionFloat32 Precision = iota
	PrecisionFloat16
)

func (p Precision) String() string {
	switch p {
	case PrecisionFloat16:
		return "float16"
	default:
		return "float32"
	}
}

// PrecisionFor returns the compute precision used on a device.
// CUDA runs in half precision; Metal and CPU stay in full precision.
func PrecisionFor(d devices.Device) Precision {
	if d == devices.CUDA {
		return PrecisionFloat16
	}
	return PrecisionFloat32
}

// RNG selects the noise generator a seed is fed to.
type RNG int

const (
	// RNGStd is the host generator, identical on CPU and Metal.
	RNGStd RNG = iota
	// RNGCUDA is the Philox generator matching CUDA device generators.
	RNGCUDA
)

func (r RNG) String() string {
	if r == RNGCUDA {
		return "cuda"
	}
	return "std"
}

// RNGFor returns the generator that matches a device.
func RNGFor(d devices.Device) RNG {
	if d == devices.CUDA {
		return RNGCUDA
	}
	return RNGStd
}

// GenerateParams holds the arguments of a single text-to-image call.
type GenerateParams struct {
	Prompt         string  // text description of the image
	NegativePrompt string  // ignored when GuidanceScale is 0
	Width          int     // pixels, multiple of ImageSizeMultiple
	Height         int     // pixels, multiple of ImageSizeMultiple
	Steps          int     // denoising steps
	GuidanceScale  float64 // 0 disables classifier-free guidance
	Seed           int64   // must already be resolved; see RandomSeed
	RNG            RNG
}

// Parameter limits enforced at the native boundary.
const (
	MinImageSize      = 64
	MaxImageSize      = 2048
	ImageSizeMultiple = 16

	MinSteps = 1
	MaxSteps = 100

	MinGuidanceScale = 0.0
	MaxGuidanceScale = 30.0

	MaxPromptLength = 4000
)

// ValidateParams checks params against the limits the native runtime accepts.
func ValidateParams(p GenerateParams) error {
	if err := ValidatePrompt(p.Prompt); err != nil {
		return err
	}
	if err := ValidatePrompt(p.NegativePrompt); err != nil {
		return fmt.Errorf("negative prompt: %w", err)
	}

	if err := validateSide("width", p.Width); err != nil {
		return err
	}
	if err := validateSide("height", p.Height); err != nil {
		return err
	}

	if p.Steps < MinSteps || p.Steps > MaxSteps {
		return fmt.Errorf("%w: steps %d must be between %d and %d",
			ErrInvalidParams, p.Steps, MinSteps, MaxSteps)
	}

	if p.GuidanceScale < MinGuidanceScale || p.GuidanceScale > MaxGuidanceScale {
		return fmt.Errorf("%w: guidance scale %.2f must be between %.1f and %.1f",
			ErrInvalidParams, p.GuidanceScale, MinGuidanceScale, MaxGuidanceScale)
	}

	if p.Seed < 0 || p.Seed > MaxSeed {
		return fmt.Errorf("%w: seed %d must be between 0 and %d", ErrInvalidParams, p.Seed, int64(MaxSeed))
	}

	return nil
}

func validateSide(name string, v int) error {
	if v < MinImageSize || v > MaxImageSize {
		return fmt.Errorf("%w: %s %d must be between %d and %d",
			ErrInvalidParams, name, v, MinImageSize, MaxImageSize)
	}
	if v%ImageSizeMultiple != 0 {
		return fmt.Errorf("%w: %s %d must be divisible by %d",
			ErrInvalidParams, name, v, ImageSizeMultiple)
	}
	return nil
}
