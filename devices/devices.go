// Package devices detects the compute devices an image pipeline can run on.
//
// Detection order is also preference order: Metal (Apple Silicon), then
// CUDA, then CPU, which is always available.
package devices

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Device names a compute backend.
type Device string

// Known devices.
const (
	Metal Device = "mps"
	CUDA  Device = "cuda"
	CPU   Device = "cpu"
)

// ErrUnknownDevice is returned by Parse for names that are not a Device.
var ErrUnknownDevice = errors.New("devices: unknown device")

func (d Device) String() string { return string(d) }

// IsAccelerator reports whether d is a GPU backend.
func (d Device) IsAccelerator() bool {
	return d == Metal || d == CUDA
}

// Parse converts a user-supplied name to a Device. Matching is case-insensitive
// and accepts "metal" as an alias for "mps".
func Parse(s string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mps", "metal":
		return Metal, nil
	case "cuda", "gpu":
		return CUDA, nil
	case "cpu":
		return CPU, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDevice, s)
	}
}

// GPUInfo describes one CUDA device found during detection.
type GPUInfo struct {
	Index         int    `json:"index" yaml:"index"`
	Name          string `json:"name" yaml:"name"`
	MemoryTotalMB int64  `json:"memory_total_mb" yaml:"memory_total_mb"`
}

// CUDAProbe lists the CUDA devices visible to the process.
// An error or an empty list means CUDA is not usable.
type CUDAProbe interface {
	ListGPUs() ([]GPUInfo, error)
}

// Detector probes the host for usable devices.
type Detector struct {
	// MetalAvailable reports whether the Metal backend can be used.
	MetalAvailable func() bool

	// CUDA probes are tried in order; the first one returning GPUs wins.
	CUDA []CUDAProbe
}

// NewDetector returns a Detector wired to the host: Metal on darwin/arm64,
// CUDA through NVML when built with cgo, then nvidia-smi.
func NewDetector() *Detector {
	probes := []CUDAProbe{}
	if p := newNVMLProbe(); p != nil {
		probes = append(probes, p)
	}
	probes = append(probes, NewSMIProbe(""))

	return &Detector{
		MetalAvailable: hostHasMetal,
		CUDA:           probes,
	}
}

func hostHasMetal() bool {
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}

// Detect returns the usable devices in preference order. CPU is always last.
func (d *Detector) Detect() []Device {
	var out []Device
	if d.MetalAvailable != nil && d.MetalAvailable() {
		out = append(out, Metal)
	}
	if len(d.GPUs()) > 0 {
		out = append(out, CUDA)
	}
	return append(out, CPU)
}

// GPUs returns the CUDA devices reported by the first successful probe.
func (d *Detector) GPUs() []GPUInfo {
	for _, p := range d.CUDA {
		gpus, err := p.ListGPUs()
		if err == nil && len(gpus) > 0 {
			return gpus
		}
	}
	return nil
}

// Detect runs a host Detector.
func Detect() []Device {
	return NewDetector().Detect()
}

// Default returns the preferred device of a detected list, or CPU when empty.
func Default(list []Device) Device {
	if len(list) == 0 {
		return CPU
	}
	return list[0]
}

// Contains reports whether d is in list.
func Contains(list []Device, d Device) bool {
	for _, x := range list {
		if x == d {
			return true
		}
	}
	return false
}
