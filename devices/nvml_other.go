//go:build !cgo || !(linux || windows)

package devices

// NVML needs cgo; other builds rely on the nvidia-smi probe.
func newNVMLProbe() CUDAProbe {
	return nil
}
