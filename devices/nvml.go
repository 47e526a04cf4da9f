//go:build cgo && (linux || windows)

package devices

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlProbe lists CUDA devices through the NVIDIA management library.
type nvmlProbe struct{}

func newNVMLProbe() CUDAProbe {
	return nvmlProbe{}
}

// ListGPUs implements CUDAProbe. It returns an error when libnvidia-ml
// cannot be loaded, which is the normal case on hosts without a driver.
func (nvmlProbe) ListGPUs() ([]GPUInfo, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml init: %s", nvml.ErrorString(ret))
	}
	defer nvml.Shutdown()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml device count: %s", nvml.ErrorString(ret))
	}

	gpus := make([]GPUInfo, 0, count)
	for i := 0; i < count; i++ {
		dev, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			continue
		}
		info := GPUInfo{Index: i}
		if name, ret := dev.GetName(); ret == nvml.SUCCESS {
			info.Name = name
		}
		if mem, ret := dev.GetMemoryInfo(); ret == nvml.SUCCESS {
			info.MemoryTotalMB = int64(mem.Total / (1024 * 1024))
		}
		gpus = append(gpus, info)
	}
	return gpus, nil
}
