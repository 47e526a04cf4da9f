package devices

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SMIProbe lists CUDA devices by running nvidia-smi.
type SMIProbe struct {
	path string
	run  func(path string, args ...string) ([]byte, error)
}

// NewSMIProbe returns a probe using the nvidia-smi executable at path.
// An empty path relies on PATH lookup.
func NewSMIProbe(path string) *SMIProbe {
	if path == "" {
		path = "nvidia-smi"
	}
	return &SMIProbe{path: path, run: runCommand}
}

func runCommand(path string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("nvidia-smi failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// ListGPUs implements CUDAProbe.
func (p *SMIProbe) ListGPUs() ([]GPUInfo, error) {
	out, err := p.run(p.path,
		"--query-gpu=index,name,memory.total",
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		return nil, err
	}
	return parseSMIOutput(out)
}

// parseSMIOutput parses "index, name, memory.total" CSV rows.
func parseSMIOutput(data []byte) ([]GPUInfo, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse nvidia-smi output: %w", err)
	}

	gpus := make([]GPUInfo, 0, len(records))
	for _, rec := range records {
		if len(rec) < 3 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("parse gpu index %q: %w", rec[0], err)
		}
		mem, _ := strconv.ParseInt(strings.TrimSpace(rec[2]), 10, 64)
		gpus = append(gpus, GPUInfo{
			Index:         idx,
			Name:          strings.TrimSpace(rec[1]),
			MemoryTotalMB: mem,
		})
	}
	return gpus, nil
}
