//go:build !sd || !cgo

package sdruntime

import (
	"context"
	"errors"
	"strings"
	"testing"

	"zimage_backend/devices"
)

func TestStub_LoadAndGenerate(t *testing.T) {
	p, err := LoadPipeline(context.Background(), LoadOptions{ModelDir: t.TempDir(), Device: devices.CPU})
	if err != nil {
		t.Fatalf("stub load should succeed, got: %v", err)
	}
	defer p.Close()

	_, err = p.Generate(context.Background(), validParams())
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("expected ErrGenerationFailed from stub, got: %v", err)
	}
	if !strings.Contains(err.Error(), "generate on cpu") {
		t.Errorf("expected device in error, got: %v", err)
	}
}

func TestStub_BackendInfo(t *testing.T) {
	if !strings.Contains(BackendInfo(), "stub") {
		t.Errorf("BackendInfo() = %q", BackendInfo())
	}
	ClearDeviceCache(devices.CUDA)
}

func TestFreeContext_Nil(t *testing.T) {
	FreeContext(nil)
	var c *SDContext
	if c.IsValid() {
		t.Error("nil context should not be valid")
	}
	if c.ModelDir() != "" {
		t.Error("nil context should have no model dir")
	}
}
