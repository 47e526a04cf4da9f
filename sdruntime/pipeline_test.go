package sdruntime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"zimage_backend/devices"
)

func TestLoadPipeline_MissingDir(t *testing.T) {
	_, err := LoadPipeline(context.Background(), LoadOptions{
		ModelDir: filepath.Join(t.TempDir(), "missing"),
		Device:   devices.CPU,
	})
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got: %v", err)
	}
}

func TestLoadPipeline_EmptyDir(t *testing.T) {
	_, err := LoadPipeline(context.Background(), LoadOptions{Device: devices.CPU})
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got: %v", err)
	}
}

func TestLoadPipeline_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadPipeline(context.Background(), LoadOptions{ModelDir: path, Device: devices.CPU})
	if !errors.Is(err, ErrModelLoadFailed) {
		t.Errorf("expected ErrModelLoadFailed, got: %v", err)
	}
}

func TestLoadPipeline_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LoadPipeline(ctx, LoadOptions{ModelDir: t.TempDir(), Device: devices.CPU})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestSDPipeline_ClosedRejectsCalls(t *testing.T) {
	p := &SDPipeline{sd: &SDContext{id: 1, valid: true}, device: devices.CPU}

	if err := p.EnableAttentionSlicing(); err != nil {
		t.Fatalf("EnableAttentionSlicing: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got: %v", err)
	}
	if p.sd.IsValid() {
		t.Error("expected native context to be freed")
	}

	if err := p.EnableVAETiling(); !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("expected ErrPipelineClosed, got: %v", err)
	}
	_, err := p.Generate(context.Background(), validParams())
	if !errors.Is(err, ErrPipelineClosed) {
		t.Errorf("expected ErrPipelineClosed, got: %v", err)
	}
}

func TestSDPipeline_Flags(t *testing.T) {
	p := &SDPipeline{sd: &SDContext{id: 1, valid: true}, device: devices.Metal}
	_ = p.EnableAttentionSlicing()
	_ = p.EnableVAESlicing()
	_ = p.EnableVAETiling()

	want := runtimeFlags{attentionSlicing: true, vaeSlicing: true, vaeTiling: true}
	if p.flags != want {
		t.Errorf("flags = %+v, want %+v", p.flags, want)
	}
	if p.Device() != devices.Metal {
		t.Errorf("Device() = %s", p.Device())
	}
}

func TestSDPipeline_GenerateValidates(t *testing.T) {
	p := &SDPipeline{sd: &SDContext{id: 1, valid: true}, device: devices.CPU}
	params := validParams()
	params.Steps = 0

	_, err := p.Generate(context.Background(), params)
	if !errors.Is(err, ErrInvalidParams) {
		t.Errorf("expected ErrInvalidParams, got: %v", err)
	}
}
