package sdruntime

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFindModelFiles_Components(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "transformer", "diffusion_pytorch_model.safetensors"))
	touch(t, filepath.Join(dir, "transformer", "config.json"))
	touch(t, filepath.Join(dir, "vae", "diffusion_pytorch_model.safetensors"))
	touch(t, filepath.Join(dir, "text_encoder", "model-00001.safetensors"))
	touch(t, filepath.Join(dir, "text_encoder", "model-00002.safetensors"))

	files, err := FindModelFiles(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if files.Checkpoint != "" {
		t.Errorf("expected no checkpoint, got %s", files.Checkpoint)
	}
	if filepath.Base(filepath.Dir(files.DiffusionModel)) != "transformer" {
		t.Errorf("DiffusionModel = %s", files.DiffusionModel)
	}
	if filepath.Base(files.TextEncoder) != "model-00001.safetensors" {
		t.Errorf("TextEncoder = %s, want first shard", files.TextEncoder)
	}
	if files.VAE == "" {
		t.Error("expected VAE to be found")
	}
}

func TestFindModelFiles_SingleCheckpoint(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "z-image-turbo-q4.gguf"))

	files, err := FindModelFiles(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(files.Checkpoint) != "z-image-turbo-q4.gguf" {
		t.Errorf("Checkpoint = %s", files.Checkpoint)
	}
}

func TestFindModelFiles_Empty(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "README.md"))

	if _, err := FindModelFiles(dir); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got: %v", err)
	}
}
