package sdruntime

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ModelFiles are the weight files of a model snapshot, per component.
// A single-file checkpoint sets only Checkpoint.
type ModelFiles struct {
	Checkpoint     string
	DiffusionModel string
	VAE            string
	TextEncoder    string
}

var weightExts = []string{".gguf", ".safetensors", ".ckpt"}

// component directories of a diffusers-style snapshot
var componentDirs = map[string]func(*ModelFiles, string){
	"transformer":  func(m *ModelFiles, p string) { m.DiffusionModel = p },
	"unet":         func(m *ModelFiles, p string) { m.DiffusionModel = p },
	"vae":          func(m *ModelFiles, p string) { m.VAE = p },
	"text_encoder": func(m *ModelFiles, p string) { m.TextEncoder = p },
}

// FindModelFiles locates the weights in a snapshot directory. Component
// directories win over a root checkpoint. Within a directory the first file in
// lexical order is taken, so sharded weights must be merged beforehand.
func FindModelFiles(dir string) (ModelFiles, error) {
	var files ModelFiles

	for name, set := range componentDirs {
		if p, ok := firstWeightFile(filepath.Join(dir, name)); ok {
			set(&files, p)
		}
	}
	if files.DiffusionModel != "" {
		return files, nil
	}

	if p, ok := firstWeightFile(dir); ok {
		files.Checkpoint = p
		return files, nil
	}

	return ModelFiles{}, fmt.Errorf("%w: no weight files (%s) in %s",
		ErrModelNotFound, strings.Join(weightExts, ", "), dir)
}

func firstWeightFile(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, w := range weightExts {
			if ext == w {
				names = append(names, e.Name())
				break
			}
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), true
}
