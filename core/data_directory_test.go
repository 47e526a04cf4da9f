package core

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestGetDataDirectory_PlatformAppropriate(t *testing.T) {
	t.Setenv(EnvDataDir, "")
	dir := GetDataDirectory()
	if dir == "" {
		t.Fatal("GetDataDirectory() returned empty string")
	}

	switch runtime.GOOS {
	case "windows":
		if !strings.Contains(dir, AppName) {
			t.Errorf("Windows path %q should contain %q", dir, AppName)
		}
	default:
		if !strings.HasSuffix(dir, ".zimage") {
			t.Errorf("Unix path %q should end with .zimage", dir)
		}
	}
}

func TestGetDataDirectory_Override(t *testing.T) {
	want := t.TempDir()
	t.Setenv(EnvDataDir, want)
	if got := GetDataDirectory(); got != want {
		t.Errorf("GetDataDirectory() = %q, want %q", got, want)
	}
	if got := GetDataFilePath("history.db"); got != filepath.Join(want, "history.db") {
		t.Errorf("GetDataFilePath() = %q", got)
	}
}

func TestEnsureDataDirectory(t *testing.T) {
	want := filepath.Join(t.TempDir(), "nested", "data")
	t.Setenv(EnvDataDir, want)

	dir, err := EnsureDataDirectory()
	if err != nil {
		t.Fatalf("EnsureDataDirectory: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("%s not created: %v", dir, err)
	}
}
