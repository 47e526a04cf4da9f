package hub

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCacheDir(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"hub cache wins", map[string]string{EnvHubCache: "/a", EnvHome: "/b", EnvXDGCache: "/c"}, "/a"},
		{"hf home", map[string]string{EnvHome: "/b", EnvXDGCache: "/c"}, filepath.Join("/b", "hub")},
		{"xdg cache", map[string]string{EnvXDGCache: "/c"}, filepath.Join("/c", "huggingface", "hub")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{EnvHubCache, EnvHome, EnvXDGCache} {
				t.Setenv(k, tt.env[k])
			}
			if got := DefaultCacheDir(); got != tt.want {
				t.Errorf("DefaultCacheDir() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRepoFolderName(t *testing.T) {
	if got := RepoFolderName("Tongyi-MAI/Z-Image-Turbo"); got != "models--Tongyi-MAI--Z-Image-Turbo" {
		t.Errorf("RepoFolderName = %q", got)
	}
}

func TestLocalSnapshot(t *testing.T) {
	cache := t.TempDir()
	dir := SnapshotDir(cache, "org/model", testCommit)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	if _, ok := LocalSnapshot(cache, "org/model", testCommit); ok {
		t.Error("snapshot without marker reported complete")
	}
	if err := os.WriteFile(filepath.Join(dir, completeMarker), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if got, ok := LocalSnapshot(cache, "org/model", testCommit); !ok || got != dir {
		t.Errorf("by commit = %q, %v", got, ok)
	}
	if _, ok := LocalSnapshot(cache, "org/model", "main"); ok {
		t.Error("branch without ref resolved")
	}

	ref := filepath.Join(cache, "models--org--model", "refs", "main")
	if err := os.MkdirAll(filepath.Dir(ref), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ref, []byte(testCommit+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, ok := LocalSnapshot(cache, "org/model", "main"); !ok || got != dir {
		t.Errorf("by ref = %q, %v", got, ok)
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header            string
		start, end, total int64
		wantErr           bool
	}{
		{"bytes 0-99/1000", 0, 99, 1000, false},
		{"bytes 300-999/1000", 300, 999, 1000, false},
		{"bytes 5-9/*", 5, 9, -1, false},
		{"", 0, 0, 0, true},
		{"items 0-1/2", 0, 0, 0, true},
	}
	for _, tt := range tests {
		start, end, total, err := parseContentRange(tt.header)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseContentRange(%q) err = %v", tt.header, err)
			continue
		}
		if !tt.wantErr && (start != tt.start || end != tt.end || total != tt.total) {
			t.Errorf("parseContentRange(%q) = %d,%d,%d", tt.header, start, end, total)
		}
	}
	if got := rangeFrom(300); got != "bytes=300-" {
		t.Errorf("rangeFrom = %q", got)
	}
}

func TestProgressPercent(t *testing.T) {
	if p := (Progress{Downloaded: 5, Total: 10}).Percent(); p != 50 {
		t.Errorf("Percent = %v", p)
	}
	if p := (Progress{Downloaded: 5}).Percent(); p != -1 {
		t.Errorf("unknown total Percent = %v", p)
	}
}
