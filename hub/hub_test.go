package hub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const testCommit = "0123456789abcdef0123456789abcdef01234567"

type fakeHub struct {
	t      *testing.T
	model  string
	files  map[string][]byte
	badSHA map[string]bool

	infoHits atomic.Int32
	mu       sync.Mutex
	ranges   []string
	fileHits map[string]int
	auth     string

	// cutAfter drops the connection after that many bytes on a file's first
	// request.
	cutAfter map[string]int
	noRanges bool
}

func newFakeHub(t *testing.T, model string, files map[string][]byte) (*fakeHub, *httptest.Server) {
	t.Helper()
	h := &fakeHub{t: t, model: model, files: files, badSHA: map[string]bool{}, fileHits: map[string]int{}, cutAfter: map[string]int{}}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, srv
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	infoPrefix := "/api/models/" + h.model + "/revision/"
	filePrefix := "/" + h.model + "/resolve/" + testCommit + "/"

	switch {
	case strings.HasPrefix(r.URL.Path, infoPrefix):
		h.infoHits.Add(1)
		h.mu.Lock()
		h.auth = r.Header.Get("Authorization")
		h.mu.Unlock()

		info := ModelInfo{ID: h.model, SHA: testCommit}
		for name, data := range h.files {
			sum := sha256.Sum256(data)
			sha := hex.EncodeToString(sum[:])
			if h.badSHA[name] {
				sha = strings.Repeat("0", 64)
			}
			info.Siblings = append(info.Siblings, Sibling{
				Filename: name,
				Size:     int64(len(data)),
				LFS:      &LFSInfo{SHA256: sha, Size: int64(len(data))},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(info)

	case strings.HasPrefix(r.URL.Path, filePrefix):
		name := strings.TrimPrefix(r.URL.Path, filePrefix)
		data, ok := h.files[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.mu.Lock()
		h.fileHits[name]++
		if rg := r.Header.Get("Range"); rg != "" {
			h.ranges = append(h.ranges, rg)
		}
		cut, first := h.cutAfter[name], h.fileHits[name] == 1
		h.mu.Unlock()
		if cut > 0 && first {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data[:cut])
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		if h.noRanges {
			r.Header.Del("Range")
		}
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))

	default:
		http.NotFound(w, r)
	}
}

func testClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithEndpoint(srv.URL),
		WithCacheDir(t.TempDir()),
		WithHTTPClient(srv.Client()),
		WithRetries(3, time.Millisecond),
		WithToken(""),
	}
	return NewClient(append(base, opts...)...)
}

func testFiles() map[string][]byte {
	return map[string][]byte{
		"model_index.json":                 []byte(`{"_class_name":"ZImagePipeline"}`),
		"transformer/model.safetensors":    bytes.Repeat([]byte("t"), 4096),
		"vae/diffusion_pytorch_model.gguf": bytes.Repeat([]byte("v"), 1024),
		"text_encoder/model.safetensors":   bytes.Repeat([]byte("e"), 2048),
	}
}

func TestModelInfo(t *testing.T) {
	h, srv := newFakeHub(t, "org/model", testFiles())
	c := testClient(t, srv, WithToken("hf_secret"))

	info, err := c.ModelInfo(context.Background(), "org/model", "")
	if err != nil {
		t.Fatalf("ModelInfo: %v", err)
	}
	if info.SHA != testCommit {
		t.Errorf("SHA = %q, want %q", info.SHA, testCommit)
	}
	if got, want := info.TotalSize(), int64(4096+1024+2048+len(testFiles()["model_index.json"])); got != want {
		t.Errorf("TotalSize = %d, want %d", got, want)
	}
	if h.auth != "Bearer hf_secret" {
		t.Errorf("Authorization = %q", h.auth)
	}
}

func TestModelInfoErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantErr  error
		wantHits int32
	}{
		{"not found", http.StatusNotFound, ErrNotFound, 1},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized, 1},
		{"forbidden", http.StatusForbidden, ErrUnauthorized, 1},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := testClient(t, srv)
			_, err := c.ModelInfo(context.Background(), "org/model", "main")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if hits.Load() != tt.wantHits {
				t.Errorf("hits = %d, want %d", hits.Load(), tt.wantHits)
			}
		})
	}
}

func TestModelInfoRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(ModelInfo{ID: "org/model", SHA: testCommit})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	info, err := c.ModelInfo(context.Background(), "org/model", "main")
	if err != nil {
		t.Fatalf("ModelInfo: %v", err)
	}
	if info.SHA != testCommit || hits.Load() != 2 {
		t.Errorf("SHA = %q hits = %d", info.SHA, hits.Load())
	}
}

func TestValidateModelID(t *testing.T) {
	for _, id := range []string{"", "model", "org/", "/model", "a/b/c", "org/.."} {
		if err := ValidateModelID(id); !errors.Is(err, ErrInvalidModelID) {
			t.Errorf("ValidateModelID(%q) = %v, want ErrInvalidModelID", id, err)
		}
	}
	if err := ValidateModelID("Tongyi-MAI/Z-Image-Turbo"); err != nil {
		t.Errorf("valid id rejected: %v", err)
	}
}

func TestSnapshot(t *testing.T) {
	files := testFiles()
	h, srv := newFakeHub(t, "org/model", files)

	var last Progress
	var mu sync.Mutex
	c := testClient(t, srv, WithProgress(func(p Progress) {
		mu.Lock()
		last = p
		mu.Unlock()
	}))

	res, err := c.Snapshot(context.Background(), "org/model", "main")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if res.Commit != testCommit || res.Files != len(files) || res.Downloaded != len(files) {
		t.Errorf("result = %+v", res)
	}
	wantDir := filepath.Join(c.CacheDir(), "models--org--model", "snapshots", testCommit)
	if res.Dir != wantDir {
		t.Errorf("Dir = %q, want %q", res.Dir, wantDir)
	}
	for name, data := range files {
		got, err := os.ReadFile(filepath.Join(res.Dir, filepath.FromSlash(name)))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("%s content mismatch", name)
		}
	}

	ref, err := os.ReadFile(filepath.Join(c.CacheDir(), "models--org--model", "refs", "main"))
	if err != nil || string(ref) != testCommit {
		t.Errorf("ref = %q, %v", ref, err)
	}
	if dir, ok := LocalSnapshot(c.CacheDir(), "org/model", "main"); !ok || dir != wantDir {
		t.Errorf("LocalSnapshot = %q, %v", dir, ok)
	}

	mu.Lock()
	if last.Downloaded != last.Total || last.Percent() != 100 {
		t.Errorf("final progress = %+v", last)
	}
	mu.Unlock()

	// a second pull finds everything cached
	res, err = c.Snapshot(context.Background(), "org/model", "main")
	if err != nil {
		t.Fatalf("second Snapshot: %v", err)
	}
	if res.Downloaded != 0 {
		t.Errorf("second Downloaded = %d, want 0", res.Downloaded)
	}
	for name, n := range h.fileHits {
		if n != 1 {
			t.Errorf("%s fetched %d times", name, n)
		}
	}
}

func TestSnapshotResumesPartialFile(t *testing.T) {
	files := map[string][]byte{"model.gguf": bytes.Repeat([]byte("0123456789"), 100)}
	h, srv := newFakeHub(t, "org/model", files)
	c := testClient(t, srv)

	dest := filepath.Join(SnapshotDir(c.CacheDir(), "org/model", testCommit), "model.gguf")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest+incompleteSuffix, files["model.gguf"][:300], 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Snapshot(context.Background(), "org/model", "main"); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if diff := cmp.Diff([]string{"bytes=300-"}, h.ranges); diff != "" {
		t.Errorf("range requests (-want +got):\n%s", diff)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, files["model.gguf"]) {
		t.Error("resumed file content mismatch")
	}
	if _, err := os.Stat(dest + incompleteSuffix); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}
}

func TestSnapshotRetryCountsBytesOnce(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 100)

	tests := []struct {
		name       string
		noRanges   bool
		wantRanges []string
	}{
		{name: "resumed with range", wantRanges: []string{"bytes=600-"}},
		{name: "server restarts from zero", noRanges: true, wantRanges: []string{"bytes=600-"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, srv := newFakeHub(t, "org/model", map[string][]byte{"model.gguf": data})
			h.cutAfter["model.gguf"] = 600
			h.noRanges = tt.noRanges

			var mu sync.Mutex
			var last Progress
			var peak int64
			c := testClient(t, srv, WithProgress(func(p Progress) {
				mu.Lock()
				defer mu.Unlock()
				last = p
				peak = max(peak, p.Downloaded)
			}))

			res, err := c.Snapshot(context.Background(), "org/model", "main")
			if err != nil {
				t.Fatalf("Snapshot: %v", err)
			}
			got, _ := os.ReadFile(filepath.Join(res.Dir, "model.gguf"))
			if !bytes.Equal(got, data) {
				t.Error("file content mismatch")
			}
			if h.fileHits["model.gguf"] != 2 {
				t.Errorf("file requests = %d, want 2", h.fileHits["model.gguf"])
			}
			if diff := cmp.Diff(tt.wantRanges, h.ranges); diff != "" {
				t.Errorf("range requests (-want +got):\n%s", diff)
			}

			mu.Lock()
			defer mu.Unlock()
			if last.Downloaded != int64(len(data)) || last.Total != int64(len(data)) {
				t.Errorf("final progress = %d/%d, want %d/%d", last.Downloaded, last.Total, len(data), len(data))
			}
			if peak > int64(len(data)) {
				t.Errorf("progress peaked at %d of %d bytes", peak, len(data))
			}
		})
	}
}

func TestProgressTrackerSet(t *testing.T) {
	tr := newProgressTracker(1000, nil)
	tr.add("a", 600)
	tr.set("a", 600)
	if tr.downloaded != 600 {
		t.Errorf("after resume at 600: downloaded = %d", tr.downloaded)
	}
	tr.add("b", 100)
	tr.set("a", 0)
	if tr.downloaded != 100 {
		t.Errorf("after restart of a: downloaded = %d, want 100", tr.downloaded)
	}
	tr.add("a", 900)
	if tr.downloaded != 1000 {
		t.Errorf("downloaded = %d, want 1000", tr.downloaded)
	}
}

func TestSnapshotCompletePartialFile(t *testing.T) {
	data := []byte("complete already")
	files := map[string][]byte{"config.json": data}
	_, srv := newFakeHub(t, "org/model", files)
	c := testClient(t, srv)

	dest := filepath.Join(SnapshotDir(c.CacheDir(), "org/model", testCommit), "config.json")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest+incompleteSuffix, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Snapshot(context.Background(), "org/model", "main"); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Errorf("content = %q", got)
	}
}

func TestSnapshotChecksumMismatch(t *testing.T) {
	files := map[string][]byte{"model.gguf": []byte("corrupt weights")}
	h, srv := newFakeHub(t, "org/model", files)
	h.badSHA["model.gguf"] = true
	c := testClient(t, srv)

	_, err := c.Snapshot(context.Background(), "org/model", "main")
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want ErrChecksumMismatch", err)
	}
	if h.fileHits["model.gguf"] != 1 {
		t.Errorf("checksum failure retried: %d hits", h.fileHits["model.gguf"])
	}
	dir := SnapshotDir(c.CacheDir(), "org/model", testCommit)
	if _, err := os.Stat(filepath.Join(dir, "model.gguf"+incompleteSuffix)); !os.IsNotExist(err) {
		t.Error("corrupt partial file kept")
	}
	if _, ok := LocalSnapshot(c.CacheDir(), "org/model", "main"); ok {
		t.Error("failed snapshot marked complete")
	}
}

func TestSnapshotRejectsEscapingPaths(t *testing.T) {
	files := map[string][]byte{"../evil.bin": []byte("x")}
	_, srv := newFakeHub(t, "org/model", files)
	c := testClient(t, srv)

	if _, err := c.Snapshot(context.Background(), "org/model", "main"); err == nil {
		t.Fatal("expected error for path outside snapshot")
	}
}

func TestResolver(t *testing.T) {
	_, srv := newFakeHub(t, "org/model", testFiles())

	t.Run("local directory", func(t *testing.T) {
		dir := t.TempDir()
		r := &Resolver{Client: testClient(t, srv), ModelID: dir}
		got, err := r.Resolve(context.Background())
		if err != nil || got != dir {
			t.Errorf("Resolve = %q, %v", got, err)
		}
	})

	t.Run("not cached", func(t *testing.T) {
		r := &Resolver{Client: testClient(t, srv), ModelID: "org/model"}
		_, err := r.Resolve(context.Background())
		if !IsNotCached(err) {
			t.Errorf("err = %v, want ErrNotCached", err)
		}
	})

	t.Run("auto pull", func(t *testing.T) {
		c := testClient(t, srv)
		r := &Resolver{Client: c, ModelID: "org/model", AutoPull: true}
		got, err := r.Resolve(context.Background())
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if want := SnapshotDir(c.CacheDir(), "org/model", testCommit); got != want {
			t.Errorf("Resolve = %q, want %q", got, want)
		}

		// cached now, no pull needed
		r.AutoPull = false
		if again, err := r.Resolve(context.Background()); err != nil || again != got {
			t.Errorf("cached Resolve = %q, %v", again, err)
		}
	})
}
