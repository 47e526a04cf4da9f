package webui

import (
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"zimage_backend/webui/static"
)

func TestStaticAssetHandler_ServeHTTP(t *testing.T) {
	h := NewStaticAssetHandler(testAssets, DefaultStaticAssetConfig())

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
		wantCache  string
	}{
		{"css", http.MethodGet, "/static/css/app.css", http.StatusOK, "body{}", "public, max-age=3600"},
		{"prefix root serves index", http.MethodGet, "/static/", http.StatusOK, "<html>zimage</html>", "public, max-age=3600"},
		{"traversal is cleaned", http.MethodGet, "/static/../../js/app.js", http.StatusOK, "console.log(1)", ""},
		{"directory without index", http.MethodGet, "/static/js", http.StatusNotFound, "", ""},
		{"head has no body", http.MethodHead, "/static/css/app.css", http.StatusOK, "", ""},
		{"post rejected", http.MethodPost, "/static/css/app.css", http.StatusMethodNotAllowed, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q", rec.Body.String())
			}
			if tt.method == http.MethodHead && rec.Body.Len() != 0 {
				t.Errorf("HEAD body = %q", rec.Body.String())
			}
			if tt.wantCache != "" && rec.Header().Get("Cache-Control") != tt.wantCache {
				t.Errorf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
			}
		})
	}
}

func TestStaticAssetHandler_ServeIndexNoCache(t *testing.T) {
	h := NewStaticAssetHandler(testAssets, DefaultStaticAssetConfig())
	rec := httptest.NewRecorder()
	h.ServeIndex(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Cache-Control") != "no-cache" {
		t.Errorf("status = %d, Cache-Control = %q", rec.Code, rec.Header().Get("Cache-Control"))
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := map[string]string{
		"index.html":  "text/html; charset=utf-8",
		"app.css":     "text/css; charset=utf-8",
		"app.JS":      "text/javascript; charset=utf-8",
		"icon.svg":    "image/svg+xml",
		"image.png":   "image/png",
		"blob.zimage": "application/octet-stream",
	}
	for name, want := range tests {
		if got := contentTypeFor(name); got != want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestEmbeddedPage(t *testing.T) {
	page, err := fs.ReadFile(static.FS(), "index.html")
	if err != nil {
		t.Fatalf("index.html: %v", err)
	}
	for _, want := range []string{`id="aspect_radio"`, "Generation Info", "/static/js/app.js", "/static/css/app.css"} {
		if !strings.Contains(string(page), want) {
			t.Errorf("index.html missing %q", want)
		}
	}
	for _, name := range []string{"css/app.css", "js/app.js"} {
		if _, err := fs.Stat(static.FS(), name); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}
