package webui

import (
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
)

// StaticAssetHandler serves the embedded page assets.
type StaticAssetHandler struct {
	fs          fs.FS
	prefix      string
	indexFile   string
	cacheMaxAge int
}

// StaticAssetConfig configures a StaticAssetHandler.
type StaticAssetConfig struct {
	// Prefix is the URL prefix for assets (default "/static").
	Prefix string
	// IndexFile is served for the root and directory paths (default "index.html").
	IndexFile string
	// CacheMaxAge in seconds; zero disables caching.
	CacheMaxAge int
}

// DefaultStaticAssetConfig returns the configuration used by the server.
func DefaultStaticAssetConfig() StaticAssetConfig {
	return StaticAssetConfig{
		Prefix:      "/static",
		IndexFile:   "index.html",
		CacheMaxAge: 3600,
	}
}

// NewStaticAssetHandler serves files from fsys.
func NewStaticAssetHandler(fsys fs.FS, cfg StaticAssetConfig) *StaticAssetHandler {
	if cfg.Prefix == "" {
		cfg.Prefix = "/static"
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = "index.html"
	}
	return &StaticAssetHandler{
		fs:          fsys,
		prefix:      strings.TrimSuffix(cfg.Prefix, "/"),
		indexFile:   cfg.IndexFile,
		cacheMaxAge: cfg.CacheMaxAge,
	}
}

// ServeHTTP serves the asset named by the path below the prefix.
func (h *StaticAssetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, h.prefix)
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" {
		name = h.indexFile
	}
	h.serveFile(w, r, name, h.cacheMaxAge)
}

// ServeIndex serves the index page without caching, so a rebuilt binary is
// picked up on reload.
func (h *StaticAssetHandler) ServeIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	h.serveFile(w, r, h.indexFile, 0)
}

// RegisterRoutes mounts the handler under its prefix.
func (h *StaticAssetHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET "+h.prefix+"/", h)
}

func (h *StaticAssetHandler) serveFile(w http.ResponseWriter, r *http.Request, name string, maxAge int) {
	data, err := fs.ReadFile(h.fs, name)
	if err != nil {
		// Directories fail ReadFile; try their index.
		data, err = fs.ReadFile(h.fs, path.Join(name, h.indexFile))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		name = path.Join(name, h.indexFile)
	}

	w.Header().Set("Content-Type", contentTypeFor(name))
	if maxAge > 0 {
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAge))
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

func contentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "text/javascript; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
