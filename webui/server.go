// Package webui serves the local generation page and its JSON API.
//
// The page is embedded in the binary. It posts generation requests to
// /api/generate, fetches preset dimensions from /api/dimensions, and listens
// on /ws for pipeline and generation status events.
package webui

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"zimage_backend/aspect"
	"zimage_backend/db"
	"zimage_backend/devices"
	"zimage_backend/imagegen"
	"zimage_backend/metrics"
	"zimage_backend/webui/static"
)

// Generator produces one image. *imagegen.Service implements it.
type Generator interface {
	Generate(ctx context.Context, req imagegen.Request) (*imagegen.Result, error)
}

// History lists stored generations. *db.Database implements it.
type History interface {
	RecentGenerations(ctx context.Context, limit int) ([]db.Generation, error)
	GetGeneration(ctx context.Context, id string) (db.Generation, error)
}

// Pipeline reports which device holds the loaded model.
// *pipeline.Cache implements it.
type Pipeline interface {
	Current() (devices.Device, bool)
}

// Operations tracks in-flight work for graceful shutdown.
// *shutdown.Manager implements it.
type Operations interface {
	WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error
}

// Stats reports runtime statistics. *metrics.Store implements it.
type Stats interface {
	Snapshot(recent int) metrics.Snapshot
}

// ServerConfig configures the Server.
type ServerConfig struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// ModelID is shown on the page.
	ModelID string
	// MaxSize caps the height and width sliders.
	MaxSize int
	// Devices are offered in the dropdown; the first is the default.
	Devices []devices.Device
	// OutputDir is served under /outputs/ when set.
	OutputDir string

	// Password enables HTTP basic auth for everything but /health.
	Password string
	// AuthCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	AuthCost int

	LogSkipPaths []string
	Static       StaticAssetConfig
	Broadcaster  BroadcasterConfig
}

// DefaultServerConfig returns a ServerConfig with the usual local defaults.
// WriteTimeout is zero because a CPU generation can take minutes.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         7860,
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second,
		MaxSize:      aspect.DefaultMaxSize,
		Devices:      []devices.Device{devices.CPU},
		LogSkipPaths: []string{"/health"},
		Static:       DefaultStaticAssetConfig(),
		Broadcaster:  DefaultBroadcasterConfig(),
	}
}

// Deps are the collaborators behind the API. Generator is required.
type Deps struct {
	Generator  Generator
	History    History
	Operations Operations
	Stats      Stats
	Pipeline   Pipeline
	Assets     fs.FS
	Logger     *zap.Logger
}

// Server is the web UI HTTP server.
type Server struct {
	cfg         ServerConfig
	deps        Deps
	logger      *zap.Logger
	mux         *http.ServeMux
	httpServer  *http.Server
	broadcaster *Broadcaster
	static      *StaticAssetHandler
	auth        *BasicAuth
}

// NewServer wires the routes and middleware.
func NewServer(cfg ServerConfig, deps Deps) (*Server, error) {
	if deps.Generator == nil {
		return nil, errors.New("webui: generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Assets == nil {
		deps.Assets = static.FS()
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = aspect.DefaultMaxSize
	}
	if len(cfg.Devices) == 0 {
		cfg.Devices = []devices.Device{devices.CPU}
	}

	s := &Server{
		cfg:         cfg,
		deps:        deps,
		logger:      deps.Logger.Named("webui"),
		mux:         http.NewServeMux(),
		broadcaster: NewBroadcaster(cfg.Broadcaster, deps.Logger),
		static:      NewStaticAssetHandler(deps.Assets, cfg.Static),
	}
	if cfg.Password != "" {
		auth, err := NewBasicAuth("zimage", cfg.Password, cfg.AuthCost, deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("webui: auth: %w", err)
		}
		s.auth = auth
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.static.ServeIndex)
	s.static.RegisterRoutes(s.mux)

	s.mux.HandleFunc("GET /api/config", s.handleConfig)
	s.mux.HandleFunc("GET /api/dimensions", s.handleDimensions)
	s.mux.HandleFunc("POST /api/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/history/{id}", s.handleGeneration)
	s.mux.HandleFunc("GET /ws", s.broadcaster.HandleConnection)
	if s.deps.Stats != nil {
		s.mux.HandleFunc("GET /api/stats", s.handleStats)
	}

	if s.cfg.OutputDir != "" {
		files := http.FileServerFS(noListingFS{os.DirFS(s.cfg.OutputDir)})
		s.mux.Handle("GET /outputs/", http.StripPrefix("/outputs", files))
	}
}

// Handler returns the routed handler wrapped in request logging and, when a
// password is set, basic auth.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.auth != nil {
		h = s.auth.Middleware(h)
	}
	return NewLoggingMiddleware(s.deps.Logger, s.cfg.LogSkipPaths...).Handler(h)
}

// HTTPServer exposes the underlying server for shutdown registration.
func (s *Server) HTTPServer() *http.Server { return s.httpServer }

// Broadcaster returns the websocket broadcaster; pass it to imagegen as the
// event publisher.
func (s *Server) Broadcaster() *Broadcaster { return s.broadcaster }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start runs the broadcaster and serves until the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.broadcaster.Start(ctx)

	s.logger.Info("web UI listening", zap.String("url", "http://"+ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and disconnects
// websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.broadcaster.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("web UI stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"clients": s.broadcaster.ClientCount(),
	}
	if s.deps.Pipeline != nil {
		if d, ok := s.deps.Pipeline.Current(); ok {
			body["device"] = d.String()
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// noListingFS refuses to open directories so /outputs/ never lists files.
type noListingFS struct{ fs.FS }

func (n noListingFS) Open(name string) (fs.File, error) {
	f, err := n.FS.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return f, nil
}
