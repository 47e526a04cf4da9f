package main

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"zimage_backend/core"
	"zimage_backend/devices"
	"zimage_backend/hub"
	"zimage_backend/logging"
	"zimage_backend/metrics"
	"zimage_backend/pipeline"
	"zimage_backend/sdruntime"
)

// app holds what every command shares. cfg and log are loaded lazily so
// tests can inject them.
type app struct {
	cfg *core.Config
	log *logging.Logger

	out    io.Writer
	errOut io.Writer

	detect    func() []devices.Device
	gpus      func() []devices.GPUInfo
	gpuReader metrics.GPUReader
	loader    sdruntime.Loader

	envErr  error
	proxies []string
}

func newApp(out, errOut io.Writer) *app {
	det := devices.NewDetector()
	return &app{
		out:       out,
		errOut:    errOut,
		detect:    det.Detect,
		gpus:      det.GPUs,
		gpuReader: metrics.NewSMIReader(""),
		loader:    sdruntime.LoadPipeline,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "zimage",
		Short:         "Generate images locally with Z-Image Turbo",
		Version:       core.GetVersionInfo(),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.AddCommand(
		newGenerateCmd(a),
		newServeCmd(a),
		newDevicesCmd(a),
		newRatiosCmd(a),
		newHistoryCmd(a),
		newPullCmd(a),
		newServiceCmd(a),
	)
	return root
}

func (a *app) init() error {
	if a.cfg == nil {
		cfg, err := core.LoadConfig()
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.log == nil {
		log, err := newLogger(a.cfg)
		if err != nil {
			return err
		}
		a.log = log
	}

	switch {
	case a.envErr == nil:
		a.log.Debug("loaded .env")
	case errors.Is(a.envErr, fs.ErrNotExist):
		a.log.Debug("no .env file")
	default:
		a.log.Warn("failed to load .env", zap.Error(a.envErr))
	}
	if len(a.proxies) > 0 {
		a.log.Debug("proxy variables applied", zap.Strings("vars", a.proxies))
	}
	return nil
}

func (a *app) close() {
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func newLogger(cfg *core.Config) (*logging.Logger, error) {
	opts := logging.Options{Development: cfg.DevMode}
	if cfg.LogLevel != "" {
		def := zapcore.InfoLevel
		if cfg.DevMode {
			def = zapcore.DebugLevel
		}
		level := logging.ParseLogLevelString(cfg.LogLevel, def)
		opts.Level = &level
	}
	if cfg.LogFile != "" {
		opts.FilePath = cfg.LogFile
		if !filepath.IsAbs(cfg.LogFile) {
			opts.FilePath = filepath.Join(cfg.DataDir, cfg.LogFile)
		}
	}
	return logging.NewLogger(opts)
}

// devices returns the detected devices with the configured preference moved
// to the front.
func (a *app) devices() []devices.Device {
	list := a.detect()
	pref, ok := a.cfg.PreferredDevice()
	if !ok {
		return list
	}
	i := slices.Index(list, pref)
	if i < 0 {
		a.log.Warn("configured device not detected, ignoring", zap.String("device", pref.String()))
		return list
	}
	return append([]devices.Device{pref}, slices.Delete(slices.Clone(list), i, i+1)...)
}

func (a *app) hubClient(progress func(hub.Progress)) *hub.Client {
	opts := []hub.Option{
		hub.WithToken(a.cfg.HFToken),
		hub.WithLogger(a.log.Zap()),
	}
	if a.cfg.HFEndpoint != "" {
		opts = append(opts, hub.WithEndpoint(a.cfg.HFEndpoint))
	}
	if a.cfg.HFCacheDir != "" {
		opts = append(opts, hub.WithCacheDir(a.cfg.HFCacheDir))
	}
	if progress != nil {
		opts = append(opts, hub.WithProgress(progress))
	}
	return hub.NewClient(opts...)
}

func (a *app) pipelineCache(hooks pipeline.Hooks, available []devices.Device) *pipeline.Cache {
	resolver := &hub.Resolver{
		Client:   a.hubClient(nil),
		ModelID:  a.cfg.ModelID,
		Revision: a.cfg.ModelRevision,
		AutoPull: a.cfg.AutoPull,
		Logger:   a.log.Zap(),
	}
	return pipeline.NewCache(a.loader, resolver,
		pipeline.WithLogger(a.log.Zap()),
		pipeline.WithModelID(a.cfg.ModelID),
		pipeline.WithThreads(a.cfg.Threads),
		pipeline.WithMetalFastMath(a.cfg.MetalFastMath),
		pipeline.WithCUDAAvailable(devices.Contains(available, devices.CUDA)),
		pipeline.WithHooks(hooks),
	)
}
