package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"zimage_backend/core"
	"zimage_backend/db"
	"zimage_backend/devices"
	"zimage_backend/imagegen"
	"zimage_backend/metrics"
	"zimage_backend/pipeline"
	"zimage_backend/shutdown"
	"zimage_backend/webui"
)

// recorderDrainTimeout bounds how long queued history writes may delay exit.
const recorderDrainTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("host") {
				a.cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Port = port
			}
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen host (WEBUI_HOST)")
	cmd.Flags().IntVar(&port, "port", 7860, "listen port (WEBUI_PORT)")
	return cmd
}

// serveStack is everything the web UI runs on, registered for ordered
// cleanup with a shutdown manager.
type serveStack struct {
	server   *webui.Server
	cache    *pipeline.Cache
	store    *db.Database
	recorder *db.AsyncRecorder
	stats    *metrics.Store
	gpu      *metrics.GPUCollector
}

func (a *app) newServeStack(mgr *shutdown.Manager) (*serveStack, error) {
	st := &serveStack{
		stats: metrics.NewStore(metrics.StoreConfig{HistoryCapacity: 100, Version: core.Version}, time.Now()),
	}
	available := a.devices()

	// The broadcaster belongs to the server, which needs the generator first.
	pub := imagegen.PublisherFunc(func(event string, payload any) {
		st.stats.Publish(event, payload)
		if st.server != nil {
			st.server.Broadcaster().Publish(event, payload)
		}
	})

	st.cache = a.pipelineCache(imagegen.PipelineHooks(pub), available)
	mgr.Register("pipeline", shutdown.PriorityPipeline, func(context.Context) error {
		return st.cache.Close()
	})

	svcOpts := []imagegen.Option{
		imagegen.WithLogger(a.log),
		imagegen.WithPublisher(pub),
		imagegen.WithOutputDir(a.cfg.OutputDir),
	}
	deps := webui.Deps{Operations: mgr, Stats: st.stats, Pipeline: st.cache, Logger: a.log.Zap()}

	store, err := db.Open(a.cfg.DBPath)
	if err != nil {
		a.log.Warn("history unavailable", zap.String("path", a.cfg.DBPath), zap.Error(err))
	} else {
		st.store = store
		st.recorder = db.NewAsyncRecorder(store, db.DefaultQueueCapacity, func(g db.Generation, err error) {
			a.log.Warn("failed to record generation", zap.String("id", g.ID), zap.Error(err))
		})
		svcOpts = append(svcOpts, imagegen.WithRecorder(st.recorder))
		deps.History = store

		mgr.Register("history writer", shutdown.PriorityWorkers, func(context.Context) error {
			if !st.recorder.Close(recorderDrainTimeout) {
				return errors.New("history writer did not drain in time")
			}
			return nil
		})
		mgr.Register("database", shutdown.PriorityStorage, shutdown.Closer(store.Close))
	}
	deps.Generator = imagegen.NewService(st.cache, svcOpts...)

	cfg := webui.DefaultServerConfig()
	cfg.Host = a.cfg.Host
	cfg.Port = a.cfg.Port
	cfg.ModelID = a.cfg.ModelID
	cfg.MaxSize = a.cfg.MaxSize
	cfg.Devices = available
	cfg.OutputDir = a.cfg.OutputDir
	cfg.Password = a.cfg.Password

	st.server, err = webui.NewServer(cfg, deps)
	if err != nil {
		return nil, err
	}
	mgr.Register("http server", shutdown.PriorityHTTP, st.server.Shutdown)

	if devices.Contains(available, devices.CUDA) {
		st.gpu = metrics.NewGPUCollector(metrics.DefaultGPUCollectorConfig(), a.gpuReader, st.stats.UpdateGPUMetrics, a.log.Zap())
		mgr.Register("gpu sampler", shutdown.PriorityWorkers, func(context.Context) error {
			st.gpu.Stop()
			return nil
		})
	}
	mgr.Register("logger", shutdown.PriorityLogger, shutdown.SyncLogger(a.log.Zap()))
	return st, nil
}

// runServe serves until ctx is done, a signal arrives or the server fails.
func (a *app) runServe(ctx context.Context) error {
	mgr := shutdown.NewManager(a.log.Zap(), shutdown.WithTimeout(a.cfg.ShutdownTimeout))
	st, err := a.newServeStack(mgr)
	if err != nil {
		_ = mgr.Shutdown()
		return err
	}
	mgr.Start()
	stop := context.AfterFunc(ctx, func() { mgr.Trigger("context cancelled") })
	defer stop()

	g, gctx := errgroup.WithContext(mgr.Context())
	g.Go(func() error {
		if err := st.server.Start(gctx); err != nil {
			mgr.Trigger("server failed")
			return err
		}
		return nil
	})

	if st.gpu != nil {
		st.gpu.Start(gctx)
	}
	if st.store != nil && a.cfg.HistoryRetention > 0 {
		st.store.StartCleanupScheduler(gctx, a.cfg.HistoryRetention, a.cfg.CleanupInterval, func(res db.CleanupResult, err error) {
			if err != nil {
				a.log.Warn("history cleanup failed", zap.Error(err))
				return
			}
			removed := removeFiles(res.Files)
			if res.Deleted > 0 {
				a.log.Info("history cleanup",
					zap.Int64("deleted", res.Deleted),
					zap.Int("files_removed", removed),
					zap.Duration("took", res.Duration))
			}
		})
	}

	a.log.Info("serving",
		zap.String("model", a.cfg.ModelID),
		zap.String("output_dir", a.cfg.OutputDir),
		zap.Bool("password", a.cfg.Password != ""))
	printf(a.errOut, color.FgGreen, "Web UI at http://%s (Ctrl+C to stop)\n", st.server.Addr())

	<-gctx.Done()
	shutdownErr := mgr.Shutdown()
	if err := g.Wait(); err != nil {
		return err
	}
	if shutdownErr != nil {
		a.log.Warn("cleanup incomplete", zap.Error(shutdownErr))
	}
	if sig := mgr.Signal(); sig != nil {
		return signalExit(sig, nil)
	}
	return nil
}

// removeFiles deletes the images of expired generations and returns how many
// were removed. Files already gone are not an error.
func removeFiles(paths []string) int {
	n := 0
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err == nil {
			n++
		}
	}
	return n
}
