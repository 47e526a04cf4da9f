package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"zimage_backend/aspect"
	"zimage_backend/db"
	"zimage_backend/devices"
	"zimage_backend/imagegen"
	"zimage_backend/pipeline"
	"zimage_backend/sdruntime"
	"zimage_backend/shutdown"
)

type generateOptions struct {
	height int
	width  int
	steps  int
	seed   int64
	output string
	device string
	ratio  string
}

func newGenerateCmd(a *app) *cobra.Command {
	var opts generateOptions
	cmd := &cobra.Command{
		Use:   "generate PROMPT",
		Short: "Generate one image and save it",
		Example: `  zimage generate "a cute cat wearing a tiny hat"
  zimage generate "mountain lake at dawn" --ratio "16:9 Widescreen" --seed 42 --output lake.webp`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("ratio") {
				h, w := aspect.CalculateDimensions(opts.ratio, a.cfg.MaxSize)
				if _, ok := aspect.Lookup(opts.ratio); !ok {
					a.log.Warn("unknown aspect ratio, using default size", zap.String("ratio", opts.ratio))
				}
				if !cmd.Flags().Changed("height") {
					opts.height = h
				}
				if !cmd.Flags().Changed("width") {
					opts.width = w
				}
			}
			return a.runGenerate(cmd.Context(), strings.Join(args, " "), opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.height, "height", 512, "image height in pixels")
	f.IntVar(&opts.width, "width", 512, "image width in pixels")
	f.IntVar(&opts.steps, "steps", 5, "inference steps")
	f.Int64Var(&opts.seed, "seed", sdruntime.RandomSeedSentinel, "random seed (-1 picks one)")
	f.StringVarP(&opts.output, "output", "o", "output.png", "output file (.png or .webp)")
	f.StringVar(&opts.device, "device", "", "mps, cuda or cpu (default: best detected)")
	f.StringVar(&opts.ratio, "ratio", "", `aspect ratio preset, e.g. "16:9 Widescreen"`)
	return cmd
}

func (a *app) runGenerate(ctx context.Context, prompt string, opts generateOptions) error {
	if err := sdruntime.CheckImageFormat(filepath.Ext(opts.output)); err != nil {
		return fmt.Errorf("--output %s: %w", opts.output, err)
	}
	available := a.devices()
	device := devices.Default(available)
	if opts.device != "" {
		d, err := devices.Parse(opts.device)
		if err != nil {
			return err
		}
		if !devices.Contains(available, d) {
			a.log.Warn("requested device was not detected, trying anyway", zap.String("device", d.String()))
		}
		device = d
	}

	mgr := shutdown.NewManager(a.log.Zap(), shutdown.WithTimeout(a.cfg.ShutdownTimeout))
	mgr.Start()
	stop := context.AfterFunc(ctx, func() { mgr.Trigger("context cancelled") })
	defer stop()

	status := color.New(color.FgCyan)
	cache := a.pipelineCache(pipeline.Hooks{
		OnLoading: func(d devices.Device) {
			status.Fprintf(a.errOut, "Loading %s on %s...\n", a.cfg.ModelID, d)
		},
	}, available)
	mgr.Register("pipeline", shutdown.PriorityPipeline, shutdown.Closer(cache.Close))

	svcOpts := []imagegen.Option{imagegen.WithLogger(a.log)}
	if store, err := db.Open(a.cfg.DBPath); err != nil {
		a.log.Warn("history unavailable, generation will not be recorded", zap.Error(err))
	} else {
		mgr.Register("database", shutdown.PriorityStorage, shutdown.Closer(store.Close))
		svcOpts = append(svcOpts, imagegen.WithRecorder(store))
	}
	svc := imagegen.NewService(cache, svcOpts...)

	req := imagegen.Request{
		Prompt:     prompt,
		Height:     opts.height,
		Width:      opts.width,
		Steps:      opts.steps,
		Seed:       opts.seed,
		Device:     device,
		OutputPath: opts.output,
	}
	var res *imagegen.Result
	err := mgr.WrapOperation(mgr.Context(), "generate", func(ctx context.Context) error {
		var err error
		res, err = svc.Generate(ctx, req)
		return err
	})

	if shutdownErr := mgr.Shutdown(); shutdownErr != nil {
		a.log.Warn("cleanup incomplete", zap.Error(shutdownErr))
	}
	if err != nil {
		return signalExit(mgr.Signal(), fmt.Errorf("generate: %w", err))
	}

	printf(a.out, color.FgGreen, "Saved to %s (seed: %d)\n", res.ImagePath, res.Seed)
	return nil
}
