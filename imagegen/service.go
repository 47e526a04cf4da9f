// Package imagegen runs single text-to-image generations on the cached
// pipeline and keeps their outputs.
//
// A generation resolves its seed, picks the random number generator that
// matches the device, and calls the pipeline once with guidance disabled.
// The image is encoded to PNG, optionally written to the output directory
// with a thumbnail, and recorded in the history store.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zimage_backend/db"
	"zimage_backend/devices"
	"zimage_backend/logging"
	"zimage_backend/sdruntime"
)

// Runner lends out the pipeline for a device. *pipeline.Cache implements it.
type Runner interface {
	Do(ctx context.Context, d devices.Device, fn func(sdruntime.Pipeline) error) error
}

// Recorder stores finished generations. *db.Database and *db.AsyncRecorder
// implement it.
type Recorder interface {
	InsertGeneration(ctx context.Context, g db.Generation) error
}

// GuidanceScale is fixed at zero; the turbo model is distilled without
// classifier-free guidance.
const GuidanceScale = 0.0

// DefaultThumbSize is the longest side of saved thumbnails.
const DefaultThumbSize = 256

// Request is one generation.
type Request struct {
	Prompt string
	Height int
	Width  int
	Steps  int
	// Seed -1 picks a random seed.
	Seed   int64
	Device devices.Device
	// OutputPath overrides the output directory naming; the extension selects
	// the encoding (.png or .webp).
	OutputPath string
}

// Result is a finished generation.
type Result struct {
	ID        string
	Image     *image.NRGBA
	PNG       []byte
	Seed      int64
	Device    devices.Device
	Info      string
	Duration  time.Duration
	ImagePath string
	ThumbPath string
}

// FormatInfo renders the status line shown next to a generated image.
func FormatInfo(seed int64, d devices.Device) string {
	return fmt.Sprintf("Seed: %d | Device: %s", seed, d)
}

// Service generates images. It is safe for concurrent use; generations are
// serialized by the Runner.
type Service struct {
	runner    Runner
	recorder  Recorder
	publisher Publisher
	logger    *logging.Logger
	outputDir string
	thumbSize int
	newID     func() string
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRecorder stores every successful generation.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithOutputDir saves each image as {id}.png with a {id}_thumb.png next to
// it. An empty dir keeps images in memory only.
func WithOutputDir(dir string) Option {
	return func(s *Service) { s.outputDir = dir }
}

func WithThumbSize(n int) Option {
	return func(s *Service) { s.thumbSize = n }
}

// WithIDGenerator replaces the uuid based generation ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService returns a Service generating through runner.
func NewService(runner Runner, opts ...Option) *Service {
	s := &Service{
		runner:    runner,
		publisher: nopPublisher{},
		logger:    logging.NewNop(),
		thumbSize: DefaultThumbSize,
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("imagegen")
	return s
}

// OutputDir returns the directory images are saved in, if any.
func (s *Service) OutputDir() string { return s.outputDir }

// Generate runs one generation. Invalid parameters fail before the pipeline
// is touched; a cancelled ctx aborts only until the native call starts.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	seed := sdruntime.ResolveSeed(req.Seed)
	params := sdruntime.GenerateParams{
		Prompt:        sdruntime.SanitizePrompt(req.Prompt),
		Width:         req.Width,
		Height:        req.Height,
		Steps:         req.Steps,
		GuidanceScale: GuidanceScale,
		Seed:          seed,
		RNG:           sdruntime.RNGFor(req.Device),
	}
	if err := sdruntime.ValidateParams(params); err != nil {
		return nil, err
	}
	if req.OutputPath != "" {
		if err := sdruntime.CheckImageFormat(filepath.Ext(req.OutputPath)); err != nil {
			return nil, err
		}
	}
	if req.Device == "" {
		return nil, fmt.Errorf("%w: no device selected", sdruntime.ErrDeviceUnavailable)
	}

	id := s.newID()
	log := s.logger.With(zap.String("id", id), zap.String("device", req.Device.String()))
	s.publisher.Publish(EventGenerationStarted, map[string]any{
		"id":     id,
		"device": req.Device,
		"seed":   seed,
		"width":  req.Width,
		"height": req.Height,
		"steps":  req.Steps,
	})
	log.Info("generating",
		zap.Int("width", req.Width),
		zap.Int("height", req.Height),
		zap.Int("steps", req.Steps),
		zap.Int64("seed", seed))

	start := s.now()
	var out *sdruntime.GenerateResult
	err := s.runner.Do(ctx, req.Device, func(p sdruntime.Pipeline) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		out, err = p.Generate(ctx, params)
		return err
	})
	if err == nil && (out == nil || out.Image == nil) {
		err = fmt.Errorf("%w: pipeline returned no image", sdruntime.ErrGenerationFailed)
	}
	if err != nil {
		s.fail(log, id, err)
		return nil, err
	}

	res := &Result{
		ID:       id,
		Image:    out.Image,
		Seed:     seed,
		Device:   req.Device,
		Info:     FormatInfo(seed, req.Device),
		Duration: s.now().Sub(start),
	}
	if res.PNG, err = sdruntime.EncodePNG(out.Image); err != nil {
		s.fail(log, id, err)
		return nil, err
	}
	if err := s.save(req, res); err != nil {
		s.fail(log, id, err)
		return nil, err
	}

	log.Info("generation completed", logging.GenerationField(logging.GenerationMetrics{
		ID:       id,
		Device:   req.Device.String(),
		Width:    req.Width,
		Height:   req.Height,
		Steps:    req.Steps,
		Seed:     seed,
		Duration: res.Duration,
	}))
	s.record(ctx, log, params.Prompt, req, res)
	s.publisher.Publish(EventGenerationCompleted, map[string]any{
		"id":          id,
		"device":      req.Device,
		"seed":        seed,
		"info":        res.Info,
		"duration_ms": res.Duration.Milliseconds(),
	})
	return res, nil
}

func (s *Service) fail(log *logging.Logger, id string, err error) {
	log.Error("generation failed", zap.Error(err))
	s.publisher.Publish(EventGenerationFailed, map[string]any{
		"id":    id,
		"error": err.Error(),
	})
}

// save writes the image and its thumbnail. The thumbnail is only kept for
// images in the output directory.
func (s *Service) save(req Request, res *Result) error {
	switch {
	case req.OutputPath != "":
		res.ImagePath = req.OutputPath
		if ext := strings.ToLower(filepath.Ext(req.OutputPath)); ext == ".png" || ext == "" {
			return writeFile(req.OutputPath, res.PNG)
		}
		return sdruntime.SaveImage(req.OutputPath, res.Image)

	case s.outputDir != "":
		res.ImagePath = filepath.Join(s.outputDir, res.ID+".png")
		if err := writeFile(res.ImagePath, res.PNG); err != nil {
			return err
		}
		res.ThumbPath = filepath.Join(s.outputDir, res.ID+"_thumb.png")
		thumb := sdruntime.Thumbnail(res.Image, s.thumbSize)
		if err := sdruntime.SaveImage(res.ThumbPath, thumb); err != nil {
			return fmt.Errorf("save thumbnail: %w", err)
		}
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save image: %w", err)
	}
	return nil
}

// record stores res in history. Failures are logged; the image is already
// returned to the caller.
func (s *Service) record(ctx context.Context, log *logging.Logger, prompt string, req Request, res *Result) {
	if s.recorder == nil {
		return
	}
	g := db.Generation{
		ID:         res.ID,
		Prompt:     prompt,
		Height:     req.Height,
		Width:      req.Width,
		Steps:      req.Steps,
		Seed:       res.Seed,
		Device:     res.Device.String(),
		ImagePath:  res.ImagePath,
		ThumbPath:  res.ThumbPath,
		DurationMS: res.Duration.Milliseconds(),
		CreatedAt:  s.now(),
	}
	if err := s.recorder.InsertGeneration(context.WithoutCancel(ctx), g); err != nil {
		if errors.Is(err, db.ErrQueueFull) {
			log.Warn("history queue full, generation not recorded")
			return
		}
		log.Warn("failed to record generation", zap.Error(err))
	}
}
