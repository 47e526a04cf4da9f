package imagegen

import (
	"context"
	"errors"
	"hash/fnv"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"zimage_backend/db"
	"zimage_backend/devices"
	"zimage_backend/sdruntime"
)

// fakePipeline renders a pattern derived from prompt and seed only.
type fakePipeline struct {
	device devices.Device
	err    error

	mu    sync.Mutex
	calls []sdruntime.GenerateParams
}

func (p *fakePipeline) Device() devices.Device        { return p.device }
func (p *fakePipeline) EnableAttentionSlicing() error { return nil }
func (p *fakePipeline) Close() error                  { return nil }

func (p *fakePipeline) Generate(_ context.Context, params sdruntime.GenerateParams) (*sdruntime.GenerateResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, params)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}

	h := fnv.New32a()
	h.Write([]byte(params.Prompt))
	base := h.Sum32() ^ uint32(params.Seed)

	img := image.NewNRGBA(image.Rect(0, 0, params.Width, params.Height))
	for y := 0; y < params.Height; y++ {
		for x := 0; x < params.Width; x++ {
			v := base + uint32(x*31+y*17)
			img.SetNRGBA(x, y, color.NRGBA{uint8(v), uint8(v >> 8), uint8(v >> 16), 255})
		}
	}
	return &sdruntime.GenerateResult{Image: img, Width: params.Width, Height: params.Height, Seed: params.Seed}, nil
}

type fakeRunner struct {
	pipe    *fakePipeline
	devices []devices.Device
}

func (r *fakeRunner) Do(ctx context.Context, d devices.Device, fn func(sdruntime.Pipeline) error) error {
	r.devices = append(r.devices, d)
	r.pipe.device = d
	return fn(r.pipe)
}

type memRecorder struct {
	got []db.Generation
	err error
}

func (r *memRecorder) InsertGeneration(_ context.Context, g db.Generation) error {
	r.got = append(r.got, g)
	return r.err
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) Publish(event string, _ any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func newTestService(opts ...Option) (*Service, *fakeRunner) {
	runner := &fakeRunner{pipe: &fakePipeline{}}
	n := 0
	base := []Option{WithIDGenerator(func() string {
		n++
		return "gen-" + string(rune('a'+n-1))
	})}
	return NewService(runner, append(base, opts...)...), runner
}

func request() Request {
	return Request{Prompt: "a red fox in snow", Height: 256, Width: 320, Steps: 5, Seed: 42, Device: devices.CPU}
}

func TestFormatInfo(t *testing.T) {
	if got := FormatInfo(1234, devices.CUDA); got != "Seed: 1234 | Device: cuda" {
		t.Errorf("FormatInfo = %q", got)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	svc, _ := newTestService()

	first, err := svc.Generate(context.Background(), request())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	second, err := svc.Generate(context.Background(), request())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if string(first.PNG) != string(second.PNG) {
		t.Error("same seed and prompt produced different images")
	}
	if first.Seed != 42 || first.Info != "Seed: 42 | Device: cpu" {
		t.Errorf("seed = %d info = %q", first.Seed, first.Info)
	}
	if b := first.Image.Bounds(); b.Dx() != 320 || b.Dy() != 256 {
		t.Errorf("image size = %v", b)
	}
	if first.ID == second.ID {
		t.Errorf("ids repeat: %q", first.ID)
	}
}

func TestGenerateParams(t *testing.T) {
	tests := []struct {
		device  devices.Device
		wantRNG sdruntime.RNG
	}{
		{devices.CUDA, sdruntime.RNGCUDA},
		{devices.Metal, sdruntime.RNGStd},
		{devices.CPU, sdruntime.RNGStd},
	}
	for _, tt := range tests {
		t.Run(tt.device.String(), func(t *testing.T) {
			svc, runner := newTestService()
			req := request()
			req.Prompt = "  padded prompt \n"
			req.Device = tt.device

			if _, err := svc.Generate(context.Background(), req); err != nil {
				t.Fatalf("Generate: %v", err)
			}
			want := sdruntime.GenerateParams{
				Prompt:        "padded prompt",
				Width:         320,
				Height:        256,
				Steps:         5,
				GuidanceScale: 0,
				Seed:          42,
				RNG:           tt.wantRNG,
			}
			if diff := cmp.Diff([]sdruntime.GenerateParams{want}, runner.pipe.calls); diff != "" {
				t.Errorf("params (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]devices.Device{tt.device}, runner.devices); diff != "" {
				t.Errorf("devices (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGenerateRandomSeed(t *testing.T) {
	svc, _ := newTestService()
	req := request()
	req.Width, req.Height = 64, 64
	req.Seed = sdruntime.RandomSeedSentinel

	seen := map[int64]bool{}
	for i := 0; i < 8; i++ {
		res, err := svc.Generate(context.Background(), req)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if res.Seed < 0 || res.Seed > sdruntime.MaxSeed {
			t.Errorf("seed %d out of range", res.Seed)
		}
		seen[res.Seed] = true
	}
	if len(seen) < 2 {
		t.Errorf("random seeds did not vary: %v", seen)
	}
}

func TestGenerateRejectsInvalidParams(t *testing.T) {
	svc, runner := newTestService()
	req := request()
	req.Width = 100

	_, err := svc.Generate(context.Background(), req)
	if !errors.Is(err, sdruntime.ErrInvalidParams) {
		t.Fatalf("err = %v, want ErrInvalidParams", err)
	}
	if len(runner.devices) != 0 {
		t.Error("pipeline used for invalid request")
	}
}

func TestGenerateCancelled(t *testing.T) {
	svc, runner := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Generate(ctx, request()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(runner.pipe.calls) != 0 {
		t.Error("pipeline called after cancellation")
	}
}

func TestGenerateSavesOutputs(t *testing.T) {
	dir := t.TempDir()
	rec := &memRecorder{}
	events := &eventLog{}
	svc, _ := newTestService(WithOutputDir(dir), WithRecorder(rec), WithPublisher(events), WithThumbSize(64))

	res, err := svc.Generate(context.Background(), request())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if res.ImagePath != filepath.Join(dir, res.ID+".png") {
		t.Errorf("ImagePath = %q", res.ImagePath)
	}
	data, err := os.ReadFile(res.ImagePath)
	if err != nil || string(data) != string(res.PNG) {
		t.Errorf("saved image differs from result: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, res.ID+"_thumb.png"))
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 51 {
		t.Errorf("thumbnail = %dx%d, want 64x51", cfg.Width, cfg.Height)
	}

	if len(rec.got) != 1 {
		t.Fatalf("recorded %d generations", len(rec.got))
	}
	g := rec.got[0]
	if g.ID != res.ID || g.Prompt != "a red fox in snow" || g.Seed != 42 || g.Device != "cpu" || g.ThumbPath != res.ThumbPath {
		t.Errorf("recorded %+v", g)
	}

	want := []string{EventGenerationStarted, EventGenerationCompleted}
	if diff := cmp.Diff(want, events.events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestGenerateExplicitOutputPath(t *testing.T) {
	dir := t.TempDir()
	svc, _ := newTestService(WithOutputDir(filepath.Join(dir, "unused")))

	for _, name := range []string{"out.png", "nested/out.webp"} {
		req := request()
		req.OutputPath = filepath.Join(dir, name)
		res, err := svc.Generate(context.Background(), req)
		if err != nil {
			t.Fatalf("Generate %s: %v", name, err)
		}
		data, err := os.ReadFile(req.OutputPath)
		if err != nil || len(data) == 0 {
			t.Fatalf("read %s: %v", name, err)
		}
		if isPNG := strings.HasPrefix(string(data), "\x89PNG\r\n\x1a\n"); isPNG != (filepath.Ext(name) == ".png") {
			t.Errorf("%s: png = %v", name, isPNG)
		}
		if res.ThumbPath != "" {
			t.Errorf("%s: thumbnail written for explicit path", name)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "unused")); !os.IsNotExist(err) {
		t.Error("output dir used for explicit path")
	}
}

func TestGenerateRejectsOutputFormatBeforeRunning(t *testing.T) {
	dir := t.TempDir()
	svc, runner := newTestService()

	req := request()
	req.OutputPath = filepath.Join(dir, "out.jpg")
	_, err := svc.Generate(context.Background(), req)
	if !errors.Is(err, sdruntime.ErrImageFormat) {
		t.Fatalf("expected ErrImageFormat, got: %v", err)
	}
	if len(runner.pipe.calls) != 0 || len(runner.devices) != 0 {
		t.Errorf("pipeline used %d times for an unwritable output", len(runner.pipe.calls))
	}
	if _, err := os.Stat(req.OutputPath); !os.IsNotExist(err) {
		t.Errorf("output written: %v", err)
	}
}

func TestGenerateRecordsSanitizedPrompt(t *testing.T) {
	rec := &memRecorder{}
	svc, runner := newTestService(WithRecorder(rec))

	req := request()
	req.Prompt = "\t a red fox in snow  \n"
	if _, err := svc.Generate(context.Background(), req); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(rec.got) != 1 || len(runner.pipe.calls) != 1 {
		t.Fatalf("recorded %d, ran %d", len(rec.got), len(runner.pipe.calls))
	}
	if got, ran := rec.got[0].Prompt, runner.pipe.calls[0].Prompt; got != ran || got != "a red fox in snow" {
		t.Errorf("recorded prompt %q, pipeline prompt %q", got, ran)
	}
}

func TestGenerateFailure(t *testing.T) {
	events := &eventLog{}
	rec := &memRecorder{}
	svc, runner := newTestService(WithPublisher(events), WithRecorder(rec))
	runner.pipe.err = sdruntime.ErrOutOfVRAM

	_, err := svc.Generate(context.Background(), request())
	if !errors.Is(err, sdruntime.ErrOutOfVRAM) {
		t.Fatalf("err = %v, want ErrOutOfVRAM", err)
	}
	want := []string{EventGenerationStarted, EventGenerationFailed}
	if diff := cmp.Diff(want, events.events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if len(rec.got) != 0 {
		t.Error("failed generation recorded")
	}
}

func TestGenerateRecorderErrorIsNotFatal(t *testing.T) {
	svc, _ := newTestService(WithRecorder(&memRecorder{err: db.ErrQueueFull}))
	if _, err := svc.Generate(context.Background(), request()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

func TestPipelineHooks(t *testing.T) {
	events := &eventLog{}
	h := PipelineHooks(events)
	h.OnSwitch(devices.CPU, devices.CUDA)
	h.OnLoading(devices.CUDA)
	h.OnLoaded(devices.CUDA, time.Second)

	want := []string{EventDeviceSwitched, EventPipelineLoading, EventPipelineLoaded}
	if diff := cmp.Diff(want, events.events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}
