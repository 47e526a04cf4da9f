package webui

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"zimage_backend/aspect"
	"zimage_backend/db"
	"zimage_backend/devices"
	"zimage_backend/imagegen"
	"zimage_backend/sdruntime"
	"zimage_backend/shutdown"
)

// Form defaults.
const (
	DefaultSide  = 768
	SideStep     = 64
	MinSteps     = 1
	MaxSteps     = 10
	DefaultSteps = 7
	DefaultSeed  = sdruntime.RandomSeedSentinel

	maxHistoryLimit = 100
	maxRequestBytes = 64 << 10
)

// DeviceHint is the help text under the device dropdown.
const DeviceHint = "MPS=Mac, CUDA=NVIDIA (experimental), CPU=slow"

// ExamplePrompts are offered under the form.
var ExamplePrompts = []string{
	"A majestic mountain landscape at sunset, dramatic lighting, cinematic",
	"Portrait of a young woman, soft studio lighting, professional photography",
	"Cyberpunk city street at night, neon lights, rain reflections",
	"A cute cat wearing a tiny hat, studio photo, soft lighting",
	"Abstract art, vibrant colors, fluid shapes, modern design",
}

// SliderRange describes a numeric input.
type SliderRange struct {
	Min     int `json:"min"`
	Max     int `json:"max"`
	Step    int `json:"step"`
	Default int `json:"default"`
}

// PresetView is a preset with everything the ratio grid draws.
type PresetView struct {
	Name          string  `json:"name"`
	Label         string  `json:"label"`
	Description   string  `json:"description"`
	Ratio         float64 `json:"ratio"`
	Height        int     `json:"height"`
	Width         int     `json:"width"`
	PreviewWidth  float64 `json:"preview_width"`
	PreviewHeight float64 `json:"preview_height"`
}

// ConfigResponse is the body of GET /api/config.
type ConfigResponse struct {
	ModelID       string       `json:"model_id"`
	Presets       []PresetView `json:"presets"`
	DefaultPreset string       `json:"default_preset"`
	Devices       []string     `json:"devices"`
	DefaultDevice string       `json:"default_device"`
	DeviceHint    string       `json:"device_hint"`
	Height        SliderRange  `json:"height"`
	Width         SliderRange  `json:"width"`
	Steps         SliderRange  `json:"steps"`
	DefaultSeed   int64        `json:"default_seed"`
	Examples      []string     `json:"examples"`
}

// DimensionsResponse is the body of GET /api/dimensions.
type DimensionsResponse struct {
	Ratio  string `json:"ratio"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// GenerateRequest is the body of POST /api/generate. Zero height or width
// falls back to the aspect ratio, then to the default side. A missing seed
// means random.
type GenerateRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Height      int    `json:"height"`
	Width       int    `json:"width"`
	Steps       int    `json:"steps"`
	Seed        *int64 `json:"seed,omitempty"`
	Device      string `json:"device,omitempty"`
}

// GenerateResponse is the body of a successful POST /api/generate.
type GenerateResponse struct {
	ID         string `json:"id"`
	Image      string `json:"image"`
	Seed       int64  `json:"seed"`
	Device     string `json:"device"`
	Info       string `json:"info"`
	DurationMS int64  `json:"duration_ms"`
	ImageURL   string `json:"image_url,omitempty"`
	ThumbURL   string `json:"thumb_url,omitempty"`
}

// HistoryResponse is the body of GET /api/history.
type HistoryResponse struct {
	Generations []db.Generation `json:"generations"`
	Count       int             `json:"count"`
	Limit       int             `json:"limit"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) sideRange() SliderRange {
	return SliderRange{Min: aspect.MinSide, Max: s.cfg.MaxSize, Step: SideStep, Default: min(DefaultSide, s.cfg.MaxSize)}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	presets := aspect.Presets()
	views := make([]PresetView, 0, len(presets))
	for _, p := range presets {
		h, wd := aspect.CalculateDimensions(p.Name, s.cfg.MaxSize)
		pw, ph := aspect.PreviewBox(p.Ratio)
		views = append(views, PresetView{
			Name:          p.Name,
			Label:         aspect.Label(p.Name),
			Description:   p.Description,
			Ratio:         p.Ratio,
			Height:        h,
			Width:         wd,
			PreviewWidth:  pw,
			PreviewHeight: ph,
		})
	}

	names := make([]string, len(s.cfg.Devices))
	for i, d := range s.cfg.Devices {
		names[i] = d.String()
	}

	writeJSON(w, http.StatusOK, ConfigResponse{
		ModelID:       s.cfg.ModelID,
		Presets:       views,
		DefaultPreset: aspect.DefaultPreset,
		Devices:       names,
		DefaultDevice: names[0],
		DeviceHint:    DeviceHint,
		Height:        s.sideRange(),
		Width:         s.sideRange(),
		Steps:         SliderRange{Min: MinSteps, Max: MaxSteps, Step: 1, Default: DefaultSteps},
		DefaultSeed:   DefaultSeed,
		Examples:      ExamplePrompts,
	})
}

func (s *Server) handleDimensions(w http.ResponseWriter, r *http.Request) {
	ratio := r.URL.Query().Get("ratio")
	h, wd := aspect.CalculateDimensions(ratio, s.cfg.MaxSize)
	writeJSON(w, http.StatusOK, DimensionsResponse{Ratio: ratio, Height: h, Width: wd})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body GenerateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}

	req, err := s.toRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var res *imagegen.Result
	run := func(ctx context.Context) error {
		var err error
		res, err = s.deps.Generator.Generate(ctx, req)
		return err
	}
	if s.deps.Operations != nil {
		err = s.deps.Operations.WrapOperation(r.Context(), "generate", run)
	} else {
		err = run(r.Context())
	}
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("generation failed", zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{
		ID:         res.ID,
		Image:      base64.StdEncoding.EncodeToString(res.PNG),
		Seed:       res.Seed,
		Device:     res.Device.String(),
		Info:       res.Info,
		DurationMS: res.Duration.Milliseconds(),
		ImageURL:   s.outputURL(res.ImagePath),
		ThumbURL:   s.outputURL(res.ThumbPath),
	})
}

// toRequest fills defaults and checks the form values the generator does not
// know about: the configured size cap and the offered devices.
func (s *Server) toRequest(body GenerateRequest) (imagegen.Request, error) {
	req := imagegen.Request{
		Prompt: body.Prompt,
		Height: body.Height,
		Width:  body.Width,
		Steps:  body.Steps,
		Seed:   DefaultSeed,
		Device: s.cfg.Devices[0],
	}
	if body.Seed != nil {
		req.Seed = *body.Seed
	}
	if req.Height == 0 || req.Width == 0 {
		if body.AspectRatio != "" {
			req.Height, req.Width = aspect.CalculateDimensions(body.AspectRatio, s.cfg.MaxSize)
		} else {
			req.Height, req.Width = min(DefaultSide, s.cfg.MaxSize), min(DefaultSide, s.cfg.MaxSize)
		}
	}
	if req.Steps == 0 {
		req.Steps = DefaultSteps
	}
	if req.Height > s.cfg.MaxSize || req.Width > s.cfg.MaxSize {
		return req, fmt.Errorf("height and width must be at most %d", s.cfg.MaxSize)
	}
	if body.Device != "" {
		d, err := devices.Parse(body.Device)
		if err != nil {
			return req, err
		}
		if !devices.Contains(s.cfg.Devices, d) {
			return req, fmt.Errorf("device %q is not available on this machine", d)
		}
		req.Device = d
	}
	return req, nil
}

func (s *Server) outputURL(path string) string {
	if path == "" || s.cfg.OutputDir == "" {
		return ""
	}
	rel, err := filepath.Rel(s.cfg.OutputDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	return "/outputs/" + filepath.ToSlash(rel)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, http.StatusOK, HistoryResponse{Generations: []db.Generation{}})
		return
	}

	limit := db.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, maxHistoryLimit)

	gens, err := s.deps.History.RecentGenerations(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if gens == nil {
		gens = []db.Generation{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Generations: gens, Count: len(gens), Limit: limit})
}

func (s *Server) handleGeneration(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	g, err := s.deps.History.GetGeneration(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "generation not found")
	case err != nil:
		s.logger.Error("history lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
	default:
		writeJSON(w, http.StatusOK, g)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	recent := 10
	if v := r.URL.Query().Get("recent"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			recent = min(n, maxHistoryLimit)
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Stats.Snapshot(recent))
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, sdruntime.ErrInvalidParams),
		errors.Is(err, sdruntime.ErrInvalidPrompt),
		errors.Is(err, sdruntime.ErrDeviceUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, shutdown.ErrTrackerClosed),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
