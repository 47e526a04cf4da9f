package core

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"zimage_backend/devices"
)

// DefaultModelID is the pre-quantized Z-Image Turbo snapshot.
const DefaultModelID = "Disty0/Z-Image-Turbo-SDNQ-uint4-svd-r32"

// Defaults for values read from the environment.
const (
	DefaultModelRevision   = "main"
	DefaultMaxSize         = 1024
	MinMaxSize             = 256
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 7860
	DefaultLogFile         = "zimage.log"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultCleanupInterval = 6 * time.Hour
)

// Config holds all configuration values.
type Config struct {
	// Model
	ModelID       string // hub id or local snapshot directory
	ModelRevision string
	AutoPull      bool // download the snapshot on first load when missing

	// Hub access
	HFToken    string
	HFEndpoint string // empty means the public hub
	HFCacheDir string // empty means the huggingface_hub default

	// Inference
	MaxSize       int    // longest image side offered by the ratio presets
	Threads       int    // CPU threads; 0 lets the runtime decide
	MetalFastMath bool   // relaxed float math on mps
	Device        string // preferred device; empty auto-detects

	// Storage
	DataDir          string
	OutputDir        string
	DBPath           string
	HistoryRetention time.Duration // 0 keeps history forever
	CleanupInterval  time.Duration

	// Web UI
	Host            string
	Port            int
	Password        string // enables basic auth when set
	ShutdownTimeout time.Duration

	// Logging
	DevMode  bool
	LogLevel string
	LogFile  string
}

// LoadConfig reads the configuration from the environment. Call
// godotenv.Load first to pick up a .env file.
func LoadConfig() (*Config, error) {
	dataDir := GetDataDirectory()

	cfg := &Config{
		ModelID:       GetEnvOrDefault("ZIMAGE_MODEL_ID", DefaultModelID),
		ModelRevision: GetEnvOrDefault("ZIMAGE_MODEL_REVISION", DefaultModelRevision),
		AutoPull:      ParseBoolEnv("ZIMAGE_AUTO_PULL", true),

		HFToken:    strings.TrimSpace(os.Getenv("HF_TOKEN")),
		HFEndpoint: GetEnvOrDefault("HF_ENDPOINT", ""),
		HFCacheDir: GetEnvOrDefault("HF_HUB_CACHE", ""),

		MaxSize:       ParseIntEnv("ZIMAGE_MAX_SIZE", DefaultMaxSize),
		Threads:       ParseIntEnv("ZIMAGE_THREADS", 0),
		MetalFastMath: ParseBoolEnv("ZIMAGE_METAL_FAST_MATH", true),
		Device:        GetEnvOrDefault("ZIMAGE_DEVICE", ""),

		DataDir:          dataDir,
		OutputDir:        GetEnvOrDefault("ZIMAGE_OUTPUT_DIR", filepath.Join(dataDir, "outputs")),
		DBPath:           GetEnvOrDefault("ZIMAGE_DB_PATH", filepath.Join(dataDir, "history.db")),
		HistoryRetention: ParseDaysEnv("ZIMAGE_HISTORY_RETENTION_DAYS", 0),
		CleanupInterval:  ParseDurationEnv("ZIMAGE_CLEANUP_INTERVAL", DefaultCleanupInterval),

		Host:            GetEnvOrDefault("WEBUI_HOST", DefaultHost),
		Port:            ParseIntEnv("WEBUI_PORT", DefaultPort),
		Password:        os.Getenv("WEBUI_PASSWORD"),
		ShutdownTimeout: ParseDurationEnv("ZIMAGE_SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),

		DevMode:  ParseBoolEnv("DEV_MODE", false),
		LogLevel: GetEnvOrDefault("ZIMAGE_LOG_LEVEL", ""),
		LogFile:  GetEnvOrDefault("ZIMAGE_LOG_FILE", DefaultLogFile),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first impossible value.
func (c *Config) Validate() error {
	if c.ModelID == "" {
		return ErrMissingConfig("ZIMAGE_MODEL_ID")
	}
	if !validModelRef(c.ModelID) {
		return ErrInvalidModelID(c.ModelID)
	}
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort(c.Port)
	}
	if c.MaxSize < MinMaxSize {
		return ErrInvalidMaxSize(c.MaxSize, MinMaxSize)
	}
	if c.Threads < 0 {
		return ErrInvalidValue("ZIMAGE_THREADS", c.Threads, "must not be negative")
	}
	if c.Device != "" {
		if _, err := devices.Parse(c.Device); err != nil {
			return ErrInvalidDevice(c.Device)
		}
	}
	if c.HistoryRetention > 0 && c.CleanupInterval <= 0 {
		return ErrInvalidValue("ZIMAGE_CLEANUP_INTERVAL", c.CleanupInterval, "must be positive when retention is set")
	}
	if c.ShutdownTimeout <= 0 {
		return ErrInvalidValue("ZIMAGE_SHUTDOWN_TIMEOUT", c.ShutdownTimeout, "must be positive")
	}
	return nil
}

// PreferredDevice returns the configured device, if any.
func (c *Config) PreferredDevice() (devices.Device, bool) {
	if c.Device == "" {
		return "", false
	}
	d, err := devices.Parse(c.Device)
	return d, err == nil
}

// Addr is the web UI listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsLocalModel reports whether ModelID names a local directory.
func (c *Config) IsLocalModel() bool {
	info, err := os.Stat(c.ModelID)
	return err == nil && info.IsDir()
}

// validModelRef accepts existing directories and owner/name ids.
func validModelRef(id string) bool {
	if info, err := os.Stat(id); err == nil && info.IsDir() {
		return true
	}
	parts := strings.Split(id, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != "" && !strings.Contains(id, "..")
}
