package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port                   int    `yaml:"port"`
	Mode                   string `yaml:"mode"`
	ShutdownTimeoutSeconds int    `yaml:"shutdownTimeoutSeconds"`
}

type ModelConfig struct {
	Path           string   `yaml:"path"`
	Confidence     float32  `yaml:"confidence"`
	Iou            float32  `yaml:"iou"`
	InputSize      int      `yaml:"inputSize"`
	Names          []string `yaml:"names"`
	RuntimeLib     string   `yaml:"runtimeLib"`
	IntraOpThreads int      `yaml:"intraOpThreads"`
	InterOpThreads int      `yaml:"interOpThreads"`
}

type UploadsConfig struct {
	Dir          string `yaml:"dir"`
	DownloadsDir string `yaml:"downloadsDir"`
	Naming       string `yaml:"naming"`
	MaxBytes     int64  `yaml:"maxBytes"`
}

type CameraConfig struct {
	Device      int     `yaml:"device"`
	MaxFPS      float64 `yaml:"maxFps"`
	JPEGQuality int     `yaml:"jpegQuality"`
}

type BrandingConfig struct {
	LogoPath     string `yaml:"logoPath"`
	AppTitle     string `yaml:"appTitle"`
	Organization string `yaml:"organization"`
	Location     string `yaml:"location"`
	Developer    string `yaml:"developer"`
	Department   string `yaml:"department"`
	Batch        string `yaml:"batch"`
	Year         string `yaml:"year"`
}

type ReaderConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Region        string  `yaml:"region"`
	MinConfidence float32 `yaml:"minConfidence"`
}

type MonitorConfig struct {
	Enabled          bool `yaml:"enabled"`
	SampleIntervalMs int  `yaml:"sampleIntervalMs"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Uploads  UploadsConfig  `yaml:"uploads"`
	Camera   CameraConfig   `yaml:"camera"`
	Branding BrandingConfig `yaml:"branding"`
	Reader   ReaderConfig   `yaml:"reader"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Log      LogConfig      `yaml:"log"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, Mode: "release", ShutdownTimeoutSeconds: 10},
		Model: ModelConfig{
			Path:       "model/last.onnx",
			Confidence: 0.5,
			Iou:        0.45,
			InputSize:  640,
			Names:      []string{"plate"},
		},
		Uploads: UploadsConfig{Dir: "uploads", DownloadsDir: "downloads", Naming: "unique", MaxBytes: 20 << 20},
		Camera:  CameraConfig{Device: 0, JPEGQuality: 80},
		Branding: BrandingConfig{
			LogoPath:     "college_logo.png",
			AppTitle:     "Sri Vijay Vidhyalaya ANPR",
			Organization: "Sri Vijay Vidhyalaya College of Arts and Science",
			Location:     "Dharmapuri, Tamil Nadu, India",
			Developer:    "G.Palaniyammal",
			Department:   "Department of Computer Science",
			Batch:        "Batch of 2024",
			Year:         "2024",
		},
		Reader:  ReaderConfig{MinConfidence: 80},
		Monitor: MonitorConfig{Enabled: true, SampleIntervalMs: 500},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults, then applies .env and
// ANPD_* environment overrides. A missing file is not an error. The returned
// warnings describe values that were replaced by defaults.
func Load(path string) (*Config, []string, error) {
	cfg := Default()
	var warnings []string

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		warnings = append(warnings, fmt.Sprintf("cannot load .env: %v", err))
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		warnings = append(warnings, fmt.Sprintf("config file %s not found, using defaults", path))
	case err != nil:
		return nil, nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, cfg.normalize()...)
	return cfg, warnings, nil
}

func (c *Config) applyEnv() error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = n
		}
	}
	f32 := func(key string, dst *float32) {
		if v, ok := os.LookupEnv(key); ok {
			f, err := strconv.ParseFloat(v, 32)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = float32(f)
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = b
		}
	}

	num("ANPD_PORT", &c.Server.Port)
	str("ANPD_GIN_MODE", &c.Server.Mode)
	str("ANPD_MODEL_PATH", &c.Model.Path)
	f32("ANPD_MODEL_CONFIDENCE", &c.Model.Confidence)
	f32("ANPD_MODEL_IOU", &c.Model.Iou)
	num("ANPD_MODEL_INPUT_SIZE", &c.Model.InputSize)
	str("ANPD_RUNTIME_LIB", &c.Model.RuntimeLib)
	str("ANPD_UPLOADS_DIR", &c.Uploads.Dir)
	str("ANPD_UPLOAD_NAMING", &c.Uploads.Naming)
	num("ANPD_CAMERA_DEVICE", &c.Camera.Device)
	str("ANPD_LOGO_PATH", &c.Branding.LogoPath)
	flag("ANPD_READER_ENABLED", &c.Reader.Enabled)
	str("AWS_REGION", &c.Reader.Region)
	str("ANPD_READER_REGION", &c.Reader.Region)
	str("ANPD_LOG_LEVEL", &c.Log.Level)
	flag("ANPD_LOG_DEVELOPMENT", &c.Log.Development)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment values: %s", strings.Join(errs, ", "))
	}
	return nil
}

func (c *Config) normalize() []string {
	d := Default()
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		warn("server.port %d invalid, using %d", c.Server.Port, d.Server.Port)
		c.Server.Port = d.Server.Port
	}
	switch mode := strings.ToLower(strings.TrimSpace(c.Server.Mode)); mode {
	case "debug", "release", "test":
		c.Server.Mode = mode
	default:
		warn("server.mode %q unknown, using %s", c.Server.Mode, d.Server.Mode)
		c.Server.Mode = d.Server.Mode
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = d.Server.ShutdownTimeoutSeconds
	}
	if c.Model.Path == "" {
		warn("model.path empty, using %s", d.Model.Path)
		c.Model.Path = d.Model.Path
	}
	if c.Model.Confidence <= 0 || c.Model.Confidence > 1 {
		warn("model.confidence %.2f invalid, using %.2f", c.Model.Confidence, d.Model.Confidence)
		c.Model.Confidence = d.Model.Confidence
	}
	if c.Model.Iou <= 0 || c.Model.Iou > 1 {
		warn("model.iou %.2f invalid, using %.2f", c.Model.Iou, d.Model.Iou)
		c.Model.Iou = d.Model.Iou
	}
	if c.Model.InputSize <= 0 || c.Model.InputSize%32 != 0 {
		warn("model.inputSize %d invalid, using %d", c.Model.InputSize, d.Model.InputSize)
		c.Model.InputSize = d.Model.InputSize
	}
	if len(c.Model.Names) == 0 {
		c.Model.Names = d.Model.Names
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = d.Uploads.Dir
	}
	if c.Uploads.DownloadsDir == "" {
		c.Uploads.DownloadsDir = d.Uploads.DownloadsDir
	}
	switch strings.ToLower(c.Uploads.Naming) {
	case "unique", "verbatim", "memory":
		c.Uploads.Naming = strings.ToLower(c.Uploads.Naming)
	default:
		warn("uploads.naming %q unknown, using %s", c.Uploads.Naming, d.Uploads.Naming)
		c.Uploads.Naming = d.Uploads.Naming
	}
	if c.Uploads.MaxBytes <= 0 {
		c.Uploads.MaxBytes = d.Uploads.MaxBytes
	}
	if c.Camera.Device < 0 {
		warn("camera.device %d invalid, using %d", c.Camera.Device, d.Camera.Device)
		c.Camera.Device = d.Camera.Device
	}
	if c.Camera.MaxFPS < 0 {
		c.Camera.MaxFPS = 0
	}
	if c.Camera.JPEGQuality <= 0 || c.Camera.JPEGQuality > 100 {
		c.Camera.JPEGQuality = d.Camera.JPEGQuality
	}
	if c.Reader.MinConfidence <= 0 || c.Reader.MinConfidence > 100 {
		c.Reader.MinConfidence = d.Reader.MinConfidence
	}
	if c.Monitor.SampleIntervalMs <= 0 {
		c.Monitor.SampleIntervalMs = d.Monitor.SampleIntervalMs
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	return warnings
}
