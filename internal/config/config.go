// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/mgpai22/vidocr/internal/ffmpeg"
	"github.com/mgpai22/vidocr/internal/frames"
	"github.com/mgpai22/vidocr/internal/ocr"
	"github.com/mgpai22/vidocr/internal/pipeline"
	"github.com/mgpai22/vidocr/internal/subtitle"
)

// Config represents the full configuration for an extraction run.
type Config struct {
	// Output
	Output       string `yaml:"output" toml:"output"`
	Format       string `yaml:"format" toml:"format"`
	SimThreshold int    `yaml:"sim_threshold" toml:"sim_threshold"`
	MaxLineChars int    `yaml:"max_line_chars" toml:"max_line_chars"`

	// Sampling
	TimeStart             string     `yaml:"time_start" toml:"time_start"`
	TimeEnd               string     `yaml:"time_end" toml:"time_end"`
	UseFullFrame          bool       `yaml:"use_fullframe" toml:"use_fullframe"`
	Crop                  CropConfig `yaml:"crop" toml:"crop"`
	BrightnessThreshold   int        `yaml:"brightness_threshold" toml:"brightness_threshold"`
	SimilarImageThreshold int        `yaml:"similar_image_threshold" toml:"similar_image_threshold"`
	SimilarPixelThreshold int        `yaml:"similar_pixel_threshold" toml:"similar_pixel_threshold"`
	FramesToSkip          int        `yaml:"frames_to_skip" toml:"frames_to_skip"`

	// Recognition
	Language       string    `yaml:"language" toml:"language"`
	ConfThreshold  int       `yaml:"conf_threshold" toml:"conf_threshold"`
	OCR            OCRConfig `yaml:"ocr" toml:"ocr"`
	Workers        int       `yaml:"workers" toml:"workers"`
	BatchSize      int       `yaml:"batch_size" toml:"batch_size"`
	TimeoutSeconds int       `yaml:"timeout_seconds" toml:"timeout_seconds"`
	Retries        int       `yaml:"retries" toml:"retries"`

	Cache  CacheConfig  `yaml:"cache" toml:"cache"`
	FFmpeg FFmpegConfig `yaml:"ffmpeg" toml:"ffmpeg"`
}

// CropConfig is the recognition area in pixels; zero width or height means
// the default bottom third.
type CropConfig struct {
	X      int `yaml:"x" toml:"x"`
	Y      int `yaml:"y" toml:"y"`
	Width  int `yaml:"width" toml:"width"`
	Height int `yaml:"height" toml:"height"`
}

// OCRConfig selects and configures the recognition engine.
type OCRConfig struct {
	Provider      string   `yaml:"provider" toml:"provider"`
	Model         string   `yaml:"model" toml:"model"`
	APIKey        string   `yaml:"api_key" toml:"api_key"`
	Prompt        string   `yaml:"prompt" toml:"prompt"`
	Command       string   `yaml:"command" toml:"command"`
	CommandArgs   []string `yaml:"command_args" toml:"command_args"`
	DetModelDir   string   `yaml:"det_model_dir" toml:"det_model_dir"`
	RecModelDir   string   `yaml:"rec_model_dir" toml:"rec_model_dir"`
	UseGPU        bool     `yaml:"use_gpu" toml:"use_gpu"`
	MaxImageWidth int      `yaml:"max_image_width" toml:"max_image_width"`
}

// CacheConfig controls the recognition cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"` // Default: ~/.cache/vidocr/ocr.db
}

// FFmpegConfig overrides binary discovery.
type FFmpegConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path" toml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path" toml:"ffprobe_path"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	p := pipeline.DefaultConfig()
	return Config{
		SimThreshold: 80,

		SimilarImageThreshold: p.SimilarImageThreshold,
		SimilarPixelThreshold: p.SimilarPixelThreshold,
		FramesToSkip:          p.FramesToSkip,

		ConfThreshold: p.ConfThreshold,
		OCR: OCRConfig{
			Provider:      string(ocr.ProviderGemini),
			MaxImageWidth: 1280,
		},
		BatchSize: frames.DefaultBatchSize,
	}
}

// LoadFromFile loads configuration from a YAML or TOML file, chosen by
// extension. Keys missing from the file keep their defaults.
func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config format: %s", path)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Cache.Path, err = ExpandPath(cfg.Cache.Path); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.SimThreshold < 0 || c.SimThreshold > 100 {
		return fmt.Errorf("similarity threshold must be between 0 and 100, got %d", c.SimThreshold)
	}
	if c.MaxLineChars < 0 {
		return fmt.Errorf("max line chars must not be negative, got %d", c.MaxLineChars)
	}
	if c.Format != "" {
		if _, err := subtitle.ParseFormat(c.Format); err != nil {
			return err
		}
	}
	switch ocr.Provider(c.OCR.Provider) {
	case ocr.ProviderGemini, ocr.ProviderOpenAI, ocr.ProviderAnthropic:
	case ocr.ProviderCommand:
		if c.OCR.Command == "" {
			return fmt.Errorf("ocr.command is required for the %s provider", ocr.ProviderCommand)
		}
	default:
		return fmt.Errorf("unsupported ocr provider: %s", c.OCR.Provider)
	}
	if c.Crop.Width < 0 || c.Crop.Height < 0 {
		return fmt.Errorf("crop size must not be negative, got %dx%d", c.Crop.Width, c.Crop.Height)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must not be negative, got %d", c.TimeoutSeconds)
	}
	return c.ToPipelineConfig().Validate()
}

// ToPipelineConfig converts Config to pipeline.Config.
func (c Config) ToPipelineConfig() pipeline.Config {
	return pipeline.Config{
		TimeStart: c.TimeStart,
		TimeEnd:   c.TimeEnd,

		ConfThreshold: c.ConfThreshold,

		UseFullFrame: c.UseFullFrame,
		Crop:         c.Crop.Rect(),

		BrightnessThreshold:   c.BrightnessThreshold,
		SimilarImageThreshold: c.SimilarImageThreshold,
		SimilarPixelThreshold: c.SimilarPixelThreshold,
		FramesToSkip:          c.FramesToSkip,

		Workers:   c.Workers,
		BatchSize: c.BatchSize,
		Timeout:   time.Duration(c.TimeoutSeconds) * time.Second,
		Retries:   c.Retries,
	}
}

// ToOCROptions converts Config to ocr.Options.
func (c Config) ToOCROptions() ocr.Options {
	return ocr.Options{
		Provider:      ocr.Provider(c.OCR.Provider),
		Language:      c.Language,
		Model:         c.OCR.Model,
		APIKey:        c.OCR.APIKey,
		Prompt:        c.OCR.Prompt,
		Command:       c.OCR.Command,
		CommandArgs:   c.OCR.CommandArgs,
		DetModelDir:   c.OCR.DetModelDir,
		RecModelDir:   c.OCR.RecModelDir,
		UseGPU:        c.OCR.UseGPU,
		MaxImageWidth: c.OCR.MaxImageWidth,
	}
}

func (c Config) ToBinaryPaths() ffmpeg.BinaryPaths {
	return ffmpeg.BinaryPaths{
		FFmpeg:  c.FFmpeg.FFmpegPath,
		FFprobe: c.FFmpeg.FFprobePath,
	}
}

// CachePath is the recognition cache location, defaulting under the user
// cache directory.
func (c Config) CachePath() (string, error) {
	if c.Cache.Path != "" {
		return c.Cache.Path, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache dir: %w", err)
	}
	return filepath.Join(dir, "vidocr", "ocr.db"), nil
}

// Rect returns the crop rectangle, empty when no crop is set.
func (c CropConfig) Rect() image.Rectangle {
	if c.Width <= 0 || c.Height <= 0 {
		return image.Rectangle{}
	}
	return image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height)
}

// ParseCrop reads "x,y,width,height".
func ParseCrop(s string) (CropConfig, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return CropConfig{}, fmt.Errorf("crop must be x,y,width,height, got %q", s)
	}

	var vals [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return CropConfig{}, fmt.Errorf("crop must be x,y,width,height, got %q", s)
		}
		vals[i] = v
		if vals[i] < 0 {
			return CropConfig{}, fmt.Errorf("crop values must not be negative, got %q", s)
		}
	}
	return CropConfig{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" || !strings.HasPrefix(pathValue, "~") {
		return pathValue, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if pathValue == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(pathValue, "~/")), nil
}
