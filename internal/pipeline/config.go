package pipeline

import (
	"fmt"
	"image"
	"time"

	"github.com/mgpai22/vidocr/internal/frames"
)

// Config holds every knob of one extraction run. It is passed by value and
// never modified after construction.
type Config struct {
	// MM:SS or HH:MM:SS(.fff); empty means the start or end of the video
	TimeStart string
	TimeEnd   string

	// minimum line confidence, 0-100
	ConfThreshold int

	UseFullFrame bool
	// empty keeps the default bottom-third crop
	Crop image.Rectangle

	// 0 disables the brightness mask
	BrightnessThreshold int
	// 0 disables deduplication
	SimilarImageThreshold int
	SimilarPixelThreshold int
	FramesToSkip          int

	Workers   int
	BatchSize int
	Timeout   time.Duration
	Retries   int
}

func DefaultConfig() Config {
	return Config{
		ConfThreshold:         75,
		SimilarImageThreshold: 100,
		SimilarPixelThreshold: 25,
		FramesToSkip:          1,
		BatchSize:             frames.DefaultBatchSize,
	}
}

func (c Config) Validate() error {
	if c.ConfThreshold < 0 || c.ConfThreshold > 100 {
		return fmt.Errorf("confidence threshold must be between 0 and 100, got %d", c.ConfThreshold)
	}
	if c.BrightnessThreshold < 0 || c.BrightnessThreshold > 255 {
		return fmt.Errorf("brightness threshold must be between 0 and 255, got %d", c.BrightnessThreshold)
	}
	if c.SimilarPixelThreshold < 0 || c.SimilarPixelThreshold > 255 {
		return fmt.Errorf("similar pixel threshold must be between 0 and 255, got %d", c.SimilarPixelThreshold)
	}
	if c.SimilarImageThreshold < 0 {
		return fmt.Errorf("similar image threshold must not be negative, got %d", c.SimilarImageThreshold)
	}
	if c.FramesToSkip < 0 {
		return fmt.Errorf("frames to skip must not be negative, got %d", c.FramesToSkip)
	}
	if c.Workers < 0 || c.BatchSize < 0 || c.Retries < 0 || c.Timeout < 0 {
		return fmt.Errorf("workers, batch size, retries and timeout must not be negative")
	}
	if c.Crop.Min.X < 0 || c.Crop.Min.Y < 0 {
		return fmt.Errorf("crop origin must not be negative, got %v", c.Crop.Min)
	}
	return nil
}
