// Package pipeline ties sampling, recognition and merging together for one
// video.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mgpai22/vidocr/internal/dispatch"
	"github.com/mgpai22/vidocr/internal/frames"
	"github.com/mgpai22/vidocr/internal/logging"
	"github.com/mgpai22/vidocr/internal/ocr"
	"github.com/mgpai22/vidocr/internal/subtitle"
	"github.com/mgpai22/vidocr/internal/video"
)

var ErrNotRun = errors.New("ocr has not been run on this video")

// decoder handle owned by one run
type FrameSource interface {
	frames.Source
	Close() error
}

type SourceOpener func(ctx context.Context) (FrameSource, error)

// progress callbacks; both may be nil
type Hooks struct {
	OnFrame func(index int)
	OnBatch func(blocks int)
}

// Video is one input file and the recognitions of its last run. Not safe for
// concurrent use.
type Video struct {
	info   video.Info
	open   SourceOpener
	logger *logging.Logger
	hooks  Hooks

	predicted []subtitle.PredictedFrame
	ran       bool
}

// probes path and decodes it through ffmpeg
func Open(ctx context.Context, path string, logger *logging.Logger) (*Video, error) {
	info, err := video.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return New(*info, func(ctx context.Context) (FrameSource, error) {
		c, err := video.OpenCapture(ctx, *info)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, logger), nil
}

func New(info video.Info, open SourceOpener, logger *logging.Logger) *Video {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Video{info: info, open: open, logger: logger}
}

func (v *Video) Info() video.Info {
	return v.info
}

func (v *Video) SetHooks(h Hooks) {
	v.hooks = h
}

// Window converts the configured time range to frame indices [start, end).
func (v *Video) Window(cfg Config) (start, end int, err error) {
	end = v.info.FrameCount
	if cfg.TimeStart != "" {
		if start, err = subtitle.FrameIndex(cfg.TimeStart, v.info.FPS); err != nil {
			return 0, 0, fmt.Errorf("time start: %w", err)
		}
	}
	if cfg.TimeEnd != "" {
		if end, err = subtitle.FrameIndex(cfg.TimeEnd, v.info.FPS); err != nil {
			return 0, 0, fmt.Errorf("time end: %w", err)
		}
	}
	if end < start {
		return 0, 0, fmt.Errorf("%w: time start %q is later than time end %q", frames.ErrInvalidRange, cfg.TimeStart, cfg.TimeEnd)
	}
	return start, end, nil
}

// RunOCR samples the configured window and recognizes every candidate block.
// Results of a previous run are replaced only when this run succeeds.
func (v *Video) RunOCR(ctx context.Context, cfg Config, factory ocr.EngineFactory) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	start, end, err := v.Window(cfg)
	if err != nil {
		return err
	}

	src, err := v.open(ctx)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer src.Close()

	sampler, err := frames.NewSampler(src, frames.Options{
		Start:                 start,
		End:                   end,
		FramesToSkip:          cfg.FramesToSkip,
		Crop:                  cfg.Crop,
		UseFullFrame:          cfg.UseFullFrame,
		BrightnessThreshold:   cfg.BrightnessThreshold,
		SimilarImageThreshold: cfg.SimilarImageThreshold,
		SimilarPixelThreshold: cfg.SimilarPixelThreshold,
		ConfThreshold:         float64(cfg.ConfThreshold) / 100,
		BatchSize:             cfg.BatchSize,
		OnFrame:               v.hooks.OnFrame,
	})
	if err != nil {
		return err
	}

	d := dispatch.New(dispatch.Config{
		Workers:   cfg.Workers,
		NewEngine: factory,
		Timeout:   cfg.Timeout,
		Retries:   cfg.Retries,
		OnBatch:   v.hooks.OnBatch,
		Logger:    v.logger.Named("dispatch"),
	})

	v.logger.Infow("running ocr",
		"start_frame", start,
		"end_frame", end,
		"fps", v.info.FPS,
	)
	began := time.Now()

	predicted, err := d.Run(ctx, sampler.Batches)
	if err != nil {
		return err
	}

	v.predicted = predicted
	v.ran = true
	v.logger.Infow("ocr finished",
		"blocks", len(predicted),
		"elapsed", time.Since(began).Round(time.Millisecond),
	)
	return nil
}

// Cues assembles and merges the recognitions of the last run.
func (v *Video) Cues(simThreshold int) ([]subtitle.Cue, error) {
	if !v.ran {
		return nil, ErrNotRun
	}
	return subtitle.Merge(subtitle.Assemble(v.predicted), simThreshold, v.info.FPS), nil
}

// timed entries for the merged cues, using gen when non-nil
func (v *Video) Subtitle(simThreshold int, gen *subtitle.Generator) (*subtitle.Subtitle, error) {
	cues, err := v.Cues(simThreshold)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		gen = subtitle.NewGenerator(v.info.FPS)
	}
	return gen.Generate(cues), nil
}
