package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/mgpai22/vidocr/internal/config"
	"github.com/mgpai22/vidocr/internal/ffmpeg"
	"github.com/mgpai22/vidocr/internal/ocr"
	"github.com/mgpai22/vidocr/internal/pipeline"
	"github.com/mgpai22/vidocr/internal/subtitle"
)

var extractCmd = &cobra.Command{
	Use:   "extract [video_file]",
	Short: "Extract burned-in subtitles from a video file",
	Long: `Extract burned-in subtitles from a video file.

By default only the bottom third of each frame is searched for text. Runs of
near-identical frames are recognized once, and neighbouring recognitions with
similar text are merged into a single cue.

Supports multiple output formats: srt, tsv, vtt, ass.

Examples:
  vidocr extract video.mp4
  vidocr extract video.mp4 -o subs.tsv --time-start 0:30 --time-end 5:00
  vidocr extract video.mp4 --provider command --command paddle-serve -l ch --use-gpu
  vidocr extract video.mp4 --crop 0,800,1920,280 --brightness-threshold 210`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	registerExtractFlags(extractCmd)
}

func registerExtractFlags(cmd *cobra.Command) {
	d := config.Defaults()
	f := cmd.Flags()

	// output
	f.StringP("format", "f", "", "Output format (srt, tsv, vtt, ass); defaults to the output extension")
	f.Int("sim-threshold", d.SimThreshold, "Similarity (0-100) above which neighbouring cues merge")
	f.Int("max-line-chars", d.MaxLineChars, "Wrap recognized lines longer than this (0 disables)")

	// sampling
	f.String("time-start", "", "Start time (MM:SS or HH:MM:SS)")
	f.String("time-end", "", "End time (MM:SS or HH:MM:SS)")
	f.Bool("use-fullframe", d.UseFullFrame, "Recognize the whole frame instead of the bottom third")
	f.String("crop", "", "Recognition area as x,y,width,height")
	f.Int("brightness-threshold", d.BrightnessThreshold, "Black out pixels darker than this (0-255, 0 disables)")
	f.Int("similar-image-threshold", d.SimilarImageThreshold, "Changed pixels below which a frame counts as a duplicate (0 disables)")
	f.Int("similar-pixel-threshold", d.SimilarPixelThreshold, "Grey level difference at which a pixel counts as changed (0-255)")
	f.Int("frames-to-skip", d.FramesToSkip, "Frames to skip between sampled frames")

	// recognition
	f.String("provider", d.OCR.Provider, "Recognition provider (gemini, openai, anthropic, command)")
	f.String("model", "", "Model name for the selected provider")
	f.String("api-key", "", "API key for the selected provider (or use the provider's env var)")
	f.String("prompt", "", "Extra instructions appended to the recognition prompt")
	f.String("command", "", "Recognizer executable for the command provider")
	f.StringArray("command-arg", nil, "Argument passed to the recognizer (repeatable)")
	f.String("det-model-dir", "", "Detection model directory passed to the recognizer")
	f.String("rec-model-dir", "", "Recognition model directory passed to the recognizer")
	f.Bool("use-gpu", false, "Ask the recognizer to use the GPU")
	f.Int("conf-threshold", d.ConfThreshold, "Minimum line confidence (0-100)")
	f.IntP("concurrency", "c", d.Workers, "Number of recognition workers (0 uses all CPUs)")
	f.Int("batch-size", d.BatchSize, "Candidate blocks sent to a worker at once")
	f.Int("timeout", d.TimeoutSeconds, "Recognition timeout in seconds (0 disables)")
	f.Int("retries", d.Retries, "Extra attempts for a failed recognition")

	// cache and binaries
	f.Bool("cache", d.Cache.Enabled, "Reuse recognitions from previous runs")
	f.String("cache-path", "", "Recognition cache database path")
	f.String("ffmpeg-path", "", "Path to the ffmpeg binary")
	f.String("ffprobe-path", "", "Path to the ffprobe binary")
	f.Bool("no-progress", false, "Disable the progress bar")
}

// loadConfig reads the config file when given, then applies flags the user
// set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Defaults()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if err := applyFlags(cmd, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	setString := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	setInt := func(name string, dst *int) {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if f.Changed(name) {
			*dst, _ = f.GetBool(name)
		}
	}

	setString("output", &cfg.Output)
	setString("language", &cfg.Language)
	setString("format", &cfg.Format)
	setInt("sim-threshold", &cfg.SimThreshold)
	setInt("max-line-chars", &cfg.MaxLineChars)

	setString("time-start", &cfg.TimeStart)
	setString("time-end", &cfg.TimeEnd)
	setBool("use-fullframe", &cfg.UseFullFrame)
	if f.Changed("crop") {
		raw, _ := f.GetString("crop")
		crop, err := config.ParseCrop(raw)
		if err != nil {
			return err
		}
		cfg.Crop = crop
	}
	setInt("brightness-threshold", &cfg.BrightnessThreshold)
	setInt("similar-image-threshold", &cfg.SimilarImageThreshold)
	setInt("similar-pixel-threshold", &cfg.SimilarPixelThreshold)
	setInt("frames-to-skip", &cfg.FramesToSkip)

	setString("provider", &cfg.OCR.Provider)
	setString("model", &cfg.OCR.Model)
	setString("api-key", &cfg.OCR.APIKey)
	setString("prompt", &cfg.OCR.Prompt)
	setString("command", &cfg.OCR.Command)
	if f.Changed("command-arg") {
		cfg.OCR.CommandArgs, _ = f.GetStringArray("command-arg")
	}
	setString("det-model-dir", &cfg.OCR.DetModelDir)
	setString("rec-model-dir", &cfg.OCR.RecModelDir)
	setBool("use-gpu", &cfg.OCR.UseGPU)
	setInt("conf-threshold", &cfg.ConfThreshold)
	setInt("concurrency", &cfg.Workers)
	setInt("batch-size", &cfg.BatchSize)
	setInt("timeout", &cfg.TimeoutSeconds)
	setInt("retries", &cfg.Retries)

	setBool("cache", &cfg.Cache.Enabled)
	setString("cache-path", &cfg.Cache.Path)
	setString("ffmpeg-path", &cfg.FFmpeg.FFmpegPath)
	setString("ffprobe-path", &cfg.FFmpeg.FFprobePath)
	return nil
}

// resolveOutput picks the output path and format. An explicit format wins;
// otherwise the output extension decides, falling back to SRT.
func resolveOutput(videoPath, outputPath, formatName string) (string, subtitle.Format, error) {
	var format subtitle.Format
	if formatName != "" {
		f, err := subtitle.ParseFormat(formatName)
		if err != nil {
			return "", "", err
		}
		format = f
	} else if outputPath != "" {
		format = subtitle.GetFormatFromExtension(outputPath)
	} else {
		format = subtitle.FormatSRT
	}

	if outputPath == "" {
		ext := filepath.Ext(videoPath)
		outputPath = strings.TrimSuffix(videoPath, ext) + subtitle.GetExtensionForFormat(format)
	}
	return outputPath, format, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	videoPath := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	outputPath, format, err := resolveOutput(videoPath, cfg.Output, cfg.Format)
	if err != nil {
		return err
	}

	ffmpeg.Configure(cfg.ToBinaryPaths())

	runID := uuid.NewString()
	log := logger.With("run_id", runID)
	ocrOpts := cfg.ToOCROptions()
	pipelineCfg := cfg.ToPipelineConfig()

	log.Infow("Starting subtitle extraction",
		"video", videoPath,
		"output", outputPath,
		"format", format,
		"provider", ocrOpts.Provider,
		"language", cfg.Language,
	)

	v, err := pipeline.Open(ctx, videoPath, log.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	info := v.Info()
	log.Infow("Video probed",
		"frames", info.FrameCount,
		"fps", info.FPS,
		"resolution", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"duration", info.Duration.String(),
	)

	factory := ocr.NewFactory(ocrOpts)
	if cfg.Cache.Enabled {
		cachePath, err := cfg.CachePath()
		if err != nil {
			return err
		}
		cache, err := ocr.OpenCache(ctx, cachePath)
		if err != nil {
			return err
		}
		defer cache.Close()
		factory = cache.WrapFactory(factory, ocrOpts.CacheKey())
		log.Debugw("Recognition cache enabled", "path", cachePath)
	}

	start, end, err := v.Window(pipelineCfg)
	if err != nil {
		return err
	}
	if !noProgress {
		bar := newFrameBar(end - start)
		v.SetHooks(pipeline.Hooks{
			OnFrame: func(int) { _ = bar.Add(1) },
		})
		defer func() { _ = bar.Finish() }()
	}

	began := time.Now()
	if err := v.RunOCR(ctx, pipelineCfg, factory); err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	gen := subtitle.NewGenerator(info.FPS)
	gen.MaxCharsPerLine = cfg.MaxLineChars
	subs, err := v.Subtitle(cfg.SimThreshold, gen)
	if err != nil {
		return err
	}
	subs.Language = cfg.Language
	subs.Format = string(format)

	writer, err := subtitle.NewWriter(format)
	if err != nil {
		return err
	}
	if err := writer.Write(subs, outputPath); err != nil {
		return fmt.Errorf("failed to write subtitles: %w", err)
	}

	// the track itself owns stdout when written there
	summary := cmd.OutOrStdout()
	absOutput := outputPath
	if outputPath == subtitle.StdoutPath {
		summary = cmd.ErrOrStderr()
		absOutput = "stdout"
	} else if p, err := filepath.Abs(outputPath); err == nil {
		absOutput = p
	}
	fmt.Fprintf(summary, "Subtitles extracted successfully: %s\n", absOutput)
	fmt.Fprintf(summary, "  Entries: %d\n", len(subs.Entries))
	fmt.Fprintf(summary, "  Elapsed: %s\n", time.Since(began).Round(time.Second).String())

	return nil
}

func newFrameBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Sampling frames"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
