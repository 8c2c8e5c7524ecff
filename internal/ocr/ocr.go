package ocr

import (
	"context"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"
)

// one recognized text line
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Engine recognizes text lines in an image. Implementations are not safe for
// concurrent use; every dispatch worker builds its own.
type Engine interface {
	Recognize(ctx context.Context, img image.Image, threshold float64) ([]Line, error)
	Close() error
}

// builds one engine per caller
type EngineFactory func(ctx context.Context) (Engine, error)

// recognition service provider
type Provider string

const (
	ProviderCommand   Provider = "command"
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// recognition options shared by all providers
type Options struct {
	Provider Provider
	Language string
	Model    string
	APIKey   string
	Prompt   string

	// passed through to command recognizers
	Command     string
	CommandArgs []string
	DetModelDir string
	RecModelDir string
	UseGPU      bool

	// images wider than this are downscaled before upload (0 = never)
	MaxImageWidth int
}

// creates an engine for the configured provider
func Factory(ctx context.Context, opts Options) (Engine, error) {
	switch opts.Provider {
	case ProviderCommand:
		return NewCommandEngine(ctx, opts)
	case ProviderGemini:
		return NewGeminiEngine(ctx, opts.resolveKey("GEMINI_API_KEY"), opts)
	case ProviderOpenAI:
		return NewOpenAIEngine(ctx, opts.resolveKey("OPENAI_API_KEY"), opts)
	case ProviderAnthropic:
		return NewAnthropicEngine(ctx, opts.resolveKey("ANTHROPIC_API_KEY"), opts)
	default:
		return nil, fmt.Errorf("unsupported recognition provider: %s", opts.Provider)
	}
}

// NewFactory binds opts so workers can build engines on their own.
func NewFactory(opts Options) EngineFactory {
	return func(ctx context.Context) (Engine, error) {
		return Factory(ctx, opts)
	}
}

// identity used to key cached recognitions
func (o Options) CacheKey() string {
	parts := []string{
		string(o.Provider), o.Model, o.Language,
		strconv.Itoa(o.MaxImageWidth), strconv.Quote(o.Prompt),
	}
	if o.Provider == ProviderCommand {
		parts = append(parts, o.Command, strings.Join(o.CommandArgs, " "), o.DetModelDir, o.RecModelDir)
	}
	return strings.Join(parts, "|")
}

func (o Options) resolveKey(env string) string {
	if o.APIKey != "" {
		return o.APIKey
	}
	return os.Getenv(env)
}

// drops empty lines and lines under the confidence threshold
func filterLines(lines []Line, threshold float64) []Line {
	kept := make([]Line, 0, len(lines))
	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		if text == "" || l.Confidence < threshold {
			continue
		}
		kept = append(kept, Line{Text: text, Confidence: l.Confidence})
	}
	return kept
}
