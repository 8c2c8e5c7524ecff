package ocr

import (
	"context"
	"fmt"
	"image"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// implements Engine using Anthropic Claude vision
type AnthropicEngine struct {
	client  anthropic.Client
	model   anthropic.Model
	options Options
}

func NewAnthropicEngine(ctx context.Context, apiKey string, opts Options) (*AnthropicEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required: use --api-key or set ANTHROPIC_API_KEY")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	model := anthropic.Model(opts.Model)
	if opts.Model == "" {
		model = anthropic.ModelClaudeHaiku4_5
	}

	return &AnthropicEngine{
		client:  client,
		model:   model,
		options: opts,
	}, nil
}

func (e *AnthropicEngine) Recognize(ctx context.Context, img image.Image, threshold float64) ([]Line, error) {
	encoded, err := encodeBase64PNG(img, e.options.MaxImageWidth)
	if err != nil {
		return nil, err
	}

	message, err := e.client.Messages.New(
		ctx,
		anthropic.MessageNewParams{
			Model:     e.model,
			MaxTokens: 1024,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(
					anthropic.NewImageBlockBase64("image/png", encoded),
					anthropic.NewTextBlock(buildPrompt(e.options)),
				),
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("recognition failed: %w", err)
	}
	if message == nil || len(message.Content) == 0 {
		return nil, fmt.Errorf("empty response from Anthropic")
	}

	var responseText string
	for _, block := range message.Content {
		if block.Type == "text" {
			responseText += block.Text
		}
	}

	return parseResponseText("Anthropic", responseText, threshold)
}

func (e *AnthropicEngine) Close() error {
	return nil
}
