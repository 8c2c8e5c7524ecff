package ocr

import (
	"context"
	"fmt"
	"image"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// implements Engine using OpenAI Chat Completions with image input
type OpenAIEngine struct {
	client  openai.Client
	model   string
	options Options
}

func NewOpenAIEngine(ctx context.Context, apiKey string, opts Options) (*OpenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required: use --api-key or set OPENAI_API_KEY")
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))

	model := opts.Model
	if model == "" {
		model = "gpt-5-mini"
	}

	return &OpenAIEngine{
		client:  client,
		model:   model,
		options: opts,
	}, nil
}

func (e *OpenAIEngine) Recognize(ctx context.Context, img image.Image, threshold float64) ([]Line, error) {
	encoded, err := encodeBase64PNG(img, e.options.MaxImageWidth)
	if err != nil {
		return nil, err
	}

	completion, err := e.client.Chat.Completions.New(
		ctx,
		openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
					openai.TextContentPart(buildPrompt(e.options)),
					openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: "data:image/png;base64," + encoded,
					}),
				}),
			},
			Model: e.model,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("recognition failed: %w", err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return nil, fmt.Errorf("empty response from OpenAI")
	}

	return parseResponseText("OpenAI", completion.Choices[0].Message.Content, threshold)
}

func (e *OpenAIEngine) Close() error {
	return nil
}
