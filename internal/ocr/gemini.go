package ocr

import (
	"context"
	"fmt"
	"image"

	"google.golang.org/genai"
)

// implements Engine using Google Gemini vision models
type GeminiEngine struct {
	client  *genai.Client
	model   string
	options Options
}

func NewGeminiEngine(ctx context.Context, apiKey string, opts Options) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required: use --api-key or set GEMINI_API_KEY")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	return &GeminiEngine{
		client:  client,
		model:   model,
		options: opts,
	}, nil
}

func (e *GeminiEngine) Recognize(ctx context.Context, img image.Image, threshold float64) ([]Line, error) {
	data, err := encodePNG(img, e.options.MaxImageWidth)
	if err != nil {
		return nil, err
	}

	parts := []*genai.Part{
		genai.NewPartFromText(buildPrompt(e.options)),
		genai.NewPartFromBytes(data, "image/png"),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}

	result, err := e.client.Models.GenerateContent(ctx, e.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("recognition failed: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	var responseText string
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			responseText += part.Text
		}
		if responseText != "" {
			break
		}
	}

	return parseResponseText("Gemini", responseText, threshold)
}

// the genai client holds no resources that need releasing
func (e *GeminiEngine) Close() error {
	return nil
}
