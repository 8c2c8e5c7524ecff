package ocr

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"regexp"
	"strings"

	"golang.org/x/image/draw"
)

var jsonFenceRegex = regexp.MustCompile("```(?:json)?\\s*")

// creates the recognition prompt for LLM providers
func buildPrompt(opts Options) string {
	var sb strings.Builder

	sb.WriteString("This image is a cropped video frame that may contain burned-in subtitles. ")
	sb.WriteString("Transcribe every line of visible subtitle text exactly as shown, top to bottom. ")
	sb.WriteString("Do not translate, correct or describe anything. ")

	if opts.Language != "" {
		sb.WriteString(fmt.Sprintf("The subtitles are expected to be in %s. ", opts.Language))
	}
	if opts.Prompt != "" {
		sb.WriteString(opts.Prompt)
		sb.WriteString(" ")
	}

	sb.WriteString("Respond with a JSON array of objects with 'text' and 'confidence' fields, ")
	sb.WriteString("where 'confidence' is a number between 0 and 1. ")
	sb.WriteString("If there is no text, respond with []. ")
	sb.WriteString("Return ONLY the JSON array, no other text or markdown formatting.")

	return sb.String()
}

// PNG-encodes img, downscaling to maxWidth when set
func encodePNG(img image.Image, maxWidth int) ([]byte, error) {
	b := img.Bounds()
	if maxWidth > 0 && b.Dx() > maxWidth {
		height := b.Dy() * maxWidth / b.Dx()
		if height < 1 {
			height = 1
		}
		scaled := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)
		img = scaled
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeBase64PNG(img image.Image, maxWidth int) (string, error) {
	data, err := encodePNG(img, maxWidth)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// removes markdown formatting from the response
func cleanJSONResponse(s string) string {
	s = strings.TrimSpace(s)
	s = jsonFenceRegex.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// finds the first JSON value in text that decodes to a line list. Models
// sometimes wrap the array in an object or surround it with prose.
func extractLines(text string) ([]Line, error) {
	text = cleanJSONResponse(text)

	for i := 0; i < len(text); i++ {
		if text[i] != '[' && text[i] != '{' {
			continue
		}
		decoder := json.NewDecoder(strings.NewReader(text[i:]))
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			continue
		}
		if lines, ok := tryExtractLines(raw); ok {
			return lines, nil
		}
	}
	return nil, fmt.Errorf("no line JSON found in response")
}

func tryExtractLines(raw json.RawMessage) ([]Line, bool) {
	var lines []Line
	if err := json.Unmarshal(raw, &lines); err == nil {
		return lines, true
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, false
	}

	for _, key := range []string{"lines", "text_lines", "results", "data"} {
		if fieldRaw, ok := wrapper[key]; ok {
			if err := json.Unmarshal(fieldRaw, &lines); err == nil {
				return lines, true
			}
		}
	}
	return nil, false
}

// truncates a string to maxLen bytes
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func parseResponseText(provider, responseText string, threshold float64) ([]Line, error) {
	if responseText == "" {
		return nil, fmt.Errorf("no text in %s response", provider)
	}
	lines, err := extractLines(responseText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w (response: %s)", err, truncateString(responseText, 200))
	}
	return filterLines(lines, threshold), nil
}
