package subtitle

import (
	"strings"
	"unicode/utf8"
)

// Generator turns merged cues into timed subtitle entries
type Generator struct {
	FPS float64

	// wraps recognized lines longer than this at a word boundary (0 = never)
	MaxCharsPerLine int
}

func NewGenerator(fps float64) *Generator {
	return &Generator{FPS: fps}
}

// converts cues to a subtitle track, numbering entries from 1
func (g *Generator) Generate(cues []Cue) *Subtitle {
	entries := make([]Entry, 0, len(cues))

	for i, cue := range cues {
		entries = append(entries, Entry{
			Index:     i + 1,
			StartTime: FrameTime(cue.IndexStart(), g.FPS),
			EndTime:   FrameTime(cue.IndexEnd(), g.FPS),
			Text:      g.formatText(cue.Text()),
		})
	}

	return &Subtitle{
		Entries: entries,
		Format:  string(FormatSRT),
	}
}

// wraps each recognized line separately so line breaks from the frame are kept
func (g *Generator) formatText(text string) string {
	if g.MaxCharsPerLine <= 0 {
		return text
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = g.wrapLine(line)
	}
	return strings.Join(lines, "\n")
}

func (g *Generator) wrapLine(text string) string {
	runeCount := utf8.RuneCountInString(text)

	// if text fits on one line, return as is
	if runeCount <= g.MaxCharsPerLine {
		return text
	}

	// split into two lines at the word break closest to the middle
	words := strings.Fields(text)
	if len(words) < 2 {
		return text
	}

	middle := runeCount / 2
	bestSplit := 0
	bestDiff := runeCount

	currentLen := 0
	for i, word := range words[:len(words)-1] {
		currentLen += utf8.RuneCountInString(word)
		if i > 0 {
			currentLen++ // space
		}

		diff := abs(currentLen - middle)
		if diff < bestDiff {
			bestDiff = diff
			bestSplit = i + 1
		}
	}

	line1 := strings.Join(words[:bestSplit], " ")
	line2 := strings.Join(words[bestSplit:], " ")
	return line1 + "\n" + line2
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
