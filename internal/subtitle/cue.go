package subtitle

import (
	"slices"
	"strings"

	"github.com/mgpai22/vidocr/internal/ocr"
)

// recognition result for one candidate block
type PredictedFrame struct {
	StartIndex int
	EndIndex   int
	Lines      []ocr.Line
}

// joins the recognized lines in order
func (f PredictedFrame) Text() string {
	texts := make([]string, len(f.Lines))
	for i, l := range f.Lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}

// Cue is a run of predicted frames merged into one subtitle. Frames is never
// empty.
type Cue struct {
	Frames       []PredictedFrame
	SimThreshold int
}

func (c Cue) IndexStart() int {
	return c.Frames[0].StartIndex
}

func (c Cue) IndexEnd() int {
	return c.Frames[len(c.Frames)-1].EndIndex
}

// text of the first frame; later frames only extend the time span
func (c Cue) Text() string {
	return c.Frames[0].Text()
}

func (c Cue) empty() bool {
	return len(c.Frames[0].Lines) == 0
}

// Assemble returns a copy of frames ordered by StartIndex. Dispatch completes
// blocks in arbitrary order; merging depends on this ordering.
func Assemble(frames []PredictedFrame) []PredictedFrame {
	sorted := slices.Clone(frames)
	slices.SortFunc(sorted, func(a, b PredictedFrame) int {
		return a.StartIndex - b.StartIndex
	})
	return sorted
}

// largest frame gap, about 0.09s, still bridged by a merge
func MaxMergeGap(fps float64) int {
	return int(0.09 * fps)
}

// Merge collapses ordered frames into cues. A frame joins the previous cue
// when that cue has text, starts within MaxMergeGap frames of its end and the
// texts are at least simThreshold similar. Cues whose first frame has no text
// are dropped afterwards.
func Merge(frames []PredictedFrame, simThreshold int, fps float64) []Cue {
	maxGap := MaxMergeGap(fps)
	var cues []Cue

	for _, frame := range frames {
		c := Cue{Frames: []PredictedFrame{frame}, SimThreshold: simThreshold}

		if n := len(cues); n > 0 {
			last := cues[n-1]
			if !last.empty() &&
				c.IndexStart()-last.IndexEnd() <= maxGap &&
				Similarity(last.Text(), c.Text()) >= simThreshold {
				merged := make([]PredictedFrame, 0, len(last.Frames)+1)
				merged = append(merged, last.Frames...)
				merged = append(merged, frame)
				cues[n-1] = Cue{Frames: merged, SimThreshold: simThreshold}
				continue
			}
		}
		cues = append(cues, c)
	}

	return slices.DeleteFunc(cues, Cue.empty)
}
