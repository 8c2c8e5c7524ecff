package subtitle

import (
	"testing"
	"time"
)

func TestGeneratorTimesCues(t *testing.T) {
	cues := Merge([]PredictedFrame{frame(3, 5, "A"), frame(6, 6, "B")}, 80, 25)

	sub := NewGenerator(25).Generate(cues)
	if len(sub.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(sub.Entries))
	}

	first := sub.Entries[0]
	if first.Index != 1 || first.StartTime != 120*time.Millisecond || first.EndTime != 200*time.Millisecond || first.Text != "A" {
		t.Errorf("first entry = %+v", first)
	}
	second := sub.Entries[1]
	if second.Index != 2 || second.StartTime != 240*time.Millisecond || second.EndTime != 240*time.Millisecond {
		t.Errorf("second entry = %+v", second)
	}
}

func TestGeneratorEmpty(t *testing.T) {
	sub := NewGenerator(25).Generate(nil)
	if sub.Entries == nil || len(sub.Entries) != 0 {
		t.Errorf("expected empty, non-nil entries, got %#v", sub.Entries)
	}
}

func TestGeneratorWrapsLongLines(t *testing.T) {
	g := &Generator{FPS: 25, MaxCharsPerLine: 10}
	cues := Merge([]PredictedFrame{frame(0, 1, "short", "this line is too long")}, 80, 25)

	got := g.Generate(cues).Entries[0].Text
	want := "short\nthis line\nis too long"
	if got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}
