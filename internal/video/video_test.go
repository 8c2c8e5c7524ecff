package video

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"30000/1001", 30000.0 / 1001.0},
		{"24", 24},
		{"0/0", 0},
		{"", 0},
		{"abc/1", 0},
	}

	for _, tt := range tests {
		got := parseRate(tt.in)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("parseRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseProbe(t *testing.T) {
	data := []byte(`{
		"streams": [{
			"codec_name": "h264",
			"width": 1920,
			"height": 1080,
			"avg_frame_rate": "25/1",
			"r_frame_rate": "25/1",
			"nb_frames": "250",
			"duration": "10.000000"
		}],
		"format": {"duration": "10.040000"}
	}`)

	info, err := parseProbe(data)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if info.FPS != 25 {
		t.Errorf("FPS = %v, want 25", info.FPS)
	}
	if info.FrameCount != 250 {
		t.Errorf("FrameCount = %d, want 250", info.FrameCount)
	}
	if info.Width != 1920 || info.Height != 1080 {
		t.Errorf("size = %dx%d, want 1920x1080", info.Width, info.Height)
	}
	if info.Duration != 10*time.Second {
		t.Errorf("Duration = %v, want 10s", info.Duration)
	}
	if info.Codec != "h264" {
		t.Errorf("Codec = %q, want h264", info.Codec)
	}
}

func TestParseProbeFallbacks(t *testing.T) {
	// mkv streams often lack nb_frames and a per-stream duration
	data := []byte(`{
		"streams": [{
			"codec_name": "vp9",
			"width": 640,
			"height": 360,
			"avg_frame_rate": "0/0",
			"r_frame_rate": "30/1"
		}],
		"format": {"duration": "2.000000"}
	}`)

	info, err := parseProbe(data)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if info.FPS != 30 {
		t.Errorf("FPS = %v, want 30", info.FPS)
	}
	if info.FrameCount != 60 {
		t.Errorf("FrameCount = %d, want 60", info.FrameCount)
	}
}

func TestParseProbeErrors(t *testing.T) {
	tests := map[string]string{
		"invalid json": `{`,
		"no streams":   `{"streams": []}`,
		"no rate":      `{"streams": [{"avg_frame_rate": "0/0", "r_frame_rate": "0/0"}]}`,
	}
	for name, data := range tests {
		if _, err := parseProbe([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestProbeMissingFile(t *testing.T) {
	_, err := Probe(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRGBToImage(t *testing.T) {
	buf := []byte{
		255, 0, 0, 0, 255, 0,
		0, 0, 255, 10, 20, 30,
	}
	img := rgbToImage(buf, 2, 2)

	r, g, b, a := img.At(1, 1).RGBA()
	if r>>8 != 10 || g>>8 != 20 || b>>8 != 30 || a>>8 != 255 {
		t.Errorf("pixel (1,1) = %d,%d,%d,%d, want 10,20,30,255", r>>8, g>>8, b>>8, a>>8)
	}
	r, _, _, _ = img.At(0, 0).RGBA()
	if r>>8 != 255 {
		t.Errorf("pixel (0,0) red = %d, want 255", r>>8)
	}
}

func TestOpenCaptureValidatesInfo(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenCapture(ctx, Info{Width: 0, Height: 10, FPS: 25}); err == nil {
		t.Error("expected error for zero width")
	}
	if _, err := OpenCapture(ctx, Info{Width: 10, Height: 10, FPS: 0}); err == nil {
		t.Error("expected error for zero fps")
	}
}
