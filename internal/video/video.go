package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mgpai22/vidocr/internal/ffmpeg"
)

// video stream information needed to address frames
type Info struct {
	Path       string
	Duration   time.Duration
	Width      int
	Height     int
	FPS        float64
	FrameCount int
	Codec      string
}

// JSON output from ffprobe -show_streams -show_format
type ffprobeOutput struct {
	Streams []struct {
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// reads frame count, frame rate and geometry of the first video stream
func Probe(ctx context.Context, videoPath string) (*Info, error) {
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("video file not found: %s", videoPath)
	}

	ffprobePath, err := ffmpeg.FFprobePath(ctx)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-select_streams", "v:0",
		"-show_streams",
		"-show_format",
		videoPath,
	)

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	info, err := parseProbe(out.Bytes())
	if err != nil {
		return nil, err
	}
	info.Path = videoPath
	return info, nil
}

func parseProbe(data []byte) (*Info, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return nil, fmt.Errorf("no video stream found")
	}
	stream := probe.Streams[0]

	fps := parseRate(stream.AvgFrameRate)
	if fps <= 0 {
		fps = parseRate(stream.RFrameRate)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %q", stream.AvgFrameRate)
	}

	seconds := parseSeconds(stream.Duration)
	if seconds <= 0 {
		seconds = parseSeconds(probe.Format.Duration)
	}

	frames, _ := strconv.Atoi(stream.NbFrames)
	if frames <= 0 {
		frames = int(math.Round(seconds * fps))
	}

	return &Info{
		Duration:   time.Duration(seconds * float64(time.Second)),
		Width:      stream.Width,
		Height:     stream.Height,
		FPS:        fps,
		FrameCount: frames,
		Codec:      stream.CodecName,
	}, nil
}

// parses ffprobe rationals such as "30000/1001"
func parseRate(s string) float64 {
	num, den, found := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
