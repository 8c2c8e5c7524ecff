package subtitle

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidTimecode = errors.New("invalid timecode")

// ParseTimecode reads MM:SS or HH:MM:SS, with optional fractional seconds.
func ParseTimecode(s string) (time.Duration, error) {
	secs, err := timecodeSeconds(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func timecodeSeconds(s string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimecode, s)
	}

	secs, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimecode, s)
	}

	total := secs
	scale := 60.0
	for i := len(parts) - 2; i >= 0; i-- {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimecode, s)
		}
		total += float64(n) * scale
		scale *= 60
	}

	return total, nil
}

// frame index at a timecode; truncates like the decoder's frame counter
func FrameIndex(timecode string, fps float64) (int, error) {
	secs, err := timecodeSeconds(timecode)
	if err != nil {
		return 0, err
	}
	return int(secs * fps), nil
}

// offset of a frame from the start of the video, to the nearest nanosecond
func FrameTime(index int, fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(index) / fps * float64(time.Second)))
}
