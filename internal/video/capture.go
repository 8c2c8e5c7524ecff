package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	ffmpegbin "github.com/mgpai22/vidocr/internal/ffmpeg"
)

// Capture decodes a video into RGB frames by streaming rawvideo out of an
// ffmpeg process. Seek restarts the decoder at the requested frame; Read
// returns frames in order until io.EOF.
type Capture struct {
	ctx        context.Context
	info       Info
	ffmpegPath string

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	buf    []byte
}

func OpenCapture(ctx context.Context, info Info) (*Capture, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", info.Width, info.Height)
	}
	if info.FPS <= 0 {
		return nil, fmt.Errorf("invalid frame rate %v", info.FPS)
	}

	ffmpegPath, err := ffmpegbin.FFmpegPath(ctx)
	if err != nil {
		return nil, err
	}

	return &Capture{
		ctx:        ctx,
		info:       info,
		ffmpegPath: ffmpegPath,
		buf:        make([]byte, info.Width*info.Height*3),
	}, nil
}

func (c *Capture) Info() Info {
	return c.info
}

// positions the decoder so the next Read returns frame index
func (c *Capture) Seek(index int) error {
	if index < 0 {
		return fmt.Errorf("invalid frame index %d", index)
	}
	c.stop()
	return c.start(index)
}

func (c *Capture) Read() (image.Image, error) {
	if c.cmd == nil {
		if err := c.start(0); err != nil {
			return nil, err
		}
	}

	if _, err := io.ReadFull(c.stdout, c.buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if waitErr := c.wait(); waitErr != nil {
				return nil, waitErr
			}
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}

	return rgbToImage(c.buf, c.info.Width, c.info.Height), nil
}

func (c *Capture) Close() error {
	c.stop()
	return nil
}

func (c *Capture) start(index int) error {
	input := ffmpeg.KwArgs{}
	if index > 0 {
		input["ss"] = fmt.Sprintf("%.6f", float64(index)/c.info.FPS)
	}

	compiled := ffmpeg.Input(c.info.Path, input).
		Output("pipe:", ffmpeg.KwArgs{
			"f":       "rawvideo",
			"pix_fmt": "rgb24",
			"vsync":   "passthrough",
		}).
		GlobalArgs("-nostdin", "-loglevel", "error").
		SetFfmpegPath(c.ffmpegPath).
		Compile()

	cmd := exec.CommandContext(c.ctx, compiled.Path, compiled.Args[1:]...)
	c.stderr.Reset()
	cmd.Stderr = &c.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	c.cmd = cmd
	c.stdout = stdout
	return nil
}

func (c *Capture) wait() error {
	if c.cmd == nil {
		return nil
	}
	err := c.cmd.Wait()
	c.cmd = nil
	if err != nil {
		if ctxErr := c.ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("ffmpeg decode failed: %w: %s", err, strings.TrimSpace(c.stderr.String()))
	}
	return nil
}

func (c *Capture) stop() {
	if c.cmd == nil {
		return
	}
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.cmd.Wait()
	c.cmd = nil
}

// copies packed rgb24 bytes into a fresh RGBA image
func rgbToImage(buf []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i+2 < len(buf) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
