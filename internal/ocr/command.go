package ocr

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// CommandEngine drives a long-lived external recognizer (for example a
// PaddleOCR wrapper script). The process is started once per engine and
// speaks JSON lines: one request per image on stdin, one response per line
// on stdout.
//
//	-> {"image": "<base64 png>", "threshold": 0.5}
//	<- {"lines": [{"text": "...", "confidence": 0.97}]}
//	<- {"error": "..."}
type CommandEngine struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	stderr  *tailBuffer
	options Options
}

type commandRequest struct {
	Image     string  `json:"image"`
	Threshold float64 `json:"threshold"`
}

type commandResponse struct {
	Lines []Line `json:"lines"`
	Error string `json:"error"`
}

func NewCommandEngine(ctx context.Context, opts Options) (*CommandEngine, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("recognizer command is required for the %s provider", ProviderCommand)
	}

	cmd := exec.CommandContext(ctx, opts.Command, commandArgs(opts)...)
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("recognizer stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("recognizer stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start recognizer %s: %w", opts.Command, err)
	}

	return &CommandEngine{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  bufio.NewReaderSize(stdout, 64*1024),
		stderr:  stderr,
		options: opts,
	}, nil
}

func commandArgs(opts Options) []string {
	args := append([]string{}, opts.CommandArgs...)
	if opts.Language != "" {
		args = append(args, "--lang", opts.Language)
	}
	if opts.DetModelDir != "" {
		args = append(args, "--det-model-dir", opts.DetModelDir)
	}
	if opts.RecModelDir != "" {
		args = append(args, "--rec-model-dir", opts.RecModelDir)
	}
	if opts.UseGPU {
		args = append(args, "--use-gpu")
	}
	return args
}

func (e *CommandEngine) Recognize(ctx context.Context, img image.Image, threshold float64) ([]Line, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	encoded, err := encodeBase64PNG(img, e.options.MaxImageWidth)
	if err != nil {
		return nil, err
	}

	req, err := json.Marshal(commandRequest{Image: encoded, Threshold: threshold})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req = append(req, '\n')
	if _, err := e.stdin.Write(req); err != nil {
		return nil, e.processError("write request", err)
	}

	line, err := e.stdout.ReadBytes('\n')
	if err != nil && (len(line) == 0 || !errors.Is(err, io.EOF)) {
		return nil, e.processError("read response", err)
	}

	var resp commandResponse
	if err := json.Unmarshal(bytes.TrimSpace(line), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse recognizer response: %w (response: %s)", err, truncateString(string(line), 200))
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("recognizer error: %s", resp.Error)
	}

	return filterLines(resp.Lines, threshold), nil
}

func (e *CommandEngine) processError(op string, err error) error {
	if tail := strings.TrimSpace(e.stderr.String()); tail != "" {
		return fmt.Errorf("recognizer %s: %w (stderr: %s)", op, err, tail)
	}
	return fmt.Errorf("recognizer %s: %w", op, err)
}

// closes stdin so the recognizer can exit cleanly, then waits for it
func (e *CommandEngine) Close() error {
	_ = e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return e.processError("exit", err)
		}
		return err
	}
	return nil
}

// keeps the last limit bytes written; safe for the exec copier goroutine
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
