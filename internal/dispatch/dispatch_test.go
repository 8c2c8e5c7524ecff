package dispatch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"iter"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mgpai22/vidocr/internal/frames"
	"github.com/mgpai22/vidocr/internal/ocr"
	"github.com/mgpai22/vidocr/internal/subtitle"
)

// recognizes the red channel of the top-left pixel as text
type fakeEngine struct {
	delay  func(level uint8) time.Duration
	fail   func(level uint8, attempt int) error
	mu     sync.Mutex
	tries  map[uint8]int
	closed atomic.Bool
}

func (e *fakeEngine) Recognize(ctx context.Context, img image.Image, threshold float64) ([]ocr.Line, error) {
	r, _, _, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	level := uint8(r >> 8)

	e.mu.Lock()
	if e.tries == nil {
		e.tries = make(map[uint8]int)
	}
	e.tries[level]++
	attempt := e.tries[level]
	e.mu.Unlock()

	if e.delay != nil {
		select {
		case <-time.After(e.delay(level)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.fail != nil {
		if err := e.fail(level, attempt); err != nil {
			return nil, err
		}
	}
	if level == 0 {
		return nil, nil
	}
	return []ocr.Line{{Text: fmt.Sprintf("text-%d", level), Confidence: threshold}}, nil
}

func (e *fakeEngine) Close() error {
	e.closed.Store(true)
	return nil
}

type engineRecorder struct {
	mu      sync.Mutex
	engines []*fakeEngine
	build   func() *fakeEngine
}

func (r *engineRecorder) factory(ctx context.Context) (ocr.Engine, error) {
	e := &fakeEngine{}
	if r.build != nil {
		e = r.build()
	}
	r.mu.Lock()
	r.engines = append(r.engines, e)
	r.mu.Unlock()
	return e, nil
}

func pixel(level uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: level, A: 255})
	return img
}

// one block per level, spanning two frames each, split into batches
func blockBatches(batchSize int, levels ...uint8) BatchSource {
	return func(context.Context) iter.Seq2[frames.Batch, error] {
		return levelBatches(batchSize, levels...)
	}
}

func levelBatches(batchSize int, levels ...uint8) iter.Seq2[frames.Batch, error] {
	return func(yield func(frames.Batch, error) bool) {
		var batch frames.Batch
		for i, level := range levels {
			batch = append(batch, frames.Block{
				StartIndex:    i * 2,
				EndIndex:      i*2 + 1,
				Image:         pixel(level),
				ConfThreshold: 0.5,
			})
			if len(batch) == batchSize {
				if !yield(batch, nil) {
					return
				}
				batch = nil
			}
		}
		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}

func TestRunRecognizesEveryBlock(t *testing.T) {
	rec := &engineRecorder{}
	d := New(Config{Workers: 3, NewEngine: rec.factory})

	predicted, err := d.Run(context.Background(), blockBatches(2, 1, 2, 0, 4, 5, 6, 7))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(predicted) != 7 {
		t.Fatalf("got %d predicted frames, want 7", len(predicted))
	}

	ordered := subtitle.Assemble(predicted)
	for i, f := range ordered {
		if f.StartIndex != i*2 || f.EndIndex != i*2+1 {
			t.Errorf("frame %d span = [%d,%d]", i, f.StartIndex, f.EndIndex)
		}
	}
	if len(ordered[2].Lines) != 0 {
		t.Errorf("blank block recognized as %+v", ordered[2].Lines)
	}
	if ordered[3].Text() != "text-4" {
		t.Errorf("block 3 text = %q", ordered[3].Text())
	}
	if ordered[0].Lines[0].Confidence != 0.5 {
		t.Errorf("threshold not passed through: %+v", ordered[0].Lines)
	}
}

func TestRunOneEnginePerWorker(t *testing.T) {
	rec := &engineRecorder{}
	d := New(Config{Workers: 2, NewEngine: rec.factory})

	if _, err := d.Run(context.Background(), blockBatches(1, 1, 2, 3, 4, 5, 6, 7, 8)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.engines) == 0 || len(rec.engines) > 2 {
		t.Fatalf("built %d engines for 2 workers", len(rec.engines))
	}
	for i, e := range rec.engines {
		if !e.closed.Load() {
			t.Errorf("engine %d not closed", i)
		}
	}
}

func TestRunIdleWorkersBuildNoEngine(t *testing.T) {
	rec := &engineRecorder{}
	d := New(Config{Workers: 4, NewEngine: rec.factory})

	if _, err := d.Run(context.Background(), blockBatches(10, 1, 2)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.engines) != 1 {
		t.Errorf("built %d engines for a single batch, want 1", len(rec.engines))
	}
}

func TestRunDeterministicAfterAssembly(t *testing.T) {
	levels := []uint8{0, 9, 9, 3, 0, 7, 7, 1, 2, 2, 0, 5}
	var want []subtitle.PredictedFrame

	for run := 0; run < 5; run++ {
		rec := &engineRecorder{build: func() *fakeEngine {
			// later blocks finish first on some workers
			return &fakeEngine{delay: func(level uint8) time.Duration {
				return time.Duration((int(level)*7+run)%5) * time.Millisecond
			}}
		}}
		d := New(Config{Workers: 4, NewEngine: rec.factory})

		predicted, err := d.Run(context.Background(), blockBatches(1, levels...))
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		got := subtitle.Assemble(predicted)
		if want == nil {
			want = got
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d: assembled frames differ", run)
		}
	}

	cues := subtitle.Merge(want, 80, 25)
	if len(cues) == 0 {
		t.Fatal("expected cues from assembled frames")
	}
}

func TestRunFailureIsFatal(t *testing.T) {
	engineErr := errors.New("engine crashed")
	rec := &engineRecorder{build: func() *fakeEngine {
		return &fakeEngine{fail: func(level uint8, attempt int) error {
			if level == 3 {
				return engineErr
			}
			return nil
		}}
	}}
	d := New(Config{Workers: 2, NewEngine: rec.factory})

	predicted, err := d.Run(context.Background(), blockBatches(1, 1, 2, 3, 4, 5))
	if !errors.Is(err, ErrRecognitionFailed) {
		t.Fatalf("expected ErrRecognitionFailed, got %v", err)
	}
	if !errors.Is(err, engineErr) {
		t.Errorf("engine error not wrapped: %v", err)
	}
	if predicted != nil {
		t.Errorf("expected no results on failure, got %d", len(predicted))
	}
	for i, e := range rec.engines {
		if !e.closed.Load() {
			t.Errorf("engine %d not closed after failure", i)
		}
	}
}

func TestRunRetriesFailedBlock(t *testing.T) {
	rec := &engineRecorder{build: func() *fakeEngine {
		return &fakeEngine{fail: func(level uint8, attempt int) error {
			if level == 2 && attempt == 1 {
				return errors.New("rate limited")
			}
			return nil
		}}
	}}

	d := New(Config{Workers: 1, NewEngine: rec.factory, Retries: 1})
	predicted, err := d.Run(context.Background(), blockBatches(5, 1, 2, 3))
	if err != nil {
		t.Fatalf("Run with retry: %v", err)
	}
	if len(predicted) != 3 {
		t.Errorf("got %d frames, want 3", len(predicted))
	}

	rec = &engineRecorder{build: rec.build}
	d = New(Config{Workers: 1, NewEngine: rec.factory})
	if _, err := d.Run(context.Background(), blockBatches(5, 1, 2, 3)); !errors.Is(err, ErrRecognitionFailed) {
		t.Errorf("without retries expected ErrRecognitionFailed, got %v", err)
	}
}

func TestRunTimeout(t *testing.T) {
	rec := &engineRecorder{build: func() *fakeEngine {
		return &fakeEngine{delay: func(uint8) time.Duration { return time.Second }}
	}}
	d := New(Config{Workers: 2, NewEngine: rec.factory, Timeout: 20 * time.Millisecond})

	_, err := d.Run(context.Background(), blockBatches(1, 1, 2, 3, 4))
	if !errors.Is(err, ErrRecognitionTimeout) {
		t.Fatalf("expected ErrRecognitionTimeout, got %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(Config{Workers: 2, NewEngine: (&engineRecorder{}).factory})
	if _, err := d.Run(ctx, blockBatches(1, 1, 2)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunPropagatesSamplerError(t *testing.T) {
	samplerErr := errors.New("decoder broke")
	batches := func(context.Context) iter.Seq2[frames.Batch, error] {
		return func(yield func(frames.Batch, error) bool) {
			if !yield(frames.Batch{{StartIndex: 0, EndIndex: 0, Image: pixel(1)}}, nil) {
				return
			}
			yield(nil, samplerErr)
		}
	}

	d := New(Config{Workers: 2, NewEngine: (&engineRecorder{}).factory})
	if _, err := d.Run(context.Background(), batches); !errors.Is(err, samplerErr) {
		t.Fatalf("expected sampler error, got %v", err)
	}
}

// yields one batch, then keeps decoding frames that never complete a batch
// until its context is cancelled
type stalledSource struct {
	first   frames.Batch
	stopped atomic.Bool
}

func (s *stalledSource) batches(ctx context.Context) iter.Seq2[frames.Batch, error] {
	return func(yield func(frames.Batch, error) bool) {
		if !yield(s.first, nil) {
			return
		}
		for ctx.Err() == nil {
			time.Sleep(time.Millisecond)
		}
		s.stopped.Store(true)
		yield(nil, ctx.Err())
	}
}

func runWithin(t *testing.T, limit time.Duration, d *Dispatcher, source BatchSource) error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		_, err := d.Run(context.Background(), source)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(limit):
		t.Fatalf("Run still blocked after %s", limit)
		return nil
	}
}

func TestRunFailureStopsSource(t *testing.T) {
	rec := &engineRecorder{build: func() *fakeEngine {
		return &fakeEngine{fail: func(uint8, int) error { return errors.New("engine crashed") }}
	}}
	src := &stalledSource{first: frames.Batch{{StartIndex: 0, EndIndex: 4, Image: pixel(9)}}}
	d := New(Config{Workers: 2, NewEngine: rec.factory})

	err := runWithin(t, 5*time.Second, d, src.batches)
	if !errors.Is(err, ErrRecognitionFailed) {
		t.Fatalf("expected ErrRecognitionFailed, got %v", err)
	}
	if !src.stopped.Load() {
		t.Error("source never saw the cancellation")
	}
}

func TestRunTimeoutStopsSource(t *testing.T) {
	rec := &engineRecorder{build: func() *fakeEngine {
		return &fakeEngine{delay: func(uint8) time.Duration { return time.Minute }}
	}}
	src := &stalledSource{first: frames.Batch{{StartIndex: 0, EndIndex: 4, Image: pixel(1)}}}
	d := New(Config{Workers: 1, NewEngine: rec.factory, Timeout: 20 * time.Millisecond})

	err := runWithin(t, 5*time.Second, d, src.batches)
	if !errors.Is(err, ErrRecognitionTimeout) {
		t.Fatalf("expected ErrRecognitionTimeout, got %v", err)
	}
	if !src.stopped.Load() {
		t.Error("source never saw the timeout")
	}
}

func TestRunEngineFactoryError(t *testing.T) {
	factoryErr := errors.New("missing model")
	d := New(Config{Workers: 1, NewEngine: func(ctx context.Context) (ocr.Engine, error) {
		return nil, factoryErr
	}})

	if _, err := d.Run(context.Background(), blockBatches(1, 1)); !errors.Is(err, factoryErr) {
		t.Fatalf("expected factory error, got %v", err)
	}
}

func TestRunEmpty(t *testing.T) {
	rec := &engineRecorder{}
	var batches int
	d := New(Config{Workers: 2, NewEngine: rec.factory, OnBatch: func(int) { batches++ }})

	predicted, err := d.Run(context.Background(), blockBatches(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(predicted) != 0 || batches != 0 || len(rec.engines) != 0 {
		t.Errorf("empty input produced %d frames, %d batches, %d engines", len(predicted), batches, len(rec.engines))
	}
}

func TestNewDefaults(t *testing.T) {
	d := New(Config{Retries: -3})
	if d.cfg.Workers <= 0 {
		t.Errorf("Workers = %d, want positive default", d.cfg.Workers)
	}
	if d.cfg.Retries != 0 {
		t.Errorf("Retries = %d, want 0", d.cfg.Retries)
	}
	if _, err := d.Run(context.Background(), blockBatches(1, 1)); err == nil {
		t.Error("expected error without an engine factory")
	}
}
