// Package dispatch fans candidate blocks out to a fixed pool of recognition
// workers. Each worker owns one engine for its whole lifetime; results come
// back in completion order and must be assembled before merging.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mgpai22/vidocr/internal/frames"
	"github.com/mgpai22/vidocr/internal/logging"
	"github.com/mgpai22/vidocr/internal/ocr"
	"github.com/mgpai22/vidocr/internal/subtitle"
)

var (
	ErrRecognitionFailed  = errors.New("recognition failed")
	ErrRecognitionTimeout = errors.New("recognition timed out")
)

type Config struct {
	// pool size; defaults to the number of CPUs
	Workers int

	// builds the engine owned by a single worker
	NewEngine ocr.EngineFactory

	// bounds the whole stage when positive
	Timeout time.Duration

	// extra attempts for a failed block before the run fails
	Retries int

	// called from the collecting goroutine after each batch completes
	OnBatch func(blocks int)

	Logger *logging.Logger
}

// BatchSource opens the candidate stream under the run's own context, so a
// failed or timed out run also stops whatever is producing the batches.
type BatchSource func(ctx context.Context) iter.Seq2[frames.Batch, error]

type Dispatcher struct {
	cfg Config
}

func New(cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &Dispatcher{cfg: cfg}
}

// Run drains the source through the worker pool and returns one predicted
// frame per block, in no particular order. The first engine failure cancels
// the run, source included.
func (d *Dispatcher) Run(ctx context.Context, source BatchSource) ([]subtitle.PredictedFrame, error) {
	if d.cfg.NewEngine == nil {
		return nil, errors.New("dispatch: no engine factory configured")
	}

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d.cfg.Timeout, ErrRecognitionTimeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan frames.Batch, d.cfg.Workers)
	results := make(chan []subtitle.PredictedFrame, d.cfg.Workers)

	g.Go(func() error {
		defer close(queue)
		for batch, err := range source(gctx) {
			if err != nil {
				return err
			}
			select {
			case queue <- batch:
			case <-gctx.Done():
				return context.Cause(gctx)
			}
		}
		return nil
	})

	var workers sync.WaitGroup
	for id := range d.cfg.Workers {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return d.work(gctx, id, queue, results)
		})
	}

	go func() {
		workers.Wait()
		close(results)
	}()

	var predicted []subtitle.PredictedFrame
	for r := range results {
		predicted = append(predicted, r...)
		if d.cfg.OnBatch != nil {
			d.cfg.OnBatch(len(r))
		}
	}

	if err := g.Wait(); err != nil {
		if errors.Is(context.Cause(ctx), ErrRecognitionTimeout) {
			return nil, fmt.Errorf("%w after %s", ErrRecognitionTimeout, d.cfg.Timeout)
		}
		return nil, err
	}

	d.cfg.Logger.Debugw("dispatch finished", "blocks", len(predicted), "workers", d.cfg.Workers)
	return predicted, nil
}

// processes batches until the queue closes; the engine is built on the first
// batch so idle workers never start one
func (d *Dispatcher) work(ctx context.Context, id int, queue <-chan frames.Batch, results chan<- []subtitle.PredictedFrame) (err error) {
	log := d.cfg.Logger.With("worker", id)
	var engine ocr.Engine

	defer func() {
		if engine == nil {
			return
		}
		if cerr := engine.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("worker %d: close engine: %w", id, cerr)
		}
	}()

	for {
		var batch frames.Batch
		var ok bool
		select {
		case batch, ok = <-queue:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return context.Cause(ctx)
		}

		if engine == nil {
			engine, err = d.cfg.NewEngine(ctx)
			if err != nil {
				return fmt.Errorf("worker %d: create engine: %w", id, err)
			}
			log.Debugw("engine ready")
		}

		predicted := make([]subtitle.PredictedFrame, 0, len(batch))
		for _, block := range batch {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			lines, err := d.recognize(ctx, log, engine, block)
			if err != nil {
				return err
			}
			predicted = append(predicted, subtitle.PredictedFrame{
				StartIndex: block.StartIndex,
				EndIndex:   block.EndIndex,
				Lines:      lines,
			})
		}

		select {
		case results <- predicted:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

func (d *Dispatcher) recognize(ctx context.Context, log *logging.Logger, engine ocr.Engine, block frames.Block) ([]ocr.Line, error) {
	var err error
	for attempt := 0; attempt <= d.cfg.Retries; attempt++ {
		if attempt > 0 {
			log.Warnw("retrying block", "start", block.StartIndex, "end", block.EndIndex, "attempt", attempt, "error", err)
		}

		var lines []ocr.Line
		lines, err = engine.Recognize(ctx, block.Image, block.ConfThreshold)
		if err == nil {
			return lines, nil
		}
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
	}
	return nil, fmt.Errorf("%w for frames %d-%d: %w", ErrRecognitionFailed, block.StartIndex, block.EndIndex, err)
}
