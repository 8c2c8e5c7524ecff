// Package frames turns a video's frame stream into batches of candidate
// blocks: runs of visually near-identical frames collapsed to one image.
package frames

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"iter"
)

// DefaultBatchSize bounds how many blocks travel to a worker at once.
const DefaultBatchSize = 200

var (
	ErrInvalidRange = errors.New("invalid frame range")
	ErrConsumed     = errors.New("sampler already consumed")
)

// Source is the decoder collaborator. Read returns io.EOF after the last frame.
type Source interface {
	Seek(index int) error
	Read() (image.Image, error)
}

// Block is a run of consecutive sampled frames represented by one image.
type Block struct {
	StartIndex    int
	EndIndex      int
	Image         image.Image
	ConfThreshold float64
}

// Batch is a group of blocks dispatched together. Boundaries carry no meaning.
type Batch []Block

type Options struct {
	// frame window [Start, End)
	Start int
	End   int

	FramesToSkip int

	// Crop is used when non-empty; otherwise the bottom third of the frame.
	Crop         image.Rectangle
	UseFullFrame bool

	// 0 disables the brightness mask
	BrightnessThreshold int

	// 0 disables deduplication
	SimilarImageThreshold int
	SimilarPixelThreshold int

	ConfThreshold float64
	BatchSize     int

	// OnFrame is called with the index of every frame read from the source.
	OnFrame func(index int)
}

type Sampler struct {
	src      Source
	opts     Options
	consumed bool
}

func NewSampler(src Source, opts Options) (*Sampler, error) {
	if opts.End < opts.Start {
		return nil, fmt.Errorf("%w: end %d precedes start %d", ErrInvalidRange, opts.End, opts.Start)
	}
	if opts.Start < 0 {
		return nil, fmt.Errorf("%w: negative start %d", ErrInvalidRange, opts.Start)
	}
	if opts.FramesToSkip < 0 {
		return nil, fmt.Errorf("frames to skip must not be negative, got %d", opts.FramesToSkip)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Sampler{src: src, opts: opts}, nil
}

// Batches walks the frame window once and yields batches lazily. A failed
// read is yielded as the final error; a second call yields ErrConsumed.
func (s *Sampler) Batches(ctx context.Context) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		if s.consumed {
			yield(nil, ErrConsumed)
			return
		}
		s.consumed = true

		if err := s.run(ctx, yield); err != nil {
			yield(nil, err)
		}
	}
}

// errStopped signals the consumer broke out of the range loop
var errStopped = errors.New("stopped")

func (s *Sampler) run(ctx context.Context, yield func(Batch, error) bool) error {
	if s.opts.End == s.opts.Start {
		return nil
	}
	if err := s.src.Seek(s.opts.Start); err != nil {
		return fmt.Errorf("seek to frame %d: %w", s.opts.Start, err)
	}

	stride := s.opts.FramesToSkip + 1
	dedup := s.opts.SimilarImageThreshold > 0

	var (
		batch    = make(Batch, 0, s.opts.BatchSize)
		prevGrey *greyImage
	)

	emit := func() error {
		if len(batch) == 0 {
			return nil
		}
		if !yield(batch, nil) {
			return errStopped
		}
		batch = make(Batch, 0, s.opts.BatchSize)
		return nil
	}

	for i := s.opts.Start; i < s.opts.End; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := s.src.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read frame %d: %w", i, err)
		}
		if s.opts.OnFrame != nil {
			s.opts.OnFrame(i)
		}
		if (i-s.opts.Start)%stride != 0 {
			continue
		}

		img := s.prepare(frame)

		if dedup {
			grey := toGrey(img)
			if prevGrey != nil && countDiff(prevGrey, grey, s.opts.SimilarPixelThreshold) < s.opts.SimilarImageThreshold {
				batch[len(batch)-1].EndIndex = i
				prevGrey = grey
				continue
			}
			prevGrey = grey
		}

		// the open block may still grow, so a full batch is only emitted
		// once the next block starts
		if len(batch) >= s.opts.BatchSize {
			if err := emit(); err != nil {
				return nilIfStopped(err)
			}
		}
		batch = append(batch, Block{
			StartIndex:    i,
			EndIndex:      i,
			Image:         img,
			ConfThreshold: s.opts.ConfThreshold,
		})
	}

	return nilIfStopped(emit())
}

func nilIfStopped(err error) error {
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}

// crops and masks a decoded frame into a standalone image
func (s *Sampler) prepare(frame image.Image) *image.RGBA {
	var img *image.RGBA
	if s.opts.UseFullFrame {
		img = copyRegion(frame, frame.Bounds())
	} else {
		img = copyRegion(frame, s.cropRect(frame.Bounds()))
	}
	if s.opts.BrightnessThreshold > 0 {
		maskDark(img, uint8(min(s.opts.BrightnessThreshold, 255)))
	}
	return img
}

func (s *Sampler) cropRect(bounds image.Rectangle) image.Rectangle {
	if !s.opts.Crop.Empty() {
		return s.opts.Crop.Add(bounds.Min).Intersect(bounds)
	}
	return image.Rect(bounds.Min.X, bounds.Min.Y+bounds.Dy()/3, bounds.Max.X, bounds.Max.Y)
}
