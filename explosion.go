package main

import (
	"context"
	"fmt"
	"image"
	"image/gif"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"
)

// Frame is one image of the explosion animation and how long it stays up
type Frame struct {
	Image image.Image
	Delay float64 // seconds
}

// FrameSequence is the shared, read-only explosion animation
type FrameSequence struct {
	Frames []Frame
}

// Len returns the number of frames
func (s *FrameSequence) Len() int { return len(s.Frames) }

// Duration returns the sum of all frame delays
func (s *FrameSequence) Duration() float64 {
	total := 0.0
	for _, f := range s.Frames {
		total += f.Delay
	}
	return total
}

// Explosion is one running animation instance
type Explosion struct {
	ID         string
	Position   mgl64.Vec3
	FrameIndex int
	FrameTimer float64 // seconds accumulated on the current frame
	seq        *FrameSequence
}

// Image returns the frame currently shown, or nil once the animation ended
func (e *Explosion) Image() image.Image {
	if e.FrameIndex >= e.seq.Len() {
		return nil
	}
	return e.seq.Frames[e.FrameIndex].Image
}

// Advance accumulates dt and steps at most one frame when the current
// frame's delay is reached. Leftover time carries over to the next frame.
// Returns true once the index passes the last frame.
func (e *Explosion) Advance(dt float64) bool {
	if e.FrameIndex >= e.seq.Len() {
		return true
	}
	e.FrameTimer += dt
	delay := e.seq.Frames[e.FrameIndex].Delay
	if e.FrameTimer >= delay {
		e.FrameTimer -= delay
		e.FrameIndex++
	}
	return e.FrameIndex >= e.seq.Len()
}

// FrameLoader produces the frame sequence. It may block (fetch + decode).
type FrameLoader func(ctx context.Context) (*FrameSequence, error)

// FrameBank gates explosion spawning on the one-time frame load
type FrameBank struct {
	seq  atomic.Pointer[FrameSequence]
	once sync.Once
	done chan struct{}
	err  error
}

// NewFrameBank creates an empty, not-ready bank
func NewFrameBank() *FrameBank {
	return &FrameBank{done: make(chan struct{})}
}

// Load runs loader once in the background. Later calls are ignored.
func (b *FrameBank) Load(ctx context.Context, loader FrameLoader, log zerolog.Logger) {
	b.once.Do(func() {
		go func() {
			defer close(b.done)
			seq, err := loader(ctx)
			if err != nil {
				b.err = err
				log.Error().Err(err).Msg("explosion frames unavailable")
				return
			}
			b.Set(seq)
			log.Info().Int("frames", seq.Len()).Float64("duration", seq.Duration()).Msg("explosion frames loaded")
		}()
	})
}

// Set publishes a sequence directly. Empty sequences leave the bank not ready.
func (b *FrameBank) Set(seq *FrameSequence) {
	if seq == nil || seq.Len() == 0 {
		return
	}
	b.seq.Store(seq)
}

// Wait blocks until a Load finished or ctx is done and returns the load error
func (b *FrameBank) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether frames are available
func (b *FrameBank) Ready() bool {
	return b.seq.Load() != nil
}

// Spawn starts an explosion at pos showing the first frame. It returns
// nil, false while frames are not loaded; callers skip and may retry.
func (b *FrameBank) Spawn(pos mgl64.Vec3) (*Explosion, bool) {
	seq := b.seq.Load()
	if seq == nil {
		return nil, false
	}
	return &Explosion{ID: GenerateID(3), Position: pos, seq: seq}, true
}

// GIFFileLoader decodes the GIF at path. See DecodeGIFFrames.
func GIFFileLoader(path string, delayScale float64, spritePixels int) FrameLoader {
	return func(ctx context.Context) (*FrameSequence, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening explosion gif: %w", err)
		}
		defer f.Close()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return DecodeGIFFrames(f, delayScale, spritePixels)
	}
}

// DecodeGIFFrames composites every GIF frame onto a persistent canvas and
// snapshots it, so partial frames keep what earlier frames drew. Delays are
// converted from centiseconds and multiplied by delayScale. A positive
// spritePixels scales each snapshot to a square of that size.
func DecodeGIFFrames(r io.Reader, delayScale float64, spritePixels int) (*FrameSequence, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, fmt.Errorf("decoding explosion gif: %w", err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("decoding explosion gif: no frames")
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)

	seq := &FrameSequence{Frames: make([]Frame, 0, len(g.Image))}
	for i, patch := range g.Image {
		xdraw.Draw(canvas, patch.Bounds(), patch, patch.Bounds().Min, xdraw.Over)

		var snap *image.RGBA
		if spritePixels > 0 {
			snap = image.NewRGBA(image.Rect(0, 0, spritePixels, spritePixels))
			xdraw.ApproxBiLinear.Scale(snap, snap.Bounds(), canvas, canvas.Bounds(), xdraw.Src, nil)
		} else {
			snap = image.NewRGBA(bounds)
			xdraw.Copy(snap, bounds.Min, canvas, bounds, xdraw.Src, nil)
		}

		delay := 0
		if i < len(g.Delay) {
			delay = g.Delay[i]
		}
		seq.Frames = append(seq.Frames, Frame{
			Image: snap,
			Delay: float64(delay) / 100 * delayScale,
		})
	}
	return seq, nil
}
