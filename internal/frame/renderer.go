package frame

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// Renderer decodes channel messages and paints them onto a canvas.
type Renderer struct {
	decoder *Decoder
	canvas  *Canvas
	frames  atomic.Int64
	skipped atomic.Int64
}

func NewRenderer(decoder *Decoder, canvas *Canvas) *Renderer {
	if decoder == nil {
		decoder = NewDecoder()
	}
	return &Renderer{decoder: decoder, canvas: canvas}
}

func (r *Renderer) Canvas() *Canvas {
	return r.canvas
}

// Render paints one message. It returns the new frame count and false when the
// message was skipped; skipped messages are only logged.
func (r *Renderer) Render(ctx context.Context, payload []byte) (frames int64, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			frames, ok = r.skip(ctx, fmt.Errorf("%w: decoder panicked: %v", ErrUndecodable, rec))
		}
	}()

	decoded, err := r.decoder.Decode(payload)
	if err != nil {
		return r.skip(ctx, err)
	}
	r.canvas.Paint(decoded.Image)
	return r.frames.Add(1), true
}

func (r *Renderer) skip(ctx context.Context, err error) (int64, bool) {
	skipped := r.skipped.Add(1)
	logger.Debugf(ctx, "skipping frame (%d skipped so far): %v", skipped, err)
	return r.frames.Load(), false
}

func (r *Renderer) Snapshot() *image.RGBA {
	return r.canvas.Snapshot()
}

func (r *Renderer) Size() (int, int) {
	return r.canvas.Width(), r.canvas.Height()
}

func (r *Renderer) Frames() int64 {
	return r.frames.Load()
}

func (r *Renderer) Skipped() int64 {
	return r.skipped.Load()
}

// Reset zeroes the counters for a new channel session.
func (r *Renderer) Reset() {
	r.frames.Store(0)
	r.skipped.Store(0)
}
