package frame

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	xdraw "golang.org/x/image/draw"
)

// Canvas is a fixed-size drawing surface. Frames are letterboxed onto black.
type Canvas struct {
	mu  sync.RWMutex
	img *image.RGBA
}

func NewCanvas(width int, height int) *Canvas {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	c := &Canvas{img: image.NewRGBA(image.Rect(0, 0, width, height))}
	c.clear()
	return c
}

func (c *Canvas) Width() int {
	return c.img.Bounds().Dx()
}

func (c *Canvas) Height() int {
	return c.img.Bounds().Dy()
}

// Paint clears the canvas and draws src centered, scaled to fit while preserving its aspect ratio.
func (c *Canvas) Paint(src image.Image) {
	if src == nil {
		return
	}
	target := FitRect(src.Bounds(), c.img.Bounds())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
	if target.Empty() {
		return
	}
	xdraw.ApproxBiLinear.Scale(c.img, target, src, src.Bounds(), xdraw.Src, nil)
}

// Snapshot returns a copy of the current canvas contents.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := image.NewRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}

// EncodeJPEG renders the current canvas as a JPEG image.
func (c *Canvas) EncodeJPEG(quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, c.Snapshot(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Canvas) clear() {
	xdraw.Draw(c.img, c.img.Bounds(), image.NewUniform(color.Black), image.Point{}, xdraw.Src)
}

// FitRect returns the largest rectangle with src's aspect ratio centered inside dst.
func FitRect(src image.Rectangle, dst image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	dw, dh := dst.Dx(), dst.Dy()
	if sw <= 0 || sh <= 0 || dw <= 0 || dh <= 0 {
		return image.Rectangle{}
	}

	w, h := dw, sh*dw/sw
	if h > dh {
		w, h = sw*dh/sh, dh
	}
	x := dst.Min.X + (dw-w)/2
	y := dst.Min.Y + (dh-h)/2
	return image.Rect(x, y, x+w, y+h)
}
