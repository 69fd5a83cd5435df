package frame

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"golang.org/x/image/bmp"
)

func solidImage(w int, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodedPayload(t *testing.T, mime string, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch mime {
	case MIMEBMP:
		err = bmp.Encode(&buf, img)
	case MIMEJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	case MIMEPNG:
		err = png.Encode(&buf, img)
	default:
		t.Fatalf("unsupported mime %q", mime)
	}
	if err != nil {
		t.Fatalf("encode %s: %v", mime, err)
	}
	return []byte(base64.StdEncoding.EncodeToString(buf.Bytes()))
}

func TestDecoderDecodesEachSupportedFormat(t *testing.T) {
	t.Parallel()

	img := solidImage(8, 4, color.RGBA{R: 255, A: 255})
	for _, mime := range []string{MIMEBMP, MIMEJPEG, MIMEPNG} {
		mime := mime
		t.Run(mime, func(t *testing.T) {
			t.Parallel()
			decoded, err := NewDecoder().Decode(encodedPayload(t, mime, img))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if decoded.MIMEType != mime {
				t.Fatalf("expected %s, got %s", mime, decoded.MIMEType)
			}
			if decoded.Image.Bounds().Dx() != 8 || decoded.Image.Bounds().Dy() != 4 {
				t.Fatalf("unexpected bounds: %v", decoded.Image.Bounds())
			}
		})
	}
}

func TestDecoderAcceptsDataURL(t *testing.T) {
	t.Parallel()

	payload := append([]byte("data:image/png;base64,"), encodedPayload(t, MIMEPNG, solidImage(2, 2, color.White))...)
	decoded, err := NewDecoder().Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.MIMEType != MIMEPNG {
		t.Fatalf("expected png, got %s", decoded.MIMEType)
	}
}

func TestDecoderRejectsGarbage(t *testing.T) {
	t.Parallel()

	cases := [][]byte{
		nil,
		[]byte("not base64 at all!"),
		[]byte(base64.StdEncoding.EncodeToString([]byte("GIF89a but not really"))),
		[]byte("data:image/png"),
		[]byte("data:image/png;utf8,abc"),
	}
	for _, payload := range cases {
		if _, err := NewDecoder().Decode(payload); !errors.Is(err, ErrUndecodable) {
			t.Fatalf("expected ErrUndecodable for %q, got %v", payload, err)
		}
	}
}

// bmpHeader returns a BITMAPINFOHEADER-only BMP claiming the given size with no pixel data.
func bmpHeader(width int32, height int32, bpp uint16) []byte {
	b := make([]byte, 54)
	copy(b, "BM")
	binary.LittleEndian.PutUint32(b[2:], 54)
	binary.LittleEndian.PutUint32(b[10:], 54)
	binary.LittleEndian.PutUint32(b[14:], 40)
	binary.LittleEndian.PutUint32(b[18:], uint32(width))
	binary.LittleEndian.PutUint32(b[22:], uint32(height))
	binary.LittleEndian.PutUint16(b[26:], 1)
	binary.LittleEndian.PutUint16(b[28:], bpp)
	return b
}

func TestDecoderRejectsOversizedHeaders(t *testing.T) {
	t.Parallel()

	cases := map[string][]byte{
		"huge":      bmpHeader(0x7fffffff, 0x7fffffff, 32),
		"plausible": bmpHeader(30000, 30000, 24),
		"wide":      bmpHeader(5000, 1, 24),
	}
	for name, header := range cases {
		payload := []byte(base64.StdEncoding.EncodeToString(header))
		if _, err := NewDecoder().Decode(payload); !errors.Is(err, ErrUndecodable) {
			t.Fatalf("%s: expected ErrUndecodable, got %v", name, err)
		}
	}

	small := encodedPayload(t, MIMEPNG, solidImage(20, 10, color.White))
	if _, err := NewDecoder().WithMaxPixels(100).Decode(small); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected 200 pixels to exceed a 100 pixel cap, got %v", err)
	}
	if _, err := NewDecoder().WithMaxPixels(200).Decode(small); err != nil {
		t.Fatalf("expected frame at the cap to decode: %v", err)
	}
}

func TestRendererSkipsOversizedFrames(t *testing.T) {
	t.Parallel()

	r := NewRenderer(NewDecoder(), NewCanvas(64, 48))
	payload := []byte(base64.StdEncoding.EncodeToString(bmpHeader(0x7fffffff, 0x7fffffff, 32)))
	if frames, ok := r.Render(context.Background(), payload); ok || frames != 0 {
		t.Fatalf("expected skipped frame, got frames=%d ok=%v", frames, ok)
	}
	if r.Skipped() != 1 {
		t.Fatalf("expected one skipped frame, got %d", r.Skipped())
	}
	if _, ok := r.Render(context.Background(), encodedPayload(t, MIMEPNG, solidImage(4, 3, color.White))); !ok {
		t.Fatalf("renderer must keep working after a rejected frame")
	}
}

func TestNewDecoderDropsUnknownMIMETypes(t *testing.T) {
	t.Parallel()

	d := NewDecoder("image/gif", MIMEPNG)
	if len(d.order) != 1 || d.order[0] != MIMEPNG {
		t.Fatalf("unexpected order: %v", d.order)
	}
	if _, err := d.Decode(encodedPayload(t, MIMEJPEG, solidImage(2, 2, color.White))); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("expected jpeg to be rejected by a png-only decoder, got %v", err)
	}
}

func TestFitRect(t *testing.T) {
	t.Parallel()

	dst := image.Rect(0, 0, 640, 480)
	cases := []struct {
		src  image.Rectangle
		want image.Rectangle
	}{
		{src: image.Rect(0, 0, 640, 480), want: image.Rect(0, 0, 640, 480)},
		{src: image.Rect(0, 0, 1280, 720), want: image.Rect(0, 60, 640, 420)},
		{src: image.Rect(0, 0, 100, 200), want: image.Rect(200, 0, 440, 480)},
		{src: image.Rect(0, 0, 0, 10), want: image.Rectangle{}},
	}
	for _, tc := range cases {
		if got := FitRect(tc.src, dst); got != tc.want {
			t.Fatalf("FitRect(%v) = %v, want %v", tc.src, got, tc.want)
		}
	}
}

func TestCanvasPaintLetterboxes(t *testing.T) {
	t.Parallel()

	canvas := NewCanvas(40, 30)
	canvas.Paint(solidImage(40, 10, color.RGBA{G: 255, A: 255}))

	snap := canvas.Snapshot()
	if got := snap.RGBAAt(20, 15); got.G < 200 {
		t.Fatalf("expected green center, got %+v", got)
	}
	if got := snap.RGBAAt(20, 0); got != (color.RGBA{A: 255}) {
		t.Fatalf("expected black letterbox, got %+v", got)
	}
}

func TestCanvasSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	canvas := NewCanvas(4, 4)
	snap := canvas.Snapshot()
	snap.Set(0, 0, color.White)
	if got := canvas.Snapshot().RGBAAt(0, 0); got != (color.RGBA{A: 255}) {
		t.Fatalf("canvas mutated through snapshot: %+v", got)
	}
}

func TestCanvasEncodeJPEG(t *testing.T) {
	t.Parallel()

	data, err := NewCanvas(16, 16).EncodeJPEG(0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("preview is not a jpeg: %v", err)
	}
}

func TestRendererCountsOnlyDecodedFrames(t *testing.T) {
	t.Parallel()

	canvas := NewCanvas(10, 10)
	r := NewRenderer(nil, canvas)
	ctx := context.Background()

	if count, ok := r.Render(ctx, []byte("garbage")); ok || count != 0 {
		t.Fatalf("expected skip, got count=%d ok=%v", count, ok)
	}
	if got := canvas.Snapshot().RGBAAt(5, 5); got != (color.RGBA{A: 255}) {
		t.Fatalf("skipped frame must leave canvas untouched, got %+v", got)
	}

	payload := encodedPayload(t, MIMEPNG, solidImage(10, 10, color.RGBA{B: 255, A: 255}))
	for i := 1; i <= 3; i++ {
		count, ok := r.Render(ctx, payload)
		if !ok || count != int64(i) {
			t.Fatalf("render %d: count=%d ok=%v", i, count, ok)
		}
	}
	if r.Skipped() != 1 {
		t.Fatalf("expected one skipped frame, got %d", r.Skipped())
	}

	r.Reset()
	if r.Frames() != 0 || r.Skipped() != 0 {
		t.Fatalf("reset did not clear counters")
	}
}
