package frame

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
)

var ErrUndecodable = errors.New("frame payload is not a decodable image")

const (
	MIMEBMP  = "image/bmp"
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
)

// DefaultMIMEOrder is the order in which payloads without a usable MIME hint are tried.
var DefaultMIMEOrder = []string{MIMEBMP, MIMEJPEG, MIMEPNG}

// DefaultMaxPixels bounds the dimensions a frame header may claim before the
// frame is decoded.
const DefaultMaxPixels = 4096 * 4096

type imageDecoder struct {
	config func(r io.Reader) (image.Config, error)
	decode func(r io.Reader) (image.Image, error)
}

var decoders = map[string]imageDecoder{
	MIMEBMP:  {config: bmp.DecodeConfig, decode: bmp.Decode},
	MIMEJPEG: {config: jpeg.DecodeConfig, decode: jpeg.Decode},
	MIMEPNG:  {config: png.DecodeConfig, decode: png.Decode},
}

// Decoded is one frame decoded from a channel message.
type Decoded struct {
	Image    image.Image
	MIMEType string
}

// Decoder turns channel payloads into images.
type Decoder struct {
	order     []string
	maxPixels int
}

func NewDecoder(order ...string) *Decoder {
	if len(order) == 0 {
		order = DefaultMIMEOrder
	}
	filtered := make([]string, 0, len(order))
	for _, mime := range order {
		mime = strings.ToLower(strings.TrimSpace(mime))
		if _, ok := decoders[mime]; ok {
			filtered = append(filtered, mime)
		}
	}
	return &Decoder{order: filtered, maxPixels: DefaultMaxPixels}
}

// WithMaxPixels returns a copy of d accepting frames of at most n pixels.
func (d *Decoder) WithMaxPixels(n int) *Decoder {
	c := *d
	if n > 0 {
		c.maxPixels = n
	}
	return &c
}

// Decode accepts either a plain base64 payload or a data URL. A known data URL
// MIME type is tried before the configured order.
func (d *Decoder) Decode(payload []byte) (Decoded, error) {
	raw, hint, err := unwrapPayload(strings.TrimSpace(string(payload)))
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if len(raw) == 0 {
		return Decoded{}, fmt.Errorf("%w: empty payload", ErrUndecodable)
	}

	for _, mime := range d.candidates(hint) {
		dec := decoders[mime]
		cfg, err := dec.config(bytes.NewReader(raw))
		if err != nil {
			continue
		}
		if err := d.checkSize(cfg); err != nil {
			return Decoded{}, fmt.Errorf("%w: %s: %v", ErrUndecodable, mime, err)
		}
		img, err := dec.decode(bytes.NewReader(raw))
		if err != nil {
			continue
		}
		bounds := img.Bounds()
		if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
			continue
		}
		return Decoded{Image: img, MIMEType: mime}, nil
	}
	return Decoded{}, fmt.Errorf("%w: tried %s", ErrUndecodable, strings.Join(d.candidates(hint), ", "))
}

func (d *Decoder) checkSize(cfg image.Config) error {
	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", w, h)
	}
	if w > d.maxPixels || h > d.maxPixels || w*h > d.maxPixels {
		return fmt.Errorf("dimensions %dx%d exceed %d pixels", w, h, d.maxPixels)
	}
	return nil
}

func (d *Decoder) candidates(hint string) []string {
	if _, ok := decoders[hint]; !ok {
		return d.order
	}
	out := make([]string, 0, len(d.order)+1)
	out = append(out, hint)
	for _, mime := range d.order {
		if mime != hint {
			out = append(out, mime)
		}
	}
	return out
}

func unwrapPayload(in string) ([]byte, string, error) {
	var mime string
	if strings.HasPrefix(in, "data:") {
		rest := in[len("data:"):]
		idx := strings.Index(rest, ";")
		if idx == -1 {
			return nil, "", errors.New("separator ';' is not found in the data URL")
		}
		mime = strings.ToLower(rest[:idx])
		if len(mime) > 50 {
			return nil, "", fmt.Errorf("MIME type is too big (%d > 50)", len(mime))
		}
		rest = rest[idx+1:]
		if !strings.HasPrefix(rest, "base64,") {
			return nil, "", errors.New("the data URL is not base64 encoded")
		}
		in = rest[len("base64,"):]
	}

	data, err := base64.StdEncoding.DecodeString(in)
	if err != nil {
		return nil, "", fmt.Errorf("unable to decode the base64 input: %w", err)
	}
	return data, mime, nil
}
