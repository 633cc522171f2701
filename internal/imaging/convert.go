// Package imaging turns an uploaded file into the constrained JPEG payload
// stored for a story.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"math"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxWidth  = 1080
	DefaultMaxHeight = 1920
	DefaultQuality   = 90
	DefaultMaxBytes  = 20 << 20
	DefaultMaxPixels = 50_000_000

	ContentType = "image/jpeg"
)

var (
	ErrNotImage   = errors.New("file is not a valid image")
	ErrUnreadable = errors.New("failed to read the image")
	ErrTooLarge   = errors.New("image file too large")
	ErrEncoding   = errors.New("failed to encode the image")
)

// Payload is an encoded image ready to be stored.
type Payload struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Converter resizes images to fit MaxWidth x MaxHeight and re-encodes them
// as JPEG. The zero value is not usable; use NewConverter.
type Converter struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
	MaxBytes  int64
	// MaxPixels caps the decoded width*height. Compressed uploads can be
	// tiny while their pixel buffer is not.
	MaxPixels int64
}

// NewConverter returns a Converter with the default constraints and the
// given upload limit. A non-positive maxBytes selects DefaultMaxBytes.
func NewConverter(maxBytes int64) *Converter {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Converter{
		MaxWidth:  DefaultMaxWidth,
		MaxHeight: DefaultMaxHeight,
		Quality:   DefaultQuality,
		MaxBytes:  maxBytes,
		MaxPixels: DefaultMaxPixels,
	}
}

// Convert reads an uploaded file and returns the constrained payload.
func (c *Converter) Convert(ctx context.Context, r io.Reader) (*Payload, error) {
	raw, err := io.ReadAll(io.LimitReader(r, c.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if int64(len(raw)) > c.MaxBytes {
		return nil, ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mtype := mimetype.Detect(raw)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, mtype.String())
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); c.MaxPixels > 0 && pixels > c.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, c.MaxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	b := src.Bounds()
	width, height := Fit(b.Dx(), b.Dy(), c.MaxWidth, c.MaxHeight)

	var out image.Image = src
	if width != b.Dx() || height != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		out = dst
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: c.Quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	return &Payload{
		Data:        buf.Bytes(),
		ContentType: ContentType,
		Width:       width,
		Height:      height,
	}, nil
}

// Fit scales width x height down to fit maxWidth x maxHeight while keeping
// the aspect ratio. Width is clamped first, then height. Images that already
// fit are returned unchanged.
func Fit(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= 0 || height <= 0 {
		return width, height
	}
	aspect := float64(width) / float64(height)
	w, h := float64(width), float64(height)

	if w > float64(maxWidth) {
		w = float64(maxWidth)
		h = w / aspect
	}
	if h > float64(maxHeight) {
		h = float64(maxHeight)
		w = h * aspect
	}

	return max(1, int(math.Round(w))), max(1, int(math.Round(h)))
}
