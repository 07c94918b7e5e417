// Package pixel defines the flattened raster buffer exchanged between image
// adapters and the cipher engine.
//
// A Buffer stores samples in row-major order with interleaved channels:
//
//	Pix[(y*Width + x)*Channels + c]
//
// Encryption never changes the length, shape or mode of a buffer.
package pixel

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
)

// Mode names the channel layout of a buffer.
type Mode string

// Supported channel modes.
const (
	ModeL    Mode = "L"    // 8-bit grayscale
	ModeLA   Mode = "LA"   // grayscale with alpha
	ModeRGB  Mode = "RGB"  // 8-bit truecolor
	ModeRGBA Mode = "RGBA" // truecolor with alpha
	ModeP    Mode = "P"    // palette indices, one sample per pixel
)

// Channels returns the number of samples per pixel, or 0 for an unknown mode.
func (m Mode) Channels() int {
	switch m {
	case ModeL, ModeP:
		return 1
	case ModeLA:
		return 2
	case ModeRGB:
		return 3
	case ModeRGBA:
		return 4
	default:
		return 0
	}
}

// ParseMode parses a channel mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if m.Channels() == 0 {
		return "", qerrors.Invalid("ParseMode", "unknown channel mode %q", s)
	}
	return m, nil
}

// ModeForChannels returns the default mode for a channel count.
func ModeForChannels(channels int) (Mode, error) {
	switch channels {
	case 1:
		return ModeL, nil
	case 2:
		return ModeLA, nil
	case 3:
		return ModeRGB, nil
	case 4:
		return ModeRGBA, nil
	default:
		return "", qerrors.Invalid("ModeForChannels", "unsupported channel count %d", channels)
	}
}

// Shape holds the dimensions of a buffer.
type Shape struct {
	Height   int
	Width    int
	Channels int
}

// Pixels returns Height*Width.
func (s Shape) Pixels() int {
	return s.Height * s.Width
}

// Len returns the number of samples, Height*Width*Channels.
func (s Shape) Len() int {
	return s.Height * s.Width * s.Channels
}

// Dims returns the shape as a dimension list, omitting the channel axis for
// single-channel images.
func (s Shape) Dims() []int {
	if s.Channels == 1 {
		return []int{s.Height, s.Width}
	}
	return []int{s.Height, s.Width, s.Channels}
}

// ShapeFromDims is the inverse of Dims.
func ShapeFromDims(dims []int) (Shape, error) {
	switch len(dims) {
	case 2:
		return Shape{Height: dims[0], Width: dims[1], Channels: 1}, nil
	case 3:
		return Shape{Height: dims[0], Width: dims[1], Channels: dims[2]}, nil
	default:
		return Shape{}, qerrors.Invalid("ShapeFromDims", "expected 2 or 3 dimensions, got %d", len(dims))
	}
}

// String formats the shape as HxWxC.
func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Height, s.Width, s.Channels)
}

// Validate checks that the dimensions are positive and within MaxPixels.
func (s Shape) Validate() error {
	if s.Height <= 0 || s.Width <= 0 || s.Channels <= 0 {
		return qerrors.Invalid("Shape.Validate", "non-positive dimension in %s", s)
	}
	if s.Height > constants.MaxPixels/s.Width {
		return qerrors.Invalid("Shape.Validate", "image %s exceeds %d pixels", s, constants.MaxPixels)
	}
	return nil
}

// Buffer is a flattened image with shape and channel metadata.
type Buffer struct {
	Pix   []byte
	Shape Shape
	Mode  Mode
}

// New allocates a zeroed buffer for the given dimensions and mode.
func New(height, width int, mode Mode) (*Buffer, error) {
	shape := Shape{Height: height, Width: width, Channels: mode.Channels()}
	if shape.Channels == 0 {
		return nil, qerrors.Invalid("pixel.New", "unknown channel mode %q", mode)
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return &Buffer{Pix: make([]byte, shape.Len()), Shape: shape, Mode: mode}, nil
}

// FromBytes wraps pix, copying it, after checking it matches the shape.
func FromBytes(pix []byte, shape Shape, mode Mode) (*Buffer, error) {
	b := &Buffer{Pix: bytes.Clone(pix), Shape: shape, Mode: mode}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the length, shape and mode invariants.
func (b *Buffer) Validate() error {
	if b == nil {
		return qerrors.Invalid("Buffer.Validate", "nil buffer")
	}
	if err := b.Shape.Validate(); err != nil {
		return err
	}
	if want := b.Mode.Channels(); want == 0 {
		return qerrors.Invalid("Buffer.Validate", "unknown channel mode %q", b.Mode)
	} else if want != b.Shape.Channels {
		return qerrors.Invalid("Buffer.Validate", "mode %s has %d channels, shape has %d", b.Mode, want, b.Shape.Channels)
	}
	if len(b.Pix) != b.Shape.Len() {
		return qerrors.Invalid("Buffer.Validate", "buffer length %d does not match shape %s", len(b.Pix), b.Shape)
	}
	return nil
}

// Len returns the number of samples.
func (b *Buffer) Len() int {
	return len(b.Pix)
}

// Clone returns a deep copy of b.
func (b *Buffer) Clone() *Buffer {
	return &Buffer{Pix: bytes.Clone(b.Pix), Shape: b.Shape, Mode: b.Mode}
}

// WithPix returns a buffer sharing b's shape and mode but holding pix.
// pix is not copied.
func (b *Buffer) WithPix(pix []byte) *Buffer {
	return &Buffer{Pix: pix, Shape: b.Shape, Mode: b.Mode}
}

// Equal reports whether a and b have the same shape, mode and samples.
func Equal(a, b *Buffer) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Shape == b.Shape && a.Mode == b.Mode && bytes.Equal(a.Pix, b.Pix)
}
