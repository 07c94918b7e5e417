// Package imageio converts between encoded images and pixel buffers.
//
// Decode accepts PNG, JPEG and GIF. Grayscale images become L buffers,
// opaque color images RGB, and images with transparency RGBA. EncodePNG
// writes any buffer back losslessly, which encrypted output requires.
package imageio

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	"image/png"
	"io"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
	"github.com/pzverkov/quantum-shield/pkg/pixel"
)

// maxEncodedSize bounds how much of the input Decode will read.
const maxEncodedSize = 512 << 20

// Decode reads an image and flattens it row-major into a pixel buffer.
// It also returns the format name ("png", "jpeg" or "gif").
func Decode(r io.Reader) (*pixel.Buffer, string, error) {
	img, format, err := decodeImage(r)
	if err != nil {
		return nil, "", err
	}
	buf, err := FromImage(img, modeOf(img))
	if err != nil {
		return nil, "", err
	}
	return buf, format, nil
}

// DecodeAs reads an image into a buffer of the given mode. It is used to
// read back encrypted images whose mode is recorded in the key blob; LA
// buffers, for instance, are stored as RGBA PNGs.
func DecodeAs(r io.Reader, mode pixel.Mode) (*pixel.Buffer, error) {
	img, _, err := decodeImage(r)
	if err != nil {
		return nil, err
	}
	return FromImage(img, mode)
}

func decodeImage(r io.Reader) (image.Image, string, error) {
	const op = "imageio.Decode"

	data, err := io.ReadAll(io.LimitReader(r, maxEncodedSize+1))
	if err != nil {
		return nil, "", qerrors.NewStorageError("image", err)
	}
	if len(data) > maxEncodedSize {
		return nil, "", qerrors.Invalid(op, "encoded image exceeds %d bytes", maxEncodedSize)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", qerrors.Invalid(op, "unrecognized image: %v", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > constants.MaxPixels {
		return nil, "", qerrors.Invalid(op, "image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, constants.MaxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", qerrors.Invalid(op, "decode %s: %v", format, err)
	}
	return img, format, nil
}

// FromImage flattens img row-major into a buffer of the given mode.
// Color is sampled non-premultiplied, so alpha never alters stored samples.
func FromImage(img image.Image, mode pixel.Mode) (*pixel.Buffer, error) {
	bounds := img.Bounds()
	buf, err := pixel.New(bounds.Dy(), bounds.Dx(), mode)
	if err != nil {
		return nil, err
	}

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			at := img.At(x, y)
			switch mode {
			case pixel.ModeL, pixel.ModeP:
				buf.Pix[i] = color.GrayModel.Convert(at).(color.Gray).Y
				i++
			case pixel.ModeLA:
				c := color.NRGBAModel.Convert(at).(color.NRGBA)
				buf.Pix[i], buf.Pix[i+1] = c.R, c.A
				i += 2
			case pixel.ModeRGB:
				c := color.NRGBAModel.Convert(at).(color.NRGBA)
				buf.Pix[i], buf.Pix[i+1], buf.Pix[i+2] = c.R, c.G, c.B
				i += 3
			default:
				c := color.NRGBAModel.Convert(at).(color.NRGBA)
				buf.Pix[i], buf.Pix[i+1], buf.Pix[i+2], buf.Pix[i+3] = c.R, c.G, c.B, c.A
				i += 4
			}
		}
	}
	return buf, nil
}

func modeOf(img image.Image) pixel.Mode {
	switch m := img.(type) {
	case *image.Gray, *image.Gray16:
		return pixel.ModeL
	case *image.YCbCr:
		return pixel.ModeRGB
	case *image.Paletted:
		for _, c := range m.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return pixel.ModeRGBA
			}
		}
		return pixel.ModeRGB
	}
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return pixel.ModeRGB
	}
	return pixel.ModeRGBA
}

// ToImage builds an image.Image holding b's samples. P buffers are
// rendered as grayscale since they carry no palette.
func ToImage(b *pixel.Buffer) (image.Image, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, b.Shape.Width, b.Shape.Height)

	switch b.Mode {
	case pixel.ModeL, pixel.ModeP:
		img := image.NewGray(rect)
		copy(img.Pix, b.Pix)
		return img, nil
	case pixel.ModeRGBA:
		img := image.NewNRGBA(rect)
		copy(img.Pix, b.Pix)
		return img, nil
	}

	img := image.NewNRGBA(rect)
	n := b.Shape.Pixels()
	for p := 0; p < n; p++ {
		dst := img.Pix[p*4 : p*4+4]
		switch b.Mode {
		case pixel.ModeRGB:
			src := b.Pix[p*3 : p*3+3]
			dst[0], dst[1], dst[2], dst[3] = src[0], src[1], src[2], 0xff
		case pixel.ModeLA:
			src := b.Pix[p*2 : p*2+2]
			dst[0], dst[1], dst[2], dst[3] = src[0], src[0], src[0], src[1]
		}
	}
	return img, nil
}

// EncodePNG writes b to w as a PNG.
func EncodePNG(w io.Writer, b *pixel.Buffer) error {
	img, err := ToImage(b)
	if err != nil {
		return err
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(w, img); err != nil {
		return qerrors.NewStorageError("png", err)
	}
	return nil
}
