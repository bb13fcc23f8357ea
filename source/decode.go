package source

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// MIME types understood by DefaultDecoder.
const (
	MimeTypeJPEG    = "image/jpeg"
	MimeTypePNG     = "image/png"
	MimeTypeRawRGBA = "image/raw-rgba"
)

// A Decoder turns a raw camera frame into RGBA pixels.
type Decoder interface {
	// Decode decodes raw into dst and returns it. When dst is nil an image sized to the frame is
	// allocated; otherwise a frame of a different size is an error.
	Decode(ctx context.Context, raw RawFrame, dst *image.RGBA) (*image.RGBA, error)
}

// DefaultDecoder handles JPEG, PNG, raw RGBA, and images already decoded by the driver.
type DefaultDecoder struct{}

// Decode implements Decoder.
func (DefaultDecoder) Decode(ctx context.Context, raw RawFrame, dst *image.RGBA) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if raw.Image != nil {
		return convert(raw.Image, dst)
	}
	if len(raw.Data) == 0 {
		return nil, errors.New("frame has no data")
	}

	mimeType := raw.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(raw.Data)
	}
	switch mimeType {
	case MimeTypeRawRGBA:
		if raw.Width > 0 && raw.Height > 0 {
			if dst == nil {
				dst = image.NewRGBA(image.Rect(0, 0, raw.Width, raw.Height))
			} else if dst.Bounds().Dx() != raw.Width || dst.Bounds().Dy() != raw.Height {
				return nil, errors.Errorf("frame is %dx%d but expected %dx%d",
					raw.Width, raw.Height, dst.Bounds().Dx(), dst.Bounds().Dy())
			}
		}
		if dst == nil {
			return nil, errors.New("raw rgba frames need a width and height")
		}
		if len(raw.Data) != len(dst.Pix) {
			return nil, errors.Errorf("raw rgba frame has %d bytes but expected %d", len(raw.Data), len(dst.Pix))
		}
		copy(dst.Pix, raw.Data)
		return dst, nil
	case MimeTypeJPEG:
		img, err := jpeg.Decode(bytes.NewReader(raw.Data))
		if err != nil {
			return nil, err
		}
		return convert(img, dst)
	case MimeTypePNG:
		img, err := png.Decode(bytes.NewReader(raw.Data))
		if err != nil {
			return nil, err
		}
		return convert(img, dst)
	default:
		return nil, errors.Errorf("cannot decode image from MIME type %q", mimeType)
	}
}

func convert(img image.Image, dst *image.RGBA) (*image.RGBA, error) {
	bounds := img.Bounds()
	if dst == nil {
		dst = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	} else if dst.Bounds().Size() != bounds.Size() {
		return nil, errors.Errorf("frame is %dx%d but expected %dx%d",
			bounds.Dx(), bounds.Dy(), dst.Bounds().Dx(), dst.Bounds().Dy())
	}
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
	return dst, nil
}
