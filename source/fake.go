package source

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"go.viam.com/framediff/logging"
)

// TypeFake synthesizes a moving test pattern.
const TypeFake = "fake"

func init() {
	Register(TypeFake, Registration{
		Constructor: func(ctx context.Context, attrs Attributes, logger logging.Logger) (Camera, error) {
			conf, err := DecodeAttributes[FakeConfig](attrs)
			if err != nil {
				return nil, err
			}
			return NewFake(conf, logger), nil
		},
	})
}

// Fake frame encodings.
const (
	FakeFormatJPEG = "jpeg"
	FakeFormatPNG  = "png"
	FakeFormatRGBA = "rgba"
)

// FakeConfig configures a fake camera. Zero values select 640x480 JPEG frames at 30 per second.
type FakeConfig struct {
	Width     int     `json:"width_px,omitempty"`
	Height    int     `json:"height_px,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"`
	Format    string  `json:"format,omitempty"`
}

// Validate checks the config and fills in defaults.
func (conf *FakeConfig) Validate() error {
	if conf.Width < 0 || conf.Height < 0 {
		return errors.Errorf("fake: width_px and height_px must be non-negative but got %dx%d", conf.Width, conf.Height)
	}
	if conf.FrameRate < 0 {
		return errors.Errorf("fake: frame_rate must be non-negative but got %v", conf.FrameRate)
	}
	if conf.Width == 0 {
		conf.Width = 640
	}
	if conf.Height == 0 {
		conf.Height = 480
	}
	if conf.FrameRate == 0 {
		conf.FrameRate = 30
	}
	switch conf.Format {
	case "":
		conf.Format = FakeFormatJPEG
	case FakeFormatJPEG, FakeFormatPNG, FakeFormatRGBA:
	default:
		return errors.Errorf("fake: unsupported format %q", conf.Format)
	}
	return nil
}

type fake struct {
	conf   FakeConfig
	pacer  *pacer
	logger logging.Logger

	base *image.RGBA

	mu     sync.Mutex
	img    *image.RGBA
	tick   int
	closed bool
}

// NewFake returns a camera drawing a bar that sweeps across a hue gradient, one step per frame.
func NewFake(conf *FakeConfig, logger logging.Logger) Camera {
	bounds := image.Rect(0, 0, conf.Width, conf.Height)
	base := image.NewRGBA(bounds)
	for y := 0; y < conf.Height; y++ {
		value := 1 - 0.5*float64(y)/float64(conf.Height)
		for x := 0; x < conf.Width; x++ {
			r, g, b := colorful.Hsv(360*float64(x)/float64(conf.Width), 1, value).RGB255()
			i := base.PixOffset(x, y)
			base.Pix[i], base.Pix[i+1], base.Pix[i+2], base.Pix[i+3] = r, g, b, 255
		}
	}
	return &fake{
		conf:   *conf,
		pacer:  newPacer(conf.FrameRate),
		logger: logger,
		base:   base,
		img:    image.NewRGBA(bounds),
	}
}

func (f *fake) Read(ctx context.Context) (RawFrame, error) {
	if err := f.pacer.wait(ctx); err != nil {
		return RawFrame{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return RawFrame{}, ErrClosed
	}
	f.draw()
	f.tick++

	switch f.conf.Format {
	case FakeFormatRGBA:
		data := make([]byte, len(f.img.Pix))
		copy(data, f.img.Pix)
		return RawFrame{Data: data, MimeType: MimeTypeRawRGBA, Width: f.conf.Width, Height: f.conf.Height}, nil
	case FakeFormatPNG:
		var buf bytes.Buffer
		if err := png.Encode(&buf, f.img); err != nil {
			return RawFrame{}, err
		}
		return RawFrame{Data: buf.Bytes(), MimeType: MimeTypePNG}, nil
	default:
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, f.img, &jpeg.Options{Quality: 90}); err != nil {
			return RawFrame{}, err
		}
		return RawFrame{Data: buf.Bytes(), MimeType: MimeTypeJPEG}, nil
	}
}

// draw renders frame f.tick: a horizontal hue gradient darkened towards the bottom, with a white
// vertical bar whose position advances each frame.
func (f *fake) draw() {
	copy(f.img.Pix, f.base.Pix)
	w, h := f.conf.Width, f.conf.Height
	barWidth := w/16 + 1
	barX := (f.tick * barWidth / 2) % w
	for y := 0; y < h; y++ {
		for x := barX; x < barX+barWidth && x < w; x++ {
			i := f.img.PixOffset(x, y)
			f.img.Pix[i], f.img.Pix[i+1], f.img.Pix[i+2], f.img.Pix[i+3] = 255, 255, 255, 255
		}
	}
}

func (f *fake) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
