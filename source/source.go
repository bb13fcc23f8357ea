// Package source adapts cameras into a blocking sequence of decoded RGBA frames of a fixed
// resolution.
package source

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/framediff/logging"
)

// A Frame is one decoded image. Data is row-major RGBA with no row padding and is never mutated
// after the frame is returned.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Seq       uint64
	Timestamp time.Time
}

// A Source yields frames of a resolution fixed when it is opened.
type Source interface {
	// Next blocks until the next frame is available. Failures are *CaptureError values; a nil
	// error always comes with a complete frame.
	Next(ctx context.Context) (Frame, error)
	// Resolution returns the frame size, fixed for the life of the source.
	Resolution() (width, height int)
	// Close releases the camera. A Next blocked on the device returns once it is closed.
	Close(ctx context.Context) error
}

// A RawFrame is what a camera produces: either encoded bytes or an image decoded by the driver.
type RawFrame struct {
	Data     []byte
	MimeType string
	// Width and Height give the size of raw RGBA data, which carries no header of its own.
	Width, Height int
	Image         image.Image
	// Release, if set, returns the frame's memory to the driver once decoding is done.
	Release func()
}

func (raw RawFrame) release() {
	if raw.Release != nil {
		raw.Release()
	}
}

// A Camera is a device producing raw frames.
type Camera interface {
	// Read blocks until the device has a frame. A device that went away reports ErrDisconnected.
	Read(ctx context.Context) (RawFrame, error)
	Close(ctx context.Context) error
}

type decodingSource struct {
	cam     Camera
	decoder Decoder
	logger  logging.Logger
	now     func() time.Time

	width, height int

	mu      sync.Mutex
	pending *Frame
	seq     uint64

	closed atomic.Bool
}

// NewSource reads the first frame from cam to fix the resolution. That frame is returned by the
// first call to Next. If the first frame cannot be read or decoded a *DeviceError is returned and
// the camera is left open for the caller to close.
func NewSource(ctx context.Context, cam Camera, decoder Decoder, logger logging.Logger) (Source, error) {
	if decoder == nil {
		decoder = DefaultDecoder{}
	}
	s := &decodingSource{
		cam:     cam,
		decoder: decoder,
		logger:  logger,
		now:     time.Now,
	}

	raw, err := cam.Read(ctx)
	if err != nil {
		return nil, &DeviceError{Err: errors.Wrap(err, "failed to read first frame")}
	}
	img, err := decoder.Decode(ctx, raw, nil)
	raw.release()
	if err != nil {
		return nil, &DeviceError{Err: &DecodeError{MimeType: raw.MimeType, Err: err}}
	}
	s.width, s.height = img.Bounds().Dx(), img.Bounds().Dy()
	if s.width == 0 || s.height == 0 {
		return nil, &DeviceError{Err: errors.New("first frame is empty")}
	}
	first := s.frame(img)
	s.pending = &first
	logger.Infow("camera resolution fixed", "width", s.width, "height", s.height)
	return s, nil
}

func (s *decodingSource) Resolution() (int, int) {
	return s.width, s.height
}

func (s *decodingSource) Next(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return Frame{}, &CaptureError{Err: ErrClosed}
	}
	if s.pending != nil {
		f := *s.pending
		s.pending = nil
		return f, nil
	}

	raw, err := s.cam.Read(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}
		if s.closed.Load() {
			return Frame{}, &CaptureError{Err: ErrClosed}
		}
		return Frame{}, asCaptureError(err)
	}
	defer raw.release()

	dst := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	img, err := s.decoder.Decode(ctx, raw, dst)
	if err != nil {
		return Frame{}, &CaptureError{Err: &DecodeError{MimeType: raw.MimeType, Err: err}}
	}
	if len(img.Pix) != s.width*s.height*4 {
		return Frame{}, &CaptureError{Err: &DecodeError{
			MimeType: raw.MimeType,
			Err:      errors.Errorf("decoder returned %d bytes for a %dx%d frame", len(img.Pix), s.width, s.height),
		}}
	}
	return s.frame(img), nil
}

// frame assigns the next sequence number; callers hold mu or own s exclusively.
func (s *decodingSource) frame(img *image.RGBA) Frame {
	s.seq++
	return Frame{
		Data:      img.Pix,
		Width:     s.width,
		Height:    s.height,
		Seq:       s.seq,
		Timestamp: s.now(),
	}
}

func (s *decodingSource) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.cam.Close(ctx)
}
