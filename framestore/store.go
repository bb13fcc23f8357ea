// Package framestore keeps the two most recent frames resident on the GPU.
package framestore

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/framediff/gpu"
)

// FrameSizeError is returned by Update for a frame whose length does not match the store.
type FrameSizeError struct {
	Got, Want int
}

func (e *FrameSizeError) Error() string {
	return fmt.Sprintf("frame has %d bytes but the store holds %d byte frames", e.Got, e.Want)
}

// An Updater accepts decoded frames.
type Updater interface {
	Update(frame []byte) error
}

// Store holds the current and previous frame textures. After every Update, previous holds the
// bytes current held before it; before the first Update both are zero.
//
// Update is the only writer. Renderers bind Current and Previous once and sample them after
// submitting through the same SharedQueue, which orders their reads after whole updates.
type Store struct {
	queue    *gpu.SharedQueue
	current  gpu.Texture
	previous gpu.Texture
	width    int
	height   int
	extent   gpu.Extent3D
	layout   gpu.ImageDataLayout
	aligned  bool

	mu         sync.Mutex
	retained   []byte
	staging    [2][]byte
	generation uint64
}

// New creates both textures at width x height and zero-fills them through queue.
func New(device gpu.Device, queue *gpu.SharedQueue, width, height int) (*Store, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("cannot create frame store of size %dx%d", width, height)
	}
	s := &Store{
		queue:    queue,
		width:    width,
		height:   height,
		extent:   gpu.FullExtent(width, height),
		layout:   gpu.ImageDataLayout{BytesPerRow: uint32(width * 4)},
		aligned:  device.Limits().AlignedRows,
		retained: make([]byte, width*height*4),
	}
	if s.aligned {
		padded := gpu.PaddedBytesPerRow(uint32(width))
		s.layout.BytesPerRow = padded
		for i := range s.staging {
			s.staging[i] = make([]byte, int(padded)*height)
		}
	}

	var err error
	desc := gpu.TextureDescriptor{
		Size:   s.extent,
		Format: gpu.TextureFormatRGBA8Uint,
		Usage:  gpu.TextureUsageTextureBinding | gpu.TextureUsageCopyDst,
	}
	desc.Label = "current frame"
	if s.current, err = device.CreateTexture(desc); err != nil {
		return nil, errors.Wrap(err, "failed to create current frame texture")
	}
	desc.Label = "previous frame"
	if s.previous, err = device.CreateTexture(desc); err != nil {
		return nil, errors.Wrap(err, "failed to create previous frame texture")
	}

	zeros := s.stage(0, s.retained)
	if err := queue.Do(func(q gpu.Queue) error {
		if err := q.WriteTexture(s.current, zeros, s.layout, s.extent); err != nil {
			return err
		}
		return q.WriteTexture(s.previous, zeros, s.layout, s.extent)
	}); err != nil {
		return nil, errors.Wrap(err, "failed to clear frame textures")
	}
	return s, nil
}

// Update writes frame into current and the payload current held until now into previous. Both
// writes are queued under one hold of the shared queue. A frame of the wrong length is rejected
// with *FrameSizeError before anything is written. frame is copied and may be reused after
// Update returns.
func (s *Store) Update(frame []byte) error {
	if len(frame) != len(s.retained) {
		return &FrameSizeError{Got: len(frame), Want: len(s.retained)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.stage(0, frame)
	prev := s.stage(1, s.retained)
	if err := s.queue.Do(func(q gpu.Queue) error {
		if err := q.WriteTexture(s.current, cur, s.layout, s.extent); err != nil {
			return errors.Wrap(err, "failed to upload current frame")
		}
		if err := q.WriteTexture(s.previous, prev, s.layout, s.extent); err != nil {
			return errors.Wrap(err, "failed to upload previous frame")
		}
		return nil
	}); err != nil {
		return err
	}
	copy(s.retained, frame)
	s.generation++
	return nil
}

// stage returns data laid out for upload, copying it into padded staging buffer i when the
// device requires aligned rows.
func (s *Store) stage(i int, data []byte) []byte {
	if !s.aligned {
		return data
	}
	rowBytes := s.width * 4
	stride := int(s.layout.BytesPerRow)
	buf := s.staging[i]
	for row := 0; row < s.height; row++ {
		copy(buf[row*stride:row*stride+rowBytes], data[row*rowBytes:(row+1)*rowBytes])
	}
	return buf
}

// Current returns the texture holding the latest frame.
func (s *Store) Current() gpu.Texture {
	return s.current
}

// Previous returns the texture holding the frame before the latest.
func (s *Store) Previous() gpu.Texture {
	return s.previous
}

// Size returns the frame dimensions.
func (s *Store) Size() (int, int) {
	return s.width, s.height
}

// Generation returns the number of successful updates.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}
