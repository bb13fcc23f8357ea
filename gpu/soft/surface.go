package soft

import (
	"image"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/framediff/gpu"
)

// Surface presents rendered textures to a gpu.SurfaceTarget.
type Surface struct {
	target gpu.SurfaceTarget

	mu       sync.Mutex
	config   *gpu.SurfaceConfiguration
	backing  *Texture
	acquired bool
	invalid  *gpu.SurfaceError
}

// Capabilities lists the formats and present modes the surface supports.
func (s *Surface) Capabilities(_ gpu.Adapter) gpu.SurfaceCapabilities {
	return gpu.SurfaceCapabilities{
		Formats:      []gpu.TextureFormat{gpu.TextureFormatRGBA8Unorm, gpu.TextureFormatBGRA8Unorm},
		PresentModes: []gpu.PresentMode{gpu.PresentModeFifo, gpu.PresentModeMailbox, gpu.PresentModeImmediate},
	}
}

// Configure (re)allocates the backing texture at the configured size.
func (s *Surface) Configure(device gpu.Device, config gpu.SurfaceConfiguration) error {
	if config.Width == 0 || config.Height == 0 {
		return errors.Errorf("cannot configure surface with empty size %dx%d", config.Width, config.Height)
	}
	if config.Format != gpu.TextureFormatRGBA8Unorm && config.Format != gpu.TextureFormatBGRA8Unorm {
		return errors.Errorf("surface does not support format %s", config.Format)
	}
	if limit := device.Limits().MaxTextureDimension2D; config.Width > limit || config.Height > limit {
		return errors.Errorf("surface size %dx%d exceeds device limit %d", config.Width, config.Height, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := config
	s.config = &cfg
	s.backing = newTexture(
		"surface",
		gpu.Extent3D{Width: config.Width, Height: config.Height, DepthOrArrayLayers: 1},
		config.Format,
		gpu.TextureUsageRenderAttachment|gpu.TextureUsageCopyDst,
	)
	s.acquired = false
	s.invalid = nil
	return nil
}

// Config returns the current configuration, if any.
func (s *Surface) Config() (gpu.SurfaceConfiguration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return gpu.SurfaceConfiguration{}, false
	}
	return *s.config, true
}

// Invalidate makes subsequent acquisitions fail with kind until the surface is reconfigured.
// It mirrors a window system invalidating a swapchain.
func (s *Surface) Invalidate(kind gpu.SurfaceErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalid = &gpu.SurfaceError{Kind: kind}
}

// GetCurrentTexture returns the texture to render the next frame into.
func (s *Surface) GetCurrentTexture() (gpu.SurfaceTexture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid != nil {
		return nil, s.invalid
	}
	if s.config == nil {
		return nil, &gpu.SurfaceError{Kind: gpu.SurfaceErrorOutdated}
	}
	if s.acquired {
		return nil, &gpu.SurfaceError{Kind: gpu.SurfaceErrorTimeout}
	}
	s.acquired = true
	return &surfaceTexture{surface: s, tex: s.backing}, nil
}

type surfaceTexture struct {
	surface   *Surface
	tex       *Texture
	presented bool
}

func (st *surfaceTexture) Texture() gpu.Texture {
	return st.tex
}

func (st *surfaceTexture) Present() error {
	if st.presented {
		return errors.New("surface texture already presented")
	}
	st.presented = true

	img := st.image()
	s := st.surface
	s.mu.Lock()
	if s.backing == st.tex {
		s.acquired = false
	}
	s.mu.Unlock()

	if err := s.target.PresentImage(img); err != nil {
		s.mu.Lock()
		s.invalid = &gpu.SurfaceError{Kind: gpu.SurfaceErrorLost}
		s.mu.Unlock()
		return errors.Wrap(err, "failed to present surface texture")
	}
	return nil
}

func (st *surfaceTexture) image() *image.RGBA {
	w, h := int(st.tex.size.Width), int(st.tex.size.Height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	st.tex.mu.RLock()
	copy(img.Pix, st.tex.data)
	st.tex.mu.RUnlock()
	if st.tex.format == gpu.TextureFormatBGRA8Unorm {
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		}
	}
	return img
}
