package soft

import (
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/framediff/gpu"
)

// Texture is a texture stored in host memory.
type Texture struct {
	label  string
	size   gpu.Extent3D
	format gpu.TextureFormat
	usage  gpu.TextureUsage

	mu   sync.RWMutex
	data []byte
}

func newTexture(label string, size gpu.Extent3D, format gpu.TextureFormat, usage gpu.TextureUsage) *Texture {
	return &Texture{
		label:  label,
		size:   size,
		format: format,
		usage:  usage,
		data:   make([]byte, int(size.Width)*int(size.Height)*format.BytesPerPixel()),
	}
}

// Label returns the debug label.
func (t *Texture) Label() string { return t.label }

// Size returns the texture extent.
func (t *Texture) Size() gpu.Extent3D { return t.size }

// Format returns the texel format.
func (t *Texture) Format() gpu.TextureFormat { return t.format }

// Usage returns the usage flags.
func (t *Texture) Usage() gpu.TextureUsage { return t.usage }

// CreateView returns a view over the whole texture.
func (t *Texture) CreateView() gpu.TextureView { return &textureView{tex: t} }

// Bytes returns a tightly packed copy of the texture contents.
func (t *Texture) Bytes() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]byte, len(t.data))
	copy(out, t.data)
	return out
}

func (t *Texture) stride() int {
	return int(t.size.Width) * t.format.BytesPerPixel()
}

// ReadTexture returns a copy of a software texture's contents.
func ReadTexture(tex gpu.Texture) ([]byte, error) {
	softTex, ok := tex.(*Texture)
	if !ok {
		return nil, errors.Errorf("expected *soft.Texture but got %T", tex)
	}
	return softTex.Bytes(), nil
}

type textureView struct {
	tex *Texture
}

func (v *textureView) Texture() gpu.Texture { return v.tex }

// Buffer is a buffer stored in host memory.
type Buffer struct {
	label string
	usage gpu.BufferUsage

	mu   sync.RWMutex
	data []byte
}

// Label returns the debug label.
func (b *Buffer) Label() string { return b.label }

// Size returns the buffer length in bytes.
func (b *Buffer) Size() uint64 { return uint64(len(b.data)) }

// Usage returns the usage flags.
func (b *Buffer) Usage() gpu.BufferUsage { return b.usage }

// Bytes returns a copy of the buffer contents.
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

type shaderModule struct {
	label   string
	program Program
}

func (m *shaderModule) Label() string { return m.label }

type bindGroupLayout struct {
	entries []gpu.BindGroupLayoutEntry
}

func (l *bindGroupLayout) Entries() []gpu.BindGroupLayoutEntry {
	return l.entries
}

func (l *bindGroupLayout) entry(binding uint32) (gpu.BindGroupLayoutEntry, bool) {
	for _, e := range l.entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return gpu.BindGroupLayoutEntry{}, false
}

type bindGroup struct {
	layout   *bindGroupLayout
	buffers  map[uint32]*Buffer
	textures map[uint32]*Texture
}

func (g *bindGroup) Layout() gpu.BindGroupLayout { return g.layout }

type renderPipeline struct {
	label         string
	layout        *bindGroupLayout
	vertex        Program
	vertexEntry   string
	vertexLayout  gpu.VertexBufferLayout
	fragment      Program
	fragmentEntry string
	targetFormat  gpu.TextureFormat
}

func (p *renderPipeline) Label() string { return p.label }
