// Package soft is a software implementation of the gpu interfaces. Textures and buffers live in
// host memory, command buffers are executed on Submit by a triangle rasterizer, and shader
// modules are Go values implementing Program.
package soft

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/framediff/gpu"
)

// DefaultMaxTextureDimension2D is the largest texture edge the backend accepts by default.
const DefaultMaxTextureDimension2D = 8192

// Options configures the emulated device.
type Options struct {
	// AlignedRows makes the device reject uploads whose BytesPerRow is not a multiple of
	// gpu.CopyBytesPerRowAlignment.
	AlignedRows           bool
	MaxTextureDimension2D uint32
}

// Instance is the software backend entry point.
type Instance struct {
	opts Options
}

// NewInstance returns a software instance.
func NewInstance(opts Options) *Instance {
	if opts.MaxTextureDimension2D == 0 {
		opts.MaxTextureDimension2D = DefaultMaxTextureDimension2D
	}
	return &Instance{opts: opts}
}

// CreateSurface creates a surface presenting into target.
func (inst *Instance) CreateSurface(target gpu.SurfaceTarget) (gpu.Surface, error) {
	if target == nil {
		return nil, errors.New("cannot create surface without a target")
	}
	return &Surface{target: target}, nil
}

// RequestAdapter returns the single software adapter.
func (inst *Instance) RequestAdapter(ctx context.Context, opts gpu.AdapterOptions) (gpu.Adapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, &gpu.GpuInitError{Err: err}
	}
	if opts.CompatibleSurface != nil {
		if _, ok := opts.CompatibleSurface.(*Surface); !ok {
			return nil, &gpu.GpuInitError{
				Err: errors.Errorf("surface of type %T is not compatible with the software adapter", opts.CompatibleSurface),
			}
		}
	}
	return &adapter{limits: inst.limits()}, nil
}

func (inst *Instance) limits() gpu.Limits {
	return gpu.Limits{
		MaxTextureDimension2D: inst.opts.MaxTextureDimension2D,
		AlignedRows:           inst.opts.AlignedRows,
	}
}

type adapter struct {
	limits gpu.Limits
}

func (a *adapter) Name() string {
	return "software rasterizer"
}

func (a *adapter) Limits() gpu.Limits {
	return a.limits
}

func (a *adapter) RequestDevice(ctx context.Context) (gpu.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, &gpu.GpuInitError{Err: err}
	}
	dev := &Device{limits: a.limits}
	dev.queue = &queue{device: dev}
	return dev, nil
}

// Device is a software device.
type Device struct {
	limits gpu.Limits
	queue  *queue
}

// Limits returns the device limits.
func (d *Device) Limits() gpu.Limits {
	return d.limits
}

// Queue returns the device queue. It is not safe for concurrent use.
func (d *Device) Queue() gpu.Queue {
	return d.queue
}

// CreateTexture allocates a zeroed texture.
func (d *Device) CreateTexture(desc gpu.TextureDescriptor) (gpu.Texture, error) {
	size := desc.Size
	if size.DepthOrArrayLayers == 0 {
		size.DepthOrArrayLayers = 1
	}
	if size.Width == 0 || size.Height == 0 {
		return nil, errors.Errorf("texture %q has an empty extent %dx%d", desc.Label, size.Width, size.Height)
	}
	if size.Width > d.limits.MaxTextureDimension2D || size.Height > d.limits.MaxTextureDimension2D {
		return nil, errors.Errorf("texture %q extent %dx%d exceeds device limit %d",
			desc.Label, size.Width, size.Height, d.limits.MaxTextureDimension2D)
	}
	if size.DepthOrArrayLayers != 1 {
		return nil, errors.Errorf("texture %q: only single layer textures are supported", desc.Label)
	}
	return newTexture(desc.Label, size, desc.Format, desc.Usage), nil
}

// CreateBufferInit allocates a buffer holding a copy of desc.Contents.
func (d *Device) CreateBufferInit(desc gpu.BufferInitDescriptor) (gpu.Buffer, error) {
	if len(desc.Contents) == 0 {
		return nil, errors.Errorf("buffer %q has no contents", desc.Label)
	}
	data := make([]byte, len(desc.Contents))
	copy(data, desc.Contents)
	return &Buffer{label: desc.Label, usage: desc.Usage, data: data}, nil
}

// CreateShaderModule accepts a Program as the module source.
func (d *Device) CreateShaderModule(desc gpu.ShaderModuleDescriptor) (gpu.ShaderModule, error) {
	program, ok := desc.Source.(Program)
	if !ok {
		return nil, errors.Errorf("shader module %q: expected source implementing soft.Program but got %T", desc.Label, desc.Source)
	}
	return &shaderModule{label: desc.Label, program: program}, nil
}

// CreateBindGroupLayout validates and records a layout.
func (d *Device) CreateBindGroupLayout(desc gpu.BindGroupLayoutDescriptor) (gpu.BindGroupLayout, error) {
	seen := map[uint32]struct{}{}
	for _, entry := range desc.Entries {
		if _, dup := seen[entry.Binding]; dup {
			return nil, errors.Errorf("bind group layout %q: duplicate binding %d", desc.Label, entry.Binding)
		}
		seen[entry.Binding] = struct{}{}
	}
	entries := make([]gpu.BindGroupLayoutEntry, len(desc.Entries))
	copy(entries, desc.Entries)
	return &bindGroupLayout{entries: entries}, nil
}

// CreateBindGroup checks every layout slot is filled with a resource of the right kind.
func (d *Device) CreateBindGroup(desc gpu.BindGroupDescriptor) (gpu.BindGroup, error) {
	layout, ok := desc.Layout.(*bindGroupLayout)
	if !ok {
		return nil, errors.Errorf("bind group %q: layout of type %T is not from this backend", desc.Label, desc.Layout)
	}
	group := &bindGroup{
		layout:   layout,
		buffers:  map[uint32]*Buffer{},
		textures: map[uint32]*Texture{},
	}
	for _, entry := range desc.Entries {
		slot, found := layout.entry(entry.Binding)
		if !found {
			return nil, errors.Errorf("bind group %q: binding %d is not in the layout", desc.Label, entry.Binding)
		}
		switch slot.Type {
		case gpu.BindingTypeUniformBuffer:
			buf, ok := entry.Buffer.(*Buffer)
			if !ok {
				return nil, errors.Errorf("bind group %q: binding %d expects a buffer", desc.Label, entry.Binding)
			}
			if buf.usage&gpu.BufferUsageUniform == 0 {
				return nil, errors.Errorf("bind group %q: buffer %q lacks uniform usage", desc.Label, buf.label)
			}
			if uint64(len(buf.data)) < slot.MinBindingSize {
				return nil, errors.Errorf("bind group %q: buffer %q smaller than %d bytes", desc.Label, buf.label, slot.MinBindingSize)
			}
			group.buffers[entry.Binding] = buf
		case gpu.BindingTypeTexture:
			if entry.TextureView == nil {
				return nil, errors.Errorf("bind group %q: binding %d expects a texture view", desc.Label, entry.Binding)
			}
			tex, ok := entry.TextureView.Texture().(*Texture)
			if !ok {
				return nil, errors.Errorf("bind group %q: binding %d texture is not from this backend", desc.Label, entry.Binding)
			}
			if tex.usage&gpu.TextureUsageTextureBinding == 0 {
				return nil, errors.Errorf("bind group %q: texture %q lacks texture binding usage", desc.Label, tex.label)
			}
			group.textures[entry.Binding] = tex
		}
	}
	if len(group.buffers)+len(group.textures) != len(layout.entries) {
		return nil, errors.Errorf("bind group %q: %d of %d bindings provided",
			desc.Label, len(group.buffers)+len(group.textures), len(layout.entries))
	}
	return group, nil
}

// CreateRenderPipeline validates shader entry points and the vertex layout.
func (d *Device) CreateRenderPipeline(desc gpu.RenderPipelineDescriptor) (gpu.RenderPipeline, error) {
	layout, ok := desc.Layout.(*bindGroupLayout)
	if !ok {
		return nil, errors.Errorf("pipeline %q: layout of type %T is not from this backend", desc.Label, desc.Layout)
	}
	vertexModule, ok := desc.Vertex.Module.(*shaderModule)
	if !ok {
		return nil, errors.Errorf("pipeline %q: vertex module is not from this backend", desc.Label)
	}
	fragmentModule, ok := desc.Fragment.Module.(*shaderModule)
	if !ok {
		return nil, errors.Errorf("pipeline %q: fragment module is not from this backend", desc.Label)
	}
	if !vertexModule.program.HasEntryPoint(gpu.ShaderStageVertex, desc.Vertex.EntryPoint) {
		return nil, errors.Errorf("pipeline %q: no vertex entry point %q", desc.Label, desc.Vertex.EntryPoint)
	}
	if !fragmentModule.program.HasEntryPoint(gpu.ShaderStageFragment, desc.Fragment.EntryPoint) {
		return nil, errors.Errorf("pipeline %q: no fragment entry point %q", desc.Label, desc.Fragment.EntryPoint)
	}
	if len(desc.Vertex.Buffers) != 1 {
		return nil, errors.Errorf("pipeline %q: exactly one vertex buffer layout is supported", desc.Label)
	}
	vbl := desc.Vertex.Buffers[0]
	for _, attr := range vbl.Attributes {
		if attr.Offset+attr.Format.Size() > vbl.ArrayStride {
			return nil, errors.Errorf("pipeline %q: attribute %d overruns stride %d", desc.Label, attr.ShaderLocation, vbl.ArrayStride)
		}
	}
	return &renderPipeline{
		label:         desc.Label,
		layout:        layout,
		vertex:        vertexModule.program,
		vertexEntry:   desc.Vertex.EntryPoint,
		vertexLayout:  vbl,
		fragment:      fragmentModule.program,
		fragmentEntry: desc.Fragment.EntryPoint,
		targetFormat:  desc.Fragment.TargetFormat,
	}, nil
}

// CreateCommandEncoder returns a new encoder.
func (d *Device) CreateCommandEncoder(label string) gpu.CommandEncoder {
	return &commandEncoder{label: label}
}
