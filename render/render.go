// Package render draws the current and previous frame textures into a window surface.
package render

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"go.viam.com/framediff/gpu"
	"go.viam.com/framediff/gpu/soft"
	"go.viam.com/framediff/logging"
	"go.viam.com/framediff/shader"
)

// Frames is the pair of textures a Renderer samples.
type Frames interface {
	Current() gpu.Texture
	Previous() gpu.Texture
	Size() (width, height int)
}

// Options configure a Renderer.
type Options struct {
	// Program is the shader source. It defaults to the program named shader.DefaultName.
	Program soft.Program
	// ClearColor fills pixels no draw covers.
	ClearColor gpu.Color
	// Format is the surface format. The zero value selects RGBA8Unorm.
	Format      gpu.TextureFormat
	PresentMode gpu.PresentMode
}

// Renderer owns the pipeline and the surface configuration. Its methods must be called from
// the event loop goroutine.
type Renderer struct {
	device  gpu.Device
	surface gpu.Surface
	queue   *gpu.SharedQueue
	logger  logging.Logger

	config    gpu.SurfaceConfiguration
	clear     gpu.Color
	pipeline  gpu.RenderPipeline
	bindGroup gpu.BindGroup
	vertices  gpu.Buffer
	viewport  gpu.Buffer
}

// New builds the pipeline around frames and configures surface at the frame resolution.
func New(
	device gpu.Device,
	surface gpu.Surface,
	queue *gpu.SharedQueue,
	frames Frames,
	opts Options,
	logger logging.Logger,
) (*Renderer, error) {
	program := opts.Program
	if program == nil {
		var err error
		if program, err = shader.Lookup(shader.DefaultName); err != nil {
			return nil, err
		}
	}
	format := opts.Format
	if format == gpu.TextureFormatRGBA8Uint {
		format = gpu.TextureFormatRGBA8Unorm
	}
	width, height := frames.Size()

	module, err := device.CreateShaderModule(gpu.ShaderModuleDescriptor{Label: "frame diff", Source: program})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create shader module")
	}
	layout, err := device.CreateBindGroupLayout(gpu.BindGroupLayoutDescriptor{
		Label: "frames",
		Entries: []gpu.BindGroupLayoutEntry{
			{
				Binding:        shader.BindingViewport,
				Visibility:     gpu.ShaderStageFragment,
				Type:           gpu.BindingTypeUniformBuffer,
				MinBindingSize: shader.ViewportUniformSize,
			},
			{Binding: shader.BindingCurrent, Visibility: gpu.ShaderStageFragment, Type: gpu.BindingTypeTexture},
			{Binding: shader.BindingPrevious, Visibility: gpu.ShaderStageFragment, Type: gpu.BindingTypeTexture},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bind group layout")
	}
	viewport, err := device.CreateBufferInit(gpu.BufferInitDescriptor{
		Label:    "viewport",
		Contents: shader.EncodeViewport(uint32(width), uint32(height)),
		Usage:    gpu.BufferUsageUniform | gpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create viewport buffer")
	}
	vertices, err := device.CreateBufferInit(gpu.BufferInitDescriptor{
		Label:    "quad",
		Contents: quadBytes(),
		Usage:    gpu.BufferUsageVertex,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create vertex buffer")
	}
	bindGroup, err := device.CreateBindGroup(gpu.BindGroupDescriptor{
		Label:  "frames",
		Layout: layout,
		Entries: []gpu.BindGroupEntry{
			{Binding: shader.BindingViewport, Buffer: viewport},
			{Binding: shader.BindingCurrent, TextureView: frames.Current().CreateView()},
			{Binding: shader.BindingPrevious, TextureView: frames.Previous().CreateView()},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bind group")
	}
	pipeline, err := device.CreateRenderPipeline(gpu.RenderPipelineDescriptor{
		Label:  "frame diff",
		Layout: layout,
		Vertex: gpu.VertexState{
			Module:     module,
			EntryPoint: shader.EntryVertex,
			Buffers:    []gpu.VertexBufferLayout{vertexLayout},
		},
		Fragment: gpu.FragmentState{
			Module:       module,
			EntryPoint:   shader.EntryFragment,
			TargetFormat: format,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create render pipeline")
	}

	r := &Renderer{
		device:    device,
		surface:   surface,
		queue:     queue,
		logger:    logger,
		clear:     opts.ClearColor,
		pipeline:  pipeline,
		bindGroup: bindGroup,
		vertices:  vertices,
		viewport:  viewport,
		config: gpu.SurfaceConfiguration{
			Format:      format,
			Width:       uint32(width),
			Height:      uint32(height),
			PresentMode: opts.PresentMode,
		},
	}
	if err := r.Reconfigure(); err != nil {
		return nil, err
	}
	return r, nil
}

// Size returns the configured surface size.
func (r *Renderer) Size() (int, int) {
	return int(r.config.Width), int(r.config.Height)
}

// Resize reconfigures the surface for a new window size and updates the viewport uniform.
// Dimensions are clamped to between one and the device's largest texture edge. If the surface
// cannot be configured the previous size stays in effect.
func (r *Renderer) Resize(width, height int) error {
	limit := int(r.device.Limits().MaxTextureDimension2D)
	cfg := r.config
	cfg.Width = uint32(clampDimension(width, limit))
	cfg.Height = uint32(clampDimension(height, limit))
	if err := r.configure(cfg); err != nil {
		return err
	}
	r.config = cfg
	data := shader.EncodeViewport(cfg.Width, cfg.Height)
	return r.queue.Do(func(q gpu.Queue) error {
		return q.WriteBuffer(r.viewport, 0, data)
	})
}

func clampDimension(v, limit int) int {
	v = max(1, v)
	if limit > 0 {
		v = min(v, limit)
	}
	return v
}

// Reconfigure applies the current configuration to the surface again, as needed after the
// surface reports it is outdated or lost.
func (r *Renderer) Reconfigure() error {
	return r.configure(r.config)
}

func (r *Renderer) configure(cfg gpu.SurfaceConfiguration) error {
	if err := r.surface.Configure(r.device, cfg); err != nil {
		return errors.Wrapf(err, "failed to configure surface at %dx%d", cfg.Width, cfg.Height)
	}
	r.logger.Debugw("surface configured", "width", cfg.Width, "height", cfg.Height, "format", cfg.Format)
	return nil
}

// Redraw draws one frame and presents it. Failure to acquire the surface texture is returned as
// a *gpu.SurfaceError.
func (r *Renderer) Redraw(ctx context.Context) error {
	start := time.Now()
	st, err := r.surface.GetCurrentTexture()
	if err != nil {
		if surfaceErr, ok := gpu.IsSurfaceError(err); ok {
			if recErr := stats.RecordWithTags(ctx,
				[]tag.Mutator{tag.Upsert(TagKeySurfaceError, surfaceErr.Kind.String())},
				surfaceFailures.M(1),
			); recErr != nil {
				r.logger.CDebugw(ctx, "failed to record surface failure", "error", recErr)
			}
		}
		return err
	}

	encoder := r.device.CreateCommandEncoder("frame")
	pass := encoder.BeginRenderPass(gpu.RenderPassDescriptor{
		Label: "frame",
		ColorAttachment: gpu.RenderPassColorAttachment{
			View:       st.Texture().CreateView(),
			Load:       gpu.LoadOpClear,
			ClearValue: r.clear,
		},
	})
	pass.SetPipeline(r.pipeline)
	pass.SetBindGroup(0, r.bindGroup)
	pass.SetVertexBuffer(0, r.vertices)
	pass.Draw(uint32(len(QuadVertices)), 1, 0, 0)
	if err := pass.End(); err != nil {
		return errors.Wrap(err, "failed to encode render pass")
	}
	cmds, err := encoder.Finish()
	if err != nil {
		return errors.Wrap(err, "failed to finish command buffer")
	}
	if err := r.queue.Do(func(q gpu.Queue) error {
		return q.Submit(cmds)
	}); err != nil {
		return errors.Wrap(err, "failed to submit frame")
	}
	if err := st.Present(); err != nil {
		return err
	}

	stats.Record(ctx,
		framesDrawn.M(1),
		drawLatency.M(float64(time.Since(start))/float64(time.Millisecond)))
	return nil
}
