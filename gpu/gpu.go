// Package gpu describes the graphics backend used to upload frames and draw them. The interfaces
// follow the WebGPU object model: a Device owns resources, a single Queue accepts uploads and
// command buffers, and a Surface hands out textures that are presented to a window.
package gpu

import (
	"context"
	"image"
)

// TextureFormat is the texel layout of a texture.
type TextureFormat int

const (
	// TextureFormatRGBA8Uint stores four unsigned 8-bit integer channels with no color conversion.
	TextureFormatRGBA8Uint TextureFormat = iota
	// TextureFormatRGBA8Unorm stores four 8-bit channels normalized to [0, 1].
	TextureFormatRGBA8Unorm
	// TextureFormatBGRA8Unorm is RGBA8Unorm with red and blue swapped.
	TextureFormatBGRA8Unorm
)

// BytesPerPixel returns the size of one texel.
func (f TextureFormat) BytesPerPixel() int {
	return 4
}

func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA8Uint:
		return "rgba8uint"
	case TextureFormatRGBA8Unorm:
		return "rgba8unorm"
	case TextureFormatBGRA8Unorm:
		return "bgra8unorm"
	}
	return "unknown"
}

// TextureUsage is a bit set describing how a texture may be used.
type TextureUsage uint32

// Texture usages.
const (
	TextureUsageCopyDst TextureUsage = 1 << iota
	TextureUsageTextureBinding
	TextureUsageRenderAttachment
)

// BufferUsage is a bit set describing how a buffer may be used.
type BufferUsage uint32

// Buffer usages.
const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageUniform
	BufferUsageCopyDst
)

// ShaderStage is a bit set of pipeline stages.
type ShaderStage uint32

// Shader stages.
const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
)

// BindingType is the kind of resource bound at a slot.
type BindingType int

// Binding types.
const (
	BindingTypeUniformBuffer BindingType = iota
	BindingTypeTexture
)

// VertexFormat is the layout of a single vertex attribute.
type VertexFormat int

// Vertex formats.
const (
	VertexFormatFloat32x4 VertexFormat = iota
)

// Size returns the size in bytes of the attribute.
func (f VertexFormat) Size() uint64 {
	return 16
}

// LoadOp is what a render pass does with its attachment before drawing.
type LoadOp int

// Load operations.
const (
	LoadOpClear LoadOp = iota
	LoadOpLoad
)

// PresentMode controls how presented images are synchronized with the display.
type PresentMode int

// Present modes.
const (
	PresentModeFifo PresentMode = iota
	PresentModeMailbox
	PresentModeImmediate
)

// Color is a linear RGBA color with components in [0, 1].
type Color struct {
	R, G, B, A float64
}

// ColorGreen is the default clear color.
var ColorGreen = Color{R: 0, G: 1, B: 0, A: 1}

// Extent3D is the size of a texture.
type Extent3D struct {
	Width              uint32
	Height             uint32
	DepthOrArrayLayers uint32
}

// ImageDataLayout describes how texel rows are laid out in an upload buffer.
type ImageDataLayout struct {
	Offset       uint64
	BytesPerRow  uint32
	RowsPerImage uint32
}

// Limits are the capabilities of a device that affect how data must be prepared.
type Limits struct {
	MaxTextureDimension2D uint32
	// AlignedRows is set when texture uploads require BytesPerRow to be a multiple of
	// CopyBytesPerRowAlignment.
	AlignedRows bool
}

// TextureDescriptor describes a texture to create.
type TextureDescriptor struct {
	Label  string
	Size   Extent3D
	Format TextureFormat
	Usage  TextureUsage
}

// BufferInitDescriptor describes a buffer created with initial contents.
type BufferInitDescriptor struct {
	Label    string
	Contents []byte
	Usage    BufferUsage
}

// ShaderModuleDescriptor describes a shader module. Source is backend specific.
type ShaderModuleDescriptor struct {
	Label  string
	Source interface{}
}

// BindGroupLayoutEntry describes one binding slot.
type BindGroupLayoutEntry struct {
	Binding        uint32
	Visibility     ShaderStage
	Type           BindingType
	MinBindingSize uint64
}

// BindGroupLayoutDescriptor describes a bind group layout.
type BindGroupLayoutDescriptor struct {
	Label   string
	Entries []BindGroupLayoutEntry
}

// BindGroupEntry binds either a buffer or a texture view to a slot.
type BindGroupEntry struct {
	Binding     uint32
	Buffer      Buffer
	TextureView TextureView
}

// BindGroupDescriptor describes a bind group.
type BindGroupDescriptor struct {
	Label   string
	Layout  BindGroupLayout
	Entries []BindGroupEntry
}

// VertexAttribute is one attribute within a vertex buffer.
type VertexAttribute struct {
	Format         VertexFormat
	Offset         uint64
	ShaderLocation uint32
}

// VertexBufferLayout describes how vertices are read from a buffer.
type VertexBufferLayout struct {
	ArrayStride uint64
	Attributes  []VertexAttribute
}

// VertexState is the vertex stage of a pipeline.
type VertexState struct {
	Module     ShaderModule
	EntryPoint string
	Buffers    []VertexBufferLayout
}

// FragmentState is the fragment stage of a pipeline.
type FragmentState struct {
	Module       ShaderModule
	EntryPoint   string
	TargetFormat TextureFormat
}

// RenderPipelineDescriptor describes a render pipeline with a single bind group.
type RenderPipelineDescriptor struct {
	Label    string
	Layout   BindGroupLayout
	Vertex   VertexState
	Fragment FragmentState
}

// RenderPassColorAttachment is the single color target of a render pass.
type RenderPassColorAttachment struct {
	View       TextureView
	Load       LoadOp
	ClearValue Color
}

// RenderPassDescriptor describes a render pass.
type RenderPassDescriptor struct {
	Label           string
	ColorAttachment RenderPassColorAttachment
}

// SurfaceConfiguration is how a surface is sized and presented.
type SurfaceConfiguration struct {
	Format      TextureFormat
	Width       uint32
	Height      uint32
	PresentMode PresentMode
}

// SurfaceCapabilities lists what a surface supports on an adapter.
type SurfaceCapabilities struct {
	Formats      []TextureFormat
	PresentModes []PresentMode
}

// AdapterOptions selects an adapter.
type AdapterOptions struct {
	CompatibleSurface Surface
	ForceFallback     bool
}

// Instance is the entry point of a backend.
type Instance interface {
	CreateSurface(target SurfaceTarget) (Surface, error)
	RequestAdapter(ctx context.Context, opts AdapterOptions) (Adapter, error)
}

// Adapter is a physical device.
type Adapter interface {
	Name() string
	Limits() Limits
	RequestDevice(ctx context.Context) (Device, error)
}

// Device creates resources and owns the queue.
type Device interface {
	Limits() Limits
	Queue() Queue
	CreateTexture(desc TextureDescriptor) (Texture, error)
	CreateBufferInit(desc BufferInitDescriptor) (Buffer, error)
	CreateShaderModule(desc ShaderModuleDescriptor) (ShaderModule, error)
	CreateBindGroupLayout(desc BindGroupLayoutDescriptor) (BindGroupLayout, error)
	CreateBindGroup(desc BindGroupDescriptor) (BindGroup, error)
	CreateRenderPipeline(desc RenderPipelineDescriptor) (RenderPipeline, error)
	CreateCommandEncoder(label string) CommandEncoder
}

// Queue is the device's command submission queue. Implementations are not safe for concurrent
// use; share one through a SharedQueue.
type Queue interface {
	// WriteTexture copies data into the whole of dst. The data is consumed before WriteTexture
	// returns, so the caller may reuse it immediately.
	WriteTexture(dst Texture, data []byte, layout ImageDataLayout, size Extent3D) error
	// WriteBuffer copies data into dst at offset.
	WriteBuffer(dst Buffer, offset uint64, data []byte) error
	// Submit executes command buffers in order.
	Submit(cmds ...CommandBuffer) error
}

// Texture is a GPU resident image.
type Texture interface {
	Label() string
	Size() Extent3D
	Format() TextureFormat
	Usage() TextureUsage
	CreateView() TextureView
}

// TextureView is a view of a texture that can be bound or rendered to.
type TextureView interface {
	Texture() Texture
}

// Buffer is a GPU resident byte buffer.
type Buffer interface {
	Label() string
	Size() uint64
	Usage() BufferUsage
}

// ShaderModule is compiled shader code.
type ShaderModule interface {
	Label() string
}

// BindGroupLayout describes the slots of a bind group.
type BindGroupLayout interface {
	Entries() []BindGroupLayoutEntry
}

// BindGroup is a set of resources bound together.
type BindGroup interface {
	Layout() BindGroupLayout
}

// RenderPipeline is a compiled render pipeline.
type RenderPipeline interface {
	Label() string
}

// CommandBuffer is a finished, submittable list of commands.
type CommandBuffer interface {
	Label() string
}

// CommandEncoder records commands.
type CommandEncoder interface {
	BeginRenderPass(desc RenderPassDescriptor) RenderPassEncoder
	Finish() (CommandBuffer, error)
}

// RenderPassEncoder records draw commands for one pass.
type RenderPassEncoder interface {
	SetPipeline(pipeline RenderPipeline)
	SetBindGroup(index uint32, group BindGroup)
	SetVertexBuffer(slot uint32, buffer Buffer)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	End() error
}

// Surface is the presentable area of a window.
type Surface interface {
	Capabilities(adapter Adapter) SurfaceCapabilities
	Configure(device Device, config SurfaceConfiguration) error
	GetCurrentTexture() (SurfaceTexture, error)
}

// SurfaceTexture is the texture to render into for one presented frame.
type SurfaceTexture interface {
	Texture() Texture
	Present() error
}

// SurfaceTarget receives presented images. Windows implement it.
type SurfaceTarget interface {
	PresentImage(img *image.RGBA) error
}
