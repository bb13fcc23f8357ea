package soft

import (
	"context"
	"encoding/binary"
	"image"
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/framediff/gpu"
)

type recordingTarget struct {
	images []*image.RGBA
	err    error
}

func (r *recordingTarget) PresentImage(img *image.RGBA) error {
	if r.err != nil {
		return r.err
	}
	r.images = append(r.images, img)
	return nil
}

// passthrough emits attribute 0 as the position and a color that depends on a texel of the
// texture at binding 1 and the first uniform byte.
type passthrough struct{}

func (passthrough) HasEntryPoint(stage gpu.ShaderStage, name string) bool {
	return (stage == gpu.ShaderStageVertex && name == "vs") || (stage == gpu.ShaderStageFragment && name == "fs")
}

func (passthrough) Vertex(_ string, in VertexInput) [4]float32 {
	return in.Attributes[0]
}

func (passthrough) Fragment(_ string, in FragmentInput) [4]float32 {
	texel := in.Bindings.TextureLoad(1, int(in.Position[0]), int(in.Position[1]))
	u := in.Bindings.Uniform(0)
	return [4]float32{float32(texel[0]) / 255, float32(u[0]) / 255, 0, 1}
}

func vertexBytes(verts ...[4]float32) []byte {
	out := make([]byte, 0, len(verts)*16)
	for _, v := range verts {
		for _, c := range v {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(c))
		}
	}
	return out
}

func newTestDevice(t *testing.T, opts Options) *Device {
	t.Helper()
	inst := NewInstance(opts)
	adapter, err := inst.RequestAdapter(context.Background(), gpu.AdapterOptions{})
	test.That(t, err, test.ShouldBeNil)
	dev, err := adapter.RequestDevice(context.Background())
	test.That(t, err, test.ShouldBeNil)
	return dev.(*Device)
}

func TestWriteTexture(t *testing.T) {
	dev := newTestDevice(t, Options{})
	tex, err := dev.CreateTexture(gpu.TextureDescriptor{
		Size:   gpu.FullExtent(3, 2),
		Format: gpu.TextureFormatRGBA8Uint,
		Usage:  gpu.TextureUsageCopyDst | gpu.TextureUsageTextureBinding,
	})
	test.That(t, err, test.ShouldBeNil)

	t.Run("tightly packed", func(t *testing.T) {
		data := make([]byte, 3*2*4)
		for i := range data {
			data[i] = byte(i)
		}
		err := dev.Queue().WriteTexture(tex, data, gpu.ImageDataLayout{BytesPerRow: 12}, gpu.FullExtent(3, 2))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, tex.(*Texture).Bytes(), test.ShouldResemble, data)
	})

	t.Run("padded rows", func(t *testing.T) {
		data := make([]byte, 256+12)
		for i := 0; i < 12; i++ {
			data[i] = 1
			data[256+i] = 2
		}
		err := dev.Queue().WriteTexture(tex, data, gpu.ImageDataLayout{BytesPerRow: 256}, gpu.FullExtent(3, 2))
		test.That(t, err, test.ShouldBeNil)
		got := tex.(*Texture).Bytes()
		for i := 0; i < 12; i++ {
			test.That(t, got[i], test.ShouldEqual, 1)
			test.That(t, got[12+i], test.ShouldEqual, 2)
		}
	})

	t.Run("short data", func(t *testing.T) {
		err := dev.Queue().WriteTexture(tex, make([]byte, 20), gpu.ImageDataLayout{BytesPerRow: 12}, gpu.FullExtent(3, 2))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "need 24 bytes")
	})

	t.Run("aligned device rejects tight rows", func(t *testing.T) {
		aligned := newTestDevice(t, Options{AlignedRows: true})
		tex, err := aligned.CreateTexture(gpu.TextureDescriptor{
			Size:   gpu.FullExtent(3, 2),
			Format: gpu.TextureFormatRGBA8Uint,
			Usage:  gpu.TextureUsageCopyDst,
		})
		test.That(t, err, test.ShouldBeNil)
		err = aligned.Queue().WriteTexture(tex, make([]byte, 24), gpu.ImageDataLayout{BytesPerRow: 12}, gpu.FullExtent(3, 2))
		test.That(t, err, test.ShouldNotBeNil)
		err = aligned.Queue().WriteTexture(tex, make([]byte, 256+12), gpu.ImageDataLayout{BytesPerRow: 256}, gpu.FullExtent(3, 2))
		test.That(t, err, test.ShouldBeNil)
	})

	t.Run("missing copy usage", func(t *testing.T) {
		ro, err := dev.CreateTexture(gpu.TextureDescriptor{
			Size:   gpu.FullExtent(1, 1),
			Format: gpu.TextureFormatRGBA8Uint,
			Usage:  gpu.TextureUsageTextureBinding,
		})
		test.That(t, err, test.ShouldBeNil)
		err = dev.Queue().WriteTexture(ro, make([]byte, 4), gpu.ImageDataLayout{BytesPerRow: 4}, gpu.FullExtent(1, 1))
		test.That(t, err, test.ShouldNotBeNil)
	})
}

type drawFixture struct {
	dev      *Device
	surface  *Surface
	target   *recordingTarget
	pipeline gpu.RenderPipeline
	group    gpu.BindGroup
	texture  gpu.Texture
	uniform  gpu.Buffer
}

func newDrawFixture(t *testing.T, width, height uint32) *drawFixture {
	t.Helper()
	dev := newTestDevice(t, Options{})
	target := &recordingTarget{}
	surface, err := NewInstance(Options{}).CreateSurface(target)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, surface.Configure(dev, gpu.SurfaceConfiguration{
		Format: gpu.TextureFormatRGBA8Unorm, Width: width, Height: height,
	}), test.ShouldBeNil)

	module, err := dev.CreateShaderModule(gpu.ShaderModuleDescriptor{Source: passthrough{}})
	test.That(t, err, test.ShouldBeNil)
	layout, err := dev.CreateBindGroupLayout(gpu.BindGroupLayoutDescriptor{Entries: []gpu.BindGroupLayoutEntry{
		{Binding: 0, Visibility: gpu.ShaderStageFragment, Type: gpu.BindingTypeUniformBuffer, MinBindingSize: 4},
		{Binding: 1, Visibility: gpu.ShaderStageFragment, Type: gpu.BindingTypeTexture},
	}})
	test.That(t, err, test.ShouldBeNil)
	tex, err := dev.CreateTexture(gpu.TextureDescriptor{
		Size:   gpu.FullExtent(int(width), int(height)),
		Format: gpu.TextureFormatRGBA8Uint,
		Usage:  gpu.TextureUsageCopyDst | gpu.TextureUsageTextureBinding,
	})
	test.That(t, err, test.ShouldBeNil)
	uniform, err := dev.CreateBufferInit(gpu.BufferInitDescriptor{
		Contents: []byte{51, 0, 0, 0},
		Usage:    gpu.BufferUsageUniform | gpu.BufferUsageCopyDst,
	})
	test.That(t, err, test.ShouldBeNil)
	group, err := dev.CreateBindGroup(gpu.BindGroupDescriptor{Layout: layout, Entries: []gpu.BindGroupEntry{
		{Binding: 0, Buffer: uniform},
		{Binding: 1, TextureView: tex.CreateView()},
	}})
	test.That(t, err, test.ShouldBeNil)
	pipeline, err := dev.CreateRenderPipeline(gpu.RenderPipelineDescriptor{
		Layout: layout,
		Vertex: gpu.VertexState{Module: module, EntryPoint: "vs", Buffers: []gpu.VertexBufferLayout{{
			ArrayStride: 16,
			Attributes:  []gpu.VertexAttribute{{Format: gpu.VertexFormatFloat32x4}},
		}}},
		Fragment: gpu.FragmentState{Module: module, EntryPoint: "fs", TargetFormat: gpu.TextureFormatRGBA8Unorm},
	})
	test.That(t, err, test.ShouldBeNil)
	return &drawFixture{
		dev: dev, surface: surface.(*Surface), target: target,
		pipeline: pipeline, group: group, texture: tex, uniform: uniform,
	}
}

func (f *drawFixture) draw(t *testing.T, verts []byte, count uint32) *image.RGBA {
	t.Helper()
	vb, err := f.dev.CreateBufferInit(gpu.BufferInitDescriptor{Contents: verts, Usage: gpu.BufferUsageVertex})
	test.That(t, err, test.ShouldBeNil)
	frame, err := f.surface.GetCurrentTexture()
	test.That(t, err, test.ShouldBeNil)

	enc := f.dev.CreateCommandEncoder("test")
	pass := enc.BeginRenderPass(gpu.RenderPassDescriptor{ColorAttachment: gpu.RenderPassColorAttachment{
		View: frame.Texture().CreateView(), Load: gpu.LoadOpClear, ClearValue: gpu.Color{B: 1, A: 1},
	}})
	pass.SetPipeline(f.pipeline)
	pass.SetBindGroup(0, f.group)
	pass.SetVertexBuffer(0, vb)
	pass.Draw(count, 1, 0, 0)
	test.That(t, pass.End(), test.ShouldBeNil)
	cmd, err := enc.Finish()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.dev.Queue().Submit(cmd), test.ShouldBeNil)
	test.That(t, frame.Present(), test.ShouldBeNil)
	return f.target.images[len(f.target.images)-1]
}

func TestRenderFullScreenQuad(t *testing.T) {
	quad := vertexBytes(
		[4]float32{-1, -1, 0, 1}, [4]float32{1, -1, 0, 1}, [4]float32{-1, 1, 0, 1},
		[4]float32{1, -1, 0, 1}, [4]float32{-1, 1, 0, 1}, [4]float32{1, 1, 0, 1},
	)
	f := newDrawFixture(t, 8, 4)

	texels := make([]byte, 8*4*4)
	for i := 0; i < len(texels); i += 4 {
		texels[i] = 204
	}
	test.That(t, f.dev.Queue().WriteTexture(f.texture, texels, gpu.ImageDataLayout{BytesPerRow: 32}, gpu.FullExtent(8, 4)),
		test.ShouldBeNil)

	img := f.draw(t, quad, 6)
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			test.That(t, img.RGBAAt(x, y).R, test.ShouldEqual, 204)
			test.That(t, img.RGBAAt(x, y).G, test.ShouldEqual, 51)
			test.That(t, img.RGBAAt(x, y).B, test.ShouldEqual, 0)
		}
	}
}

func TestRenderClearsUncoveredPixels(t *testing.T) {
	// left half only
	half := vertexBytes(
		[4]float32{-1, -1, 0, 1}, [4]float32{0, -1, 0, 1}, [4]float32{-1, 1, 0, 1},
		[4]float32{0, -1, 0, 1}, [4]float32{-1, 1, 0, 1}, [4]float32{0, 1, 0, 1},
	)
	f := newDrawFixture(t, 8, 4)
	img := f.draw(t, half, 6)
	for y := 0; y < 4; y++ {
		test.That(t, img.RGBAAt(1, y).G, test.ShouldEqual, 51)
		test.That(t, img.RGBAAt(6, y).B, test.ShouldEqual, 255)
		test.That(t, img.RGBAAt(6, y).G, test.ShouldEqual, 0)
	}
}

func TestEncodingErrors(t *testing.T) {
	f := newDrawFixture(t, 2, 2)
	frame, err := f.surface.GetCurrentTexture()
	test.That(t, err, test.ShouldBeNil)

	enc := f.dev.CreateCommandEncoder("bad")
	pass := enc.BeginRenderPass(gpu.RenderPassDescriptor{ColorAttachment: gpu.RenderPassColorAttachment{
		View: frame.Texture().CreateView(),
	}})
	pass.Draw(6, 1, 0, 0)
	test.That(t, pass.End(), test.ShouldNotBeNil)
	_, err = enc.Finish()
	test.That(t, err.Error(), test.ShouldContainSubstring, "without a pipeline")
}

func TestSurfaceLifecycle(t *testing.T) {
	dev := newTestDevice(t, Options{})
	target := &recordingTarget{}
	s, err := NewInstance(Options{}).CreateSurface(target)
	test.That(t, err, test.ShouldBeNil)
	surface := s.(*Surface)

	_, err = surface.GetCurrentTexture()
	surfaceErr, ok := gpu.IsSurfaceError(err)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, surfaceErr.Kind, test.ShouldEqual, gpu.SurfaceErrorOutdated)

	test.That(t, surface.Configure(dev, gpu.SurfaceConfiguration{Format: gpu.TextureFormatRGBA8Unorm}), test.ShouldNotBeNil)
	test.That(t, surface.Configure(dev, gpu.SurfaceConfiguration{
		Format: gpu.TextureFormatRGBA8Unorm, Width: 4, Height: 2,
	}), test.ShouldBeNil)

	frame, err := surface.GetCurrentTexture()
	test.That(t, err, test.ShouldBeNil)
	_, err = surface.GetCurrentTexture()
	surfaceErr, _ = gpu.IsSurfaceError(err)
	test.That(t, surfaceErr.Kind, test.ShouldEqual, gpu.SurfaceErrorTimeout)

	test.That(t, frame.Present(), test.ShouldBeNil)
	test.That(t, target.images, test.ShouldHaveLength, 1)
	test.That(t, target.images[0].Bounds().Dx(), test.ShouldEqual, 4)

	surface.Invalidate(gpu.SurfaceErrorOutdated)
	_, err = surface.GetCurrentTexture()
	surfaceErr, _ = gpu.IsSurfaceError(err)
	test.That(t, surfaceErr.NeedsReconfigure(), test.ShouldBeTrue)

	test.That(t, surface.Configure(dev, gpu.SurfaceConfiguration{
		Format: gpu.TextureFormatRGBA8Unorm, Width: 4, Height: 2,
	}), test.ShouldBeNil)
	target.err = errors.New("window gone")
	frame, err = surface.GetCurrentTexture()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Present(), test.ShouldNotBeNil)
	_, err = surface.GetCurrentTexture()
	surfaceErr, _ = gpu.IsSurfaceError(err)
	test.That(t, surfaceErr.Kind, test.ShouldEqual, gpu.SurfaceErrorLost)
}

func TestRequestAdapterRejectsForeignSurface(t *testing.T) {
	_, err := NewInstance(Options{}).RequestAdapter(context.Background(), gpu.AdapterOptions{
		CompatibleSurface: foreignSurface{},
	})
	var initErr *gpu.GpuInitError
	test.That(t, errors.As(err, &initErr), test.ShouldBeTrue)
}

type foreignSurface struct{ gpu.Surface }
