package soft

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/framediff/gpu"
)

type commandEncoder struct {
	label    string
	passes   []*renderPass
	finished bool
}

func (e *commandEncoder) BeginRenderPass(desc gpu.RenderPassDescriptor) gpu.RenderPassEncoder {
	pass := &renderPass{
		label:         desc.Label,
		attachment:    desc.ColorAttachment,
		vertexBuffers: map[uint32]*Buffer{},
	}
	e.passes = append(e.passes, pass)
	return pass
}

func (e *commandEncoder) Finish() (gpu.CommandBuffer, error) {
	if e.finished {
		return nil, errors.Errorf("command encoder %q already finished", e.label)
	}
	e.finished = true
	for _, pass := range e.passes {
		if !pass.ended {
			return nil, errors.Errorf("render pass %q was not ended", pass.label)
		}
		if pass.err != nil {
			return nil, pass.err
		}
	}
	return &commandBuffer{label: e.label, passes: e.passes}, nil
}

type commandBuffer struct {
	label     string
	passes    []*renderPass
	submitted bool
}

func (cb *commandBuffer) Label() string { return cb.label }

type drawCall struct {
	pipeline      *renderPipeline
	group         *bindGroup
	vertexBuffer  *Buffer
	vertexCount   uint32
	instanceCount uint32
	firstVertex   uint32
	firstInstance uint32
}

type renderPass struct {
	label      string
	attachment gpu.RenderPassColorAttachment

	pipeline      *renderPipeline
	groups        map[uint32]*bindGroup
	vertexBuffers map[uint32]*Buffer
	draws         []drawCall
	ended         bool
	err           error
}

// fail records the first encoding error; it surfaces from Finish.
func (p *renderPass) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *renderPass) SetPipeline(pipeline gpu.RenderPipeline) {
	rp, ok := pipeline.(*renderPipeline)
	if !ok {
		p.fail(errors.Errorf("render pass %q: pipeline of type %T is not from this backend", p.label, pipeline))
		return
	}
	p.pipeline = rp
}

func (p *renderPass) SetBindGroup(index uint32, group gpu.BindGroup) {
	bg, ok := group.(*bindGroup)
	if !ok {
		p.fail(errors.Errorf("render pass %q: bind group of type %T is not from this backend", p.label, group))
		return
	}
	if index != 0 {
		p.fail(errors.Errorf("render pass %q: only bind group 0 is supported", p.label))
		return
	}
	if p.groups == nil {
		p.groups = map[uint32]*bindGroup{}
	}
	p.groups[index] = bg
}

func (p *renderPass) SetVertexBuffer(slot uint32, buffer gpu.Buffer) {
	buf, ok := buffer.(*Buffer)
	if !ok {
		p.fail(errors.Errorf("render pass %q: buffer of type %T is not from this backend", p.label, buffer))
		return
	}
	if buf.usage&gpu.BufferUsageVertex == 0 {
		p.fail(errors.Errorf("render pass %q: buffer %q lacks vertex usage", p.label, buf.label))
		return
	}
	p.vertexBuffers[slot] = buf
}

func (p *renderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if p.pipeline == nil {
		p.fail(errors.Errorf("render pass %q: draw without a pipeline", p.label))
		return
	}
	group := p.groups[0]
	if group == nil {
		p.fail(errors.Errorf("render pass %q: draw without bind group 0", p.label))
		return
	}
	if group.layout != p.pipeline.layout {
		p.fail(errors.Errorf("render pass %q: bind group layout does not match pipeline %q", p.label, p.pipeline.label))
		return
	}
	vb := p.vertexBuffers[0]
	if vb == nil {
		p.fail(errors.Errorf("render pass %q: draw without a vertex buffer", p.label))
		return
	}
	end := uint64(firstVertex+vertexCount) * p.pipeline.vertexLayout.ArrayStride
	if end > uint64(len(vb.data)) {
		p.fail(errors.Errorf("render pass %q: %d vertices overrun buffer %q", p.label, firstVertex+vertexCount, vb.label))
		return
	}
	p.draws = append(p.draws, drawCall{
		pipeline:      p.pipeline,
		group:         group,
		vertexBuffer:  vb,
		vertexCount:   vertexCount,
		instanceCount: instanceCount,
		firstVertex:   firstVertex,
		firstInstance: firstInstance,
	})
}

func (p *renderPass) End() error {
	if p.ended {
		return errors.Errorf("render pass %q already ended", p.label)
	}
	p.ended = true
	return p.err
}

func (p *renderPass) execute() error {
	if p.attachment.View == nil {
		return errors.Errorf("render pass %q has no color attachment", p.label)
	}
	target, ok := p.attachment.View.Texture().(*Texture)
	if !ok {
		return errors.Errorf("render pass %q: attachment is not from this backend", p.label)
	}
	if target.usage&gpu.TextureUsageRenderAttachment == 0 {
		return errors.Errorf("render pass %q: texture %q lacks render attachment usage", p.label, target.label)
	}
	for _, draw := range p.draws {
		for _, tex := range draw.group.textures {
			if tex == target {
				return errors.Errorf("render pass %q: texture %q is both bound and rendered to", p.label, target.label)
			}
		}
		if draw.pipeline.targetFormat != target.format {
			return errors.Errorf("render pass %q: pipeline targets %s but attachment is %s",
				p.label, draw.pipeline.targetFormat, target.format)
		}
	}

	target.mu.Lock()
	defer target.mu.Unlock()

	if p.attachment.Load == gpu.LoadOpClear {
		fill := encodeColor(target.format, [4]float32{
			float32(p.attachment.ClearValue.R),
			float32(p.attachment.ClearValue.G),
			float32(p.attachment.ClearValue.B),
			float32(p.attachment.ClearValue.A),
		})
		for i := 0; i < len(target.data); i += 4 {
			copy(target.data[i:i+4], fill[:])
		}
	}

	for _, draw := range p.draws {
		p.executeDraw(draw, target)
	}
	return nil
}

func (p *renderPass) executeDraw(draw drawCall, target *Texture) {
	unlock := lockForRead(draw)
	defer unlock()

	pipeline := draw.pipeline
	bindings := &Bindings{group: draw.group}
	width, height := int(target.size.Width), int(target.size.Height)
	stride := target.stride()

	for instance := draw.firstInstance; instance < draw.firstInstance+draw.instanceCount; instance++ {
		positions := make([][4]float32, 0, draw.vertexCount)
		for v := draw.firstVertex; v < draw.firstVertex+draw.vertexCount; v++ {
			in := VertexInput{
				VertexIndex:   v,
				InstanceIndex: instance,
				Attributes:    readAttributes(draw.vertexBuffer.data, pipeline.vertexLayout, v),
			}
			positions = append(positions, pipeline.vertex.Vertex(pipeline.vertexEntry, in))
		}
		for i := 0; i+2 < len(positions); i += 3 {
			tri := [3][4]float32{positions[i], positions[i+1], positions[i+2]}
			rasterize(tri, width, height, func(x, y int, frag [4]float32) {
				out := pipeline.fragment.Fragment(pipeline.fragmentEntry, FragmentInput{Position: frag, Bindings: bindings})
				px := encodeColor(target.format, out)
				copy(target.data[y*stride+x*4:y*stride+x*4+4], px[:])
			})
		}
	}
}

// lockForRead read-locks every resource a draw samples, each once.
func lockForRead(draw drawCall) func() {
	var unlocks []func()
	seenTex := map[*Texture]struct{}{}
	for _, tex := range draw.group.textures {
		if _, ok := seenTex[tex]; ok {
			continue
		}
		seenTex[tex] = struct{}{}
		tex.mu.RLock()
		unlocks = append(unlocks, tex.mu.RUnlock)
	}
	seenBuf := map[*Buffer]struct{}{}
	for _, buf := range append(mapValues(draw.group.buffers), draw.vertexBuffer) {
		if _, ok := seenBuf[buf]; ok {
			continue
		}
		seenBuf[buf] = struct{}{}
		buf.mu.RLock()
		unlocks = append(unlocks, buf.mu.RUnlock)
	}
	return func() {
		for _, u := range unlocks {
			u()
		}
	}
}

func mapValues(m map[uint32]*Buffer) []*Buffer {
	out := make([]*Buffer, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func readAttributes(data []byte, layout gpu.VertexBufferLayout, vertex uint32) map[uint32][4]float32 {
	attrs := make(map[uint32][4]float32, len(layout.Attributes))
	base := uint64(vertex) * layout.ArrayStride
	for _, attr := range layout.Attributes {
		var value [4]float32
		off := base + attr.Offset
		for c := 0; c < 4; c++ {
			bits := binary.LittleEndian.Uint32(data[off+uint64(c)*4:])
			value[c] = math.Float32frombits(bits)
		}
		attrs[attr.ShaderLocation] = value
	}
	return attrs
}

// encodeColor converts a normalized color into the texel bytes of format.
func encodeColor(format gpu.TextureFormat, c [4]float32) [4]byte {
	var px [4]byte
	for i, v := range c {
		px[i] = unorm8(v)
	}
	if format == gpu.TextureFormatBGRA8Unorm {
		px[0], px[2] = px[2], px[0]
	}
	return px
}

func unorm8(v float32) byte {
	if v <= 0 || math.IsNaN(float64(v)) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return byte(v*255 + 0.5)
}
