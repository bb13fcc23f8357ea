package soft

import "go.viam.com/framediff/gpu"

// Program is shader code for the software backend. Vertex and Fragment are invoked once per
// vertex and once per covered pixel respectively and must not retain their inputs.
type Program interface {
	HasEntryPoint(stage gpu.ShaderStage, name string) bool
	Vertex(entryPoint string, in VertexInput) [4]float32
	Fragment(entryPoint string, in FragmentInput) [4]float32
}

// VertexInput holds the attributes of one vertex keyed by shader location.
type VertexInput struct {
	VertexIndex   uint32
	InstanceIndex uint32
	Attributes    map[uint32][4]float32
}

// FragmentInput is the interpolated state of one pixel.
type FragmentInput struct {
	// Position is the framebuffer coordinate of the pixel center, its depth, and 1.
	Position [4]float32
	Bindings *Bindings
}

// Bindings exposes the bind group resources to a fragment program.
type Bindings struct {
	group *bindGroup
}

// Uniform returns the contents of the uniform buffer at binding, or nil.
func (b *Bindings) Uniform(binding uint32) []byte {
	buf, ok := b.group.buffers[binding]
	if !ok {
		return nil
	}
	return buf.data
}

// TextureDimensions returns the size of the texture at binding.
func (b *Bindings) TextureDimensions(binding uint32) (int, int) {
	tex, ok := b.group.textures[binding]
	if !ok {
		return 0, 0
	}
	return int(tex.size.Width), int(tex.size.Height)
}

// TextureLoad returns the texel at (x, y) of the texture at binding without filtering or
// conversion. Coordinates are clamped to the texture edges.
func (b *Bindings) TextureLoad(binding uint32, x, y int) [4]uint32 {
	tex, ok := b.group.textures[binding]
	if !ok {
		return [4]uint32{}
	}
	w, h := int(tex.size.Width), int(tex.size.Height)
	x = clampInt(x, 0, w-1)
	y = clampInt(y, 0, h-1)
	i := y*tex.stride() + x*4
	px := tex.data[i : i+4 : i+4]
	return [4]uint32{uint32(px[0]), uint32(px[1]), uint32(px[2]), uint32(px[3])}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
