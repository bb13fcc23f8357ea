// Package shader holds the programs that visualize the current and previous frames. They run on
// the software backend and read a viewport uniform at binding 0 and two unsigned integer
// textures at bindings 1 and 2.
package shader

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"go.viam.com/framediff/gpu"
	"go.viam.com/framediff/gpu/soft"
)

// Entry points shared by every program.
const (
	EntryVertex   = "vs_main"
	EntryFragment = "fs_main"
)

// Bindings of the frame bind group.
const (
	BindingViewport uint32 = 0
	BindingCurrent  uint32 = 1
	BindingPrevious uint32 = 2
)

// ViewportUniformSize is the size of the viewport uniform: width and height as little endian u32.
const ViewportUniformSize = 8

// DefaultName is the program used when none is configured.
const DefaultName = "diff"

var programs = map[string]soft.Program{
	"diff":         Diff{Gain: 1},
	"amplified":    Diff{Gain: 4},
	"side_by_side": SideBySide{},
}

// Lookup returns the program registered under name.
func Lookup(name string) (soft.Program, error) {
	if name == "" {
		name = DefaultName
	}
	p, ok := programs[name]
	if !ok {
		return nil, errors.Errorf("unknown shader %q (have %v)", name, Names())
	}
	return p, nil
}

// Names lists the registered programs.
func Names() []string {
	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EncodeViewport returns the viewport uniform for a surface of the given size.
func EncodeViewport(width, height uint32) []byte {
	buf := make([]byte, ViewportUniformSize)
	binary.LittleEndian.PutUint32(buf[0:4], width)
	binary.LittleEndian.PutUint32(buf[4:8], height)
	return buf
}

// Viewport decodes the viewport uniform. A missing or zero viewport reads as 1x1.
func Viewport(b *soft.Bindings) (uint32, uint32) {
	u := b.Uniform(BindingViewport)
	if len(u) < ViewportUniformSize {
		return 1, 1
	}
	w := binary.LittleEndian.Uint32(u[0:4])
	h := binary.LittleEndian.Uint32(u[4:8])
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	return w, h
}

// texel maps a framebuffer coordinate inside a region of the viewport to the texel of the
// texture at binding that covers it.
func texel(b *soft.Bindings, binding uint32, x, y, regionW, regionH float32) (int, int) {
	tw, th := b.TextureDimensions(binding)
	return int(x * float32(tw) / regionW), int(y * float32(th) / regionH)
}

// fullScreen passes the position attribute through.
type fullScreen struct{}

func (fullScreen) HasEntryPoint(stage gpu.ShaderStage, name string) bool {
	switch stage {
	case gpu.ShaderStageVertex:
		return name == EntryVertex
	case gpu.ShaderStageFragment:
		return name == EntryFragment
	}
	return false
}

func (fullScreen) Vertex(_ string, in soft.VertexInput) [4]float32 {
	return in.Attributes[0]
}

// Diff shows the per channel absolute difference between the frames, multiplied by Gain.
type Diff struct {
	fullScreen
	Gain float32
}

// Fragment implements soft.Program.
func (d Diff) Fragment(_ string, in soft.FragmentInput) [4]float32 {
	vw, vh := Viewport(in.Bindings)
	x, y := texel(in.Bindings, BindingCurrent, in.Position[0], in.Position[1], float32(vw), float32(vh))
	cur := in.Bindings.TextureLoad(BindingCurrent, x, y)
	prev := in.Bindings.TextureLoad(BindingPrevious, x, y)
	var out [4]float32
	for c := 0; c < 3; c++ {
		delta := int(cur[c]) - int(prev[c])
		if delta < 0 {
			delta = -delta
		}
		out[c] = float32(delta) / 255 * d.Gain
	}
	out[3] = 1
	return out
}

// SideBySide draws the current frame on the left half and the previous frame on the right.
type SideBySide struct {
	fullScreen
}

// Fragment implements soft.Program.
func (SideBySide) Fragment(_ string, in soft.FragmentInput) [4]float32 {
	vw, vh := Viewport(in.Bindings)
	half := float32(vw) / 2
	binding, x := BindingCurrent, in.Position[0]
	if x >= half {
		binding, x = BindingPrevious, x-half
	}
	tx, ty := texel(in.Bindings, binding, x, in.Position[1], half, float32(vh))
	t := in.Bindings.TextureLoad(binding, tx, ty)
	return [4]float32{float32(t[0]) / 255, float32(t[1]) / 255, float32(t[2]) / 255, 1}
}
