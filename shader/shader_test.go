package shader

import (
	"encoding/binary"
	"testing"

	"go.viam.com/test"

	"go.viam.com/framediff/gpu"
)

func TestLookup(t *testing.T) {
	p, err := Lookup("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, Diff{Gain: 1})

	p, err = Lookup("side_by_side")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldHaveSameTypeAs, SideBySide{})

	_, err = Lookup("sobel")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "side_by_side")

	test.That(t, Names(), test.ShouldResemble, []string{"amplified", "diff", "side_by_side"})
}

func TestEntryPoints(t *testing.T) {
	for _, name := range Names() {
		p, err := Lookup(name)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, p.HasEntryPoint(gpu.ShaderStageVertex, EntryVertex), test.ShouldBeTrue)
		test.That(t, p.HasEntryPoint(gpu.ShaderStageFragment, EntryFragment), test.ShouldBeTrue)
		test.That(t, p.HasEntryPoint(gpu.ShaderStageVertex, EntryFragment), test.ShouldBeFalse)
		test.That(t, p.HasEntryPoint(gpu.ShaderStageFragment, "main"), test.ShouldBeFalse)
	}
}

func TestEncodeViewport(t *testing.T) {
	buf := EncodeViewport(640, 480)
	test.That(t, buf, test.ShouldHaveLength, ViewportUniformSize)
	test.That(t, binary.LittleEndian.Uint32(buf[0:4]), test.ShouldEqual, 640)
	test.That(t, binary.LittleEndian.Uint32(buf[4:8]), test.ShouldEqual, 480)
}
