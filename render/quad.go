package render

import (
	"encoding/binary"
	"math"

	"go.viam.com/framediff/gpu"
)

// QuadVertices are the two triangles covering clip space, as (x, y, z, w) positions.
var QuadVertices = [6][4]float32{
	{-1, -1, 0, 1},
	{1, -1, 0, 1},
	{-1, 1, 0, 1},
	{1, -1, 0, 1},
	{-1, 1, 0, 1},
	{1, 1, 0, 1},
}

// vertexLayout reads one Float32x4 position per vertex at location 0.
var vertexLayout = gpu.VertexBufferLayout{
	ArrayStride: gpu.VertexFormatFloat32x4.Size(),
	Attributes: []gpu.VertexAttribute{
		{Format: gpu.VertexFormatFloat32x4, Offset: 0, ShaderLocation: 0},
	},
}

// quadBytes encodes QuadVertices as little endian floats.
func quadBytes() []byte {
	buf := make([]byte, 0, len(QuadVertices)*16)
	for _, v := range QuadVertices {
		for _, c := range v {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(c))
		}
	}
	return buf
}
