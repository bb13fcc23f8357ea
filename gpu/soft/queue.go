package soft

import (
	"github.com/pkg/errors"

	"go.viam.com/framediff/gpu"
)

type queue struct {
	device *Device
}

func (q *queue) WriteTexture(dst gpu.Texture, data []byte, layout gpu.ImageDataLayout, size gpu.Extent3D) error {
	tex, ok := dst.(*Texture)
	if !ok {
		return errors.Errorf("write texture: expected *soft.Texture but got %T", dst)
	}
	if tex.usage&gpu.TextureUsageCopyDst == 0 {
		return errors.Errorf("write texture: %q lacks copy destination usage", tex.label)
	}
	if size.Width > tex.size.Width || size.Height > tex.size.Height {
		return errors.Errorf("write texture: extent %dx%d exceeds texture %q (%dx%d)",
			size.Width, size.Height, tex.label, tex.size.Width, tex.size.Height)
	}
	if size.Width == 0 || size.Height == 0 {
		return nil
	}

	rowBytes := int(size.Width) * tex.format.BytesPerPixel()
	bytesPerRow := int(layout.BytesPerRow)
	if bytesPerRow == 0 {
		if size.Height > 1 {
			return errors.New("write texture: bytes per row is required for multi-row copies")
		}
		bytesPerRow = rowBytes
	}
	if bytesPerRow < rowBytes {
		return errors.Errorf("write texture: bytes per row %d is less than row size %d", bytesPerRow, rowBytes)
	}
	if q.device.limits.AlignedRows && bytesPerRow%gpu.CopyBytesPerRowAlignment != 0 {
		return errors.Errorf("write texture: bytes per row %d is not a multiple of %d",
			bytesPerRow, gpu.CopyBytesPerRowAlignment)
	}
	offset := int(layout.Offset)
	required := offset + bytesPerRow*(int(size.Height)-1) + rowBytes
	if len(data) < required {
		return errors.Errorf("write texture: need %d bytes of data but got %d", required, len(data))
	}

	tex.mu.Lock()
	defer tex.mu.Unlock()
	dstStride := tex.stride()
	for row := 0; row < int(size.Height); row++ {
		src := data[offset+row*bytesPerRow : offset+row*bytesPerRow+rowBytes]
		copy(tex.data[row*dstStride:row*dstStride+rowBytes], src)
	}
	return nil
}

func (q *queue) WriteBuffer(dst gpu.Buffer, offset uint64, data []byte) error {
	buf, ok := dst.(*Buffer)
	if !ok {
		return errors.Errorf("write buffer: expected *soft.Buffer but got %T", dst)
	}
	if buf.usage&gpu.BufferUsageCopyDst == 0 {
		return errors.Errorf("write buffer: %q lacks copy destination usage", buf.label)
	}
	if offset+uint64(len(data)) > uint64(len(buf.data)) {
		return errors.Errorf("write buffer: %d bytes at offset %d overrun %q of size %d",
			len(data), offset, buf.label, len(buf.data))
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	copy(buf.data[offset:], data)
	return nil
}

func (q *queue) Submit(cmds ...gpu.CommandBuffer) error {
	for _, cmd := range cmds {
		cb, ok := cmd.(*commandBuffer)
		if !ok {
			return errors.Errorf("submit: expected software command buffer but got %T", cmd)
		}
		if cb.submitted {
			return errors.Errorf("submit: command buffer %q was already submitted", cb.label)
		}
		cb.submitted = true
		for _, pass := range cb.passes {
			if err := pass.execute(); err != nil {
				return errors.Wrapf(err, "submit %q", cb.label)
			}
		}
	}
	return nil
}
