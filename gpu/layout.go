package gpu

// CopyBytesPerRowAlignment is the row alignment required by backends with aligned uploads.
const CopyBytesPerRowAlignment = 256

// RowPadding returns the number of bytes needed after a row of width RGBA texels so that the
// next row starts on a CopyBytesPerRowAlignment boundary.
func RowPadding(width uint32) uint32 {
	bytesPerRow := width * 4
	return (CopyBytesPerRowAlignment - bytesPerRow%CopyBytesPerRowAlignment) % CopyBytesPerRowAlignment
}

// PaddedBytesPerRow returns the aligned row stride for a row of width RGBA texels.
func PaddedBytesPerRow(width uint32) uint32 {
	return width*4 + RowPadding(width)
}

// FullExtent returns the extent of a single layer 2D texture.
func FullExtent(width, height int) Extent3D {
	return Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1}
}
