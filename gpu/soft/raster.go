package soft

import "math"

// rasterize calls fn for every pixel whose center lies inside the clip space triangle tri.
// Both windings are accepted; there is no culling.
func rasterize(tri [3][4]float32, width, height int, fn func(x, y int, frag [4]float32)) {
	var sx, sy, sz [3]float64
	for i, v := range tri {
		w := float64(v[3])
		if w == 0 {
			return
		}
		ndcX, ndcY := float64(v[0])/w, float64(v[1])/w
		sx[i] = (ndcX*0.5 + 0.5) * float64(width)
		sy[i] = (0.5 - ndcY*0.5) * float64(height)
		sz[i] = float64(v[2]) / w
	}

	area := edge(sx[0], sy[0], sx[1], sy[1], sx[2], sy[2])
	if area == 0 {
		return
	}

	minX := clampInt(int(math.Floor(min3(sx[0], sx[1], sx[2]))), 0, width-1)
	maxX := clampInt(int(math.Ceil(max3(sx[0], sx[1], sx[2]))), 0, width-1)
	minY := clampInt(int(math.Floor(min3(sy[0], sy[1], sy[2]))), 0, height-1)
	maxY := clampInt(int(math.Ceil(max3(sy[0], sy[1], sy[2]))), 0, height-1)

	for y := minY; y <= maxY; y++ {
		py := float64(y) + 0.5
		for x := minX; x <= maxX; x++ {
			px := float64(x) + 0.5
			w0 := edge(sx[1], sy[1], sx[2], sy[2], px, py) / area
			w1 := edge(sx[2], sy[2], sx[0], sy[0], px, py) / area
			w2 := edge(sx[0], sy[0], sx[1], sy[1], px, py) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			z := w0*sz[0] + w1*sz[1] + w2*sz[2]
			fn(x, y, [4]float32{float32(px), float32(py), float32(z), 1})
		}
	}
}

func edge(ax, ay, bx, by, cx, cy float64) float64 {
	return (bx-ax)*(cy-ay) - (by-ay)*(cx-ax)
}

func min3(a, b, c float64) float64 {
	return math.Min(a, math.Min(b, c))
}

func max3(a, b, c float64) float64 {
	return math.Max(a, math.Max(b, c))
}
