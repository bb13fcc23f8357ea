package render

import (
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// TagKeySurfaceError labels surface failures by kind.
var TagKeySurfaceError = tag.MustNewKey("surface_error")

var (
	framesDrawn = stats.Int64(
		"framediff/render/frames",
		"Frames drawn and presented",
		stats.UnitDimensionless)
	surfaceFailures = stats.Int64(
		"framediff/render/surface_failures",
		"Surface textures that could not be acquired",
		stats.UnitDimensionless)
	drawLatency = stats.Float64(
		"framediff/render/draw_latency",
		"Time to encode, submit and present one frame",
		stats.UnitMilliseconds)

	// FramesView counts presented frames.
	FramesView = &view.View{
		Name:        framesDrawn.Name(),
		Description: framesDrawn.Description(),
		Measure:     framesDrawn,
		Aggregation: view.Count(),
	}
	// SurfaceFailuresView counts surface failures, labeled by kind.
	SurfaceFailuresView = &view.View{
		Name:        surfaceFailures.Name(),
		Description: surfaceFailures.Description(),
		Measure:     surfaceFailures,
		TagKeys:     []tag.Key{TagKeySurfaceError},
		Aggregation: view.Count(),
	}
	// DrawLatencyView is the distribution of draw latency.
	DrawLatencyView = &view.View{
		Name:        drawLatency.Name(),
		Description: drawLatency.Description(),
		Measure:     drawLatency,
		Aggregation: view.Distribution(1, 2, 5, 10, 20, 50, 100, 200, 500),
	}

	// Views are all render views.
	Views = []*view.View{FramesView, SurfaceFailuresView, DrawLatencyView}
)
