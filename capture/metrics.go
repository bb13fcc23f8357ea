package capture

import (
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
)

var (
	framesCaptured = stats.Int64(
		"framediff/capture/frames",
		"Frames uploaded to the frame store",
		stats.UnitDimensionless)
	captureRetries = stats.Int64(
		"framediff/capture/retries",
		"Frame fetches that failed and were retried",
		stats.UnitDimensionless)
	uploadLatency = stats.Float64(
		"framediff/capture/upload_latency",
		"Time from a frame being fetched to both textures being queued",
		stats.UnitMilliseconds)

	// FramesView counts captured frames.
	FramesView = &view.View{
		Name:        framesCaptured.Name(),
		Description: framesCaptured.Description(),
		Measure:     framesCaptured,
		Aggregation: view.Count(),
	}
	// RetriesView counts retried fetches.
	RetriesView = &view.View{
		Name:        captureRetries.Name(),
		Description: captureRetries.Description(),
		Measure:     captureRetries,
		Aggregation: view.Count(),
	}
	// UploadLatencyView is the distribution of fetch to upload latency.
	UploadLatencyView = &view.View{
		Name:        uploadLatency.Name(),
		Description: uploadLatency.Description(),
		Measure:     uploadLatency,
		Aggregation: view.Distribution(1, 2, 5, 10, 20, 50, 100, 200, 500, 1000),
	}

	// Views are all capture views.
	Views = []*view.View{FramesView, RetriesView, UploadLatencyView}
)
