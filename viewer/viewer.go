// Package viewer connects a frame source, the frame store, the capture loop, and the renderer
// to a window event loop.
package viewer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/framediff/capture"
	"go.viam.com/framediff/framestore"
	"go.viam.com/framediff/gpu"
	"go.viam.com/framediff/logging"
	"go.viam.com/framediff/render"
	"go.viam.com/framediff/source"
	"go.viam.com/framediff/window"
)

// DefaultMaxSurfaceFailures is how many redraws in a row may fail to acquire a surface texture
// before the viewer gives up.
const DefaultMaxSurfaceFailures = 5

// stopTimeout bounds how long Run waits for the capture loop to release the source.
const stopTimeout = 5 * time.Second

// Config configures a Viewer.
type Config struct {
	Render render.Options
	// Capture is the capture retry policy. The zero value selects capture.DefaultConfig.
	Capture capture.Config
	// MaxSurfaceFailures defaults to DefaultMaxSurfaceFailures.
	MaxSurfaceFailures int
}

// Viewer handles window events for one source.
type Viewer struct {
	events   window.EventLoop
	win      window.Window
	surface  gpu.Surface
	store    *framestore.Store
	renderer *render.Renderer
	capture  *capture.Loop
	logger   logging.Logger

	maxSurfaceFailures int
	surfaceFailures    int

	ctx context.Context
}

// New creates the surface and device for the event loop's window, the frame store and renderer
// at the source's resolution, and a capture loop that wakes the event loop after every frame.
// Nothing runs until Run.
func New(
	ctx context.Context,
	inst gpu.Instance,
	src source.Source,
	events window.EventLoop,
	cfg Config,
	logger logging.Logger,
) (*Viewer, error) {
	win := events.Window()
	surface, err := inst.CreateSurface(win)
	if err != nil {
		return nil, &gpu.GpuInitError{Err: err}
	}
	adapter, err := inst.RequestAdapter(ctx, gpu.AdapterOptions{CompatibleSurface: surface})
	if err != nil {
		return nil, err
	}
	device, err := adapter.RequestDevice(ctx)
	if err != nil {
		return nil, err
	}
	logger.Debugw("using adapter", "name", adapter.Name(), "aligned_rows", device.Limits().AlignedRows)

	queue := gpu.NewSharedQueue(device.Queue())
	width, height := src.Resolution()
	store, err := framestore.New(device, queue, width, height)
	if err != nil {
		return nil, err
	}
	renderer, err := render.New(device, surface, queue, store, cfg.Render, logger.Sublogger("render"))
	if err != nil {
		return nil, err
	}

	if cfg.Capture == (capture.Config{}) {
		cfg.Capture = capture.DefaultConfig()
	}
	maxFailures := cfg.MaxSurfaceFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxSurfaceFailures
	}
	return &Viewer{
		events:             events,
		win:                win,
		surface:            surface,
		store:              store,
		renderer:           renderer,
		capture:            capture.NewLoop(src, store, events.Proxy(), cfg.Capture, logger.Sublogger("capture")),
		logger:             logger,
		maxSurfaceFailures: maxFailures,
		ctx:                ctx,
	}, nil
}

// Capture returns the capture loop.
func (v *Viewer) Capture() *capture.Loop {
	return v.capture
}

// Run starts capturing and dispatches window events on the calling goroutine until the window
// is closed, capture fails, or ctx is cancelled. The capture loop has stopped and released the
// source when Run returns.
func (v *Viewer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	v.ctx = ctx

	v.capture.Start(ctx)

	watchDone := make(chan struct{})
	goutils.PanicCapturingGo(func() {
		select {
		case <-ctx.Done():
			v.events.Proxy().Wake()
		case <-watchDone:
		}
	})

	runErr := v.events.Run(v)
	close(watchDone)
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	stopErr := v.capture.Stop(stopCtx)
	if stopErr != nil {
		stopErr = errors.Wrap(stopErr, "failed to close source")
	}
	stats := v.capture.Stats()
	v.logger.Infow("viewer stopped", "frames", stats.Frames, "retries", stats.Retries)
	return multierr.Combine(runErr, stopErr)
}

// HandleEvent implements window.Handler.
func (v *Viewer) HandleEvent(ev window.Event, ctl window.Control) {
	switch ev := ev.(type) {
	case window.UserEvent:
		if err := v.capture.Err(); err != nil {
			ctl.Exit(errors.Wrap(err, "capture failed"))
			return
		}
		if v.ctx.Err() != nil {
			ctl.Exit(nil)
			return
		}
		v.win.RequestRedraw()
	case window.Resized:
		if err := v.renderer.Resize(ev.Width, ev.Height); err != nil {
			ctl.Exit(err)
			return
		}
		v.win.RequestRedraw()
	case window.RedrawRequested:
		v.redraw(ctl)
	case window.CloseRequested:
		v.logger.Debug("window closed")
		ctl.Exit(nil)
	}
}

func (v *Viewer) redraw(ctl window.Control) {
	err := v.renderer.Redraw(v.ctx)
	if err == nil {
		v.surfaceFailures = 0
		return
	}
	surfaceErr, ok := gpu.IsSurfaceError(err)
	if !ok || surfaceErr.Kind == gpu.SurfaceErrorOutOfMemory {
		ctl.Exit(err)
		return
	}
	v.surfaceFailures++
	if v.surfaceFailures > v.maxSurfaceFailures {
		ctl.Exit(errors.Wrapf(err, "giving up after %d consecutive surface failures", v.surfaceFailures))
		return
	}
	v.logger.Warnw("surface unavailable; retrying", "error", err, "attempt", v.surfaceFailures)
	if surfaceErr.NeedsReconfigure() {
		if err := v.renderer.Reconfigure(); err != nil {
			ctl.Exit(err)
			return
		}
	}
	v.win.RequestRedraw()
}
