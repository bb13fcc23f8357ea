package viewer

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/framediff/capture"
	"go.viam.com/framediff/gpu"
	"go.viam.com/framediff/gpu/soft"
	"go.viam.com/framediff/logging"
	"go.viam.com/framediff/render"
	"go.viam.com/framediff/shader"
	"go.viam.com/framediff/source"
	"go.viam.com/framediff/window"
	"go.viam.com/framediff/window/headless"
)

// frameSource returns its frames in order and then blocks until cancelled or closed.
type frameSource struct {
	width, height int

	mu     sync.Mutex
	frames [][]byte
	err    error
	seq    uint64

	closeOnce sync.Once
	closed    chan struct{}
}

func newFrameSource(width, height int, frames ...[]byte) *frameSource {
	return &frameSource{width: width, height: height, frames: frames, closed: make(chan struct{})}
}

func (s *frameSource) Next(ctx context.Context) (source.Frame, error) {
	s.mu.Lock()
	if len(s.frames) > 0 {
		data := s.frames[0]
		s.frames = s.frames[1:]
		s.seq++
		seq := s.seq
		s.mu.Unlock()
		return source.Frame{Data: data, Width: s.width, Height: s.height, Seq: seq, Timestamp: time.Now()}, nil
	}
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return source.Frame{}, err
	}
	select {
	case <-ctx.Done():
		return source.Frame{}, ctx.Err()
	case <-s.closed:
		return source.Frame{}, &source.CaptureError{Err: source.ErrClosed}
	}
}

func (s *frameSource) Resolution() (int, int) {
	return s.width, s.height
}

func (s *frameSource) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *frameSource) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// endlessSource returns a new frame on every call without waiting.
type endlessSource struct {
	width, height int
	seq           uint64
	closed        chan struct{}
	closeOnce     sync.Once
}

func (s *endlessSource) Next(ctx context.Context) (source.Frame, error) {
	select {
	case <-s.closed:
		return source.Frame{}, &source.CaptureError{Err: source.ErrClosed}
	default:
	}
	if err := ctx.Err(); err != nil {
		return source.Frame{}, err
	}
	s.seq++
	shade := uint8(s.seq)
	data := solid(s.width, s.height, color.RGBA{R: shade, G: shade, B: shade, A: 255})
	return source.Frame{Data: data, Width: s.width, Height: s.height, Seq: s.seq, Timestamp: time.Now()}, nil
}

func (s *endlessSource) Resolution() (int, int) {
	return s.width, s.height
}

func (s *endlessSource) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type recordingControl struct {
	exited bool
	err    error
}

func (c *recordingControl) Exit(err error) {
	c.exited = true
	c.err = err
}

func solid(width, height int, c color.RGBA) []byte {
	return bytes.Repeat([]byte{c.R, c.G, c.B, c.A}, width*height)
}

func newViewer(t *testing.T, src source.Source, events window.EventLoop, cfg Config) *Viewer {
	t.Helper()
	if cfg.Render.Program == nil {
		cfg.Render.Program = shader.SideBySide{}
	}
	v, err := New(context.Background(), soft.NewInstance(soft.Options{}), src, events, cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return v
}

func runAsync(ctx context.Context, v *Viewer) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- v.Run(ctx)
	}()
	return errCh
}

func TestCapturedFramesReachTheWindow(t *testing.T) {
	const w, h = 640, 480
	a := color.RGBA{R: 10, G: 20, B: 30, A: 255}
	b := color.RGBA{R: 40, G: 50, B: 60, A: 255}
	c := color.RGBA{R: 70, G: 80, B: 90, A: 255}
	src := newFrameSource(w, h, solid(w, h, a), solid(w, h, b), solid(w, h, c))
	events := headless.New(w, h)
	v := newViewer(t, src, events, Config{})

	// a redraw before any capture shows zeroed textures
	ctl := &recordingControl{}
	v.HandleEvent(window.RedrawRequested{}, ctl)
	test.That(t, ctl.exited, test.ShouldBeFalse)
	first := events.LastFrame()
	test.That(t, first, test.ShouldNotBeNil)
	test.That(t, first.Pix, test.ShouldResemble, solid(w, h, color.RGBA{A: 255}))

	errCh := runAsync(context.Background(), v)
	testutils.WaitForAssertionWithSleep(t, 20*time.Millisecond, 500, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, v.store.Generation(), test.ShouldEqual, uint64(3))
		frame := events.LastFrame()
		test.That(tb, frame.RGBAAt(0, 0), test.ShouldResemble, c)
		test.That(tb, frame.RGBAAt(w/2-1, h-1), test.ShouldResemble, c)
		test.That(tb, frame.RGBAAt(w/2, 0), test.ShouldResemble, b)
		test.That(tb, frame.RGBAAt(w-1, h-1), test.ShouldResemble, b)
	})

	events.Close()
	test.That(t, <-errCh, test.ShouldBeNil)
	test.That(t, src.isClosed(), test.ShouldBeTrue)
	test.That(t, v.Capture().State(), test.ShouldEqual, capture.StateStopped)
	test.That(t, v.Capture().Stats().Frames, test.ShouldEqual, uint64(3))
}

func TestCaptureFailureEndsRun(t *testing.T) {
	src := newFrameSource(2, 2, solid(2, 2, color.RGBA{R: 1, A: 255}))
	src.err = &source.CaptureError{Err: source.ErrDisconnected, Disconnected: true}
	v := newViewer(t, src, headless.New(2, 2), Config{})

	err := <-runAsync(context.Background(), v)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, source.ErrDisconnected), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "capture failed")
	test.That(t, v.Capture().State(), test.ShouldEqual, capture.StateFailed)
	test.That(t, src.isClosed(), test.ShouldBeTrue)
}

func TestCancelEndsRun(t *testing.T) {
	src := newFrameSource(2, 2)
	v := newViewer(t, src, headless.New(2, 2), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(ctx, v)
	cancel()
	test.That(t, <-errCh, test.ShouldBeNil)
	test.That(t, src.isClosed(), test.ShouldBeTrue)
}

func TestOutdatedSurfaceIsReconfigured(t *testing.T) {
	events := headless.New(3, 3)
	v := newViewer(t, newFrameSource(3, 3), events, Config{})
	events.OnPresent(func(*image.RGBA) { go events.Close() })

	v.surface.(*soft.Surface).Invalidate(gpu.SurfaceErrorOutdated)
	events.Window().RequestRedraw()
	test.That(t, events.Run(v), test.ShouldBeNil)
	test.That(t, events.Presented(), test.ShouldEqual, 1)
	test.That(t, v.surfaceFailures, test.ShouldEqual, 0)
}

func TestSurfaceFailuresExhausted(t *testing.T) {
	events := headless.New(3, 3)
	v := newViewer(t, newFrameSource(3, 3), events, Config{MaxSurfaceFailures: 2})

	v.surface.(*soft.Surface).Invalidate(gpu.SurfaceErrorTimeout)
	events.Window().RequestRedraw()
	err := events.Run(v)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "giving up after 3 consecutive surface failures")
	_, ok := gpu.IsSurfaceError(err)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, events.Presented(), test.ShouldEqual, 0)
}

func TestOutOfMemoryIsFatal(t *testing.T) {
	events := headless.New(3, 3)
	v := newViewer(t, newFrameSource(3, 3), events, Config{})

	v.surface.(*soft.Surface).Invalidate(gpu.SurfaceErrorOutOfMemory)
	ctl := &recordingControl{}
	v.HandleEvent(window.RedrawRequested{}, ctl)
	test.That(t, ctl.exited, test.ShouldBeTrue)
	surfaceErr, ok := gpu.IsSurfaceError(ctl.err)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, surfaceErr.Kind, test.ShouldEqual, gpu.SurfaceErrorOutOfMemory)
}

func TestResizeToZeroStillDraws(t *testing.T) {
	events := headless.New(4, 4)
	v := newViewer(t, newFrameSource(4, 4), events, Config{Render: render.Options{Program: shader.Diff{Gain: 1}}})
	events.OnPresent(func(*image.RGBA) { go events.Close() })

	events.Resize(0, 0)
	test.That(t, events.Run(v), test.ShouldBeNil)
	frame := events.LastFrame()
	test.That(t, frame.Rect.Dx(), test.ShouldEqual, 1)
	test.That(t, frame.Rect.Dy(), test.ShouldEqual, 1)
	w, h := v.renderer.Size()
	test.That(t, w, test.ShouldEqual, 1)
	test.That(t, h, test.ShouldEqual, 1)
}

func TestUserEventRequestsRedraw(t *testing.T) {
	events := headless.New(2, 2)
	v := newViewer(t, newFrameSource(2, 2), events, Config{})
	events.OnPresent(func(*image.RGBA) { go events.Close() })

	events.Proxy().Wake()
	events.Proxy().Wake()
	test.That(t, events.Run(v), test.ShouldBeNil)
	test.That(t, events.Presented(), test.ShouldEqual, 1)
}

func TestRedrawsKeepPaceWithUnpacedCapture(t *testing.T) {
	src := &endlessSource{width: 1, height: 1, closed: make(chan struct{})}
	events := headless.New(1, 1)
	v := newViewer(t, src, events, Config{})

	var presented int
	events.OnPresent(func(*image.RGBA) {
		presented++
		if presented == 200 {
			go events.Close()
		}
	})

	var userEvents, redraws int
	counting := window.HandlerFunc(func(ev window.Event, ctl window.Control) {
		switch ev.(type) {
		case window.UserEvent:
			userEvents++
		case window.RedrawRequested:
			redraws++
		}
		v.HandleEvent(ev, ctl)
	})

	ctx := context.Background()
	v.Capture().Start(ctx)
	test.That(t, events.Run(counting), test.ShouldBeNil)
	test.That(t, v.Capture().Stop(ctx), test.ShouldBeNil)

	test.That(t, events.Presented(), test.ShouldBeGreaterThanOrEqualTo, 200)
	test.That(t, userEvents-redraws, test.ShouldBeLessThanOrEqualTo, 1)
	test.That(t, v.Capture().Stats().Frames, test.ShouldBeGreaterThanOrEqualTo, uint64(redraws))
}
