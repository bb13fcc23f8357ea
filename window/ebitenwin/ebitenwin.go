// Package ebitenwin implements a window.EventLoop on top of an ebiten game window.
package ebitenwin

import (
	"image"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/framediff/logging"
	"go.viam.com/framediff/window"
)

// Options configure the window.
type Options struct {
	Title  string
	Width  int
	Height int
}

// Loop runs the ebiten game loop. Update dispatches pending events to the handler and Draw
// blits the last presented frame.
type Loop struct {
	opts   Options
	logger logging.Logger

	wake    atomic.Bool
	redraw  atomic.Bool
	running atomic.Bool

	mu      sync.Mutex
	width   int
	height  int
	resized bool
	staged  *image.RGBA
	dirty   bool
	frame   *ebiten.Image
	closing bool
	handler window.Handler
	ctl     control
}

// New returns a loop for a window of the given options. Nothing is shown until Run.
func New(opts Options, logger logging.Logger) (*Loop, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, errors.Errorf("invalid window size %dx%d", opts.Width, opts.Height)
	}
	return &Loop{
		opts:   opts,
		logger: logger,
		width:  opts.Width,
		height: opts.Height,
	}, nil
}

// Window returns the game window.
func (l *Loop) Window() window.Window {
	return (*ebitenWindow)(l)
}

// Proxy returns a proxy that marks a user event pending. The event is delivered on the next
// tick.
func (l *Loop) Proxy() window.Proxy {
	return (*proxy)(l)
}

// Run opens the window and blocks until the handler exits or ebiten fails. It must be called
// from the main goroutine.
func (l *Loop) Run(h window.Handler) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("event loop already ran")
	}
	l.handler = h

	ebiten.SetWindowTitle(l.opts.Title)
	ebiten.SetWindowSize(l.opts.Width, l.opts.Height)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeDisabled)
	ebiten.SetWindowClosingHandled(true)
	ebiten.SetScreenClearedEveryFrame(false)
	l.logger.Debugw("opening window", "title", l.opts.Title, "width", l.opts.Width, "height", l.opts.Height)

	err := ebiten.RunGame((*game)(l))
	if err != nil && !errors.Is(err, ebiten.Termination) {
		return errors.Wrap(err, "window event loop failed")
	}
	return l.ctl.err
}

type control struct {
	exited bool
	err    error
}

func (c *control) Exit(err error) {
	if c.exited {
		return
	}
	c.exited = true
	c.err = err
}

// pump delivers everything pending in the same order the headless loop uses and reports
// whether the handler has exited.
func (l *Loop) pump(closing bool) bool {
	l.mu.Lock()
	var events []window.Event
	if l.resized {
		l.resized = false
		events = append(events, window.Resized{Width: l.width, Height: l.height})
	}
	if closing && !l.closing {
		events = append(events, window.CloseRequested{})
	}
	l.closing = closing
	l.mu.Unlock()

	for _, ev := range events {
		if l.dispatch(ev) {
			return true
		}
	}
	if l.wake.CompareAndSwap(true, false) && l.dispatch(window.UserEvent{}) {
		return true
	}
	if l.redraw.CompareAndSwap(true, false) && l.dispatch(window.RedrawRequested{}) {
		return true
	}
	return l.ctl.exited
}

func (l *Loop) dispatch(ev window.Event) bool {
	l.handler.HandleEvent(ev, &l.ctl)
	return l.ctl.exited
}

type game Loop

func (g *game) Update() error {
	l := (*Loop)(g)
	if l.pump(ebiten.IsWindowBeingClosed()) {
		return ebiten.Termination
	}
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.dirty {
		return
	}
	g.dirty = false

	dim := g.staged.Rect
	if g.frame == nil || g.frame.Bounds().Dx() != dim.Dx() || g.frame.Bounds().Dy() != dim.Dy() {
		if g.frame != nil {
			g.frame.Deallocate()
		}
		g.frame = ebiten.NewImage(dim.Dx(), dim.Dy())
	}
	g.frame.WritePixels(g.staged.Pix)

	op := &ebiten.DrawImageOptions{}
	bounds := screen.Bounds()
	op.GeoM.Scale(float64(bounds.Dx())/float64(dim.Dx()), float64(bounds.Dy())/float64(dim.Dy()))
	screen.DrawImage(g.frame, op)
}

func (g *game) Layout(outsideWidth, outsideHeight int) (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if outsideWidth != g.width || outsideHeight != g.height {
		g.width, g.height = outsideWidth, outsideHeight
		g.resized = true
	}
	// ebiten rejects an empty screen; the handler still sees the real size.
	return max(1, outsideWidth), max(1, outsideHeight)
}

type ebitenWindow Loop

func (w *ebitenWindow) RequestRedraw() {
	w.redraw.Store(true)
}

func (w *ebitenWindow) InnerSize() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

// PresentImage copies img into the staging image for the next Draw. Frames presented between
// two draws replace each other.
func (w *ebitenWindow) PresentImage(img *image.RGBA) error {
	if img.Stride != img.Rect.Dx()*4 {
		return errors.Errorf("unsupported stride %d for width %d", img.Stride, img.Rect.Dx())
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	rect := image.Rect(0, 0, img.Rect.Dx(), img.Rect.Dy())
	if w.staged == nil || w.staged.Rect != rect {
		w.staged = image.NewRGBA(rect)
	}
	copy(w.staged.Pix, img.Pix)
	w.dirty = true
	return nil
}

type proxy Loop

func (p *proxy) Wake() {
	p.wake.Store(true)
}
