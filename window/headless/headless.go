// Package headless implements a window.EventLoop without a display. Presented frames are kept in
// memory and events are injected with Resize and Close.
package headless

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/framediff/window"
)

// PresentFunc is called with every presented frame. The image is only valid during the call.
type PresentFunc func(img *image.RGBA)

// Loop is an in-memory event loop.
type Loop struct {
	wake   *window.Notifier
	redraw *window.Notifier
	events chan window.Event
	done   chan struct{}

	running atomic.Bool
	// owed is set after a UserEvent so that the redraw it requested runs before the next wake-up.
	owed bool

	mu        sync.Mutex
	width     int
	height    int
	last      *image.RGBA
	presented int
	onPresent PresentFunc
}

// New returns a loop whose window starts at the given inner size.
func New(width, height int) *Loop {
	return &Loop{
		wake:   window.NewNotifier(),
		redraw: window.NewNotifier(),
		events: make(chan window.Event, 16),
		done:   make(chan struct{}),
		width:  width,
		height: height,
	}
}

// OnPresent registers fn to be called with each presented frame.
func (l *Loop) OnPresent(fn PresentFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onPresent = fn
}

// Window returns the loop's window.
func (l *Loop) Window() window.Window {
	return (*headlessWindow)(l)
}

// Proxy returns a proxy that wakes the loop with a UserEvent.
func (l *Loop) Proxy() window.Proxy {
	return l.wake
}

// Resize changes the window size and queues a Resized event.
func (l *Loop) Resize(width, height int) {
	l.mu.Lock()
	l.width, l.height = width, height
	l.mu.Unlock()
	l.post(window.Resized{Width: width, Height: height})
}

// Close queues a CloseRequested event.
func (l *Loop) Close() {
	l.post(window.CloseRequested{})
}

func (l *Loop) post(ev window.Event) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

// LastFrame returns a copy of the most recently presented frame, or nil.
func (l *Loop) LastFrame() *image.RGBA {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return nil
	}
	img := image.NewRGBA(l.last.Rect)
	copy(img.Pix, l.last.Pix)
	return img
}

// Presented returns how many frames have been presented.
func (l *Loop) Presented() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.presented
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

// Run dispatches events to h until it calls Exit. Injected events are delivered before user
// events, and redraws after both, except that a redraw requested while handling a user event is
// delivered before the next user event. Run may only be called once.
func (l *Loop) Run(h window.Handler) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("event loop already ran")
	}
	defer close(l.done)

	ctl := &control{}
	for !ctl.exited {
		h.HandleEvent(l.next(), ctl)
	}
	return ctl.err
}

func (l *Loop) next() window.Event {
	select {
	case ev := <-l.events:
		return ev
	default:
	}
	if l.owed {
		l.owed = false
		if l.redraw.Take() {
			return window.RedrawRequested{}
		}
	}
	if l.wake.Take() {
		l.owed = true
		return window.UserEvent{}
	}
	if l.redraw.Take() {
		return window.RedrawRequested{}
	}
	select {
	case ev := <-l.events:
		return ev
	case <-l.wake.C():
		l.owed = true
		return window.UserEvent{}
	case <-l.redraw.C():
		return window.RedrawRequested{}
	}
}

type headlessWindow Loop

func (w *headlessWindow) RequestRedraw() {
	w.redraw.Wake()
}

func (w *headlessWindow) InnerSize() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

func (w *headlessWindow) PresentImage(img *image.RGBA) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil || w.last.Rect != img.Rect {
		w.last = image.NewRGBA(img.Rect)
	}
	copy(w.last.Pix, img.Pix)
	w.presented++
	if w.onPresent != nil {
		w.onPresent(img)
	}
	return nil
}
